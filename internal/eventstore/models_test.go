package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyBagRoundTrip(t *testing.T) {
	bag := map[string]any{
		"browser": "Chrome",
		"plan":    "premium",
		"price":   19.99,
		"beta":    true,
	}

	raw, err := encodeBag(bag)
	require.NoError(t, err)

	decoded, err := decodeBag(raw)
	require.NoError(t, err)
	assert.Equal(t, "Chrome", decoded["browser"])
	assert.Equal(t, 19.99, decoded["price"])
	assert.Equal(t, true, decoded["beta"])
}

func TestEmptyBagStoresAsEmptyString(t *testing.T) {
	raw, err := encodeBag(nil)
	require.NoError(t, err)
	assert.Equal(t, "", raw)

	decoded, err := decodeBag("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestGroupKeysRoundTrip(t *testing.T) {
	keys := map[int]string{0: "acme", 2: "team-42"}

	raw, err := encodeGroupKeys(keys)
	require.NoError(t, err)

	decoded, err := decodeGroupKeys(raw)
	require.NoError(t, err)
	assert.Equal(t, keys, decoded)
}

func TestDecodeGroupKeysRejectsNonNumericIndex(t *testing.T) {
	_, err := decodeGroupKeys(`{"company": "acme"}`)
	assert.Error(t, err)
}

func TestToEventDecodesStoredRow(t *testing.T) {
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := EventRecord{
		ID:               "evt-1",
		ActorID:          "alice",
		Name:             "purchase",
		Timestamp:        ts,
		SessionID:        "s1",
		Properties:       `{"amount": 42}`,
		PersonProperties: `{"plan": "premium"}`,
		GroupKeys:        `{"0": "acme"}`,
	}

	ev, err := rec.toEvent()
	require.NoError(t, err)
	assert.Equal(t, "alice", ev.ActorID)
	assert.Equal(t, "purchase", ev.Name)
	assert.Equal(t, ts, ev.Timestamp)
	assert.Equal(t, float64(42), ev.Properties["amount"])
	assert.Equal(t, "premium", ev.PersonProperties["plan"])
	assert.Equal(t, map[int]string{0: "acme"}, ev.GroupKeys)
}

func TestToEventSurfacesMalformedJSON(t *testing.T) {
	rec := EventRecord{ID: "evt-1", Properties: `{broken`}
	_, err := rec.toEvent()
	assert.Error(t, err)
}

func TestSortEventsChronologicalWithStableTiebreak(t *testing.T) {
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	records := []EventRecord{
		{ID: "b", Timestamp: ts},
		{ID: "a", Timestamp: ts},
		{ID: "c", Timestamp: ts.Add(-time.Hour)},
	}

	sortEvents(records)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "a", records[1].ID)
	assert.Equal(t, "b", records[2].ID)
}
