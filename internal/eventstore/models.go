// Package eventstore persists raw analytics events and serves them back as
// per-actor streams for query evaluation. Two backends share one schema
// shape: an embedded SQLite store for single-node deployments and a
// ClickHouse store for larger event volumes.
package eventstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"gorm.io/gorm"

	"insightcore/internal/query"
)

// EventRecord is one stored event row.
type EventRecord struct {
	ID               string    `gorm:"primaryKey;size:36"`
	TeamID           uint      `gorm:"index:idx_team_actor_time;not null"`
	ActorID          string    `gorm:"index:idx_team_actor_time;size:128;not null"`
	Name             string    `gorm:"index;not null"`
	Timestamp        time.Time `gorm:"index:idx_team_actor_time;not null"`
	SessionID        string    `gorm:"index"`
	Properties       string    `gorm:"type:text"`
	PersonProperties string    `gorm:"type:text"`
	GroupKeys        string    `gorm:"type:text"`
	CreatedAt        time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (EventRecord) TableName() string { return "events" }

// CohortMember is one externally computed cohort membership row.
type CohortMember struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	TeamID   uint   `gorm:"index:idx_team_cohort;not null"`
	CohortID int64  `gorm:"index:idx_team_cohort;not null"`
	ActorID  string `gorm:"size:128;not null"`
}

func (CohortMember) TableName() string { return "cohort_members" }

// GroupRecord stores the property bag of one group entity.
type GroupRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	TeamID     uint   `gorm:"index:idx_team_group;not null"`
	TypeIndex  int    `gorm:"index:idx_team_group;not null"`
	GroupKey   string `gorm:"index:idx_team_group;size:128;not null"`
	Properties string `gorm:"type:text"`
	UpdatedAt  time.Time
}

func (GroupRecord) TableName() string { return "groups" }

// Migrate creates or updates the store schema.
func Migrate(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&EventRecord{},
			&CohortMember{},
			&GroupRecord{},
		)
	})
}

// toEvent decodes one stored row into the evaluation event shape.
func (r *EventRecord) toEvent() (query.Event, error) {
	ev := query.Event{
		ActorID:   r.ActorID,
		Name:      r.Name,
		Timestamp: r.Timestamp,
		SessionID: r.SessionID,
	}
	var err error
	if ev.Properties, err = decodeBag(r.Properties); err != nil {
		return ev, fmt.Errorf("decode properties of event %s: %w", r.ID, err)
	}
	if ev.PersonProperties, err = decodeBag(r.PersonProperties); err != nil {
		return ev, fmt.Errorf("decode person properties of event %s: %w", r.ID, err)
	}
	if ev.GroupKeys, err = decodeGroupKeys(r.GroupKeys); err != nil {
		return ev, fmt.Errorf("decode group keys of event %s: %w", r.ID, err)
	}
	return ev, nil
}

func decodeBag(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var bag map[string]any
	if err := json.Unmarshal([]byte(raw), &bag); err != nil {
		return nil, err
	}
	return bag, nil
}

// Group keys are stored as a JSON object keyed by the decimal type index.
func decodeGroupKeys(raw string) (map[int]string, error) {
	if raw == "" {
		return nil, nil
	}
	var stringKeyed map[string]string
	if err := json.Unmarshal([]byte(raw), &stringKeyed); err != nil {
		return nil, err
	}
	out := make(map[int]string, len(stringKeyed))
	for k, v := range stringKeyed {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("group type index %q: %w", k, err)
		}
		out[idx] = v
	}
	return out, nil
}

func encodeBag(bag map[string]any) (string, error) {
	if len(bag) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(bag)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func encodeGroupKeys(keys map[int]string) (string, error) {
	if len(keys) == 0 {
		return "", nil
	}
	stringKeyed := make(map[string]string, len(keys))
	for k, v := range keys {
		stringKeyed[strconv.Itoa(k)] = v
	}
	raw, err := json.Marshal(stringKeyed)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// sortEvents orders one actor's events chronologically, id as tiebreak so
// repeated reads return identical streams.
func sortEvents(records []EventRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].ID < records[j].ID
		}
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}
