package eventstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"insightcore/internal/engine"
	"insightcore/internal/pkg/geoip"
)

const insertBatchSize = 500

// Geo property keys attached to events during ingestion.
const (
	GeoCountryCodeProperty = "$geoip_country_code"
	GeoCountryNameProperty = "$geoip_country_name"
)

// RawEvent is one event as captured, before enrichment.
type RawEvent struct {
	ActorID          string         `json:"actor_id"`
	Name             string         `json:"name"`
	Timestamp        time.Time      `json:"timestamp"`
	SessionID        string         `json:"session_id,omitempty"`
	Properties       map[string]any `json:"properties,omitempty"`
	PersonProperties map[string]any `json:"person_properties,omitempty"`
	GroupKeys        map[int]string `json:"group_keys,omitempty"`
	IPAddress        string         `json:"ip_address,omitempty"`
}

// Ingestor writes captured events into the SQLite store, enriching them
// with GeoIP country data when a reader is available.
type Ingestor struct {
	db     *gorm.DB
	geo    *geoip.Resolver
	logger *slog.Logger
}

// NewIngestor creates an ingestor. geo may be nil; country enrichment is
// then skipped.
func NewIngestor(db *gorm.DB, geo *geoip.Resolver, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		db:     db,
		geo:    geo,
		logger: logger,
	}
}

// Ingest stores a batch of raw events for one team.
func (ing *Ingestor) Ingest(ctx context.Context, scope engine.Scope, inputs []RawEvent) error {
	if len(inputs) == 0 {
		return nil
	}
	records := make([]EventRecord, 0, len(inputs))
	for i := range inputs {
		rec, err := ing.toRecord(scope, &inputs[i])
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if err := ing.db.WithContext(ctx).CreateInBatches(records, insertBatchSize).Error; err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

func (ing *Ingestor) toRecord(scope engine.Scope, in *RawEvent) (EventRecord, error) {
	props := in.Properties
	if code, name, ok := ing.geo.Country(in.IPAddress); ok {
		if props == nil {
			props = make(map[string]any, 2)
		}
		if _, set := props[GeoCountryCodeProperty]; !set {
			props[GeoCountryCodeProperty] = code
		}
		if _, set := props[GeoCountryNameProperty]; !set && name != "" {
			props[GeoCountryNameProperty] = name
		}
	}

	rec := EventRecord{
		ID:        uuid.NewString(),
		TeamID:    scope.TeamID,
		ActorID:   in.ActorID,
		Name:      in.Name,
		Timestamp: in.Timestamp,
		SessionID: in.SessionID,
	}
	var err error
	if rec.Properties, err = encodeBag(props); err != nil {
		return rec, fmt.Errorf("encode properties: %w", err)
	}
	if rec.PersonProperties, err = encodeBag(in.PersonProperties); err != nil {
		return rec, fmt.Errorf("encode person properties: %w", err)
	}
	if rec.GroupKeys, err = encodeGroupKeys(in.GroupKeys); err != nil {
		return rec, fmt.Errorf("encode group keys: %w", err)
	}
	return rec, nil
}

// InsertEvents batch-inserts pre-encoded event rows into ClickHouse.
func (s *ClickHouseStore) InsertEvents(ctx context.Context, scope engine.Scope, inputs []RawEvent) error {
	if len(inputs) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO events (id, team_id, actor_id, name, timestamp, session_id, properties, person_properties, group_keys)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for i := range inputs {
		in := &inputs[i]
		props, err := encodeBag(in.Properties)
		if err != nil {
			return fmt.Errorf("encode properties: %w", err)
		}
		personProps, err := encodeBag(in.PersonProperties)
		if err != nil {
			return fmt.Errorf("encode person properties: %w", err)
		}
		groupKeys, err := encodeGroupKeys(in.GroupKeys)
		if err != nil {
			return fmt.Errorf("encode group keys: %w", err)
		}
		err = batch.Append(uuid.NewString(), uint32(scope.TeamID), in.ActorID, in.Name,
			in.Timestamp, in.SessionID, props, personProps, groupKeys)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
