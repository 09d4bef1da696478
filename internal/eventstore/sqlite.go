package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"insightcore/internal/engine"
	"insightcore/internal/query"
)

// Store is the SQLite-backed event source. It implements the engine's
// EventSource, CohortSource and GroupSource collaborators.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStore wraps an open gorm connection.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// QueryEvents streams the scope's events grouped by actor. The underlying
// cursor is ordered by actor then time, so each actor arrives contiguous and
// sorted without buffering the whole range.
func (s *Store) QueryEvents(ctx context.Context, scope engine.Scope, from, to time.Time) (engine.ActorIterator, error) {
	rows, err := s.db.WithContext(ctx).
		Model(&EventRecord{}).
		Where("team_id = ? AND timestamp >= ? AND timestamp <= ?", scope.TeamID, from, to).
		Order("actor_id ASC, timestamp ASC, id ASC").
		Rows()
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return &sqliteIterator{db: s.db, rows: rows}, nil
}

// EarliestTimestamp returns the scope's first event time.
func (s *Store) EarliestTimestamp(ctx context.Context, scope engine.Scope) (time.Time, error) {
	var earliest sql.NullTime
	row := s.db.WithContext(ctx).
		Model(&EventRecord{}).
		Where("team_id = ?", scope.TeamID).
		Select("MIN(timestamp)").
		Row()
	if err := row.Scan(&earliest); err != nil {
		return time.Time{}, fmt.Errorf("earliest timestamp: %w", err)
	}
	if !earliest.Valid {
		return time.Time{}, query.ErrInsufficientData
	}
	return earliest.Time, nil
}

// Membership returns the actor id set of one cohort.
func (s *Store) Membership(ctx context.Context, scope engine.Scope, cohortID int64) (map[string]struct{}, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&CohortMember{}).
		Where("team_id = ? AND cohort_id = ?", scope.TeamID, cohortID).
		Pluck("actor_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("cohort membership: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Properties returns one group's property bag, or nil when the group is
// unknown.
func (s *Store) Properties(ctx context.Context, scope engine.Scope, typeIndex int, groupKey string) (map[string]any, error) {
	var rec GroupRecord
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND type_index = ? AND group_key = ?", scope.TeamID, typeIndex, groupKey).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("group properties: %w", err)
	}
	return decodeBag(rec.Properties)
}

// sqliteIterator walks the actor-ordered cursor, yielding one actor per
// Next call. pending holds the first row of the next actor between calls.
type sqliteIterator struct {
	db      *gorm.DB
	rows    *sql.Rows
	pending *EventRecord
	done    bool
}

func (it *sqliteIterator) Next(ctx context.Context) (*engine.ActorEvents, error) {
	if it.done {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []EventRecord
	if it.pending != nil {
		records = append(records, *it.pending)
		it.pending = nil
	}

	for it.rows.Next() {
		var rec EventRecord
		if err := it.db.ScanRows(it.rows, &rec); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if len(records) > 0 && rec.ActorID != records[0].ActorID {
			it.pending = &rec
			break
		}
		records = append(records, rec)
	}
	if err := it.rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	if len(records) == 0 {
		it.done = true
		return nil, nil
	}
	if it.pending == nil {
		// No boundary row buffered means the cursor is exhausted.
		it.done = true
	}

	actor := &engine.ActorEvents{ActorID: records[0].ActorID}
	actor.Events = make([]query.Event, 0, len(records))
	for i := range records {
		ev, err := records[i].toEvent()
		if err != nil {
			return nil, err
		}
		actor.Events = append(actor.Events, ev)
	}
	return actor, nil
}

func (it *sqliteIterator) Close() error {
	return it.rows.Close()
}
