package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"insightcore/internal/config"
	"insightcore/internal/engine"
	"insightcore/internal/query"
)

// NewClickHouseConn opens a native ClickHouse connection from the
// application configuration and verifies it with a ping.
func NewClickHouseConn(ctx context.Context, cfg *config.Config) (clickhouse.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.ClickHouseAddr},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return conn, nil
}

// MigrateClickHouse ensures the required tables exist. This keeps the
// service self-contained without an external migration step.
func MigrateClickHouse(ctx context.Context, conn clickhouse.Conn) error {
	statements := []string{`
CREATE TABLE IF NOT EXISTS events
(
	id                String,
	team_id           UInt32,
	actor_id          String,
	name              String,
	timestamp         DateTime64(6, 'UTC'),
	session_id        String,
	properties        String DEFAULT '',
	person_properties String DEFAULT '',
	group_keys        String DEFAULT '',
	created_at        DateTime DEFAULT now()
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (team_id, actor_id, timestamp, id)
SETTINGS index_granularity = 8192;
`, `
CREATE TABLE IF NOT EXISTS cohort_members
(
	team_id   UInt32,
	cohort_id Int64,
	actor_id  String
)
ENGINE = ReplacingMergeTree
ORDER BY (team_id, cohort_id, actor_id);
`, `
CREATE TABLE IF NOT EXISTS groups
(
	team_id    UInt32,
	type_index Int32,
	group_key  String,
	properties String DEFAULT '',
	updated_at DateTime DEFAULT now()
)
ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (team_id, type_index, group_key);
`}
	for _, stmt := range statements {
		if err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// ClickHouseStore serves per-actor event streams from ClickHouse. It
// implements the same engine collaborators as the SQLite store.
type ClickHouseStore struct {
	conn   clickhouse.Conn
	logger *slog.Logger
}

// NewClickHouseStore wraps an open connection.
func NewClickHouseStore(conn clickhouse.Conn, logger *slog.Logger) *ClickHouseStore {
	return &ClickHouseStore{conn: conn, logger: logger}
}

func (s *ClickHouseStore) QueryEvents(ctx context.Context, scope engine.Scope, from, to time.Time) (engine.ActorIterator, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, actor_id, name, timestamp, session_id, properties, person_properties, group_keys
		FROM events
		WHERE team_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY actor_id, timestamp, id`,
		scope.TeamID, from, to)
	if err != nil {
		return nil, translateQueryErr("query events", err)
	}
	return &clickhouseIterator{rows: rows}, nil
}

// chTooManySimultaneousQueries is the server exception code raised when
// max_concurrent_queries is exhausted.
const chTooManySimultaneousQueries = 202

// translateQueryErr maps server-side query saturation onto the retryable
// concurrency sentinel; everything else wraps as a hard failure.
func translateQueryErr(op string, err error) error {
	var ex *clickhouse.Exception
	if errors.As(err, &ex) && ex.Code == chTooManySimultaneousQueries {
		return fmt.Errorf("%s: %w", op, query.ErrConcurrencyLimit)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *ClickHouseStore) EarliestTimestamp(ctx context.Context, scope engine.Scope) (time.Time, error) {
	var count uint64
	var earliest time.Time
	row := s.conn.QueryRow(ctx,
		"SELECT count(), min(timestamp) FROM events WHERE team_id = ?", scope.TeamID)
	if err := row.Scan(&count, &earliest); err != nil {
		return time.Time{}, fmt.Errorf("earliest timestamp: %w", err)
	}
	if count == 0 {
		return time.Time{}, query.ErrInsufficientData
	}
	return earliest, nil
}

func (s *ClickHouseStore) Membership(ctx context.Context, scope engine.Scope, cohortID int64) (map[string]struct{}, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT DISTINCT actor_id FROM cohort_members WHERE team_id = ? AND cohort_id = ?",
		scope.TeamID, cohortID)
	if err != nil {
		return nil, fmt.Errorf("cohort membership: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cohort member: %w", err)
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}

func (s *ClickHouseStore) Properties(ctx context.Context, scope engine.Scope, typeIndex int, groupKey string) (map[string]any, error) {
	var raw string
	row := s.conn.QueryRow(ctx, `
		SELECT properties FROM groups
		WHERE team_id = ? AND type_index = ? AND group_key = ?
		ORDER BY updated_at DESC LIMIT 1`,
		scope.TeamID, typeIndex, groupKey)
	if err := row.Scan(&raw); err != nil {
		// No row for the key means an unknown group, not a failure.
		return nil, nil
	}
	return decodeBag(raw)
}

type clickhouseIterator struct {
	rows    driver.Rows
	pending *EventRecord
	done    bool
}

func (it *clickhouseIterator) Next(ctx context.Context) (*engine.ActorEvents, error) {
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
		err := it.rows.Scan(&rec.ID, &rec.ActorID, &rec.Name, &rec.Timestamp,
			&rec.SessionID, &rec.Properties, &rec.PersonProperties, &rec.GroupKeys)
		if err != nil {
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

func (it *clickhouseIterator) Close() error {
	return it.rows.Close()
}
