// Package postgres is the durable EntityPersister/EventPersister backend:
// entities and events each land in one table, keyed the same way the
// in-memory reference store keys them, so internal/data and
// internal/services never need to know which backend they are talking to.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/pulsarbroker/internal/persistence"
)

// uniqueViolation is Postgres error code 23505.
const uniqueViolation = "23505"

// Config configures the connection pool to a Postgres backend. Its yaml
// tags let internal/config load this struct straight off the same file
// as Settings; internal/config does not read the env tags (it applies
// BROKER_POSTGRES_DSN itself).
type Config struct {
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"QUERY_TIMEOUT"`
}

func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    10 * time.Second,
	}
}

// Store is one pooled connection shared by EntityStore and EventLog; both
// talk to the same database, so there is no benefit in separate pools.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open dials cfg.DSN, configures the pool, and pings before returning so
// a broker started against an unreachable database fails fast at
// startup instead of on the first publish.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout == 0 {
		timeout = DefaultConfig().QueryTimeout
	}
	return &Store{db: db, timeout: timeout}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the entities/events tables if they do not already
// exist. Safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entities (
			entity_type TEXT NOT NULL,
			key         TEXT NOT NULL,
			version     INTEGER NOT NULL,
			data        BYTEA NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (entity_type, key)
		);
		CREATE TABLE IF NOT EXISTS events (
			id   BIGSERIAL PRIMARY KEY,
			key  TEXT NOT NULL,
			ts   BIGINT NOT NULL,
			data BYTEA NOT NULL
		);
		CREATE INDEX IF NOT EXISTS events_key_idx ON events (key);
		CREATE INDEX IF NOT EXISTS events_ts_idx ON events (ts);
	`)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Entities returns the EntityPersister view over this connection pool.
func (s *Store) Entities() persistence.EntityPersister { return (*entityStore)(s) }

// Events returns the EventPersister view over this connection pool.
func (s *Store) Events() persistence.EventPersister { return (*eventLog)(s) }

type entityStore Store

func (s *entityStore) Save(ctx context.Context, entityType, key string, expectedVersion uint32, data []byte) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if expectedVersion == 0 {
		var newVersion uint32
		err := s.db.QueryRowxContext(ctx, `
			INSERT INTO entities (entity_type, key, version, data, updated_at)
			VALUES ($1, $2, 1, $3, now())
			RETURNING version`,
			entityType, key, data,
		).Scan(&newVersion)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
				return 0, persistence.ErrAlreadyExists
			}
			return 0, fmt.Errorf("postgres: save %s/%s: %w", entityType, key, err)
		}
		return newVersion, nil
	}

	newVersion := expectedVersion + 1
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET version = $1, data = $2, updated_at = now()
		WHERE entity_type = $3 AND key = $4 AND version = $5`,
		newVersion, data, entityType, key, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: save %s/%s: %w", entityType, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: save %s/%s: %w", entityType, key, err)
	}
	if n == 0 {
		return 0, persistence.ErrVersionMismatch
	}
	return newVersion, nil
}

func (s *entityStore) Load(ctx context.Context, entityType, key string) (persistence.StoredEntity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var version uint32
	var data []byte
	err := s.db.QueryRowxContext(ctx,
		`SELECT version, data FROM entities WHERE entity_type = $1 AND key = $2`,
		entityType, key,
	).Scan(&version, &data)
	if err == sql.ErrNoRows {
		return persistence.StoredEntity{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.StoredEntity{}, fmt.Errorf("postgres: load %s/%s: %w", entityType, key, err)
	}
	return persistence.StoredEntity{Version: version, Serialization: data}, nil
}

func (s *entityStore) Delete(ctx context.Context, entityType, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = $1 AND key = $2`, entityType, key)
	if err != nil {
		return fmt.Errorf("postgres: delete %s/%s: %w", entityType, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: delete %s/%s: %w", entityType, key, err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *entityStore) Keys(ctx context.Context, entityType string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var keys []string
	if err := s.db.SelectContext(ctx, &keys, `SELECT key FROM entities WHERE entity_type = $1 ORDER BY key`, entityType); err != nil {
		return nil, fmt.Errorf("postgres: keys %s: %w", entityType, err)
	}
	return keys, nil
}

type eventLog Store

func (l *eventLog) Append(ctx context.Context, entry persistence.LogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (key, ts, data) VALUES ($1, $2, $3)`,
		entry.Key, entry.Timestamp, entry.Serialization,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", entry.Key, err)
	}
	return nil
}

// buildEventQuery assembles the parameterized SQL for an event log Query
// call. Pulled out of Query itself so the argument-numbering logic (every
// optional clause bumps every later placeholder index) can be tested
// without a live database.
func buildEventQuery(keyOrPrefix string, opts persistence.EventQueryOptions) (string, []any) {
	query := `SELECT key, ts, data FROM events WHERE `
	args := []any{keyOrPrefix}
	if opts.ExactMatch {
		query += `key = $1`
	} else {
		args[0] = keyOrPrefix + "%"
		query += `key LIKE $1`
	}

	args = append(args, opts.From)
	query += fmt.Sprintf(` AND ts >= $%d`, len(args))
	if opts.To != 0 {
		args = append(args, opts.To)
		query += fmt.Sprintf(` AND ts <= $%d`, len(args))
	}

	if opts.Descending {
		query += ` ORDER BY ts DESC`
	} else {
		query += ` ORDER BY ts ASC`
	}
	if opts.Take > 0 {
		args = append(args, opts.Take)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Skip > 0 {
		args = append(args, opts.Skip)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return query, args
}

func (l *eventLog) Query(ctx context.Context, keyOrPrefix string, opts persistence.EventQueryOptions) ([]persistence.LogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	query, args := buildEventQuery(keyOrPrefix, opts)
	rows, err := l.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query events %s: %w", keyOrPrefix, err)
	}
	defer rows.Close()

	var entries []persistence.LogEntry
	for rows.Next() {
		var e persistence.LogEntry
		if err := rows.Scan(&e.Key, &e.Timestamp, &e.Serialization); err != nil {
			return nil, fmt.Errorf("postgres: scan event row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *eventLog) DeleteBefore(ctx context.Context, timestamp uint64) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	_, err := l.db.ExecContext(ctx, `DELETE FROM events WHERE ts < $1`, timestamp)
	if err != nil {
		return fmt.Errorf("postgres: delete events before %d: %w", timestamp, err)
	}
	return nil
}

func (l *eventLog) DeleteByKeyPrefix(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	_, err := l.db.ExecContext(ctx, `DELETE FROM events WHERE key LIKE $1`, prefix+"%")
	if err != nil {
		return fmt.Errorf("postgres: delete events by prefix %s: %w", prefix, err)
	}
	return nil
}
