// Package sqlstore implements lattice.Store against a SQL database,
// grounded on the teacher's health-monitor example: a single schema
// migrated with database/sql, plain parameterized queries, no ORM.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	lattice "github.com/latticefn/lattice"
)

// Open opens (creating if necessary) a SQLite-backed database and migrates
// the idempotency_records schema, mirroring the teacher's NewDB/initSchema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS idempotency_records (
		key TEXT PRIMARY KEY,
		claim_token TEXT NOT NULL,
		state TEXT NOT NULL,
		value TEXT,
		error TEXT,
		input_hash TEXT,
		created_at INTEGER NOT NULL,
		expires_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_idempotency_expires
		ON idempotency_records(expires_at) WHERE expires_at IS NOT NULL;
	`
	_, err := db.Exec(schema)
	return err
}

// Store is a database/sql-backed lattice.Store[T]. Values are serialized to
// JSON for storage; T must be JSON-marshalable.
type Store[T any] struct {
	db *sql.DB
}

// New wraps db as a Store[T]. Run Open first (or any equivalent migration)
// so the idempotency_records table exists.
func New[T any](db *sql.DB) *Store[T] {
	return &Store[T]{db: db}
}

type row struct {
	state     string
	value     sql.NullString
	errText   sql.NullString
	inputHash sql.NullString
	createdAt int64
	expiresAt sql.NullInt64
}

func (s *Store[T]) Claim(ctx context.Context, key string, now time.Time, inputHash string) (lattice.ClaimOutcome[T], error) {
	var zero lattice.ClaimOutcome[T]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return zero, err
	}
	defer tx.Rollback()

	r, found, err := queryRow(ctx, tx, key)
	if err != nil {
		return zero, err
	}

	if !found {
		if err := insertPending(ctx, tx, key, inputHash, now); err != nil {
			return zero, err
		}
		return lattice.ClaimOutcome[T]{Kind: lattice.ClaimKindClaimed}, commit(tx)
	}

	if expired(r, now) {
		if err := overwritePending(ctx, tx, key, inputHash, now); err != nil {
			return zero, err
		}
		return lattice.ClaimOutcome[T]{Kind: lattice.ClaimKindClaimed}, commit(tx)
	}

	outcome, err := toOutcome[T](key, r, inputHash)
	if err != nil {
		return zero, err
	}
	return outcome, commit(tx)
}

func (s *Store[T]) ForceClaim(ctx context.Context, key string, now time.Time, inputHash string) (lattice.ClaimOutcome[T], error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lattice.ClaimOutcome[T]{}, err
	}
	defer tx.Rollback()

	if _, found, err := queryRow(ctx, tx, key); err != nil {
		return lattice.ClaimOutcome[T]{}, err
	} else if found {
		if err := overwritePending(ctx, tx, key, inputHash, now); err != nil {
			return lattice.ClaimOutcome[T]{}, err
		}
	} else if err := insertPending(ctx, tx, key, inputHash, now); err != nil {
		return lattice.ClaimOutcome[T]{}, err
	}

	return lattice.ClaimOutcome[T]{Kind: lattice.ClaimKindClaimed}, commit(tx)
}

func (s *Store[T]) Complete(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	expires := expiryColumn(ttl)
	_, err = s.db.ExecContext(ctx,
		`UPDATE idempotency_records SET state = 'done', value = ?, error = NULL, expires_at = ? WHERE key = ?`,
		string(data), expires, key,
	)
	return err
}

func (s *Store[T]) Fail(ctx context.Context, key string, failErr error, ttl time.Duration) error {
	expires := expiryColumn(ttl)
	_, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_records SET state = 'failed', error = ?, expires_at = ? WHERE key = ?`,
		failErr.Error(), expires, key,
	)
	return err
}

func (s *Store[T]) Get(ctx context.Context, key string) (lattice.IdempotencyRecord[T], bool, error) {
	var zero lattice.IdempotencyRecord[T]
	r, found, err := queryRow(ctx, s.db, key)
	if err != nil || !found {
		return zero, false, err
	}
	if expired(r, time.Now()) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE key = ?`, key)
		return zero, false, nil
	}
	rec, err := toRecord[T](key, r)
	if err != nil {
		return zero, false, err
	}
	return rec, true, nil
}

func (s *Store[T]) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE key = ?`, key)
	return err
}

func (s *Store[T]) PurgeExpired(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.Unix())
	return err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func queryRow(ctx context.Context, q querier, key string) (row, bool, error) {
	var r row
	err := q.QueryRowContext(ctx,
		`SELECT state, value, error, input_hash, created_at, expires_at FROM idempotency_records WHERE key = ?`, key,
	).Scan(&r.state, &r.value, &r.errText, &r.inputHash, &r.createdAt, &r.expiresAt)
	if err == sql.ErrNoRows {
		return row{}, false, nil
	}
	if err != nil {
		return row{}, false, err
	}
	return r, true, nil
}

func insertPending(ctx context.Context, q querier, key, inputHash string, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO idempotency_records (key, claim_token, state, input_hash, created_at) VALUES (?, ?, 'pending', ?, ?)`,
		key, uuid.New().String(), nullableString(inputHash), now.Unix(),
	)
	return err
}

func overwritePending(ctx context.Context, q querier, key, inputHash string, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE idempotency_records SET claim_token = ?, state = 'pending', value = NULL, error = NULL, input_hash = ?, created_at = ?, expires_at = NULL WHERE key = ?`,
		uuid.New().String(), nullableString(inputHash), now.Unix(), key,
	)
	return err
}

func expired(r row, now time.Time) bool {
	return r.expiresAt.Valid && now.Unix() >= r.expiresAt.Int64
}

func expiryColumn(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return time.Now().Add(ttl).Unix()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toOutcome[T any](key string, r row, inputHash string) (lattice.ClaimOutcome[T], error) {
	switch r.state {
	case "pending":
		rec, err := toRecord[T](key, r)
		return lattice.ClaimOutcome[T]{Kind: lattice.ClaimKindInFlight, Record: rec}, err
	case "done":
		if inputHash != "" && r.inputHash.Valid && r.inputHash.String != "" && inputHash != r.inputHash.String {
			return lattice.ClaimOutcome[T]{Kind: lattice.ClaimKindCollidedInputHash}, nil
		}
		var v T
		if r.value.Valid {
			if err := json.Unmarshal([]byte(r.value.String), &v); err != nil {
				return lattice.ClaimOutcome[T]{}, fmt.Errorf("unmarshal value: %w", err)
			}
		}
		return lattice.ClaimOutcome[T]{Kind: lattice.ClaimKindAlreadyDone, Value: v}, nil
	default: // "failed"
		rec, err := toRecord[T](key, r)
		return lattice.ClaimOutcome[T]{Kind: lattice.ClaimKindFailed, Record: rec}, err
	}
}

func toRecord[T any](key string, r row) (lattice.IdempotencyRecord[T], error) {
	rec := lattice.IdempotencyRecord[T]{
		Key:       key,
		CreatedAt: time.Unix(r.createdAt, 0),
	}
	switch r.state {
	case "pending":
		rec.State = lattice.RecordPending
	case "done":
		rec.State = lattice.RecordDone
		if r.value.Valid {
			if err := json.Unmarshal([]byte(r.value.String), &rec.Value); err != nil {
				return rec, fmt.Errorf("unmarshal value: %w", err)
			}
		}
	default:
		rec.State = lattice.RecordFailed
		if r.errText.Valid {
			rec.Err = fmt.Errorf("%s", r.errText.String)
		}
	}
	if r.inputHash.Valid {
		rec.InputHash = r.inputHash.String
	}
	return rec, nil
}

func commit(tx *sql.Tx) error { return tx.Commit() }
