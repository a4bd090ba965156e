package pending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const (
	postgresPendingTableName = "fieldsync_pending_ops"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore backs the queue with a shared database, for hub deployments
// where several kiosk devices feed one durable queue.
type PostgresStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: postgresPendingTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresStore) Enqueue(tractorID string, endHours float64, notes string) (Entry, error) {
	tractorID = strings.TrimSpace(tractorID)
	if tractorID == "" || endHours < 0 {
		return Entry{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Entry{}, err
	}
	entry := Entry{
		LocalID:        "op_" + uuid.NewString(),
		TractorID:      tractorID,
		EndHours:       endHours,
		Notes:          notes,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		State:          StateQueued,
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		INSERT INTO %s (local_id, tractor_id, end_hours, notes, idempotency_key, created_at, state, fail_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '')`, postgresQuoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query,
		entry.LocalID, entry.TractorID, entry.EndHours, entry.Notes,
		entry.IdempotencyKey, entry.CreatedAt, string(entry.State))
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (s *PostgresStore) MarkSyncing(localID string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var inFlight int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE state = $1 AND local_id <> $2",
		postgresQuoteIdentifier(s.tableName))
	if err := tx.QueryRowContext(ctx, countQuery, string(StateSyncing), localID).Scan(&inFlight); err != nil {
		return err
	}
	if inFlight > 0 {
		return ErrSyncInFlight
	}
	updateQuery := fmt.Sprintf("UPDATE %s SET state = $1 WHERE local_id = $2",
		postgresQuoteIdentifier(s.tableName))
	result, err := tx.ExecContext(ctx, updateQuery, string(StateSyncing), localID)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *PostgresStore) MarkSynced(localID string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("DELETE FROM %s WHERE local_id = $1", postgresQuoteIdentifier(s.tableName))
	result, err := s.db.ExecContext(ctx, query, localID)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkFailed(localID, reason string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("UPDATE %s SET state = $1, fail_reason = $2 WHERE local_id = $3",
		postgresQuoteIdentifier(s.tableName))
	result, err := s.db.ExecContext(ctx, query, string(StateFailed), reason, localID)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(tractorID string) ([]Entry, error) {
	tractorID = strings.TrimSpace(tractorID)
	if tractorID == "" {
		return nil, ErrInvalidInput
	}
	return s.query("WHERE tractor_id = $1", tractorID)
}

func (s *PostgresStore) ListAll() ([]Entry, error) {
	return s.query("")
}

func (s *PostgresStore) TractorIDs() ([]string, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("SELECT DISTINCT tractor_id FROM %s", postgresQuoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *PostgresStore) Count(tractorID string) (int, error) {
	tractorID = strings.TrimSpace(tractorID)
	if tractorID == "" {
		return 0, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tractor_id = $1", postgresQuoteIdentifier(s.tableName))
	var count int
	if err := s.db.QueryRowContext(ctx, query, tractorID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) ClearAll(tractorID string) (int, error) {
	tractorID = strings.TrimSpace(tractorID)
	if tractorID == "" {
		return 0, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("DELETE FROM %s WHERE tractor_id = $1", postgresQuoteIdentifier(s.tableName))
	result, err := s.db.ExecContext(ctx, query, tractorID)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) query(where string, args ...any) ([]Entry, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		SELECT local_id, tractor_id, end_hours, notes, idempotency_key, created_at, state, fail_reason
		FROM %s %s ORDER BY seq ASC`, postgresQuoteIdentifier(s.tableName), where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var entry Entry
		var state string
		if err := rows.Scan(&entry.LocalID, &entry.TractorID, &entry.EndHours, &entry.Notes,
			&entry.IdempotencyKey, &entry.CreatedAt, &state, &entry.FailReason); err != nil {
			return nil, err
		}
		entry.State = SyncState(state)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *PostgresStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		schema := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				seq BIGSERIAL PRIMARY KEY,
				local_id TEXT NOT NULL UNIQUE,
				tractor_id TEXT NOT NULL,
				end_hours DOUBLE PRECISION NOT NULL,
				notes TEXT NOT NULL DEFAULT '',
				idempotency_key TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				state TEXT NOT NULL,
				fail_reason TEXT NOT NULL DEFAULT ''
			)`, postgresQuoteIdentifier(postgresPendingTableName))
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		// Entries stranded mid-sync by a crash go back to queued; the
		// idempotency key makes the resend safe.
		requeue := fmt.Sprintf("UPDATE %s SET state = $1 WHERE state = $2",
			postgresQuoteIdentifier(postgresPendingTableName))
		if _, err := db.ExecContext(ctx, requeue, string(StateQueued), string(StateSyncing)); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	if s.initErr != nil {
		return s.initErr
	}
	if s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	return nil
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
