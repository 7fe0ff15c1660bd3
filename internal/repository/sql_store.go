package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/tg-helpdesk/internal/database"
)

// SQLStore implements Store on top of sqlx. Queries are written with ?
// placeholders and rebound for the active driver.
type SQLStore struct {
	db *sqlx.DB
	q  sqlx.ExtContext
	tx *sqlx.Tx
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, q: db}
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sqlx.DB { return s.db }

// InTx implements Store.
func (s *SQLStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	bound := &SQLStore{db: s.db, q: tx, tx: tx}
	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) isPostgres() bool {
	return s.q.DriverName() == database.DriverPostgres
}

func (s *SQLStore) isMySQL() bool {
	return s.q.DriverName() == database.DriverMySQL
}

func (s *SQLStore) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, s.q, dest, s.q.Rebind(query), args...)
}

func (s *SQLStore) selectRows(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, s.q, dest, s.q.Rebind(query), args...)
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(query), args...)
	if err != nil && database.IsUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return res, err
}

// execAffected runs query and returns the affected row count.
func (s *SQLStore) execAffected(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// execOne runs an UPDATE/DELETE that must touch exactly one row.
func (s *SQLStore) execOne(ctx context.Context, what string, id interface{}, query string, args ...interface{}) error {
	n, err := s.execAffected(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s %v: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return nil
}

// insert runs an INSERT and returns the generated id. PostgreSQL has no
// LastInsertId so the statement gets a RETURNING clause there.
func (s *SQLStore) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if s.isPostgres() {
		var id int64
		err := s.get(ctx, &id, query+" RETURNING id", args...)
		if err != nil && database.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return id, err
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// upsert builds an INSERT that overwrites updateCols when conflictCols collide.
func (s *SQLStore) upsert(table string, cols, conflictCols, updateCols []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)
	sets := make([]string, 0, len(updateCols))
	if s.isMySQL() {
		for _, c := range updateCols {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
		fmt.Fprintf(&b, " ON DUPLICATE KEY UPDATE %s", strings.Join(sets, ", "))
		return b.String()
	}
	for _, c := range updateCols {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflictCols, ", "), strings.Join(sets, ", "))
	return b.String()
}

// notFound maps sql.ErrNoRows onto ErrNotFound.
func notFound(err error, what string, id interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("get %s %v: %w", what, id, err)
}

// utc normalizes timestamps before they reach the driver so that text
// comparisons in SQLite stay ordered.
func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
