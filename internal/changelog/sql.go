package changelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"coordsync/internal/syncerr"
)

// ErrStoreClosed is returned by operations on a closed SQLStore.
var ErrStoreClosed = errors.New("change log is closed")

// Dialect captures the differences between the SQL backends.
type Dialect struct {
	Name string
	// Schema is executed once when the store opens.
	Schema string
	// Numbered placeholders ($1, $2, ...) instead of '?'.
	Numbered bool
}

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect

	// appends are serialized so that last+1 index assignment cannot race
	writeMu sync.Mutex
	mu      sync.RWMutex
	closed  bool
}

// NewSQLStore wraps an open database and applies the dialect schema.
func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if _, err := db.Exec(dialect.Schema); err != nil {
		return nil, fmt.Errorf("failed to apply %s schema: %w", dialect.Name, err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// Append stores a change inside a transaction.
func (s *SQLStore) Append(ctx context.Context, change Change) (stored Change, err error) {
	if err := validate(change); err != nil {
		return Change{}, syncerr.NewStorageError(syncerr.OpAppend, err)
	}
	if err := s.checkOpen(); err != nil {
		return Change{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, syncerr.NewStorageError(syncerr.OpAppend, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if change.Index > 0 {
		var existing sql.NullInt64
		err = tx.QueryRowContext(ctx, s.rebind(
			`SELECT MAX(idx) FROM changes WHERE collection = ? AND external_id = ? AND change_type = ?`),
			change.Collection, change.ExternalID, string(change.Type)).Scan(&existing)
		if err != nil {
			return Change{}, syncerr.NewStorageError(syncerr.OpAppend, err)
		}
		if existing.Valid && existing.Int64 >= change.Index {
			if err = tx.Commit(); err != nil {
				return Change{}, syncerr.NewStorageError(syncerr.OpAppend, err)
			}
			stored = change
			stored.Index = existing.Int64
			return stored, nil
		}
	}

	var last sql.NullInt64
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT MAX(idx) FROM changes WHERE collection = ?`),
		change.Collection).Scan(&last)
	if err != nil {
		return Change{}, syncerr.NewStorageError(syncerr.OpAppend, err)
	}
	if change.Index <= last.Int64 {
		change.Index = last.Int64 + 1
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO changes (collection, idx, external_id, change_type) VALUES (?, ?, ?, ?)`),
		change.Collection, change.Index, change.ExternalID, string(change.Type))
	if err != nil {
		return Change{}, syncerr.NewStorageError(syncerr.OpAppend, err)
	}

	if err = tx.Commit(); err != nil {
		return Change{}, syncerr.NewStorageError(syncerr.OpAppend, err)
	}
	return change, nil
}

// Since returns changes of collection after from.
func (s *SQLStore) Since(ctx context.Context, collection string, from int64) ([]Change, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT idx, collection, external_id, change_type FROM changes WHERE collection = ? AND idx > ? ORDER BY idx ASC`),
		collection, from)
	if err != nil {
		return nil, syncerr.NewStorageError(syncerr.OpQuery, err)
	}
	defer rows.Close()

	changes := make([]Change, 0)
	for rows.Next() {
		var c Change
		var changeType string
		if err := rows.Scan(&c.Index, &c.Collection, &c.ExternalID, &changeType); err != nil {
			return nil, syncerr.NewStorageError(syncerr.OpQuery, fmt.Errorf("failed to scan change row: %w", err))
		}
		c.Type = ChangeType(changeType)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.NewStorageError(syncerr.OpQuery, err)
	}
	return changes, nil
}

// Latest returns the highest-index change of collection.
func (s *SQLStore) Latest(ctx context.Context, collection string) (*Change, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var c Change
	var changeType string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT idx, collection, external_id, change_type FROM changes WHERE collection = ? ORDER BY idx DESC LIMIT 1`),
		collection).Scan(&c.Index, &c.Collection, &c.ExternalID, &changeType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, syncerr.NewStorageError(syncerr.OpQuery, err)
	}
	c.Type = ChangeType(changeType)
	return &c, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncerr.NewStorageError(syncerr.OpQuery, ErrStoreClosed)
	}
	return nil
}

// rebind rewrites '?' placeholders for dialects that number them.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
