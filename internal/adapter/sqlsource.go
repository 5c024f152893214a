package adapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const sqlSourceSchema = `
    CREATE TABLE IF NOT EXISTS records (
        local_id     INTEGER PRIMARY KEY AUTOINCREMENT,
        collection   TEXT    NOT NULL,
        external_id  INTEGER,
        body         TEXT,
        updated_at   INTEGER NOT NULL,
        must_update  INTEGER NOT NULL DEFAULT 0,
        must_delete  INTEGER NOT NULL DEFAULT 0
    );
    CREATE UNIQUE INDEX IF NOT EXISTS idx_records_external ON records (collection, external_id);
    CREATE TABLE IF NOT EXISTS record_sequence (
        collection   TEXT    PRIMARY KEY,
        highest      INTEGER NOT NULL
    );
    `

const bumpSequence = `
    INSERT INTO record_sequence (collection, highest) VALUES (?, ?)
    ON CONFLICT (collection) DO UPDATE SET highest = MAX(highest, excluded.highest)`

// SQLSource is a DataSource over a SQLite database (github.com/mattn/go-sqlite3).
// Several collections can share one database; rows are partitioned by
// collection name. Updates are last-writer-wins on updated_at.
type SQLSource struct {
	db         *sql.DB
	collection string

	// Now stamps local edits. Defaults to time.Now.
	Now func() time.Time
}

var _ DataSource = (*SQLSource)(nil)
var _ UpdateSource = (*SQLSource)(nil)
var _ DeleteSource = (*SQLSource)(nil)

// NewSQLSource creates the records table if needed and returns a source
// for collection.
func NewSQLSource(db *sql.DB, collection string) (*SQLSource, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection cannot be empty")
	}
	if _, err := db.Exec(sqlSourceSchema); err != nil {
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}
	return &SQLSource{db: db, collection: collection, Now: time.Now}, nil
}

// Add queues a local insert and returns its local id.
func (s *SQLSource) Add(ctx context.Context, data json.RawMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (collection, body, updated_at) VALUES (?, ?, ?)`,
		s.collection, string(data), s.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to add record: %w", err)
	}
	return res.LastInsertId()
}

// Edit changes a replicated record locally and queues the update.
func (s *SQLSource) Edit(ctx context.Context, id int64, data json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET body = ?, updated_at = ?, must_update = 1 WHERE collection = ? AND external_id = ?`,
		string(data), s.Now().UnixNano(), s.collection, id)
	if err != nil {
		return fmt.Errorf("failed to edit record %d: %w", id, err)
	}
	return expectRow(res, id)
}

// Remove queues a local delete.
func (s *SQLSource) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET must_delete = 1 WHERE collection = ? AND external_id = ?`,
		s.collection, id)
	if err != nil {
		return fmt.Errorf("failed to mark record %d for delete: %w", id, err)
	}
	return expectRow(res, id)
}

// LatestExternalID returns the highest external id this collection has
// ever held. The record_sequence row keeps deleted ids counted.
func (s *SQLSource) LatestExternalID(ctx context.Context) (int64, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(id) FROM (
            SELECT MAX(external_id) AS id FROM records WHERE collection = ?
            UNION ALL
            SELECT highest FROM record_sequence WHERE collection = ?)`,
		s.collection, s.collection).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest external id: %w", err)
	}
	return latest.Int64, nil
}

func (s *SQLSource) Records(ctx context.Context, from, to int64) ([]Record, error) {
	query := `SELECT local_id, external_id, body, updated_at FROM records
        WHERE collection = ? AND external_id IS NOT NULL AND external_id >= ?`
	args := []any{s.collection, from}
	if to > 0 {
		query += ` AND external_id <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY external_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *SQLSource) Insert(ctx context.Context, rec Record, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (collection, external_id, body, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (collection, external_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		s.collection, id, string(rec.Data), stamp(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert record %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, bumpSequence, s.collection, id); err != nil {
		return fmt.Errorf("failed to bump sequence to %d: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLSource) Update(ctx context.Context, rec Record) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET body = ?, updated_at = ?, must_update = 0 WHERE collection = ? AND external_id = ?`,
		string(rec.Data), stamp(rec.UpdatedAt), s.collection, rec.ExternalID)
	if err != nil {
		return fmt.Errorf("failed to update record %d: %w", rec.ExternalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.Insert(ctx, rec, rec.ExternalID)
	}
	return nil
}

func (s *SQLSource) Delete(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND external_id = ?`, s.collection, rec.ExternalID)
	if err != nil {
		return fmt.Errorf("failed to delete record %d: %w", rec.ExternalID, err)
	}
	return nil
}

func (s *SQLSource) DecideUpdate(ctx context.Context, incoming Record) (bool, error) {
	var local int64
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM records WHERE collection = ? AND external_id = ?`,
		s.collection, incoming.ExternalID).Scan(&local)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read record %d: %w", incoming.ExternalID, err)
	}
	return stamp(incoming.UpdatedAt) > local, nil
}

func (s *SQLSource) DecideDelete(ctx context.Context, incoming Record) (bool, error) {
	return true, nil
}

func (s *SQLSource) FetchPendingInsert(ctx context.Context) (*Record, error) {
	return s.fetchOne(ctx, `external_id IS NULL ORDER BY local_id ASC`)
}

func (s *SQLSource) AfterInsert(ctx context.Context, rec Record, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin id assignment: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE records SET external_id = ? WHERE collection = ? AND local_id = ?`,
		id, s.collection, rec.LocalID)
	if err != nil {
		return fmt.Errorf("failed to assign external id %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, bumpSequence, s.collection, id); err != nil {
		return fmt.Errorf("failed to bump sequence to %d: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLSource) FetchPendingUpdate(ctx context.Context) (*Record, error) {
	return s.fetchOne(ctx, `must_update = 1 AND external_id IS NOT NULL ORDER BY external_id ASC`)
}

func (s *SQLSource) AfterUpdate(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE records SET must_update = 0 WHERE collection = ? AND external_id = ?`,
		s.collection, rec.ExternalID)
	return err
}

func (s *SQLSource) FetchPendingDelete(ctx context.Context) (*Record, error) {
	return s.fetchOne(ctx, `must_delete = 1 AND external_id IS NOT NULL ORDER BY external_id ASC`)
}

func (s *SQLSource) AfterDelete(ctx context.Context, rec Record) error {
	return s.Delete(ctx, rec)
}

func (s *SQLSource) fetchOne(ctx context.Context, where string) (*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT local_id, external_id, body, updated_at FROM records WHERE collection = ? AND `+where+` LIMIT 1`,
		s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var externalID sql.NullInt64
	var body sql.NullString
	var updatedAt int64
	if err := rows.Scan(&rec.LocalID, &externalID, &body, &updatedAt); err != nil {
		return Record{}, fmt.Errorf("failed to scan record row: %w", err)
	}
	rec.ExternalID = externalID.Int64
	if body.Valid {
		rec.Data = json.RawMessage(body.String)
	}
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rec, nil
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %d not found", id)
	}
	return nil
}

func stamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
