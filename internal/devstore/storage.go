// Package devstore is a development stand-in for the remote entity store.
// It speaks the same PostgREST-style HTTP interface and change feed the
// sync client expects, backed by a single sqlite table, so the engine can
// be exercised end to end without external infrastructure.
package devstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tillsync/tillsync/internal/models"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const timeFormat = time.RFC3339Nano

// Storage persists devstore records in sqlite. Every logical table shares
// one physical table keyed (tbl, id), with the entity payload as JSON and
// the system columns (created_at, updated_at, deleted_at) alongside.
type Storage struct {
	db *sql.DB
}

// NewStorage opens (and migrates) the sqlite database at dbPath.
// Use ":memory:" for tests.
func NewStorage(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite allows one writer; keep the pool at a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Storage{db: db}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) runMigrations() error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	goose.SetBaseFS(embedMigrations)

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}

	return nil
}

// Insert creates a record, assigning an id when the payload carries none.
// Inserting over an existing live id is a state conflict: the current
// record is returned alongside ErrConflict.
func (s *Storage) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}

	current, err := s.get(ctx, table, id)
	if err == nil && current["deleted_at"] == nil {
		return current, fmt.Errorf("insert %s/%s: %w", table, id, ErrConflict)
	}

	now := time.Now().UTC().Format(timeFormat)

	payload, err := marshalPayload(rec)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (tbl, id, payload, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT (tbl, id) DO UPDATE
		SET payload = excluded.payload, updated_at = excluded.updated_at, deleted_at = NULL
	`, table, id, payload, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}

	return s.get(ctx, table, id)
}

// Update applies a partial update. When the patch carries an updated_at,
// it is treated as the base version the client wrote against; a mismatch
// with the stored updated_at returns the current record and ErrConflict.
func (s *Storage) Update(ctx context.Context, table, id string, patch models.Record) (models.Record, error) {
	current, err := s.get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if current["deleted_at"] != nil {
		return nil, fmt.Errorf("update %s/%s: %w", table, id, ErrNotFound)
	}

	if base, ok := patch["updated_at"].(string); ok && base != "" {
		if stored, _ := current["updated_at"].(string); !sameVersion(base, stored) {
			return current, fmt.Errorf("update %s/%s: %w", table, id, ErrConflict)
		}
	}

	merged := models.CloneRecord(current)
	for k, v := range patch {
		if isSystemColumn(k) {
			continue
		}
		merged[k] = v
	}

	now := time.Now().UTC().Format(timeFormat)

	payload, err := marshalPayload(merged)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE records SET payload = ?, updated_at = ? WHERE tbl = ? AND id = ?
	`, payload, now, table, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	return s.get(ctx, table, id)
}

// Delete soft-deletes a record by stamping deleted_at, leaving a tombstone
// for delta sync to propagate.
func (s *Storage) Delete(ctx context.Context, table, id string) error {
	current, err := s.get(ctx, table, id)
	if err != nil {
		return err
	}
	if current["deleted_at"] != nil {
		// Deleting a tombstone is idempotent
		return nil
	}

	now := time.Now().UTC().Format(timeFormat)

	_, err = s.db.ExecContext(ctx, `
		UPDATE records SET deleted_at = ?, updated_at = ? WHERE tbl = ? AND id = ?
	`, now, now, table, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	return nil
}

// Query filters one logical table with a parsed PostgREST-style query
func (s *Storage) Query(ctx context.Context, table string, q Query) ([]models.Record, error) {
	sqlQuery := "SELECT id, payload, created_at, updated_at, deleted_at FROM records WHERE tbl = ?"
	args := []any{table}

	if q.IDEq != "" {
		sqlQuery += " AND id = ?"
		args = append(args, q.IDEq)
	}
	if q.DeletedNull != nil {
		if *q.DeletedNull {
			sqlQuery += " AND deleted_at IS NULL"
		} else {
			sqlQuery += " AND deleted_at IS NOT NULL"
		}
	}
	if q.UpdatedGte != "" {
		sqlQuery += " AND updated_at >= ?"
		args = append(args, q.UpdatedGte)
	}
	if q.CreatedGte != "" {
		sqlQuery += " AND created_at >= ?"
		args = append(args, q.CreatedGte)
	}
	if q.DeletedGte != "" {
		sqlQuery += " AND deleted_at >= ?"
		args = append(args, q.DeletedGte)
	}

	switch q.OrderBy {
	case "updated_at", "created_at", "deleted_at", "id":
		sqlQuery += " ORDER BY " + q.OrderBy
		if q.OrderDesc {
			sqlQuery += " DESC"
		}
	}

	if q.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	return records, nil
}

// get loads one record including its tombstone state
func (s *Storage) get(ctx context.Context, table, id string) (models.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, payload, created_at, updated_at, deleted_at
		FROM records WHERE tbl = ? AND id = ?
	`, table, id)

	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
		}
		return nil, err
	}

	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord assembles a full record: decoded payload with the system
// columns layered on top.
func scanRecord(row scanner) (models.Record, error) {
	var id, payload, createdAt, updatedAt string
	var deletedAt sql.NullString

	if err := row.Scan(&id, &payload, &createdAt, &updatedAt, &deletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec := models.Record{}
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	rec["id"] = id
	rec["created_at"] = createdAt
	rec["updated_at"] = updatedAt
	if deletedAt.Valid {
		rec["deleted_at"] = deletedAt.String
	} else {
		rec["deleted_at"] = nil
	}

	return rec, nil
}

// marshalPayload serializes a record minus the system columns
func marshalPayload(rec models.Record) (string, error) {
	payload := make(models.Record, len(rec))
	for k, v := range rec {
		if isSystemColumn(k) || k == "id" {
			continue
		}
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	return string(data), nil
}

func isSystemColumn(name string) bool {
	switch name {
	case "created_at", "updated_at", "deleted_at":
		return true
	}
	return false
}

// sameVersion compares two timestamps as instants, tolerating formatting
// differences between client and server.
func sameVersion(a, b string) bool {
	if a == b {
		return true
	}
	ta, errA := time.Parse(timeFormat, a)
	tb, errB := time.Parse(timeFormat, b)
	if errA != nil || errB != nil {
		return false
	}
	return ta.Equal(tb)
}

// Query is a parsed PostgREST-style filter
type Query struct {
	IDEq        string
	UpdatedGte  string
	CreatedGte  string
	DeletedGte  string
	OrderBy     string
	DeletedNull *bool
	Limit       int
	OrderDesc   bool
}
