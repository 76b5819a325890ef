package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"receiptvault/internal/domain/receipt"
)

const cursorKey = "cursor"

// LocalReceipt is the device copy of a receipt.
type LocalReceipt struct {
	RecordID string
	Fields   receipt.Fields
	// ServerVersion is the last version seen from the server, 0 for
	// receipts created on this device and not yet accepted.
	ServerVersion int64
	// EditedFields are the fields changed on this device since
	// ServerVersion.
	EditedFields []string
	Dirty        bool
	UpdatedAt    time.Time
}

type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db, now: time.Now}
	if err := storage.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}
	return storage, nil
}

func (s *SQLiteStorage) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS receipts (
			record_id      TEXT PRIMARY KEY,
			fields         TEXT NOT NULL DEFAULT '{}',
			server_version INTEGER NOT NULL DEFAULT 0,
			edited_fields  TEXT NOT NULL DEFAULT '[]',
			dirty          BOOLEAN NOT NULL DEFAULT 0,
			updated_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_receipts_dirty ON receipts(dirty);

		CREATE TABLE IF NOT EXISTS sync_state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

const selectReceipt = `SELECT record_id, fields, server_version, edited_fields, dirty, updated_at FROM receipts`

func (s *SQLiteStorage) Get(ctx context.Context, id string) (*LocalReceipt, bool, error) {
	rec, err := scanLocal(s.db.QueryRowContext(ctx, selectReceipt+` WHERE record_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get receipt %s: %w", id, err)
	}
	return rec, true, nil
}

func (s *SQLiteStorage) List(ctx context.Context) ([]*LocalReceipt, error) {
	return s.query(ctx, selectReceipt+` ORDER BY updated_at DESC, record_id`)
}

func (s *SQLiteStorage) Dirty(ctx context.Context) ([]*LocalReceipt, error) {
	return s.query(ctx, selectReceipt+` WHERE dirty = 1 ORDER BY updated_at, record_id`)
}

// Edit records a local change. The given fields are laid over the stored
// copy and remembered as user edits until the server accepts them.
func (s *SQLiteStorage) Edit(ctx context.Context, id string, fields receipt.Fields) (*LocalReceipt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanLocal(tx.QueryRowContext(ctx, selectReceipt+` WHERE record_id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec = &LocalReceipt{RecordID: id, Fields: receipt.Fields{}}
	case err != nil:
		return nil, fmt.Errorf("load receipt %s: %w", id, err)
	}

	edited := make(map[string]struct{}, len(rec.EditedFields)+len(fields))
	for _, name := range rec.EditedFields {
		edited[name] = struct{}{}
	}
	for name, v := range fields {
		rec.Fields[name] = v.Clone()
		edited[name] = struct{}{}
	}
	rec.EditedFields = setToSorted(edited)
	rec.Dirty = true
	rec.UpdatedAt = s.now().UTC()

	if err := upsert(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// ApplyServer stores a server copy. Pending local edits are rebased onto
// it: edited fields keep the local value and the receipt stays dirty.
func (s *SQLiteStorage) ApplyServer(ctx context.Context, server receipt.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	local, err := scanLocal(tx.QueryRowContext(ctx, selectReceipt+` WHERE record_id = ?`, server.RecordID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load receipt %s: %w", server.RecordID, err)
	}

	rec := &LocalReceipt{
		RecordID:      server.RecordID,
		Fields:        server.Fields.Clone(),
		ServerVersion: server.Version,
		UpdatedAt:     server.LastModified,
	}
	if local != nil {
		if local.ServerVersion > server.Version {
			return nil
		}
		if local.Dirty {
			for _, name := range local.EditedFields {
				if v, ok := local.Fields[name]; ok {
					rec.Fields[name] = v
				}
			}
			rec.EditedFields = local.EditedFields
			rec.Dirty = true
		}
	}
	if rec.Fields == nil {
		rec.Fields = receipt.Fields{}
	}

	if err := upsert(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MarkSynced clears the pending edits of a receipt the server took.
func (s *SQLiteStorage) MarkSynced(ctx context.Context, id string, version int64) error {
	const query = `
		UPDATE receipts
		SET dirty = 0, edited_fields = '[]', server_version = MAX(server_version, ?)
		WHERE record_id = ?`

	if _, err := s.db.ExecContext(ctx, query, version, id); err != nil {
		return fmt.Errorf("mark synced %s: %w", id, err)
	}
	return nil
}

// Cursor returns the newCursor of the last pull; ok is false before the
// first sync.
func (s *SQLiteStorage) Cursor(ctx context.Context) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, cursorKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cursor: %w", err)
	}

	cursor, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cursor %q: %w", raw, err)
	}
	return cursor, true, nil
}

func (s *SQLiteStorage) SetCursor(ctx context.Context, cursor time.Time) error {
	const query = `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	if _, err := s.db.ExecContext(ctx, query, cursorKey, cursor.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) query(ctx context.Context, query string) ([]*LocalReceipt, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var out []*LocalReceipt
	for rows.Next() {
		rec, err := scanLocal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLocal(row scanner) (*LocalReceipt, error) {
	var (
		rec       LocalReceipt
		fields    string
		edited    string
		updatedAt string
	)
	if err := row.Scan(&rec.RecordID, &fields, &rec.ServerVersion, &edited, &rec.Dirty, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s: %w", rec.RecordID, err)
	}
	if rec.Fields == nil {
		rec.Fields = receipt.Fields{}
	}
	if err := json.Unmarshal([]byte(edited), &rec.EditedFields); err != nil {
		return nil, fmt.Errorf("decode edited fields of %s: %w", rec.RecordID, err)
	}

	var err error
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at of %s: %w", rec.RecordID, err)
	}
	return &rec, nil
}

func upsert(ctx context.Context, tx *sql.Tx, rec *LocalReceipt) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	edited := rec.EditedFields
	if edited == nil {
		edited = []string{}
	}
	editedJSON, err := json.Marshal(edited)
	if err != nil {
		return fmt.Errorf("encode edited fields: %w", err)
	}

	const query = `
		INSERT INTO receipts (record_id, fields, server_version, edited_fields, dirty, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			fields = excluded.fields,
			server_version = excluded.server_version,
			edited_fields = excluded.edited_fields,
			dirty = excluded.dirty,
			updated_at = excluded.updated_at`

	_, err = tx.ExecContext(ctx, query,
		rec.RecordID, string(fields), rec.ServerVersion, string(editedJSON), rec.Dirty,
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save receipt %s: %w", rec.RecordID, err)
	}
	return nil
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
