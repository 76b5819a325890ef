package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"receiptvault/internal/domain/receipt"
	"receiptvault/internal/domain/sync"
	"receiptvault/internal/utils/paging"
)

const (
	DefaultPageSize     = 100
	DefaultMaxBatchGet  = 100
	DefaultChunkTimeout = 5 * time.Second
)

type ReceiptRepository struct {
	pool         *pgxpool.Pool
	log          *slog.Logger
	pageSize     int
	maxBatchGet  int
	chunkTimeout time.Duration
}

func NewReceiptRepository(pool *pgxpool.Pool, log *slog.Logger, pageSize int) *ReceiptRepository {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &ReceiptRepository{
		pool:         pool,
		log:          log.With("component", "receipt_repository"),
		pageSize:     pageSize,
		maxBatchGet:  DefaultMaxBatchGet,
		chunkTimeout: DefaultChunkTimeout,
	}
}

var _ sync.Repository = (*ReceiptRepository)(nil)

const selectColumns = `owner_id, record_id, fields, version, created_at, last_modified`

func (r *ReceiptRepository) Get(ctx context.Context, ownerID, recordID string) (receipt.Record, bool, error) {
	const query = `SELECT ` + selectColumns + `
		FROM receipts
		WHERE owner_id = $1 AND record_id = $2`

	rec, err := scanReceipt(r.pool.QueryRow(ctx, query, ownerID, recordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return receipt.Record{}, false, nil
		}
		r.log.Error("failed to get receipt", "owner", ownerID, "record_id", recordID, "error", err)
		return receipt.Record{}, false, fmt.Errorf("get receipt: %w", err)
	}
	return rec, true, nil
}

func (r *ReceiptRepository) InsertIfAbsent(ctx context.Context, rec receipt.Record) (bool, error) {
	const query = `
		INSERT INTO receipts (owner_id, record_id, fields, version, created_at, last_modified)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		ON CONFLICT (owner_id, record_id) DO NOTHING`

	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return false, err
	}

	tag, err := r.pool.Exec(ctx, query,
		rec.OwnerID, rec.RecordID, fields, rec.Version, rec.CreatedAt, rec.LastModified)
	if err != nil {
		r.log.Error("failed to insert receipt", "owner", rec.OwnerID, "record_id", rec.RecordID, "error", err)
		return false, fmt.Errorf("insert receipt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ReceiptRepository) ConditionalUpdate(ctx context.Context, ownerID, recordID string, fields receipt.Fields,
	expectedVersion int64, now time.Time,
) (int64, sync.UpdateStatus, error) {
	const query = `
		UPDATE receipts
		SET fields = fields || $3::jsonb,
		    version = version + 1,
		    last_modified = GREATEST(last_modified, $4)
		WHERE owner_id = $1 AND record_id = $2 AND version = $5
		RETURNING version`

	patch, err := encodeFields(fields)
	if err != nil {
		return 0, sync.UpdateNotFound, err
	}

	var version int64
	err = r.pool.QueryRow(ctx, query, ownerID, recordID, patch, now, expectedVersion).Scan(&version)
	if err == nil {
		return version, sync.UpdateApplied, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.log.Error("failed to update receipt", "owner", ownerID, "record_id", recordID, "error", err)
		return 0, sync.UpdateNotFound, fmt.Errorf("conditional update: %w", err)
	}

	exists, err := r.exists(ctx, ownerID, recordID)
	if err != nil {
		return 0, sync.UpdateNotFound, err
	}
	if exists {
		return 0, sync.UpdateVersionMismatch, nil
	}
	return 0, sync.UpdateNotFound, nil
}

func (r *ReceiptRepository) Update(ctx context.Context, ownerID, recordID string, fields receipt.Fields,
	now time.Time,
) (int64, sync.UpdateStatus, error) {
	const query = `
		UPDATE receipts
		SET fields = fields || $3::jsonb,
		    version = version + 1,
		    last_modified = GREATEST(last_modified, $4)
		WHERE owner_id = $1 AND record_id = $2
		RETURNING version`

	patch, err := encodeFields(fields)
	if err != nil {
		return 0, sync.UpdateNotFound, err
	}

	var version int64
	err = r.pool.QueryRow(ctx, query, ownerID, recordID, patch, now).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, sync.UpdateNotFound, nil
		}
		r.log.Error("failed to update receipt", "owner", ownerID, "record_id", recordID, "error", err)
		return 0, sync.UpdateNotFound, fmt.Errorf("update receipt: %w", err)
	}
	return version, sync.UpdateApplied, nil
}

func (r *ReceiptRepository) exists(ctx context.Context, ownerID, recordID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM receipts WHERE owner_id = $1 AND record_id = $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, ownerID, recordID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check receipt exists: %w", err)
	}
	return exists, nil
}

type modifiedPosition struct {
	LastModified time.Time `json:"t"`
	RecordID     string    `json:"id"`
}

func (r *ReceiptRepository) QueryModifiedSince(ctx context.Context, ownerID string, cursor time.Time,
	token paging.Token,
) (paging.Page[receipt.Key], error) {
	const query = `
		SELECT record_id, last_modified
		FROM receipts
		WHERE owner_id = $1
		  AND last_modified >= $2
		  AND (last_modified, record_id) > ($3, $4)
		ORDER BY last_modified, record_id
		LIMIT $5`

	after := modifiedPosition{LastModified: cursor}
	if !token.IsZero() {
		if err := paging.Decode(token, &after); err != nil {
			return paging.Page[receipt.Key]{}, err
		}
	}

	rows, err := r.pool.Query(ctx, query, ownerID, cursor, after.LastModified, after.RecordID, r.pageSize+1)
	if err != nil {
		r.log.Error("failed to query modified receipts", "owner", ownerID, "error", err)
		return paging.Page[receipt.Key]{}, fmt.Errorf("query modified since: %w", err)
	}
	defer rows.Close()

	var positions []modifiedPosition
	for rows.Next() {
		var p modifiedPosition
		if err := rows.Scan(&p.RecordID, &p.LastModified); err != nil {
			return paging.Page[receipt.Key]{}, fmt.Errorf("scan modified receipt: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return paging.Page[receipt.Key]{}, fmt.Errorf("iterate modified receipts: %w", err)
	}

	var page paging.Page[receipt.Key]
	if len(positions) > r.pageSize {
		positions = positions[:r.pageSize]
		if page.Next, err = paging.Encode(positions[len(positions)-1]); err != nil {
			return paging.Page[receipt.Key]{}, err
		}
	}
	for _, p := range positions {
		page.Items = append(page.Items, receipt.Key{OwnerID: ownerID, RecordID: p.RecordID})
	}
	return page, nil
}

type idPosition struct {
	RecordID string `json:"id"`
}

func (r *ReceiptRepository) QueryAll(ctx context.Context, ownerID string, token paging.Token) (paging.Page[receipt.Record], error) {
	const query = `SELECT ` + selectColumns + `
		FROM receipts
		WHERE owner_id = $1 AND record_id > $2
		ORDER BY record_id
		LIMIT $3`

	var after idPosition
	if !token.IsZero() {
		if err := paging.Decode(token, &after); err != nil {
			return paging.Page[receipt.Record]{}, err
		}
	}

	rows, err := r.pool.Query(ctx, query, ownerID, after.RecordID, r.pageSize+1)
	if err != nil {
		r.log.Error("failed to list receipts", "owner", ownerID, "error", err)
		return paging.Page[receipt.Record]{}, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	records, err := scanReceipts(rows)
	if err != nil {
		return paging.Page[receipt.Record]{}, err
	}

	page := paging.Page[receipt.Record]{}
	if len(records) > r.pageSize {
		records = records[:r.pageSize]
		if page.Next, err = paging.Encode(idPosition{RecordID: records[len(records)-1].RecordID}); err != nil {
			return paging.Page[receipt.Record]{}, err
		}
	}
	page.Items = records
	return page, nil
}

// BatchGet reads keys in chunks. A chunk that times out or hits a
// transient server condition is reported as unprocessed instead of failing
// the whole read.
func (r *ReceiptRepository) BatchGet(ctx context.Context, keys []receipt.Key) (sync.BatchGetResult, error) {
	var res sync.BatchGetResult

	for start := 0; start < len(keys); start += r.maxBatchGet {
		chunk := keys[start:min(start+r.maxBatchGet, len(keys))]

		records, err := r.batchGetChunk(ctx, chunk)
		if err != nil {
			if ctx.Err() == nil && isTransient(err) {
				r.log.Warn("batch get chunk left unprocessed", "keys", len(chunk), "error", err)
				res.Unprocessed = append(res.Unprocessed, chunk...)
				continue
			}
			r.log.Error("failed to batch get receipts", "keys", len(chunk), "error", err)
			return sync.BatchGetResult{}, fmt.Errorf("batch get: %w", err)
		}
		res.Records = append(res.Records, records...)
	}
	return res, nil
}

func (r *ReceiptRepository) batchGetChunk(ctx context.Context, chunk []receipt.Key) ([]receipt.Record, error) {
	const query = `SELECT r.owner_id, r.record_id, r.fields, r.version, r.created_at, r.last_modified
		FROM receipts r
		JOIN unnest($1::text[], $2::text[]) AS k(owner_id, record_id)
		  ON r.owner_id = k.owner_id AND r.record_id = k.record_id`

	owners := make([]string, len(chunk))
	ids := make([]string, len(chunk))
	for i, k := range chunk {
		owners[i], ids[i] = k.OwnerID, k.RecordID
	}

	ctx, cancel := context.WithTimeout(ctx, r.chunkTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, query, owners, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReceipts(rows)
}

// isTransient reports errors worth retrying with the same keys.
func isTransient(err error) bool {
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57014", // query_canceled
			"53300", // too_many_connections
			"40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}
	return false
}

func scanReceipt(row pgx.Row) (receipt.Record, error) {
	var (
		rec    receipt.Record
		fields []byte
	)
	if err := row.Scan(&rec.OwnerID, &rec.RecordID, &fields, &rec.Version, &rec.CreatedAt, &rec.LastModified); err != nil {
		return receipt.Record{}, err
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return receipt.Record{}, fmt.Errorf("decode fields of %s/%s: %w", rec.OwnerID, rec.RecordID, err)
	}
	if rec.Fields == nil {
		rec.Fields = receipt.Fields{}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.LastModified = rec.LastModified.UTC()
	return rec, nil
}

func scanReceipts(rows pgx.Rows) ([]receipt.Record, error) {
	var out []receipt.Record
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return out, nil
}

func encodeFields(fields receipt.Fields) (string, error) {
	if fields == nil {
		fields = receipt.Fields{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(b), nil
}
