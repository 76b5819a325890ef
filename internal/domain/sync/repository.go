package sync

import (
	"context"
	"time"

	"receiptvault/internal/domain/receipt"
	"receiptvault/internal/utils/paging"
)

// UpdateStatus reports how a store handled a write.
type UpdateStatus int

const (
	UpdateApplied UpdateStatus = iota
	UpdateVersionMismatch
	UpdateNotFound
)

func (s UpdateStatus) String() string {
	switch s {
	case UpdateApplied:
		return "applied"
	case UpdateVersionMismatch:
		return "version_mismatch"
	case UpdateNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// BatchGetResult holds what a batch read returned. Keys the store could
// not serve in this call come back in Unprocessed; keys of records that do
// not exist are simply absent from both lists.
type BatchGetResult struct {
	Records     []receipt.Record
	Unprocessed []receipt.Key
}

// Repository is the record store the sync engine runs against.
type Repository interface {
	// Get returns the record and true, or false when it does not exist.
	Get(ctx context.Context, ownerID, recordID string) (receipt.Record, bool, error)

	// InsertIfAbsent stores rec unless a record with the same key exists.
	InsertIfAbsent(ctx context.Context, rec receipt.Record) (bool, error)

	// ConditionalUpdate merges fields into the record and increments its
	// version, only if the stored version equals expectedVersion.
	ConditionalUpdate(ctx context.Context, ownerID, recordID string, fields receipt.Fields,
		expectedVersion int64, now time.Time) (int64, UpdateStatus, error)

	// Update merges fields and increments the version without a version
	// precondition.
	Update(ctx context.Context, ownerID, recordID string, fields receipt.Fields,
		now time.Time) (int64, UpdateStatus, error)

	// QueryModifiedSince lists keys with last_modified at or after cursor,
	// ascending by (last_modified, record_id). A record written at exactly
	// the cursor instant is delivered again rather than lost.
	QueryModifiedSince(ctx context.Context, ownerID string, cursor time.Time,
		token paging.Token) (paging.Page[receipt.Key], error)

	// QueryAll lists every record of the owner.
	QueryAll(ctx context.Context, ownerID string, token paging.Token) (paging.Page[receipt.Record], error)

	// BatchGet resolves keys to records, chunking internally.
	BatchGet(ctx context.Context, keys []receipt.Key) (BatchGetResult, error)
}
