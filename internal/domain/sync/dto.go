package sync

import (
	"time"

	"receiptvault/internal/domain/receipt"
)

type PullRequest struct {
	OwnerID string
	// Cursor is the NewCursor of the previous pull or full sync.
	Cursor time.Time
}

type PushRequest struct {
	OwnerID string
	Items   []ClientRecord
}

type FullRequest struct {
	OwnerID string
}

// SnapshotResponse answers both pull and full reconciliation.
type SnapshotResponse struct {
	Items     []receipt.Record
	Count     int
	NewCursor time.Time
}

type PushResponse struct {
	Outcomes []ItemOutcome
}
