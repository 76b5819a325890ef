package sync

import (
	"fmt"
	"time"

	"receiptvault/internal/domain/receipt"
)

// ClientRecord is one item of a push batch.
type ClientRecord struct {
	RecordID string
	// ServerVersion is the version the client last saw; 0 for records the
	// client created locally.
	ServerVersion int64
	Fields        receipt.Fields
	// UserEditedFields names the fields the user changed locally since
	// ServerVersion.
	UserEditedFields []string
}

// Outcome tags the result of pushing one record.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeMerged   Outcome = "merged"
	OutcomeConflict Outcome = "conflict"
	OutcomeRejected Outcome = "rejected"
	OutcomeNotFound Outcome = "not_found"
)

// ItemOutcome is the per-record result of a push. NewVersion is zero when
// the store was not written and the current version is unknown.
type ItemOutcome struct {
	RecordID   string
	Outcome    Outcome
	NewVersion int64
	Conflicts  []FieldConflict
	Reason     string
}

// MergeBump decides whether a merge that changes no stored value still
// writes a new version.
type MergeBump string

const (
	// MergeBumpOnDiscrepancy writes whenever the client disagreed on any
	// field, even if every resolution keeps the server value.
	MergeBumpOnDiscrepancy MergeBump = "on_discrepancy"
	// MergeBumpOnChange writes only when a stored value changes.
	MergeBumpOnChange MergeBump = "on_change"
)

// ParseMergeBump reads a SYNC_MERGE_BUMP value; empty means on_discrepancy.
func ParseMergeBump(s string) (MergeBump, error) {
	switch MergeBump(s) {
	case "", MergeBumpOnDiscrepancy:
		return MergeBumpOnDiscrepancy, nil
	case MergeBumpOnChange:
		return MergeBumpOnChange, nil
	default:
		return "", fmt.Errorf("unknown merge bump mode %q", s)
	}
}

// ServiceConfig tunes the sync engine.
type ServiceConfig struct {
	MaxBatchSize int
	// RetryAttempts bounds retries of unprocessed batch-get keys.
	RetryAttempts uint64
	RetryBase     time.Duration
	RetryMax      time.Duration
	MergeBump     MergeBump
}

// DefaultServiceConfig returns the settings used when none are configured.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxBatchSize:  25,
		RetryAttempts: 5,
		RetryBase:     50 * time.Millisecond,
		RetryMax:      2 * time.Second,
		MergeBump:     MergeBumpOnDiscrepancy,
	}
}
