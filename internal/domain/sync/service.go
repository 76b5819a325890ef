package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"receiptvault/internal/domain/receipt"
	"receiptvault/internal/utils/paging"
)

// Servicer is the sync engine as seen by transports.
type Servicer interface {
	// Pull returns every record modified at or after the cursor.
	Pull(ctx context.Context, req PullRequest) (*SnapshotResponse, error)

	// Push applies a batch of client records, one outcome per item.
	Push(ctx context.Context, req PushRequest) (*PushResponse, error)

	// Full returns the owner's complete record set.
	Full(ctx context.Context, req FullRequest) (*SnapshotResponse, error)
}

// Service implements the sync engine on top of a Repository. It keeps no
// per-request state and is safe for concurrent use.
type Service struct {
	repo   Repository
	log    *slog.Logger
	config *ServiceConfig
	now    func() time.Time
}

// NewService creates the sync engine. A nil config means DefaultServiceConfig.
func NewService(repo Repository, log *slog.Logger, config *ServiceConfig) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}

	return &Service{
		repo:   repo,
		log:    log.With("component", "sync_service"),
		config: config,
		now:    time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// clock returns UTC time truncated to the microsecond so cursors compare
// the same way in every store.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Pull returns the owner's records modified since the request cursor.
func (s *Service) Pull(ctx context.Context, req PullRequest) (*SnapshotResponse, error) {
	if err := validateOwner(req.OwnerID); err != nil {
		return nil, err
	}
	if req.Cursor.IsZero() {
		return nil, invalid("cursor", "is required")
	}

	// The new cursor is taken before reading and the store bound is
	// inclusive, so a write stamped with this instant after the index read
	// is picked up by the next pull.
	started := s.clock()

	fetch := func(ctx context.Context, token paging.Token) (paging.Page[receipt.Key], error) {
		return s.repo.QueryModifiedSince(ctx, req.OwnerID, req.Cursor, token)
	}
	keys, err := paging.Collect(ctx, "", fetch)
	if err != nil {
		return nil, fmt.Errorf("query modified since: %w", err)
	}

	records, err := s.fetch(ctx, keys)
	if err != nil {
		return nil, err
	}

	s.log.Info("delta pull",
		"owner", req.OwnerID,
		"since", req.Cursor,
		"keys", len(keys),
		"items", len(records),
	)

	return &SnapshotResponse{
		Items:     records,
		Count:     len(records),
		NewCursor: started,
	}, nil
}

// Full returns every record of the owner with a fresh cursor.
func (s *Service) Full(ctx context.Context, req FullRequest) (*SnapshotResponse, error) {
	if err := validateOwner(req.OwnerID); err != nil {
		return nil, err
	}

	started := s.clock()

	fetch := func(ctx context.Context, token paging.Token) (paging.Page[receipt.Record], error) {
		return s.repo.QueryAll(ctx, req.OwnerID, token)
	}
	records, err := paging.Collect(ctx, "", fetch)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}

	s.log.Info("full reconciliation",
		"owner", req.OwnerID,
		"items", len(records),
	)

	return &SnapshotResponse{
		Items:     records,
		Count:     len(records),
		NewCursor: started,
	}, nil
}

// Push applies a batch of client records and reports one outcome per item.
func (s *Service) Push(ctx context.Context, req PushRequest) (*PushResponse, error) {
	if err := validateOwner(req.OwnerID); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, invalid("items", "must not be empty")
	}
	if len(req.Items) > s.config.MaxBatchSize {
		return nil, invalid("items", "batch size %d exceeds maximum of %d", len(req.Items), s.config.MaxBatchSize)
	}

	outcomes := make([]ItemOutcome, 0, len(req.Items))
	tally := make(map[Outcome]int)

	for _, item := range req.Items {
		out, err := s.pushItem(ctx, req.OwnerID, item)
		if err != nil {
			return nil, fmt.Errorf("push record %q: %w", item.RecordID, err)
		}
		outcomes = append(outcomes, out)
		tally[out.Outcome]++
	}

	s.log.Info("batch push",
		"owner", req.OwnerID,
		"total", len(req.Items),
		"accepted", tally[OutcomeAccepted],
		"merged", tally[OutcomeMerged],
		"conflict", tally[OutcomeConflict],
		"rejected", tally[OutcomeRejected],
		"not_found", tally[OutcomeNotFound],
	)

	return &PushResponse{Outcomes: outcomes}, nil
}

func (s *Service) pushItem(ctx context.Context, ownerID string, item ClientRecord) (ItemOutcome, error) {
	id := strings.TrimSpace(item.RecordID)
	if id == "" {
		return ItemOutcome{Outcome: OutcomeRejected, Reason: "missing record id"}, nil
	}
	if item.ServerVersion < 0 {
		return ItemOutcome{RecordID: id, Outcome: OutcomeRejected, Reason: "negative server version"}, nil
	}

	fields := item.Fields.Sanitized()

	// A lost insert race sends the item around once more against the
	// record that won.
	for range 2 {
		server, found, err := s.repo.Get(ctx, ownerID, id)
		if err != nil {
			return ItemOutcome{}, fmt.Errorf("get: %w", err)
		}

		if !found {
			now := s.clock()
			inserted, err := s.repo.InsertIfAbsent(ctx, receipt.Record{
				OwnerID:      ownerID,
				RecordID:     id,
				Fields:       fields,
				Version:      1,
				CreatedAt:    now,
				LastModified: now,
			})
			if err != nil {
				return ItemOutcome{}, fmt.Errorf("insert: %w", err)
			}
			if inserted {
				return ItemOutcome{RecordID: id, Outcome: OutcomeAccepted, NewVersion: 1}, nil
			}
			continue
		}

		if item.ServerVersion == server.Version {
			return s.applyDirect(ctx, server, fields)
		}
		return s.merge(ctx, server, fields, item.UserEditedFields)
	}

	return ItemOutcome{RecordID: id, Outcome: OutcomeConflict, Reason: "record changed concurrently"}, nil
}

// applyDirect writes the client payload when the client saw the current
// version. A concurrent writer turns it into a conflict; the client has to
// pull and resubmit.
func (s *Service) applyDirect(ctx context.Context, server receipt.Record, fields receipt.Fields) (ItemOutcome, error) {
	if len(fields) == 0 {
		return ItemOutcome{RecordID: server.RecordID, Outcome: OutcomeAccepted, NewVersion: server.Version}, nil
	}

	version, status, err := s.repo.ConditionalUpdate(ctx, server.OwnerID, server.RecordID,
		fields, server.Version, s.writeTime(server))
	if err != nil {
		return ItemOutcome{}, fmt.Errorf("conditional update: %w", err)
	}

	switch status {
	case UpdateApplied:
		return ItemOutcome{RecordID: server.RecordID, Outcome: OutcomeAccepted, NewVersion: version}, nil
	case UpdateVersionMismatch:
		return ItemOutcome{RecordID: server.RecordID, Outcome: OutcomeConflict, Reason: "version changed during write"}, nil
	default:
		return ItemOutcome{RecordID: server.RecordID, Outcome: OutcomeNotFound, Reason: "record no longer exists"}, nil
	}
}

func (s *Service) merge(ctx context.Context, server receipt.Record, fields receipt.Fields, edited []string) (ItemOutcome, error) {
	res := Resolve(ReceiptPolicy, fields, server.Fields, edited)

	out := ItemOutcome{
		RecordID:   server.RecordID,
		Outcome:    OutcomeMerged,
		NewVersion: server.Version,
		Conflicts:  res.Conflicts,
	}

	if len(res.Discrepancies) == 0 {
		out.Outcome = OutcomeAccepted
		return out, nil
	}
	if s.config.MergeBump == MergeBumpOnChange && len(res.Updates) == 0 {
		return out, nil
	}

	version, status, err := s.repo.Update(ctx, server.OwnerID, server.RecordID, res.Updates, s.writeTime(server))
	if err != nil {
		return ItemOutcome{}, fmt.Errorf("merge update: %w", err)
	}
	if status != UpdateApplied {
		return ItemOutcome{RecordID: server.RecordID, Outcome: OutcomeNotFound, Reason: "record no longer exists"}, nil
	}

	s.log.Debug("merged record",
		"owner", server.OwnerID,
		"record_id", server.RecordID,
		"discrepancies", res.Discrepancies,
		"updates", res.Updates.Names(),
		"conflicts", len(res.Conflicts),
	)

	out.NewVersion = version
	return out, nil
}

// writeTime keeps last_modified non-decreasing when the local clock is
// behind the one that wrote the record.
func (s *Service) writeTime(server receipt.Record) time.Time {
	now := s.clock()
	if now.Before(server.LastModified) {
		return server.LastModified
	}
	return now
}

func validateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return invalid("owner", "is required")
	}
	return nil
}
