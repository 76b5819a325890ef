package client

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	syncAPI "receiptvault/internal/app/server/api/http/sync"
	"receiptvault/internal/domain/receipt"
	"receiptvault/internal/domain/sync"
)

// Remote is the server side of the sync protocol.
type Remote interface {
	Pull(ctx context.Context, cursor time.Time) (*syncAPI.SnapshotResponse, error)
	Push(ctx context.Context, items []syncAPI.PushItem) (*syncAPI.PushResponse, error)
	Full(ctx context.Context) (*syncAPI.SnapshotResponse, error)
}

// LocalStore is the device cache the syncer works on.
type LocalStore interface {
	Dirty(ctx context.Context) ([]*LocalReceipt, error)
	ApplyServer(ctx context.Context, server receipt.Record) error
	MarkSynced(ctx context.Context, id string, version int64) error
	Cursor(ctx context.Context) (time.Time, bool, error)
	SetCursor(ctx context.Context, cursor time.Time) error
}

// SyncResult summarizes one pull, push or full run.
type SyncResult struct {
	Pulled    int
	Accepted  int
	Merged    int
	Conflicts int
	Rejected  int
	NotFound  int
	// Problems lists per-record outcomes the user should look at.
	Problems []string
}

func (r *SyncResult) add(o *SyncResult) {
	r.Pulled += o.Pulled
	r.Accepted += o.Accepted
	r.Merged += o.Merged
	r.Conflicts += o.Conflicts
	r.Rejected += o.Rejected
	r.NotFound += o.NotFound
	r.Problems = append(r.Problems, o.Problems...)
}

type Syncer struct {
	remote    Remote
	store     LocalStore
	log       *slog.Logger
	batchSize int
}

func NewSyncer(remote Remote, store LocalStore, log *slog.Logger, batchSize int) *Syncer {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Syncer{
		remote:    remote,
		store:     store,
		log:       log.With("component", "syncer"),
		batchSize: batchSize,
	}
}

// Pull fetches changes since the stored cursor. Without a cursor it runs a
// full reconciliation instead.
func (s *Syncer) Pull(ctx context.Context) (*SyncResult, error) {
	cursor, ok, err := s.store.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.Full(ctx)
	}

	snap, err := s.remote.Pull(ctx, cursor)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}
	return s.applySnapshot(ctx, snap)
}

func (s *Syncer) Full(ctx context.Context) (*SyncResult, error) {
	snap, err := s.remote.Full(ctx)
	if err != nil {
		return nil, fmt.Errorf("full sync: %w", err)
	}
	return s.applySnapshot(ctx, snap)
}

// Push sends every dirty receipt in batches and applies the outcomes.
// Merged and conflicting receipts are pulled again afterwards so the device
// sees what the server kept.
func (s *Syncer) Push(ctx context.Context) (*SyncResult, error) {
	dirty, err := s.store.Dirty(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	repull := false

	for start := 0; start < len(dirty); start += s.batchSize {
		batch := dirty[start:min(start+s.batchSize, len(dirty))]

		items := make([]syncAPI.PushItem, 0, len(batch))
		for _, rec := range batch {
			items = append(items, pushItem(rec))
		}

		resp, err := s.remote.Push(ctx, items)
		if err != nil {
			return result, fmt.Errorf("push: %w", err)
		}

		again, err := s.applyOutcomes(ctx, resp.Outcomes, result)
		if err != nil {
			return result, err
		}
		repull = repull || again
	}

	s.log.Info("push finished",
		"dirty", len(dirty),
		"accepted", result.Accepted,
		"merged", result.Merged,
		"conflict", result.Conflicts,
		"rejected", result.Rejected,
	)

	if repull {
		pulled, err := s.Pull(ctx)
		if err != nil {
			return result, err
		}
		result.add(pulled)
	}
	return result, nil
}

// pushItem sends the whole receipt when the server has never seen it and
// only the edited fields otherwise, so values the device merely copied from
// an older version cannot override newer ones in a merge.
func pushItem(rec *LocalReceipt) syncAPI.PushItem {
	fields := rec.Fields
	if rec.ServerVersion > 0 {
		fields = make(receipt.Fields, len(rec.EditedFields))
		for _, name := range rec.EditedFields {
			if v, ok := rec.Fields[name]; ok {
				fields[name] = v
			}
		}
	}
	return syncAPI.PushItem{
		RecordID:         rec.RecordID,
		ServerVersion:    rec.ServerVersion,
		Fields:           fields.Interface(),
		UserEditedFields: rec.EditedFields,
	}
}

// Sync pulls, pushes local changes and pulls again when the server changed
// any of them.
func (s *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	result, err := s.Pull(ctx)
	if err != nil {
		return nil, err
	}

	pushed, err := s.Push(ctx)
	if pushed != nil {
		result.add(pushed)
	}
	return result, err
}

func (s *Syncer) applySnapshot(ctx context.Context, snap *syncAPI.SnapshotResponse) (*SyncResult, error) {
	for _, item := range snap.Items {
		fields, err := receipt.FieldsFromMap(item.Fields)
		if err != nil {
			return nil, fmt.Errorf("receipt %s: %w", item.RecordID, err)
		}
		err = s.store.ApplyServer(ctx, receipt.Record{
			RecordID:     item.RecordID,
			Fields:       fields,
			Version:      item.ServerVersion,
			CreatedAt:    item.CreatedAt,
			LastModified: item.UpdatedAt,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.SetCursor(ctx, snap.NewCursor); err != nil {
		return nil, err
	}

	s.log.Debug("snapshot applied", "items", len(snap.Items), "cursor", snap.NewCursor)
	return &SyncResult{Pulled: len(snap.Items)}, nil
}

func (s *Syncer) applyOutcomes(ctx context.Context, outcomes []syncAPI.Outcome, result *SyncResult) (bool, error) {
	repull := false

	for _, o := range outcomes {
		switch sync.Outcome(o.Outcome) {
		case sync.OutcomeAccepted:
			result.Accepted++
			if err := s.store.MarkSynced(ctx, o.RecordID, o.NewVersion); err != nil {
				return false, err
			}

		case sync.OutcomeMerged:
			result.Merged++
			repull = true
			if err := s.store.MarkSynced(ctx, o.RecordID, o.NewVersion); err != nil {
				return false, err
			}
			for _, c := range o.Conflicts {
				result.Problems = append(result.Problems,
					fmt.Sprintf("%s: field %s kept server value %v (%s)", o.RecordID, c.Field, c.ServerValue, c.Resolution))
			}

		case sync.OutcomeConflict:
			result.Conflicts++
			repull = true
			result.Problems = append(result.Problems, fmt.Sprintf("%s: conflict, %s", o.RecordID, o.Reason))

		case sync.OutcomeRejected:
			result.Rejected++
			result.Problems = append(result.Problems, fmt.Sprintf("%s: rejected, %s", o.RecordID, o.Reason))

		case sync.OutcomeNotFound:
			result.NotFound++
			result.Problems = append(result.Problems, fmt.Sprintf("%s: no longer on the server", o.RecordID))

		default:
			s.log.Warn("unknown push outcome", "record", o.RecordID, "outcome", o.Outcome)
		}
	}
	return repull, nil
}
