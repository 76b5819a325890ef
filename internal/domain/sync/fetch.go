package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"

	"receiptvault/internal/domain/receipt"
)

var errUnprocessed = errors.New("unprocessed keys")

func (s *Service) backoff() retry.Backoff {
	base := s.config.RetryBase
	if base <= 0 {
		base = DefaultServiceConfig().RetryBase
	}
	b := retry.NewExponential(base)
	if s.config.RetryMax > 0 {
		b = retry.WithCappedDuration(s.config.RetryMax, b)
	}
	return retry.WithMaxRetries(s.config.RetryAttempts, b)
}

// fetch resolves keys to records in key order. Duplicate keys are read
// once; keys whose record disappeared are skipped. Unprocessed keys are
// retried with bounded backoff, other store errors are returned as is.
func (s *Service) fetch(ctx context.Context, keys []receipt.Key) ([]receipt.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	order := make([]receipt.Key, 0, len(keys))
	seen := make(map[receipt.Key]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		order = append(order, k)
	}

	found := make(map[receipt.Key]receipt.Record, len(order))
	pending := order
	attempt := 0

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempt++
		res, err := s.repo.BatchGet(ctx, pending)
		if err != nil {
			return fmt.Errorf("batch get: %w", err)
		}
		for _, rec := range res.Records {
			found[rec.Key()] = rec
		}
		if len(res.Unprocessed) == 0 {
			pending = nil
			return nil
		}

		s.log.Debug("batch get left keys unprocessed",
			"attempt", attempt,
			"unprocessed", len(res.Unprocessed),
		)
		pending = res.Unprocessed
		return retry.RetryableError(errUnprocessed)
	})
	if err != nil {
		if errors.Is(err, errUnprocessed) {
			return nil, fmt.Errorf("%w: %d keys unprocessed after %d attempts",
				ErrStoreUnavailable, len(pending), attempt)
		}
		return nil, err
	}

	out := make([]receipt.Record, 0, len(order))
	for _, k := range order {
		if rec, ok := found[k]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
