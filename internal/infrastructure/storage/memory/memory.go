// Package memory is an in-process record store. It backs tests and the
// "memory" store driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"receiptvault/internal/domain/receipt"
	syncdomain "receiptvault/internal/domain/sync"
	"receiptvault/internal/utils/paging"
)

const (
	DefaultPageSize    = 100
	DefaultMaxBatchGet = 100
)

// Throttle picks the keys of one batch-get chunk that the store refuses to
// serve this time.
type Throttle func(chunk []receipt.Key) []receipt.Key

type Store struct {
	mu          sync.RWMutex
	records     map[receipt.Key]receipt.Record
	pageSize    int
	maxBatchGet int
	throttle    Throttle
}

type Option func(*Store)

func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithMaxBatchGet(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBatchGet = n
		}
	}
}

func WithThrottle(t Throttle) Option {
	return func(s *Store) { s.throttle = t }
}

func New(opts ...Option) *Store {
	s := &Store{
		records:     make(map[receipt.Key]receipt.Record),
		pageSize:    DefaultPageSize,
		maxBatchGet: DefaultMaxBatchGet,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ syncdomain.Repository = (*Store)(nil)

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Get(_ context.Context, ownerID, recordID string) (receipt.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[receipt.Key{OwnerID: ownerID, RecordID: recordID}]
	if !ok {
		return receipt.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *Store) InsertIfAbsent(_ context.Context, rec receipt.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Key()]; exists {
		return false, nil
	}
	rec = rec.Clone()
	if rec.Fields == nil {
		rec.Fields = receipt.Fields{}
	}
	s.records[rec.Key()] = rec
	return true, nil
}

func (s *Store) ConditionalUpdate(_ context.Context, ownerID, recordID string, fields receipt.Fields,
	expectedVersion int64, now time.Time,
) (int64, syncdomain.UpdateStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := receipt.Key{OwnerID: ownerID, RecordID: recordID}
	rec, ok := s.records[key]
	if !ok {
		return 0, syncdomain.UpdateNotFound, nil
	}
	if rec.Version != expectedVersion {
		return 0, syncdomain.UpdateVersionMismatch, nil
	}
	return s.apply(key, rec, fields, now), syncdomain.UpdateApplied, nil
}

func (s *Store) Update(_ context.Context, ownerID, recordID string, fields receipt.Fields,
	now time.Time,
) (int64, syncdomain.UpdateStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := receipt.Key{OwnerID: ownerID, RecordID: recordID}
	rec, ok := s.records[key]
	if !ok {
		return 0, syncdomain.UpdateNotFound, nil
	}
	return s.apply(key, rec, fields, now), syncdomain.UpdateApplied, nil
}

// apply must run under the write lock.
func (s *Store) apply(key receipt.Key, rec receipt.Record, fields receipt.Fields, now time.Time) int64 {
	merged := rec.Fields.Clone()
	if merged == nil {
		merged = receipt.Fields{}
	}
	for name, v := range fields {
		merged[name] = v.Clone()
	}
	rec.Fields = merged
	rec.Version++
	if now.After(rec.LastModified) {
		rec.LastModified = now
	}
	s.records[key] = rec
	return rec.Version
}

type modifiedPosition struct {
	LastModified time.Time `json:"t"`
	RecordID     string    `json:"id"`
}

func (s *Store) QueryModifiedSince(_ context.Context, ownerID string, cursor time.Time,
	token paging.Token,
) (paging.Page[receipt.Key], error) {
	after := modifiedPosition{LastModified: cursor}
	if !token.IsZero() {
		if err := paging.Decode(token, &after); err != nil {
			return paging.Page[receipt.Key]{}, err
		}
	}

	s.mu.RLock()
	var matches []receipt.Record
	for _, rec := range s.records {
		if rec.OwnerID != ownerID || rec.LastModified.Before(cursor) {
			continue
		}
		if !afterModified(rec, after) {
			continue
		}
		matches = append(matches, rec)
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].LastModified.Equal(matches[j].LastModified) {
			return matches[i].LastModified.Before(matches[j].LastModified)
		}
		return matches[i].RecordID < matches[j].RecordID
	})

	var page paging.Page[receipt.Key]
	for i, rec := range matches {
		if i == s.pageSize {
			last := matches[i-1]
			next, err := paging.Encode(modifiedPosition{LastModified: last.LastModified, RecordID: last.RecordID})
			if err != nil {
				return paging.Page[receipt.Key]{}, err
			}
			page.Next = next
			break
		}
		page.Items = append(page.Items, rec.Key())
	}
	return page, nil
}

func afterModified(rec receipt.Record, pos modifiedPosition) bool {
	if rec.LastModified.After(pos.LastModified) {
		return true
	}
	return rec.LastModified.Equal(pos.LastModified) && rec.RecordID > pos.RecordID
}

type idPosition struct {
	RecordID string `json:"id"`
}

func (s *Store) QueryAll(_ context.Context, ownerID string, token paging.Token) (paging.Page[receipt.Record], error) {
	var after idPosition
	if !token.IsZero() {
		if err := paging.Decode(token, &after); err != nil {
			return paging.Page[receipt.Record]{}, err
		}
	}

	s.mu.RLock()
	var matches []receipt.Record
	for _, rec := range s.records {
		if rec.OwnerID == ownerID && rec.RecordID > after.RecordID {
			matches = append(matches, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].RecordID < matches[j].RecordID })

	page := paging.Page[receipt.Record]{}
	if len(matches) > s.pageSize {
		next, err := paging.Encode(idPosition{RecordID: matches[s.pageSize-1].RecordID})
		if err != nil {
			return paging.Page[receipt.Record]{}, err
		}
		page.Next = next
		matches = matches[:s.pageSize]
	}
	page.Items = matches
	return page, nil
}

func (s *Store) BatchGet(_ context.Context, keys []receipt.Key) (syncdomain.BatchGetResult, error) {
	var res syncdomain.BatchGetResult

	for start := 0; start < len(keys); start += s.maxBatchGet {
		chunk := keys[start:min(start+s.maxBatchGet, len(keys))]

		refused := map[receipt.Key]struct{}{}
		if s.throttle != nil {
			for _, k := range s.throttle(chunk) {
				refused[k] = struct{}{}
			}
		}

		s.mu.RLock()
		for _, k := range chunk {
			if _, no := refused[k]; no {
				res.Unprocessed = append(res.Unprocessed, k)
				continue
			}
			if rec, ok := s.records[k]; ok {
				res.Records = append(res.Records, rec.Clone())
			}
		}
		s.mu.RUnlock()
	}

	return res, nil
}

// Put stores rec as is, bypassing versioning. It stands in for writers
// outside the sync engine, such as extraction jobs, in tests and seeding.
func (s *Store) Put(rec receipt.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key()] = rec.Clone()
}

// Delete removes a record the way account deletion would.
func (s *Store) Delete(key receipt.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
