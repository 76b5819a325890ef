package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receiptvault/internal/domain/receipt"
	syncdomain "receiptvault/internal/domain/sync"
	"receiptvault/internal/utils/paging"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(s *Store, owner string, n int) {
	for i := 0; i < n; i++ {
		s.Put(receipt.Record{
			OwnerID:      owner,
			RecordID:     fmt.Sprintf("r%02d", i),
			Fields:       receipt.Fields{"total": receipt.Number(float64(i))},
			Version:      1,
			CreatedAt:    base,
			LastModified: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func TestStore_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := receipt.Record{OwnerID: "u1", RecordID: "r1", Version: 1, LastModified: base}

	ok, err := s.InsertIfAbsent(ctx, rec)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertIfAbsent(ctx, rec)
	require.NoError(t, err)
	assert.False(t, ok)

	got, found, err := s.Get(ctx, "u1", "r1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), got.Version)
	assert.NotNil(t, got.Fields)
}

func TestStore_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put(receipt.Record{
		OwnerID: "u1", RecordID: "r1", Version: 3, LastModified: base,
		Fields: receipt.Fields{"category": receipt.String("food"), "total": receipt.Number(5)},
	})

	later := base.Add(time.Hour)
	v, status, err := s.ConditionalUpdate(ctx, "u1", "r1",
		receipt.Fields{"category": receipt.String("travel")}, 3, later)
	require.NoError(t, err)
	assert.Equal(t, syncdomain.UpdateApplied, status)
	assert.Equal(t, int64(4), v)

	_, status, err = s.ConditionalUpdate(ctx, "u1", "r1", receipt.Fields{}, 3, later)
	require.NoError(t, err)
	assert.Equal(t, syncdomain.UpdateVersionMismatch, status)

	_, status, err = s.ConditionalUpdate(ctx, "u1", "nope", receipt.Fields{}, 1, later)
	require.NoError(t, err)
	assert.Equal(t, syncdomain.UpdateNotFound, status)

	got, _, err := s.Get(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, got.Fields["category"].Equal(receipt.String("travel")))
	assert.True(t, got.Fields["total"].Equal(receipt.Number(5)), "untouched fields survive")
	assert.Equal(t, later, got.LastModified)
}

func TestStore_UpdateKeepsLastModifiedMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put(receipt.Record{OwnerID: "u1", RecordID: "r1", Version: 1, LastModified: base})

	v, status, err := s.Update(ctx, "u1", "r1", nil, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, syncdomain.UpdateApplied, status)
	assert.Equal(t, int64(2), v)

	got, _, _ := s.Get(ctx, "u1", "r1")
	assert.Equal(t, base, got.LastModified)
}

func TestStore_QueryModifiedSince(t *testing.T) {
	ctx := context.Background()
	s := New(WithPageSize(2))
	seed(s, "u1", 5)
	seed(s, "u2", 3)

	keys, err := paging.Collect(ctx, "", func(ctx context.Context, token paging.Token) (paging.Page[receipt.Key], error) {
		return s.QueryModifiedSince(ctx, "u1", base.Add(time.Minute), token)
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		assert.Equal(t, "u1", k.OwnerID)
		ids = append(ids, k.RecordID)
	}
	assert.Equal(t, []string{"r01", "r02", "r03", "r04"}, ids, "at or after cursor, ascending")
}

func TestStore_QueryModifiedSince_TiesBreakOnID(t *testing.T) {
	ctx := context.Background()
	s := New(WithPageSize(1))
	for _, id := range []string{"c", "a", "b"} {
		s.Put(receipt.Record{OwnerID: "u1", RecordID: id, Version: 1, LastModified: base})
	}

	keys, err := paging.Collect(ctx, "", func(ctx context.Context, token paging.Token) (paging.Page[receipt.Key], error) {
		return s.QueryModifiedSince(ctx, "u1", base.Add(-time.Second), token)
	})
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "a", keys[0].RecordID)
	assert.Equal(t, "b", keys[1].RecordID)
	assert.Equal(t, "c", keys[2].RecordID)
}

func TestStore_QueryAll(t *testing.T) {
	ctx := context.Background()
	s := New(WithPageSize(2))
	seed(s, "u1", 5)
	seed(s, "u2", 1)

	pages := 0
	var all []receipt.Record
	for page, err := range paging.Pages(ctx, "", func(ctx context.Context, token paging.Token) (paging.Page[receipt.Record], error) {
		return s.QueryAll(ctx, "u1", token)
	}) {
		require.NoError(t, err)
		pages++
		all = append(all, page.Items...)
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, all, 5)
}

func TestStore_BatchGet(t *testing.T) {
	ctx := context.Background()
	refuse := receipt.Key{OwnerID: "u1", RecordID: "r01"}
	s := New(WithMaxBatchGet(2), WithThrottle(func(chunk []receipt.Key) []receipt.Key {
		for _, k := range chunk {
			if k == refuse {
				return []receipt.Key{k}
			}
		}
		return nil
	}))
	seed(s, "u1", 4)

	keys := []receipt.Key{
		{OwnerID: "u1", RecordID: "r00"},
		{OwnerID: "u1", RecordID: "r01"},
		{OwnerID: "u1", RecordID: "r02"},
		{OwnerID: "u1", RecordID: "missing"},
		{OwnerID: "u1", RecordID: "r03"},
	}

	res, err := s.BatchGet(ctx, keys)
	require.NoError(t, err)
	assert.Len(t, res.Records, 3)
	assert.Equal(t, []receipt.Key{refuse}, res.Unprocessed)
}

func TestStore_ReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put(receipt.Record{OwnerID: "u1", RecordID: "r1", Version: 1, Fields: receipt.Fields{"a": receipt.Number(1)}})

	got, _, _ := s.Get(ctx, "u1", "r1")
	got.Fields["a"] = receipt.Number(99)

	again, _, _ := s.Get(ctx, "u1", "r1")
	assert.True(t, again.Fields["a"].Equal(receipt.Number(1)))
}
