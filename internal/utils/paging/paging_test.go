package paging

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceFetch serves items in pages of size n using the index as token.
func sliceFetch(items []int, n int, calls *int) Fetch[int] {
	return func(_ context.Context, token Token) (Page[int], error) {
		*calls++
		start := 0
		if !token.IsZero() {
			var err error
			start, err = strconv.Atoi(string(token))
			if err != nil {
				return Page[int]{}, err
			}
		}
		end := min(start+n, len(items))
		page := Page[int]{Items: items[start:end]}
		if end < len(items) {
			page.Next = Token(strconv.Itoa(end))
		}
		return page, nil
	}
}

func TestCollect(t *testing.T) {
	tests := []struct {
		name      string
		items     []int
		pageSize  int
		wantCalls int
	}{
		{name: "empty", items: nil, pageSize: 2, wantCalls: 1},
		{name: "single page", items: []int{1, 2}, pageSize: 5, wantCalls: 1},
		{name: "exact pages", items: []int{1, 2, 3, 4}, pageSize: 2, wantCalls: 2},
		{name: "ragged last page", items: []int{1, 2, 3, 4, 5}, pageSize: 2, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := Collect(context.Background(), "", sliceFetch(tt.items, tt.pageSize, &calls))
			require.NoError(t, err)
			assert.Equal(t, len(tt.items), len(got))
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestPages_RestartFromToken(t *testing.T) {
	calls := 0
	fetch := sliceFetch([]int{1, 2, 3, 4, 5}, 2, &calls)

	var token Token
	for page, err := range Pages(context.Background(), "", fetch) {
		require.NoError(t, err)
		token = page.Next
		break
	}
	require.Equal(t, Token("2"), token)

	rest, err := Collect(context.Background(), token, fetch)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, rest)
}

func TestPages_Errors(t *testing.T) {
	boom := errors.New("boom")

	_, err := Collect(context.Background(), "", func(context.Context, Token) (Page[int], error) {
		return Page[int]{}, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = Collect(context.Background(), "", func(_ context.Context, token Token) (Page[int], error) {
		return Page[int]{Items: []int{1}, Next: "same"}, nil
	})
	assert.ErrorIs(t, err, ErrStalled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Collect(ctx, "", func(context.Context, Token) (Page[int], error) {
		t.Fatal("fetch must not run on a cancelled context")
		return Page[int]{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEncodeDecode(t *testing.T) {
	type position struct {
		ID string `json:"id"`
		N  int    `json:"n"`
	}

	token, err := Encode(position{ID: "r-9", N: 3})
	require.NoError(t, err)
	assert.False(t, token.IsZero())

	var got position
	require.NoError(t, Decode(token, &got))
	assert.Equal(t, position{ID: "r-9", N: 3}, got)

	assert.Error(t, Decode("%%%", &got))
}
