// Package paging models store pagination as a lazy, finite sequence of
// pages that can be restarted from any token the store handed out.
package paging

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
)

// ErrStalled is returned when a store hands back the token it was given,
// which would otherwise loop forever.
var ErrStalled = errors.New("pagination did not advance")

// Token is an opaque continuation value. Callers pass it back verbatim.
// The empty token starts a query; an empty Next ends it.
type Token string

func (t Token) IsZero() bool { return t == "" }

// Page is one slice of a paginated result.
type Page[T any] struct {
	Items []T
	Next  Token
}

// Fetch loads the page that starts at token.
type Fetch[T any] func(ctx context.Context, token Token) (Page[T], error)

// Pages yields pages from start until the store returns no Next token.
// Iteration stops at the first error, which is yielded once.
func Pages[T any](ctx context.Context, start Token, fetch Fetch[T]) iter.Seq2[Page[T], error] {
	return func(yield func(Page[T], error) bool) {
		token := start
		for {
			if err := ctx.Err(); err != nil {
				yield(Page[T]{}, err)
				return
			}

			page, err := fetch(ctx, token)
			if err != nil {
				yield(Page[T]{}, err)
				return
			}
			if !page.Next.IsZero() && page.Next == token {
				yield(Page[T]{}, ErrStalled)
				return
			}
			if !yield(page, nil) {
				return
			}
			if page.Next.IsZero() {
				return
			}
			token = page.Next
		}
	}
}

// Collect drains every page into one slice.
func Collect[T any](ctx context.Context, start Token, fetch Fetch[T]) ([]T, error) {
	var out []T
	for page, err := range Pages(ctx, start, fetch) {
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
	}
	return out, nil
}

// Encode packs a store position into a token.
func Encode(position any) (Token, error) {
	b, err := json.Marshal(position)
	if err != nil {
		return "", fmt.Errorf("encode page token: %w", err)
	}
	return Token(base64.RawURLEncoding.EncodeToString(b)), nil
}

// Decode unpacks a token produced by Encode.
func Decode(t Token, position any) error {
	b, err := base64.RawURLEncoding.DecodeString(string(t))
	if err != nil {
		return fmt.Errorf("decode page token: %w", err)
	}
	if err := json.Unmarshal(b, position); err != nil {
		return fmt.Errorf("decode page token: %w", err)
	}
	return nil
}
