package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"receiptvault/internal/app/client/config"
)

func newTestHTTPClient(url string) *httpClient {
	return NewHTTPClient(&config.Config{
		ServerAddress: url,
		Token:         "t0ken",
		Timeout:       time.Second,
		RetryAttempts: 2,
	}, slog.Default())
}

func TestHTTPClient_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t0ken", r.Header.Get("Authorization"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":"STORE_UNAVAILABLE","message":"retry later"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[],"count":0,"newCursor":"2026-05-04T10:00:00Z"}`))
	}))
	defer srv.Close()

	snap, err := newTestHTTPClient(srv.URL).Full(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, snap.NewCursor.Equal(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)))
}

func TestHTTPClient_GivesUpAfterBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestHTTPClient(srv.URL).Pull(context.Background(), time.Now())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, int32(3), calls.Load(), "first try plus two retries")
}

func TestHTTPClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"VALIDATION_ERROR","message":"items: must not be empty"}}`))
	}))
	defer srv.Close()

	_, err := newTestHTTPClient(srv.URL).Push(context.Background(), nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	assert.Equal(t, "VALIDATION_ERROR: items: must not be empty", apiErr.Error())
	assert.Equal(t, int32(1), calls.Load())
}
