package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"receiptvault/internal/app/server/api/http/middleware/auth"
	"receiptvault/internal/app/server/config"
	"receiptvault/internal/domain/sync"
	"receiptvault/internal/infrastructure/storage/memory"
)

const secret = "api-test-secret"

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	log := slog.Default()
	cfg := &config.Config{
		Store: config.Store{Driver: config.DriverMemory},
		Auth:  config.Auth{Secret: secret},
	}
	svc := sync.NewService(memory.New(memory.WithPageSize(2)), log, nil)

	return New(Deps{Store: okPinger{}, Sync: svc, Config: cfg, Log: log})
}

func do(t *testing.T, h http.Handler, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		token, err := auth.IssueToken(secret, owner, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_Health(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK","store":"memory"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAPI_UnknownRoute(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/api/v1/receipts", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"NOT_FOUND","message":"no such route"}}`, rec.Body.String())
}

func TestAPI_ValidationEnvelope(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/sync/push", "owner-1", map[string]any{"items": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"VALIDATION_ERROR","message":"items: must not be empty"}}`, rec.Body.String())
}

func TestAPI_PushThenPull(t *testing.T) {
	h := newTestRouter(t)
	before := time.Now().Add(-time.Second).UTC()

	rec := do(t, h, http.MethodPost, "/api/v1/sync/push", "owner-1", map[string]any{
		"items": []map[string]any{
			{"recordId": "r1", "serverVersion": 0, "fields": map[string]any{"merchantName": "Bakery", "totalAmount": 4.2}},
			{"recordId": "r2", "serverVersion": 0, "fields": map[string]any{"merchantName": "Books"}},
			{"recordId": "r3", "serverVersion": 0, "fields": map[string]any{"merchantName": "Fuel"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"outcomes":[
		{"recordId":"r1","outcome":"accepted","newVersion":1},
		{"recordId":"r2","outcome":"accepted","newVersion":1},
		{"recordId":"r3","outcome":"accepted","newVersion":1}
	]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/sync/pull", "owner-1", map[string]any{"cursor": before})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var snap struct {
		Items []struct {
			RecordID      string         `json:"recordId"`
			ServerVersion int64          `json:"serverVersion"`
			Fields        map[string]any `json:"fields"`
		} `json:"items"`
		Count     int       `json:"count"`
		NewCursor time.Time `json:"newCursor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 3, snap.Count)
	assert.False(t, snap.NewCursor.Before(before))

	ids := make([]string, 0, len(snap.Items))
	for _, it := range snap.Items {
		ids = append(ids, it.RecordID)
		assert.Equal(t, int64(1), it.ServerVersion)
	}
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, ids)

	rec = do(t, h, http.MethodPost, "/api/v1/sync/full", "owner-2", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.Count, "owners never see each other's receipts")
}
