package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"receiptvault/internal/app/server/api/http/apierror"
	"receiptvault/internal/app/server/api/http/middleware/auth"
	"receiptvault/internal/domain/receipt"
	"receiptvault/internal/domain/sync"
)

const testSecret = "handler-secret"

type MockServicer struct {
	mock.Mock
}

func (m *MockServicer) Pull(ctx context.Context, req sync.PullRequest) (*sync.SnapshotResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.SnapshotResponse), args.Error(1)
}

func (m *MockServicer) Push(ctx context.Context, req sync.PushRequest) (*sync.PushResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.PushResponse), args.Error(1)
}

func (m *MockServicer) Full(ctx context.Context, req sync.FullRequest) (*sync.SnapshotResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.SnapshotResponse), args.Error(1)
}

type envelope struct {
	Error apierror.Body `json:"error"`
}

func setup(t *testing.T) (humatest.TestAPI, *MockServicer, string) {
	t.Helper()
	apierror.Install()

	_, api := humatest.New(t)
	svc := new(MockServicer)
	mw := huma.Middlewares{auth.New(testSecret, slog.Default()).Middleware()}
	NewHandler(svc, slog.Default(), mw).SetupRoutes(api)

	token, err := auth.IssueToken(testSecret, "owner-1", time.Hour)
	require.NoError(t, err)

	return api, svc, "Authorization: Bearer " + token
}

var (
	created = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	updated = time.Date(2026, 5, 3, 18, 30, 0, 0, time.UTC)
	cursor  = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

func TestHandler_Pull(t *testing.T) {
	api, svc, authz := setup(t)

	svc.On("Pull", mock.Anything, mock.MatchedBy(func(req sync.PullRequest) bool {
		return req.OwnerID == "owner-1" && req.Cursor.Equal(cursor)
	})).Return(&sync.SnapshotResponse{
		Items: []receipt.Record{{
			OwnerID:      "owner-1",
			RecordID:     "r1",
			Version:      3,
			Fields:       receipt.Fields{"merchantName": receipt.String("Cafe"), "totalAmount": receipt.Number(12.5)},
			CreatedAt:    created,
			LastModified: updated,
		}},
		Count:     1,
		NewCursor: cursor.Add(time.Minute),
	}, nil).Once()

	resp := api.Post("/api/v1/sync/pull", authz, map[string]any{"cursor": cursor})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body SnapshotResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.True(t, body.NewCursor.Equal(cursor.Add(time.Minute)))
	require.Len(t, body.Items, 1)

	item := body.Items[0]
	assert.Equal(t, "r1", item.RecordID)
	assert.Equal(t, int64(3), item.ServerVersion)
	assert.Equal(t, FieldMap{"merchantName": "Cafe", "totalAmount": json.Number("12.5")}, item.Fields)
	assert.True(t, item.CreatedAt.Equal(created))
	assert.True(t, item.UpdatedAt.Equal(updated))

	svc.AssertExpectations(t)
}

func TestHandler_PullErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		serviceErr error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "missing cursor fails schema validation",
			body:       map[string]any{},
			wantStatus: http.StatusBadRequest,
			wantCode:   apierror.CodeValidation,
		},
		{
			name:       "engine validation error",
			body:       map[string]any{"cursor": cursor},
			serviceErr: &sync.ValidationError{Field: "cursor", Message: "is required"},
			wantStatus: http.StatusBadRequest,
			wantCode:   apierror.CodeValidation,
			wantMsg:    "cursor: is required",
		},
		{
			name:       "store unavailable",
			body:       map[string]any{"cursor": cursor},
			serviceErr: fmt.Errorf("batch get: %w", sync.ErrStoreUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   apierror.CodeStoreUnavailable,
		},
		{
			name:       "timeout",
			body:       map[string]any{"cursor": cursor},
			serviceErr: fmt.Errorf("query modified since: %w", context.DeadlineExceeded),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   apierror.CodeStoreUnavailable,
		},
		{
			name:       "internal details are not leaked",
			body:       map[string]any{"cursor": cursor},
			serviceErr: errors.New("pq: password authentication failed for user admin"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   apierror.CodeInternal,
			wantMsg:    "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, svc, authz := setup(t)
			if tt.serviceErr != nil {
				svc.On("Pull", mock.Anything, mock.Anything).Return(nil, tt.serviceErr).Once()
			}

			resp := api.Post("/api/v1/sync/pull", authz, tt.body)
			require.Equal(t, tt.wantStatus, resp.Code, resp.Body.String())

			var env envelope
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
			assert.Equal(t, tt.wantCode, env.Error.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, env.Error.Message)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestHandler_Push(t *testing.T) {
	api, svc, authz := setup(t)

	svc.On("Push", mock.Anything, mock.MatchedBy(func(req sync.PushRequest) bool {
		if req.OwnerID != "owner-1" || len(req.Items) != 3 {
			return false
		}
		first := req.Items[0]
		return first.RecordID == "r1" &&
			first.ServerVersion == 2 &&
			first.Fields["totalAmount"].Equal(receipt.Number(20)) &&
			first.Fields["note"].IsNull() &&
			assert.ObjectsAreEqual([]string{"totalAmount"}, first.UserEditedFields) &&
			req.Items[1].ServerVersion == -1 &&
			req.Items[2].RecordID == ""
	})).Return(&sync.PushResponse{Outcomes: []sync.ItemOutcome{
		{
			RecordID:   "r1",
			Outcome:    sync.OutcomeMerged,
			NewVersion: 4,
			Conflicts: []sync.FieldConflict{{
				Field:       "tip",
				ClientValue: receipt.Number(2),
				ServerValue: receipt.Null(),
				Resolution:  sync.ResolutionServerWinsDefault,
			}},
		},
		{RecordID: "r2", Outcome: sync.OutcomeRejected, Reason: "negative server version"},
		{Outcome: sync.OutcomeRejected, Reason: "missing record id"},
	}}, nil).Once()

	resp := api.Post("/api/v1/sync/push", authz, map[string]any{
		"items": []map[string]any{
			{
				"recordId":         "r1",
				"serverVersion":    2,
				"fields":           map[string]any{"totalAmount": 20, "note": nil},
				"userEditedFields": []string{"totalAmount"},
			},
			{"recordId": "r2", "serverVersion": -1},
			{"fields": map[string]any{"merchantName": "x"}},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body PushResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Outcomes, 3)

	merged := body.Outcomes[0]
	assert.Equal(t, "merged", merged.Outcome)
	assert.Equal(t, int64(4), merged.NewVersion)
	require.Len(t, merged.Conflicts, 1)
	assert.Equal(t, "tip", merged.Conflicts[0].Field)
	assert.Equal(t, 2.0, merged.Conflicts[0].ClientValue)
	assert.Nil(t, merged.Conflicts[0].ServerValue)
	assert.Equal(t, sync.ResolutionServerWinsDefault, merged.Conflicts[0].Resolution)

	assert.Equal(t, "rejected", body.Outcomes[1].Outcome)
	assert.Equal(t, "negative server version", body.Outcomes[1].Reason)
	assert.Empty(t, body.Outcomes[2].RecordID)

	svc.AssertExpectations(t)
}

func TestHandler_PushKeepsNumberText(t *testing.T) {
	api, svc, authz := setup(t)

	svc.On("Push", mock.Anything, mock.MatchedBy(func(req sync.PushRequest) bool {
		if len(req.Items) != 1 {
			return false
		}
		text, ok := req.Items[0].Fields["loyaltyId"].NumberText()
		return ok && text == "98765432109876543210"
	})).Return(&sync.PushResponse{Outcomes: []sync.ItemOutcome{
		{RecordID: "r1", Outcome: sync.OutcomeAccepted, NewVersion: 1},
	}}, nil).Once()

	resp := api.Post("/api/v1/sync/push", authz, map[string]any{
		"items": []map[string]any{{
			"recordId": "r1",
			"fields":   map[string]any{"loyaltyId": json.Number("98765432109876543210")},
		}},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	svc.AssertExpectations(t)
}

func TestHandler_PushOversizedBatch(t *testing.T) {
	api, svc, authz := setup(t)
	svc.On("Push", mock.Anything, mock.Anything).
		Return(nil, &sync.ValidationError{Field: "items", Message: "batch size 26 exceeds maximum of 25"}).Once()

	resp := api.Post("/api/v1/sync/push", authz, map[string]any{
		"items": []map[string]any{{"recordId": "r1"}},
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	assert.Equal(t, apierror.CodeValidation, env.Error.Code)
	assert.Equal(t, "items: batch size 26 exceeds maximum of 25", env.Error.Message)
}

func TestHandler_Full(t *testing.T) {
	api, svc, authz := setup(t)
	svc.On("Full", mock.Anything, sync.FullRequest{OwnerID: "owner-1"}).
		Return(&sync.SnapshotResponse{NewCursor: cursor}, nil).Twice()

	withBody := api.Post("/api/v1/sync/full", authz, map[string]any{})
	withoutBody := api.Post("/api/v1/sync/full", authz)

	for _, resp := range []*httptest.ResponseRecorder{withBody, withoutBody} {
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		var out SnapshotResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
		assert.Equal(t, 0, out.Count)
		assert.NotNil(t, out.Items)
		assert.True(t, out.NewCursor.Equal(cursor))
	}

	svc.AssertExpectations(t)
}

func TestHandler_RequiresOwner(t *testing.T) {
	api, svc, _ := setup(t)

	for _, path := range []string{"/api/v1/sync/pull", "/api/v1/sync/push", "/api/v1/sync/full"} {
		resp := api.Post(path, map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, resp.Code, path)
	}
	svc.AssertNotCalled(t, "Pull", mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "Push", mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "Full", mock.Anything, mock.Anything)
}
