package logger

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type echoOutput struct {
	Body struct {
		RequestID string `json:"requestId"`
	}
}

func TestLogger_Middleware(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.New(slog.NewJSONHandler(&buf, nil)))

	_, api := humatest.New(t)
	huma.Register(api, huma.Operation{
		OperationID: "echo",
		Method:      http.MethodGet,
		Path:        "/echo",
		Middlewares: huma.Middlewares{l.Middleware()},
	}, func(ctx context.Context, _ *struct{}) (*echoOutput, error) {
		out := &echoOutput{}
		out.Body.RequestID = RequestID(ctx)
		return out, nil
	})

	t.Run("generates id", func(t *testing.T) {
		buf.Reset()
		resp := api.Get("/echo")
		require.Equal(t, http.StatusOK, resp.Code)

		id := resp.Header().Get(HeaderRequestID)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Contains(t, resp.Body.String(), id)
		assert.Contains(t, buf.String(), `"request_id":"`+id+`"`)
		assert.Contains(t, buf.String(), `"path":"/echo"`)
		assert.Contains(t, buf.String(), `"status":200`)
	})

	t.Run("keeps caller id", func(t *testing.T) {
		buf.Reset()
		resp := api.Get("/echo", HeaderRequestID+": req-42")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "req-42", resp.Header().Get(HeaderRequestID))
		assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	})
}
