package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/exp/slog"

	"receiptvault/internal/app/client/config"
	syncAPI "receiptvault/internal/app/server/api/http/sync"
)

// APIError is a non-2xx answer decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type httpClient struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	token     string
	userAgent string
	backoff   func() retry.Backoff
}

func NewHTTPClient(cfg *config.Config, log *slog.Logger) *httpClient {
	attempts := cfg.RetryAttempts
	return &httpClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		log:       log.With("component", "http_client"),
		baseURL:   cfg.ServerAddress,
		token:     cfg.Token,
		userAgent: "ReceiptVault-Client/1.0",
		backoff: func() retry.Backoff {
			b := retry.NewExponential(200 * time.Millisecond)
			b = retry.WithJitterPercent(20, b)
			return retry.WithMaxRetries(attempts, b)
		},
	}
}

func (h *httpClient) HealthCheck(ctx context.Context) error {
	return h.do(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

func (h *httpClient) Pull(ctx context.Context, cursor time.Time) (*syncAPI.SnapshotResponse, error) {
	var out syncAPI.SnapshotResponse
	if err := h.do(ctx, http.MethodPost, "/api/v1/sync/pull", syncAPI.PullRequest{Cursor: cursor}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *httpClient) Push(ctx context.Context, items []syncAPI.PushItem) (*syncAPI.PushResponse, error) {
	var out syncAPI.PushResponse
	if err := h.do(ctx, http.MethodPost, "/api/v1/sync/push", syncAPI.PushRequest{Items: items}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *httpClient) Full(ctx context.Context) (*syncAPI.SnapshotResponse, error) {
	var out syncAPI.SnapshotResponse
	if err := h.do(ctx, http.MethodPost, "/api/v1/sync/full", syncAPI.FullRequest{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one JSON request. A 503 or a network error is retried with
// backoff; every other failure is returned as is.
func (h *httpClient) do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	return retry.Do(ctx, h.backoff(), func(ctx context.Context) error {
		err := h.roundTrip(ctx, method, path, payload, result)
		if isRetryable(err) {
			h.log.Debug("retrying request", "path", path, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (h *httpClient) roundTrip(ctx context.Context, method, path string, payload []byte, result any) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	h.log.Debug("response received",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", resp.Header.Get("X-Request-ID"),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusServiceUnavailable
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
