package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/branchpad/branchpad/internal/oplog"
)

// HTTPError carries a non-2xx response from the backend API.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrWriteFailed
}

// HTTPStore implements Store against a JSON-over-HTTP backend. Transient
// failures (429, 5xx, transport errors) are retried with capped exponential
// backoff, honoring Retry-After.
type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewHTTPStore returns an HTTP remote store. A nil client gets a default
// with a 15 second timeout.
func NewHTTPStore(baseURL, token string, httpClient *http.Client) *HTTPStore {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPStore{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (s *HTTPStore) UpsertThread(ctx context.Context, thread oplog.ThreadRecord) error {
	return s.doJSON(ctx, http.MethodPut, "/v1/threads/"+url.PathEscape(thread.ID), thread)
}

func (s *HTTPStore) UpsertMessage(ctx context.Context, message oplog.MessageRecord) error {
	return s.doJSON(ctx, http.MethodPut, "/v1/messages/"+url.PathEscape(message.ID), message)
}

func (s *HTTPStore) UpdateMessage(ctx context.Context, patch oplog.MessagePatch) error {
	return s.doJSON(ctx, http.MethodPatch, "/v1/messages/"+url.PathEscape(patch.ID), patch)
}

func (s *HTTPStore) DeleteMessage(ctx context.Context, id string) error {
	return s.doJSON(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(id), nil)
}

func (s *HTTPStore) UpsertDraft(ctx context.Context, draft oplog.DraftRecord) error {
	return s.doJSON(ctx, http.MethodPut, "/v1/drafts/"+url.PathEscape(draft.ThreadID), draft)
}

func (s *HTTPStore) DeleteDraft(ctx context.Context, threadID string) error {
	return s.doJSON(ctx, http.MethodDelete, "/v1/drafts/"+url.PathEscape(threadID), nil)
}

func (s *HTTPStore) UpsertBorder(ctx context.Context, border oplog.BorderRecord) error {
	return s.doJSON(ctx, http.MethodPut, "/v1/borders/"+url.PathEscape(border.ID), border)
}

func (s *HTTPStore) doJSON(ctx context.Context, method, requestPath string, body any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if attempt < s.maxRetries {
				if waitErr := waitWithContext(ctx, s.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}
		// A delete against an already-deleted row is success under
		// idempotent-by-key semantics.
		if resp.StatusCode == http.StatusNotFound && method == http.MethodDelete {
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < s.maxRetries {
			if waitErr := waitWithContext(ctx, s.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (s *HTTPStore) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := s.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := s.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
