package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/branchpad/branchpad/internal/oplog"
)

func fastHTTPStore(baseURL string) *HTTPStore {
	s := NewHTTPStore(baseURL, "test-token", nil)
	s.baseDelay = time.Millisecond
	s.maxDelay = 5 * time.Millisecond
	return s
}

func TestHTTPStoreUpsertMessageSendsJSON(t *testing.T) {
	var gotPath, gotMethod, gotAuth string
	var gotBody oplog.MessageRecord
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body failed: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := fastHTTPStore(server.URL)
	msg := oplog.MessageRecord{ID: "msg_1", ThreadID: "thr_1", Role: "user", Content: "hello"}
	if err := store.UpsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("upsert message failed: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/v1/messages/msg_1" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody.Content != "hello" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestHTTPStoreRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := fastHTTPStore(server.URL)
	err := store.UpsertDraft(context.Background(), oplog.DraftRecord{ThreadID: "thr_1", Text: "wip"})
	if err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestHTTPStoreReturnsTypedErrorAfterExhaustion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"code": "invalid_payload", "message": "bad thread"})
	}))
	defer server.Close()

	store := fastHTTPStore(server.URL)
	err := store.UpsertThread(context.Background(), oplog.ThreadRecord{ID: "thr_1"})
	if err == nil {
		t.Fatalf("expected error for 400 response")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %T: %v", err, err)
	}
	if httpErr.StatusCode != http.StatusBadRequest || httpErr.Code != "invalid_payload" {
		t.Fatalf("unexpected error details %+v", httpErr)
	}
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected error to match ErrWriteFailed")
	}
}

func TestHTTPStoreTreatsDeleteOfMissingAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store := fastHTTPStore(server.URL)
	if err := store.DeleteMessage(context.Background(), "msg_gone"); err != nil {
		t.Fatalf("expected 404 on delete to be success, got %v", err)
	}
	if err := store.DeleteDraft(context.Background(), "thr_gone"); err != nil {
		t.Fatalf("expected 404 on draft delete to be success, got %v", err)
	}
}

func TestHTTPStoreHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := fastHTTPStore(server.URL)
	if err := store.UpsertBorder(context.Background(), oplog.BorderRecord{ID: "border_1", Data: []byte(`{}`)}); err != nil {
		t.Fatalf("expected retry after 429, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}
