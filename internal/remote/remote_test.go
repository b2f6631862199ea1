package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/branchpad/branchpad/internal/oplog"
)

func TestApplyDispatchesByType(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	ops := []oplog.Operation{
		{ID: "op_1", Type: oplog.TypeUpsertThread, Thread: &oplog.ThreadRecord{ID: "thr_1", Title: "hi", UpdatedAt: now}},
		{ID: "op_2", Type: oplog.TypeUpsertMessage, Message: &oplog.MessageRecord{ID: "msg_1", ThreadID: "thr_1", Role: "user", Content: "q"}},
		{ID: "op_3", Type: oplog.TypeUpsertDraft, Draft: &oplog.DraftRecord{ThreadID: "thr_1", Text: "wip"}},
		{ID: "op_4", Type: oplog.TypeUpsertBorder, Border: &oplog.BorderRecord{ID: "border_1", Data: []byte(`{}`)}},
		{ID: "op_5", Type: oplog.TypeDeleteDraft, EntityID: "thr_1"},
		{ID: "op_6", Type: oplog.TypeDeleteMessage, EntityID: "msg_1"},
	}
	for _, op := range ops {
		if err := Apply(ctx, store, op); err != nil {
			t.Fatalf("apply %s failed: %v", op.Type, err)
		}
	}

	want := []string{
		"upsert_thread:thr_1",
		"upsert_message:msg_1",
		"upsert_draft:thr_1",
		"upsert_border:border_1",
		"delete_draft:thr_1",
		"delete_message:msg_1",
	}
	applied := store.Applied()
	if len(applied) != len(want) {
		t.Fatalf("expected %d applied, got %v", len(want), applied)
	}
	for i, w := range want {
		if applied[i] != w {
			t.Fatalf("applied[%d] = %s, want %s", i, applied[i], w)
		}
	}
	if _, ok := store.Draft("thr_1"); ok {
		t.Fatalf("expected draft deleted")
	}
	if _, ok := store.Message("msg_1"); ok {
		t.Fatalf("expected message deleted")
	}
}

func TestApplyRejectsMissingPayload(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	bad := []oplog.Operation{
		{ID: "op_1", Type: oplog.TypeUpsertThread},
		{ID: "op_2", Type: oplog.TypeUpsertMessage},
		{ID: "op_3", Type: oplog.TypeUpdateMessage},
		{ID: "op_4", Type: oplog.TypeDeleteMessage},
		{ID: "op_5", Type: "mystery_op"},
	}
	for _, op := range bad {
		if err := Apply(ctx, store, op); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("op %s: expected ErrInvalidInput, got %v", op.ID, err)
		}
	}
	if got := store.Applied(); len(got) != 0 {
		t.Fatalf("expected nothing applied, got %v", got)
	}
}

func TestMemoryUpdateMessageMergesPatch(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	msg := oplog.MessageRecord{ID: "msg_1", ThreadID: "thr_1", Role: "assistant", Content: "draft", Thinking: "notes"}
	if err := store.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	content := "final"
	if err := store.UpdateMessage(ctx, oplog.MessagePatch{ID: "msg_1", Content: &content}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, ok := store.Message("msg_1")
	if !ok || got.Content != "final" || got.Thinking != "notes" {
		t.Fatalf("expected merged patch, got %+v (ok=%v)", got, ok)
	}
}

func TestMemoryReplayIsIdempotent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	// Patching or deleting rows that no longer exist must succeed: a
	// queued operation can arrive after a newer delete already applied.
	content := "late patch"
	if err := store.UpdateMessage(ctx, oplog.MessagePatch{ID: "msg_gone", Content: &content}); err != nil {
		t.Fatalf("expected patch of missing row to no-op, got %v", err)
	}
	if err := store.DeleteMessage(ctx, "msg_gone"); err != nil {
		t.Fatalf("expected delete of missing row to no-op, got %v", err)
	}
	if err := store.DeleteDraft(ctx, "thr_gone"); err != nil {
		t.Fatalf("expected delete of missing draft to no-op, got %v", err)
	}
}

func TestMemoryFailNextInjectsErrors(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	cause := errors.New("injected")

	store.FailNext(2, cause)
	if err := store.UpsertDraft(ctx, oplog.DraftRecord{ThreadID: "thr_1", Text: "x"}); !errors.Is(err, cause) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := store.UpsertDraft(ctx, oplog.DraftRecord{ThreadID: "thr_1", Text: "x"}); !errors.Is(err, cause) {
		t.Fatalf("expected second injected error, got %v", err)
	}
	if err := store.UpsertDraft(ctx, oplog.DraftRecord{ThreadID: "thr_1", Text: "x"}); err != nil {
		t.Fatalf("expected recovery after budget, got %v", err)
	}
}

func TestBuildStoreFromDSN(t *testing.T) {
	store, err := BuildStoreFromDSN("memory://", "")
	if err != nil {
		t.Fatalf("memory dsn failed: %v", err)
	}
	if _, ok := store.(*Memory); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	store, err = BuildStoreFromDSN("https://api.example.com", "tok")
	if err != nil {
		t.Fatalf("http dsn failed: %v", err)
	}
	if _, ok := store.(*HTTPStore); !ok {
		t.Fatalf("expected http store, got %T", store)
	}
	if _, err := BuildStoreFromDSN("ftp://example.com", ""); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
