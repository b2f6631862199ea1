package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/branchpad/branchpad/internal/oplog"
	"github.com/branchpad/branchpad/internal/remote"
)

func draftOp(id, threadID, text string) oplog.Operation {
	return oplog.Operation{
		ID:    id,
		Type:  oplog.TypeUpsertDraft,
		Draft: &oplog.DraftRecord{ThreadID: threadID, Text: text, UpdatedAt: time.Now().UTC()},
	}
}

func messageOp(id, messageID string) oplog.Operation {
	return oplog.Operation{
		ID:   id,
		Type: oplog.TypeUpsertMessage,
		Message: &oplog.MessageRecord{
			ID:       messageID,
			ThreadID: "thr_1",
			Role:     "user",
			Content:  "hello",
		},
	}
}

func TestSubmitOnlineWritesImmediately(t *testing.T) {
	store := remote.NewMemory()
	exec := New(oplog.NewMemoryLog(), store, NewStatic(true), nil, Options{DisableEvents: true})
	defer exec.Close()

	status, err := exec.Submit(context.Background(), messageOp("op_1", "msg_1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if status != StatusSynced {
		t.Fatalf("expected synced, got %s", status)
	}
	if exec.Depth() != 0 {
		t.Fatalf("expected nothing queued, depth %d", exec.Depth())
	}
	if _, ok := store.Message("msg_1"); !ok {
		t.Fatalf("expected message written to remote")
	}
}

func TestSubmitOfflineQueuesAndDrainsInOrder(t *testing.T) {
	store := remote.NewMemory()
	conn := NewStatic(false)
	exec := New(oplog.NewMemoryLog(), store, conn, nil, Options{DisableEvents: true})
	defer exec.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		status, err := exec.Submit(ctx, messageOp(fmt.Sprintf("op_%d", i), fmt.Sprintf("msg_%d", i)))
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
		if status != StatusQueued {
			t.Fatalf("expected queued while offline, got %s", status)
		}
	}
	if exec.Depth() != 3 {
		t.Fatalf("expected 3 queued, got %d", exec.Depth())
	}
	if got := store.Applied(); len(got) != 0 {
		t.Fatalf("expected no remote writes while offline, got %v", got)
	}

	conn.SetOnline(true)
	exec.Drain(ctx)

	if exec.Depth() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", exec.Depth())
	}
	applied := store.Applied()
	want := []string{"upsert_message:msg_1", "upsert_message:msg_2", "upsert_message:msg_3"}
	if len(applied) != len(want) {
		t.Fatalf("expected %d writes, got %v", len(want), applied)
	}
	for i, w := range want {
		if applied[i] != w {
			t.Fatalf("applied[%d] = %s, want %s", i, applied[i], w)
		}
	}
}

func TestDrainHaltsOnFirstFailureAndRetriesHeadFirst(t *testing.T) {
	store := remote.NewMemory()
	conn := NewStatic(false)
	exec := New(oplog.NewMemoryLog(), store, conn, nil, Options{DisableEvents: true})
	defer exec.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := exec.Submit(ctx, messageOp(fmt.Sprintf("op_%d", i), fmt.Sprintf("msg_%d", i))); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	conn.SetOnline(true)
	store.FailNext(1, errors.New("remote unavailable"))
	exec.Drain(ctx)

	// The head failed, so nothing behind it may have been attempted.
	if exec.Depth() != 3 {
		t.Fatalf("expected all 3 still queued after halted drain, got %d", exec.Depth())
	}
	if got := store.Applied(); len(got) != 0 {
		t.Fatalf("expected no successful writes, got %v", got)
	}

	exec.Drain(ctx)
	applied := store.Applied()
	if len(applied) != 3 || applied[0] != "upsert_message:msg_1" {
		t.Fatalf("expected head retried first, got %v", applied)
	}
}

func TestSubmitFailureFallsBackToQueue(t *testing.T) {
	store := remote.NewMemory()
	exec := New(oplog.NewMemoryLog(), store, NewStatic(true), nil, Options{DisableEvents: true})
	defer exec.Close()

	store.FailNext(1, errors.New("remote unavailable"))
	status, err := exec.Submit(context.Background(), messageOp("op_1", "msg_1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if status != StatusQueued {
		t.Fatalf("expected queued after failed immediate write, got %s", status)
	}
	if exec.Depth() != 1 {
		t.Fatalf("expected 1 queued, got %d", exec.Depth())
	}
}

func TestSuccessfulSubmitDrainsBacklog(t *testing.T) {
	store := remote.NewMemory()
	conn := NewStatic(false)
	exec := New(oplog.NewMemoryLog(), store, conn, nil, Options{DisableEvents: true})
	defer exec.Close()
	ctx := context.Background()

	if _, err := exec.Submit(ctx, messageOp("op_1", "msg_1")); err != nil {
		t.Fatalf("offline submit failed: %v", err)
	}
	conn.SetOnline(true)

	// The fresh operation may reach the remote before the backlog; what
	// matters is that success triggers a drain of everything queued.
	status, err := exec.Submit(ctx, messageOp("op_2", "msg_2"))
	if err != nil {
		t.Fatalf("online submit failed: %v", err)
	}
	if status != StatusSynced {
		t.Fatalf("expected synced, got %s", status)
	}
	if exec.Depth() != 0 {
		t.Fatalf("expected backlog drained, depth %d", exec.Depth())
	}
	if _, ok := store.Message("msg_1"); !ok {
		t.Fatalf("expected queued message to reach remote")
	}
}

func TestConnectivityEventTriggersDrain(t *testing.T) {
	store := remote.NewMemory()
	conn := NewStatic(false)
	exec := New(oplog.NewMemoryLog(), store, conn, nil, Options{})
	defer exec.Close()

	if _, err := exec.Submit(context.Background(), messageOp("op_1", "msg_1")); err != nil {
		t.Fatalf("offline submit failed: %v", err)
	}
	conn.SetOnline(true)

	deadline := time.Now().Add(2 * time.Second)
	for exec.Depth() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if exec.Depth() != 0 {
		t.Fatalf("expected backlog drained after online event, depth %d", exec.Depth())
	}
}

func TestDraftSupersedeReplaysBothWrites(t *testing.T) {
	store := remote.NewMemory()
	conn := NewStatic(false)
	exec := New(oplog.NewMemoryLog(), store, conn, nil, Options{DisableEvents: true})
	defer exec.Close()
	ctx := context.Background()

	// Two autosaves of the same draft while offline; replay must apply
	// both in order so the remote ends at the newer text.
	if _, err := exec.Submit(ctx, draftOp("op_1", "thr_1", "first version")); err != nil {
		t.Fatalf("submit first draft failed: %v", err)
	}
	if _, err := exec.Submit(ctx, draftOp("op_2", "thr_1", "second version")); err != nil {
		t.Fatalf("submit second draft failed: %v", err)
	}

	conn.SetOnline(true)
	exec.Drain(ctx)

	d, ok := store.Draft("thr_1")
	if !ok || d.Text != "second version" {
		t.Fatalf("expected newer draft to win, got %+v (ok=%v)", d, ok)
	}
}

func TestDrainIsNotReentrant(t *testing.T) {
	store := remote.NewMemory()
	conn := NewStatic(false)
	exec := New(oplog.NewMemoryLog(), store, conn, nil, Options{DisableEvents: true})
	defer exec.Close()
	ctx := context.Background()

	if _, err := exec.Submit(ctx, messageOp("op_1", "msg_1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	conn.SetOnline(true)

	exec.mu.Lock()
	exec.draining = true
	exec.mu.Unlock()
	exec.Drain(ctx)
	if exec.Depth() != 1 {
		t.Fatalf("expected guarded drain to do nothing, depth %d", exec.Depth())
	}

	exec.mu.Lock()
	exec.draining = false
	exec.mu.Unlock()
	exec.Drain(ctx)
	if exec.Depth() != 0 {
		t.Fatalf("expected drain after guard release, depth %d", exec.Depth())
	}
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	store := remote.NewMemory()
	conn := NewStatic(false)
	exec := New(oplog.NewMemoryLog(), store, conn, nil, Options{MaxAttempts: 2, DisableEvents: true})
	defer exec.Close()
	ctx := context.Background()

	if _, err := exec.Submit(ctx, messageOp("op_bad", "msg_bad")); err != nil {
		t.Fatalf("submit bad failed: %v", err)
	}
	if _, err := exec.Submit(ctx, messageOp("op_ok", "msg_ok")); err != nil {
		t.Fatalf("submit ok failed: %v", err)
	}

	conn.SetOnline(true)
	store.FailNext(1, errors.New("poison payload"))
	exec.Drain(ctx)
	if exec.Depth() != 2 {
		t.Fatalf("expected halt on first failure, depth %d", exec.Depth())
	}

	// Second consecutive failure exhausts the budget; the head is parked
	// and the drain continues past it.
	store.FailNext(1, errors.New("poison payload"))
	exec.Drain(ctx)

	if exec.Depth() != 0 {
		t.Fatalf("expected queue drained past dead letter, depth %d", exec.Depth())
	}
	dead := exec.DeadLetters()
	if len(dead) != 1 || dead[0].Operation.ID != "op_bad" || dead[0].Attempts != 2 {
		t.Fatalf("unexpected dead letters %+v", dead)
	}
	if _, ok := store.Message("msg_ok"); !ok {
		t.Fatalf("expected operation behind dead letter to be applied")
	}
}

func TestSubmitAssignsOperationIdentity(t *testing.T) {
	store := remote.NewMemory()
	log := oplog.NewMemoryLog()
	exec := New(log, store, NewStatic(false), nil, Options{DisableEvents: true})
	defer exec.Close()

	op := oplog.Operation{Type: oplog.TypeDeleteDraft, EntityID: "thr_1"}
	if _, err := exec.Submit(context.Background(), op); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	head, ok := log.Head()
	if !ok || head.ID == "" || head.EnqueuedAt.IsZero() {
		t.Fatalf("expected id and enqueue time assigned, got %+v (ok=%v)", head, ok)
	}
}
