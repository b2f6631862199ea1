package oplog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func threadOp(id, threadID string) Operation {
	return Operation{
		ID:         id,
		Type:       TypeUpsertThread,
		EnqueuedAt: time.Now().UTC(),
		Thread:     &ThreadRecord{ID: threadID, Title: "t"},
	}
}

func TestMemoryLogPreservesFIFOOrder(t *testing.T) {
	log := NewMemoryLog()
	for _, id := range []string{"op_1", "op_2", "op_3"} {
		if err := log.Enqueue(threadOp(id, "thr_1")); err != nil {
			t.Fatalf("enqueue %s failed: %v", id, err)
		}
	}
	if got := log.Depth(); got != 3 {
		t.Fatalf("expected depth 3, got %d", got)
	}
	head, ok := log.Head()
	if !ok || head.ID != "op_1" {
		t.Fatalf("expected head op_1, got %q (ok=%v)", head.ID, ok)
	}
	for _, want := range []string{"op_1", "op_2", "op_3"} {
		got, ok := log.Dequeue()
		if !ok || got.ID != want {
			t.Fatalf("expected dequeue %s, got %q (ok=%v)", want, got.ID, ok)
		}
	}
	if _, ok := log.Dequeue(); ok {
		t.Fatalf("expected empty log after draining")
	}
}

func TestLogRejectsOperationWithoutID(t *testing.T) {
	log := NewMemoryLog()
	if err := log.Enqueue(Operation{Type: TypeUpsertThread}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFileLogPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.json")
	log, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("new file log failed: %v", err)
	}
	if err := log.Enqueue(threadOp("op_1", "thr_1")); err != nil {
		t.Fatalf("enqueue op_1 failed: %v", err)
	}
	if err := log.Enqueue(threadOp("op_2", "thr_1")); err != nil {
		t.Fatalf("enqueue op_2 failed: %v", err)
	}

	reopened, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("reopen file log failed: %v", err)
	}
	if got := reopened.Depth(); got != 2 {
		t.Fatalf("expected 2 persisted operations, got %d", got)
	}
	first, ok := reopened.Dequeue()
	if !ok || first.ID != "op_1" {
		t.Fatalf("expected first dequeued op_1, got %q (ok=%v)", first.ID, ok)
	}
	if first.Thread == nil || first.Thread.ID != "thr_1" {
		t.Fatalf("expected thread payload to survive reopen, got %+v", first.Thread)
	}
	second, ok := reopened.Dequeue()
	if !ok || second.ID != "op_2" {
		t.Fatalf("expected second dequeued op_2, got %q (ok=%v)", second.ID, ok)
	}
}

func TestFileLogDequeuePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.json")
	log, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("new file log failed: %v", err)
	}
	if err := log.Enqueue(threadOp("op_1", "thr_1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, ok := log.Dequeue(); !ok {
		t.Fatalf("expected dequeue to succeed")
	}

	reopened, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("reopen file log failed: %v", err)
	}
	if got := reopened.Depth(); got != 0 {
		t.Fatalf("expected dequeue to persist, found %d operations", got)
	}
}

func TestFileLogReloadPicksUpExternalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.json")
	writer, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("new writer log failed: %v", err)
	}
	reader, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("new reader log failed: %v", err)
	}

	if err := writer.Enqueue(threadOp("op_1", "thr_1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if got := reader.Depth(); got != 0 {
		t.Fatalf("expected reader unaware before reload, got %d", got)
	}
	reloader, ok := reader.(Reloader)
	if !ok {
		t.Fatalf("expected file log to implement Reloader")
	}
	if err := reloader.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	head, ok := reader.Head()
	if !ok || head.ID != "op_1" {
		t.Fatalf("expected op_1 after reload, got %q (ok=%v)", head.ID, ok)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	log := NewMemoryLog()
	if err := log.Enqueue(threadOp("op_1", "thr_1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	snap := log.Snapshot()
	snap[0].ID = "mutated"
	head, _ := log.Head()
	if head.ID != "op_1" {
		t.Fatalf("expected snapshot mutation not to leak, head is %q", head.ID)
	}
}
