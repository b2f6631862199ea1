package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/branchpad/branchpad/internal/oplog"
)

// Memory is an in-memory Store for tests and dev mode. It records the
// order writes were applied in, so ordering properties can be asserted,
// and can be told to fail writes to simulate connectivity loss.
type Memory struct {
	mu       sync.Mutex
	threads  map[string]oplog.ThreadRecord
	messages map[string]oplog.MessageRecord
	drafts   map[string]oplog.DraftRecord
	borders  map[string]oplog.BorderRecord
	applied  []string

	failNext int
	failErr  error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		threads:  map[string]oplog.ThreadRecord{},
		messages: map[string]oplog.MessageRecord{},
		drafts:   map[string]oplog.DraftRecord{},
		borders:  map[string]oplog.BorderRecord{},
	}
}

// FailNext makes the next n writes fail with err (ErrWriteFailed if nil).
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = ErrWriteFailed
	}
	m.failNext = n
	m.failErr = err
}

// Applied returns the write log in application order, one entry per
// successful store call, formatted "type:key".
func (m *Memory) Applied() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.applied...)
}

// Thread returns the stored thread row, if present.
func (m *Memory) Thread(id string) (oplog.ThreadRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	return t, ok
}

// Message returns the stored message row, if present.
func (m *Memory) Message(id string) (oplog.MessageRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	return msg, ok
}

// Draft returns the stored draft row, if present.
func (m *Memory) Draft(threadID string) (oplog.DraftRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[threadID]
	return d, ok
}

// Border returns the stored border row, if present.
func (m *Memory) Border(id string) (oplog.BorderRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.borders[id]
	return b, ok
}

func (m *Memory) failLocked() error {
	if m.failNext > 0 {
		m.failNext--
		return m.failErr
	}
	return nil
}

func (m *Memory) UpsertThread(ctx context.Context, thread oplog.ThreadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	m.threads[thread.ID] = thread
	m.applied = append(m.applied, fmt.Sprintf("upsert_thread:%s", thread.ID))
	return nil
}

func (m *Memory) UpsertMessage(ctx context.Context, message oplog.MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	m.messages[message.ID] = message
	m.applied = append(m.applied, fmt.Sprintf("upsert_message:%s", message.ID))
	return nil
}

func (m *Memory) UpdateMessage(ctx context.Context, patch oplog.MessagePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	existing, ok := m.messages[patch.ID]
	if ok {
		if patch.Content != nil {
			existing.Content = *patch.Content
		}
		if patch.Thinking != nil {
			existing.Thinking = *patch.Thinking
		}
		if patch.ToolCalls != nil {
			existing.ToolCalls = patch.ToolCalls
		}
		existing.UpdatedAt = patch.UpdatedAt
		m.messages[patch.ID] = existing
	}
	m.applied = append(m.applied, fmt.Sprintf("update_message:%s", patch.ID))
	return nil
}

func (m *Memory) DeleteMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	delete(m.messages, id)
	m.applied = append(m.applied, fmt.Sprintf("delete_message:%s", id))
	return nil
}

func (m *Memory) UpsertDraft(ctx context.Context, draft oplog.DraftRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	m.drafts[draft.ThreadID] = draft
	m.applied = append(m.applied, fmt.Sprintf("upsert_draft:%s", draft.ThreadID))
	return nil
}

func (m *Memory) DeleteDraft(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	delete(m.drafts, threadID)
	m.applied = append(m.applied, fmt.Sprintf("delete_draft:%s", threadID))
	return nil
}

func (m *Memory) UpsertBorder(ctx context.Context, border oplog.BorderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	m.borders[border.ID] = border
	m.applied = append(m.applied, fmt.Sprintf("upsert_border:%s", border.ID))
	return nil
}
