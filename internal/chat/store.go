package chat

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/branchpad/branchpad/internal/oplog"
	"github.com/branchpad/branchpad/internal/syncer"
	"github.com/branchpad/branchpad/pkg/logger"
	"github.com/branchpad/branchpad/pkg/metrics"
)

// Submitter hands a finished local mutation to the sync layer. Errors
// from the remote side never surface here; only a local queue failure
// is reported, and the store logs it rather than failing the mutation.
type Submitter interface {
	Submit(ctx context.Context, op oplog.Operation) (syncer.Status, error)
}

// Store owns all threads, messages and drafts for one user. Local state
// is mutated synchronously under a single lock; the matching operations
// are submitted in the same order the mutations happened.
type Store struct {
	// submitMu serializes mutate-then-submit across mutators so the
	// queue order always equals the order of the causing mutations,
	// even with parallel HTTP handlers.
	submitMu sync.Mutex

	mu       sync.Mutex
	threads  map[string]*Thread
	messages map[string]*Message
	drafts   map[string]Draft
	borders  map[string]json.RawMessage

	submitter Submitter
	olog      *logger.Logger
	now       func() time.Time
	newID     func() string
}

// NewStore returns an empty store. submitter may be nil, in which case
// mutations stay local only (useful for read-only tooling and tests).
func NewStore(submitter Submitter, olog *logger.Logger) *Store {
	if olog == nil {
		olog = logger.NewNop()
	}
	return &Store{
		threads:   make(map[string]*Thread),
		messages:  make(map[string]*Message),
		drafts:    make(map[string]Draft),
		borders:   make(map[string]json.RawMessage),
		submitter: submitter,
		olog:      olog,
		now:       time.Now,
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// CreateThread allocates a new empty thread and returns its id.
func (s *Store) CreateThread(ctx context.Context) string {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	s.mu.Lock()
	now := s.now()
	t := &Thread{
		ID:               s.newID(),
		SelectedChildren: make(map[string]string),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.threads[t.ID] = t
	ops := []oplog.Operation{s.threadOpLocked(t)}
	s.mu.Unlock()

	metrics.ThreadsTotal.Inc()
	s.submit(ctx, ops)
	return t.ID
}

// AddMessage inserts a message under req.ParentID (nil for a new root)
// and makes it the thread's new tip: every branch cursor on its ancestor
// chain is pointed at the insertion path, so the message becomes the
// leaf even when its parent was off the branch being viewed. Re-adding
// an existing id is a no-op returning the stored message, so replays are
// idempotent.
func (s *Store) AddMessage(ctx context.Context, threadID string, req AddMessageRequest) (Message, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return Message{}, ErrNotFound
	}
	if req.ID != "" {
		if existing, ok := s.messages[req.ID]; ok {
			out := *existing
			s.mu.Unlock()
			return out, nil
		}
	}
	if req.ParentID != nil {
		parent, ok := s.messages[*req.ParentID]
		if !ok || parent.ThreadID != threadID {
			s.mu.Unlock()
			return Message{}, ErrInvalidParent
		}
	}

	now := s.now()
	m := &Message{
		ID:        req.ID,
		ThreadID:  threadID,
		ParentID:  req.ParentID,
		Role:      req.Role,
		Content:   req.Content,
		Thinking:  req.Thinking,
		ToolCalls: req.ToolCalls,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if m.ID == "" {
		m.ID = s.newID()
	}
	s.messages[m.ID] = m

	if req.ParentID == nil {
		t.RootChildren = append(t.RootChildren, m.ID)
	} else {
		parent := s.messages[*req.ParentID]
		parent.Children = append(parent.Children, m.ID)
	}
	s.selectPathToLocked(t, m.ID)
	t.UpdatedAt = now

	ops := []oplog.Operation{s.messageOpLocked(m), s.threadOpLocked(t)}
	out := *m
	s.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues(string(m.Role)).Inc()
	s.submit(ctx, ops)
	return out, nil
}

// UpdateMessage applies a partial patch to an existing message.
func (s *Store) UpdateMessage(ctx context.Context, id string, patch MessagePatch) (Message, error) {
	return s.UpdateMessageWith(ctx, id, func(Message) MessagePatch { return patch })
}

// UpdateMessageWith computes the patch from the current message state
// under the store lock, for read-modify-write updates such as appending
// streamed content.
func (s *Store) UpdateMessageWith(ctx context.Context, id string, fn func(current Message) MessagePatch) (Message, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	s.mu.Lock()
	m, ok := s.messages[id]
	if !ok {
		s.mu.Unlock()
		return Message{}, ErrNotFound
	}
	patch := fn(*m)
	if patch.Content != nil {
		m.Content = *patch.Content
	}
	if patch.Thinking != nil {
		m.Thinking = *patch.Thinking
	}
	if patch.ToolCalls != nil {
		m.ToolCalls = patch.ToolCalls
	}
	m.UpdatedAt = s.now()

	op := oplog.Operation{
		Type: oplog.TypeUpdateMessage,
		MessagePatch: &oplog.MessagePatch{
			ID:        m.ID,
			Content:   patch.Content,
			Thinking:  patch.Thinking,
			ToolCalls: toolCallRecords(patch.ToolCalls),
			UpdatedAt: m.UpdatedAt,
		},
	}
	out := *m
	s.mu.Unlock()

	s.submit(ctx, []oplog.Operation{op})
	return out, nil
}

// DeleteMessage removes a message and its entire subtree, unlinks it
// from its parent and repairs branch selection so the thread's leaf
// remains reachable.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	s.mu.Lock()
	m, ok := s.messages[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	t := s.threads[m.ThreadID]

	// Collect the subtree breadth-first so parents precede children in
	// the removal order mirrored to the remote.
	removed := []string{id}
	for i := 0; i < len(removed); i++ {
		if node, ok := s.messages[removed[i]]; ok {
			removed = append(removed, node.Children...)
		}
	}

	if m.ParentID == nil {
		t.RootChildren = removeString(t.RootChildren, id)
	} else if parent, ok := s.messages[*m.ParentID]; ok {
		parent.Children = removeString(parent.Children, id)
	}
	for _, rid := range removed {
		delete(s.messages, rid)
		delete(t.SelectedChildren, rid)
	}

	// Repair the selection at the deleted message's parent: fall back to
	// the latest remaining sibling, or clear it.
	if m.ParentID == nil {
		if t.SelectedRootChild != nil && *t.SelectedRootChild == id {
			t.SelectedRootChild = nil
			if n := len(t.RootChildren); n > 0 {
				t.SelectedRootChild = &t.RootChildren[n-1]
			}
		}
	} else {
		pid := *m.ParentID
		if t.SelectedChildren[pid] == id {
			delete(t.SelectedChildren, pid)
			if parent, ok := s.messages[pid]; ok && len(parent.Children) > 0 {
				t.SelectedChildren[pid] = parent.Children[len(parent.Children)-1]
			}
		}
	}
	s.deriveLeafLocked(t)
	t.UpdatedAt = s.now()

	ops := make([]oplog.Operation, 0, len(removed)+1)
	for _, rid := range removed {
		ops = append(ops, oplog.Operation{Type: oplog.TypeDeleteMessage, EntityID: rid})
	}
	ops = append(ops, s.threadOpLocked(t))
	s.mu.Unlock()

	s.submit(ctx, ops)
	return nil
}

// SelectBranch records that childID is the chosen continuation under
// parentID (nil for root level) and re-derives the thread's leaf by
// walking the selection chain from the active root. An unknown thread
// or a child that is not actually under that parent is silently
// ignored, so stale navigation clicks cannot corrupt the tree.
func (s *Store) SelectBranch(ctx context.Context, threadID string, parentID *string, childID string) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return
	}
	child, ok := s.messages[childID]
	if !ok || child.ThreadID != threadID || !equalParent(child.ParentID, parentID) {
		s.mu.Unlock()
		return
	}
	if parentID == nil {
		t.SelectedRootChild = &childID
	} else {
		t.SelectedChildren[*parentID] = childID
	}
	s.deriveLeafLocked(t)
	t.UpdatedAt = s.now()
	ops := []oplog.Operation{s.threadOpLocked(t)}
	s.mu.Unlock()

	s.submit(ctx, ops)
}

// MessageChain walks parent links upward from leafID and returns the
// path in root-to-leaf order. A nil leaf yields an empty chain.
func (s *Store) MessageChain(leafID *string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var chain []Message
	cur := leafID
	for cur != nil {
		m, ok := s.messages[*cur]
		if !ok {
			break
		}
		chain = append(chain, *m)
		cur = m.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// UpdateThreadTitle sets the thread's display title.
func (s *Store) UpdateThreadTitle(ctx context.Context, threadID, title string) error {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	t.Title = title
	t.UpdatedAt = s.now()
	ops := []oplog.Operation{s.threadOpLocked(t)}
	s.mu.Unlock()

	s.submit(ctx, ops)
	return nil
}

// UpdateDraft stores the autosaved composer text for a thread.
func (s *Store) UpdateDraft(ctx context.Context, threadID, text string) error {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	s.mu.Lock()
	if _, ok := s.threads[threadID]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	d := Draft{ThreadID: threadID, Text: text, UpdatedAt: s.now()}
	s.drafts[threadID] = d
	op := oplog.Operation{
		Type:  oplog.TypeUpsertDraft,
		Draft: &oplog.DraftRecord{ThreadID: d.ThreadID, Text: d.Text, UpdatedAt: d.UpdatedAt},
	}
	s.mu.Unlock()

	s.submit(ctx, []oplog.Operation{op})
	return nil
}

// ClearDraft removes a thread's draft. Clearing an absent draft still
// enqueues the delete so a queued upsert cannot resurrect it remotely.
func (s *Store) ClearDraft(ctx context.Context, threadID string) error {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	s.mu.Lock()
	if _, ok := s.threads[threadID]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.drafts, threadID)
	s.mu.Unlock()

	s.submit(ctx, []oplog.Operation{{Type: oplog.TypeDeleteDraft, EntityID: threadID}})
	return nil
}

// SetBorder stores an opaque per-user settings blob under id.
func (s *Store) SetBorder(ctx context.Context, id string, data json.RawMessage) error {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if id == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	now := s.now()
	s.borders[id] = append(json.RawMessage(nil), data...)
	op := oplog.Operation{
		Type:   oplog.TypeUpsertBorder,
		Border: &oplog.BorderRecord{ID: id, Data: s.borders[id], UpdatedAt: now},
	}
	s.mu.Unlock()

	s.submit(ctx, []oplog.Operation{op})
	return nil
}

// Thread returns a copy of the thread with the given id.
func (s *Store) Thread(id string) (Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return Thread{}, false
	}
	return copyThread(t), true
}

// Threads returns copies of all threads, most recently updated first.
func (s *Store) Threads() []Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, copyThread(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Message returns a copy of the message with the given id.
func (s *Store) Message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Draft returns the stored draft for a thread, if any.
func (s *Store) Draft(threadID string) (Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[threadID]
	return d, ok
}

// Border returns the stored settings blob under id, if any.
func (s *Store) Border(id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.borders[id]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), b...), true
}

// selectPathToLocked points every branch cursor along id's ancestor
// chain at the path to id and makes id the thread's leaf. A new message
// always becomes the tip, even when its parent sits off the branch the
// user was viewing, and the selection walk from the root still
// terminates at the leaf.
func (s *Store) selectPathToLocked(t *Thread, id string) {
	cur := id
	for {
		m, ok := s.messages[cur]
		if !ok {
			break
		}
		if m.ParentID == nil {
			root := cur
			t.SelectedRootChild = &root
			break
		}
		t.SelectedChildren[*m.ParentID] = cur
		cur = *m.ParentID
	}
	leaf := id
	t.LeafMessageID = &leaf
}

// deriveLeafLocked recomputes the thread's leaf by walking the selection
// chain from the active root until no further selection resolves.
func (s *Store) deriveLeafLocked(t *Thread) {
	var cur string
	switch {
	case t.SelectedRootChild != nil:
		cur = *t.SelectedRootChild
	case len(t.RootChildren) > 0:
		cur = t.RootChildren[0]
	default:
		t.LeafMessageID = nil
		return
	}
	for {
		next, ok := t.SelectedChildren[cur]
		if !ok {
			break
		}
		if _, ok := s.messages[next]; !ok {
			break
		}
		cur = next
	}
	leaf := cur
	t.LeafMessageID = &leaf
}

func (s *Store) submit(ctx context.Context, ops []oplog.Operation) {
	if s.submitter == nil {
		return
	}
	for _, op := range ops {
		if _, err := s.submitter.Submit(ctx, op); err != nil {
			s.olog.Error("failed to queue operation",
				zap.String("type", string(op.Type)),
				zap.Error(err))
		}
	}
}

func (s *Store) threadOpLocked(t *Thread) oplog.Operation {
	rec := &oplog.ThreadRecord{
		ID:            t.ID,
		Title:         t.Title,
		LeafMessageID: copyStringPtr(t.LeafMessageID),
		RootChildren:  append([]string(nil), t.RootChildren...),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
	rec.SelectedRootChild = copyStringPtr(t.SelectedRootChild)
	if len(t.SelectedChildren) > 0 {
		rec.SelectedChildren = make(map[string]string, len(t.SelectedChildren))
		for k, v := range t.SelectedChildren {
			rec.SelectedChildren[k] = v
		}
	}
	return oplog.Operation{Type: oplog.TypeUpsertThread, Thread: rec}
}

func (s *Store) messageOpLocked(m *Message) oplog.Operation {
	return oplog.Operation{
		Type: oplog.TypeUpsertMessage,
		Message: &oplog.MessageRecord{
			ID:        m.ID,
			ThreadID:  m.ThreadID,
			ParentID:  copyStringPtr(m.ParentID),
			Role:      string(m.Role),
			Content:   m.Content,
			Thinking:  m.Thinking,
			ToolCalls: toolCallRecords(m.ToolCalls),
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
	}
}

func toolCallRecords(calls []ToolCall) []oplog.ToolCallRecord {
	if calls == nil {
		return nil
	}
	out := make([]oplog.ToolCallRecord, len(calls))
	for i, c := range calls {
		out[i] = oplog.ToolCallRecord{
			ID:        c.ID,
			Name:      c.Name,
			Arguments: c.Arguments,
			Status:    c.Status,
			Response:  c.Response,
			Error:     c.Error,
		}
	}
	return out
}

func copyThread(t *Thread) Thread {
	out := *t
	out.LeafMessageID = copyStringPtr(t.LeafMessageID)
	out.SelectedRootChild = copyStringPtr(t.SelectedRootChild)
	out.RootChildren = append([]string(nil), t.RootChildren...)
	if t.SelectedChildren != nil {
		out.SelectedChildren = make(map[string]string, len(t.SelectedChildren))
		for k, v := range t.SelectedChildren {
			out.SelectedChildren[k] = v
		}
	}
	return out
}

func copyStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func removeString(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
