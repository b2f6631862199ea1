// Package oplog implements the durable operation log: an ordered,
// locally persisted list of pending remote writes that survives process
// restarts. The log never reorders; operations leave only after the sync
// executor confirms them against the remote store.
package oplog

import (
	"encoding/json"
	"time"
)

// Type identifies the remote write an operation performs.
type Type string

const (
	TypeUpsertThread  Type = "upsert_thread"
	TypeUpsertMessage Type = "upsert_message"
	TypeUpdateMessage Type = "update_message"
	TypeDeleteMessage Type = "delete_message"
	TypeUpsertDraft   Type = "upsert_draft"
	TypeDeleteDraft   Type = "delete_draft"
	TypeUpsertBorder  Type = "upsert_border"
)

// ToolCallRecord is the persisted form of a single tool invocation on a
// message.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Status    string          `json:"status,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ThreadRecord is the remote row for a chat thread.
type ThreadRecord struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	LeafMessageID     *string           `json:"leafMessageId"`
	RootChildren      []string          `json:"rootChildren,omitempty"`
	SelectedRootChild *string           `json:"selectedRootChild,omitempty"`
	SelectedChildren  map[string]string `json:"selectedChildren,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// MessageRecord is the remote row for a message.
type MessageRecord struct {
	ID        string           `json:"id"`
	ThreadID  string           `json:"threadId"`
	ParentID  *string          `json:"parentId"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ToolCallRecord `json:"toolCalls,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// MessagePatch carries a partial message update. Nil fields are left
// untouched by the remote store.
type MessagePatch struct {
	ID        string           `json:"id"`
	Content   *string          `json:"content,omitempty"`
	Thinking  *string          `json:"thinking,omitempty"`
	ToolCalls []ToolCallRecord `json:"toolCalls,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// DraftRecord is the remote row for a per-thread autosave draft.
type DraftRecord struct {
	ThreadID  string    `json:"threadId"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BorderRecord carries layout border state. The core treats the payload as
// opaque collaborator data; it only guarantees delivery order.
type BorderRecord struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Operation is one pending remote write. Exactly one payload field is set,
// matching Type; EntityID carries the primary key for delete variants.
// ID is log bookkeeping only and never reaches the remote store.
type Operation struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	EnqueuedAt time.Time `json:"enqueuedAt"`

	Thread       *ThreadRecord  `json:"thread,omitempty"`
	Message      *MessageRecord `json:"message,omitempty"`
	MessagePatch *MessagePatch  `json:"messagePatch,omitempty"`
	Draft        *DraftRecord   `json:"draft,omitempty"`
	Border       *BorderRecord  `json:"border,omitempty"`
	EntityID     string         `json:"entityId,omitempty"`
}

// EntityKey returns the primary key the operation addresses remotely.
func (op Operation) EntityKey() string {
	switch {
	case op.Thread != nil:
		return op.Thread.ID
	case op.Message != nil:
		return op.Message.ID
	case op.MessagePatch != nil:
		return op.MessagePatch.ID
	case op.Draft != nil:
		return op.Draft.ThreadID
	case op.Border != nil:
		return op.Border.ID
	default:
		return op.EntityID
	}
}
