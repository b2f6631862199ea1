// Package chat maintains the in-memory forest of conversation messages:
// parent/child links, per-parent branch selection and thread-level leaf
// tracking. Every mutation is mirrored into the pending-operation queue
// for remote sync.
package chat

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrInvalidParent marks an addMessage whose parent does not resolve
	// within the thread. A programming error; it is never enqueued.
	ErrInvalidParent = errors.New("invalid parent")
	// ErrNotFound marks an operation targeting an unknown id.
	ErrNotFound = errors.New("not found")
)

// Role is the sender role of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation attached to a message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Status    string          `json:"status,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Message is a node in a thread's forest. ParentID records immutable
// history; a nil ParentID marks a root. Children holds ids in creation
// order.
type Message struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"threadId"`
	ParentID  *string    `json:"parentId"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	Children  []string   `json:"children,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Thread is a conversation with its branch-selection state.
// SelectedChildren maps a parent message id to the child currently chosen
// as "next" — navigation intent, decoupled from ancestry. Following
// SelectedRootChild and then SelectedChildren downward always terminates
// at LeafMessageID.
type Thread struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	LeafMessageID     *string           `json:"leafMessageId"`
	RootChildren      []string          `json:"rootChildren,omitempty"`
	SelectedRootChild *string           `json:"selectedRootChild,omitempty"`
	SelectedChildren  map[string]string `json:"selectedChildren,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Draft is a per-thread autosave scratch text, independent of the tree.
type Draft struct {
	ThreadID  string    `json:"threadId"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AddMessageRequest describes a message to insert. ID may be set by the
// caller for idempotent replays; otherwise one is allocated.
type AddMessageRequest struct {
	ID        string     `json:"id,omitempty"`
	ParentID  *string    `json:"parentId"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// MessagePatch is a partial message update. Nil fields are left untouched.
type MessagePatch struct {
	Content   *string    `json:"content,omitempty"`
	Thinking  *string    `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}
