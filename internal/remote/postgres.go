package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/branchpad/branchpad/internal/oplog"
)

const postgresWriteTimeout = 5 * time.Second

// Postgres implements Store against a Postgres database. Every write is a
// single-row upsert or delete keyed by primary id, which makes re-applying
// an operation after an ambiguous failure a no-op.
type Postgres struct {
	dsn    string
	openDB func(driverName, dsn string) (*sql.DB, error)

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgres returns a Postgres-backed remote store.
func NewPostgres(dsn string) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &Postgres{dsn: dsn, openDB: sql.Open}, nil
}

func (p *Postgres) ensureReady() error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresWriteTimeout)
		defer cancel()

		statements := []string{
			`CREATE TABLE IF NOT EXISTS branchpad_threads (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL DEFAULT '',
				leaf_message_id TEXT,
				state TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS branchpad_messages (
				id TEXT PRIMARY KEY,
				thread_id TEXT NOT NULL,
				parent_id TEXT,
				role TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				thinking TEXT NOT NULL DEFAULT '',
				tool_calls TEXT NOT NULL DEFAULT '[]',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS branchpad_messages_thread_id_idx
				ON branchpad_messages (thread_id)`,
			`CREATE TABLE IF NOT EXISTS branchpad_drafts (
				thread_id TEXT PRIMARY KEY,
				draft_text TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS branchpad_borders (
				id TEXT PRIMARY KEY,
				data TEXT NOT NULL DEFAULT '{}',
				updated_at TIMESTAMPTZ NOT NULL
			)`,
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				p.initErr = err
				return
			}
		}
		p.db = db
	})
	return p.initErr
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) exec(ctx context.Context, query string, args ...any) error {
	if err := p.ensureReady(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresWriteTimeout)
	defer cancel()
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

func (p *Postgres) UpsertThread(ctx context.Context, thread oplog.ThreadRecord) error {
	state, err := json.Marshal(struct {
		RootChildren      []string          `json:"rootChildren,omitempty"`
		SelectedRootChild *string           `json:"selectedRootChild,omitempty"`
		SelectedChildren  map[string]string `json:"selectedChildren,omitempty"`
	}{thread.RootChildren, thread.SelectedRootChild, thread.SelectedChildren})
	if err != nil {
		return err
	}
	return p.exec(ctx, `
		INSERT INTO branchpad_threads (id, title, leaf_message_id, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			leaf_message_id = EXCLUDED.leaf_message_id,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		thread.ID, thread.Title, thread.LeafMessageID, string(state), thread.CreatedAt, thread.UpdatedAt)
}

func (p *Postgres) UpsertMessage(ctx context.Context, message oplog.MessageRecord) error {
	toolCalls, err := json.Marshal(message.ToolCalls)
	if err != nil {
		return err
	}
	return p.exec(ctx, `
		INSERT INTO branchpad_messages (id, thread_id, parent_id, role, content, thinking, tool_calls, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			parent_id = EXCLUDED.parent_id,
			role = EXCLUDED.role,
			content = EXCLUDED.content,
			thinking = EXCLUDED.thinking,
			tool_calls = EXCLUDED.tool_calls,
			updated_at = EXCLUDED.updated_at`,
		message.ID, message.ThreadID, message.ParentID, message.Role,
		message.Content, message.Thinking, string(toolCalls),
		message.CreatedAt, message.UpdatedAt)
}

func (p *Postgres) UpdateMessage(ctx context.Context, patch oplog.MessagePatch) error {
	var toolCalls *string
	if patch.ToolCalls != nil {
		encoded, err := json.Marshal(patch.ToolCalls)
		if err != nil {
			return err
		}
		value := string(encoded)
		toolCalls = &value
	}
	// COALESCE keeps columns untouched when the patch field is nil.
	// Updating a row that no longer exists is a no-op, not an error.
	return p.exec(ctx, `
		UPDATE branchpad_messages SET
			content = COALESCE($2, content),
			thinking = COALESCE($3, thinking),
			tool_calls = COALESCE($4, tool_calls),
			updated_at = $5
		WHERE id = $1`,
		patch.ID, patch.Content, patch.Thinking, toolCalls, patch.UpdatedAt)
}

func (p *Postgres) DeleteMessage(ctx context.Context, id string) error {
	return p.exec(ctx, "DELETE FROM branchpad_messages WHERE id = $1", id)
}

func (p *Postgres) UpsertDraft(ctx context.Context, draft oplog.DraftRecord) error {
	return p.exec(ctx, `
		INSERT INTO branchpad_drafts (thread_id, draft_text, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (thread_id) DO UPDATE SET
			draft_text = EXCLUDED.draft_text,
			updated_at = EXCLUDED.updated_at`,
		draft.ThreadID, draft.Text, draft.UpdatedAt)
}

func (p *Postgres) DeleteDraft(ctx context.Context, threadID string) error {
	return p.exec(ctx, "DELETE FROM branchpad_drafts WHERE thread_id = $1", threadID)
}

func (p *Postgres) UpsertBorder(ctx context.Context, border oplog.BorderRecord) error {
	data := border.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return p.exec(ctx, `
		INSERT INTO branchpad_borders (id, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		border.ID, string(data), border.UpdatedAt)
}
