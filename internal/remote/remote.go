// Package remote defines the contract the sync core needs from the
// backing store: idempotent upsert-by-primary-key and delete-by-primary-key
// per collection. Re-applying a previously succeeded write must leave the
// remote record unchanged, so a retry after an ambiguous failure is safe.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/branchpad/branchpad/internal/oplog"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrWriteFailed wraps any network or backend rejection. The executor
	// treats it as a steady-state condition, never a hard failure.
	ErrWriteFailed = errors.New("remote write failed")
)

// Store is the remote collection surface. Each call is individually atomic;
// no multi-row transactions are required.
type Store interface {
	UpsertThread(ctx context.Context, thread oplog.ThreadRecord) error
	UpsertMessage(ctx context.Context, message oplog.MessageRecord) error
	UpdateMessage(ctx context.Context, patch oplog.MessagePatch) error
	DeleteMessage(ctx context.Context, id string) error
	UpsertDraft(ctx context.Context, draft oplog.DraftRecord) error
	DeleteDraft(ctx context.Context, threadID string) error
	UpsertBorder(ctx context.Context, border oplog.BorderRecord) error
}

// Apply dispatches one pending operation to its store call.
func Apply(ctx context.Context, store Store, op oplog.Operation) error {
	switch op.Type {
	case oplog.TypeUpsertThread:
		if op.Thread == nil {
			return fmt.Errorf("%w: %s without thread payload", ErrInvalidInput, op.Type)
		}
		return store.UpsertThread(ctx, *op.Thread)
	case oplog.TypeUpsertMessage:
		if op.Message == nil {
			return fmt.Errorf("%w: %s without message payload", ErrInvalidInput, op.Type)
		}
		return store.UpsertMessage(ctx, *op.Message)
	case oplog.TypeUpdateMessage:
		if op.MessagePatch == nil {
			return fmt.Errorf("%w: %s without patch payload", ErrInvalidInput, op.Type)
		}
		return store.UpdateMessage(ctx, *op.MessagePatch)
	case oplog.TypeDeleteMessage:
		if op.EntityID == "" {
			return fmt.Errorf("%w: %s without entity id", ErrInvalidInput, op.Type)
		}
		return store.DeleteMessage(ctx, op.EntityID)
	case oplog.TypeUpsertDraft:
		if op.Draft == nil {
			return fmt.Errorf("%w: %s without draft payload", ErrInvalidInput, op.Type)
		}
		return store.UpsertDraft(ctx, *op.Draft)
	case oplog.TypeDeleteDraft:
		if op.EntityID == "" {
			return fmt.Errorf("%w: %s without entity id", ErrInvalidInput, op.Type)
		}
		return store.DeleteDraft(ctx, op.EntityID)
	case oplog.TypeUpsertBorder:
		if op.Border == nil {
			return fmt.Errorf("%w: %s without border payload", ErrInvalidInput, op.Type)
		}
		return store.UpsertBorder(ctx, *op.Border)
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidInput, op.Type)
	}
}
