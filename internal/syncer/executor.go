// Package syncer drains the durable operation log against the remote
// store, preserving enqueue order and tolerating connectivity loss.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/branchpad/branchpad/internal/oplog"
	"github.com/branchpad/branchpad/internal/remote"
	"github.com/branchpad/branchpad/pkg/logger"
	"github.com/branchpad/branchpad/pkg/metrics"
)

// Status reports what happened to a submitted operation.
type Status string

const (
	// StatusSynced means the write reached the remote store immediately.
	StatusSynced Status = "synced"
	// StatusQueued means the write was appended to the durable log and
	// will reach the remote store on a later drain. Not an error.
	StatusQueued Status = "queued"
)

// DeadLetter is an operation parked after exhausting its retry budget.
type DeadLetter struct {
	Operation oplog.Operation `json:"operation"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError"`
	FailedAt  time.Time       `json:"failedAt"`
}

// Options configures an Executor.
type Options struct {
	// MaxAttempts parks the head operation in the dead-letter list after
	// this many consecutive failures. Zero retries forever.
	MaxAttempts int
	// DisableEvents skips the connectivity-event goroutine. Tests drive
	// Drain directly.
	DisableEvents bool
}

// Executor owns the drain state machine: Idle -> Draining -> Idle, with a
// guard so a second trigger never races the in-flight drain and
// double-sends the head operation.
type Executor struct {
	log   oplog.Log
	store remote.Store
	conn  Connectivity
	olog  *logger.Logger

	maxAttempts int

	mu           sync.Mutex
	draining     bool
	headOpID     string
	headAttempts int
	deadLetters  []DeadLetter

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates an Executor over the given log, remote store and
// connectivity signal.
func New(log oplog.Log, store remote.Store, conn Connectivity, olog *logger.Logger, opts Options) *Executor {
	if olog == nil {
		olog = logger.NewNop()
	}
	e := &Executor{
		log:         log,
		store:       store,
		conn:        conn,
		olog:        olog,
		maxAttempts: opts.MaxAttempts,
		done:        make(chan struct{}),
	}
	metrics.PendingOperations.Set(float64(log.Depth()))
	if !opts.DisableEvents {
		e.wg.Add(1)
		go e.watchConnectivity()
	}
	return e
}

// Close stops the connectivity watcher. Queued operations stay in the
// durable log for the next session.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

// Submit attempts the write immediately when online; on success it also
// opportunistically drains any backlog. When offline, or when the
// immediate attempt fails, the operation is appended to the durable log
// and StatusQueued is reported. Remote failures never surface as errors;
// the only error case is the local log refusing the append. Operations
// arriving without an id get one assigned here.
func (e *Executor) Submit(ctx context.Context, op oplog.Operation) (Status, error) {
	if op.ID == "" {
		op.ID = uuid.Must(uuid.NewV7()).String()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}
	if e.conn.Online() {
		start := time.Now()
		err := remote.Apply(ctx, e.store, op)
		metrics.RemoteWriteDuration.WithLabelValues(string(op.Type), writeStatus(err)).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.OperationsSubmitted.WithLabelValues(string(op.Type), "synced").Inc()
			e.Drain(ctx)
			return StatusSynced, nil
		}
		e.olog.Warn("immediate write failed, queueing",
			zap.String("op_id", op.ID),
			zap.String("op_type", string(op.Type)),
			zap.Error(err))
	}
	if err := e.log.Enqueue(op); err != nil {
		metrics.OperationsSubmitted.WithLabelValues(string(op.Type), "rejected").Inc()
		return "", err
	}
	metrics.OperationsSubmitted.WithLabelValues(string(op.Type), "queued").Inc()
	metrics.PendingOperations.Set(float64(e.log.Depth()))
	return StatusQueued, nil
}

// Drain executes queued operations head-first until the log is empty or a
// write fails. A failed head stays in place; the next trigger retries it
// before anything behind it, so order is never skipped. Re-entrant calls
// and offline calls return immediately.
func (e *Executor) Drain(ctx context.Context) {
	e.mu.Lock()
	if e.draining || !e.conn.Online() {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
		metrics.PendingOperations.Set(float64(e.log.Depth()))
	}()

	for {
		head, ok := e.log.Head()
		if !ok {
			metrics.DrainRuns.WithLabelValues("emptied").Inc()
			return
		}
		start := time.Now()
		err := remote.Apply(ctx, e.store, head)
		metrics.RemoteWriteDuration.WithLabelValues(string(head.Type), writeStatus(err)).Observe(time.Since(start).Seconds())
		if err != nil {
			if e.recordHeadFailure(head, err) {
				// Parked in the dead-letter list; the next operation
				// becomes the head.
				continue
			}
			e.olog.Warn("drain halted",
				zap.String("op_id", head.ID),
				zap.String("op_type", string(head.Type)),
				zap.Error(err))
			metrics.DrainRuns.WithLabelValues("halted").Inc()
			return
		}
		e.clearHeadFailure(head.ID)
		e.log.Dequeue()
	}
}

// Depth reports how many operations are still pending.
func (e *Executor) Depth() int {
	return e.log.Depth()
}

// Online reports the current connectivity state.
func (e *Executor) Online() bool {
	return e.conn.Online()
}

// DeadLetters returns the operations parked after exhausting retries.
func (e *Executor) DeadLetters() []DeadLetter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]DeadLetter(nil), e.deadLetters...)
}

// recordHeadFailure bumps the consecutive-failure count for the head
// operation and parks it once the retry budget is exhausted. Returns true
// when the head was removed.
func (e *Executor) recordHeadFailure(head oplog.Operation, cause error) bool {
	e.mu.Lock()
	if e.headOpID != head.ID {
		e.headOpID = head.ID
		e.headAttempts = 0
	}
	e.headAttempts++
	attempts := e.headAttempts
	exhausted := e.maxAttempts > 0 && attempts >= e.maxAttempts
	e.mu.Unlock()

	if !exhausted {
		return false
	}
	if _, ok := e.log.Dequeue(); !ok {
		return false
	}
	e.mu.Lock()
	e.deadLetters = append(e.deadLetters, DeadLetter{
		Operation: head,
		Attempts:  attempts,
		LastError: cause.Error(),
		FailedAt:  time.Now().UTC(),
	})
	deadLettered := len(e.deadLetters)
	e.headOpID = ""
	e.headAttempts = 0
	e.mu.Unlock()

	metrics.DeadLetteredOperations.Set(float64(deadLettered))
	e.olog.Error("operation dead-lettered",
		zap.String("op_id", head.ID),
		zap.String("op_type", string(head.Type)),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	return true
}

func (e *Executor) clearHeadFailure(opID string) {
	e.mu.Lock()
	if e.headOpID == opID {
		e.headOpID = ""
		e.headAttempts = 0
	}
	e.mu.Unlock()
}

func (e *Executor) watchConnectivity() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.conn.Events():
			e.olog.Info("connectivity restored, draining backlog",
				zap.Int("pending", e.log.Depth()))
			e.Drain(context.Background())
		}
	}
}

func writeStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
