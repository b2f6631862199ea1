package oplog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("log closed")
)

// Log is an ordered, persisted FIFO of pending operations. Enqueue order
// equals program order of the causing mutation; the log never reorders.
// Persistence is all-or-nothing: every mutation rewrites the whole
// serialized log, so a crash loses at most the write in progress.
type Log interface {
	Enqueue(op Operation) error
	Head() (Operation, bool)
	Dequeue() (Operation, bool)
	Depth() int
	Snapshot() []Operation
	Close() error
}

type memoryLog struct {
	mu    sync.Mutex
	items []Operation
}

// NewMemoryLog returns a log with no durability. Used in tests and dev mode.
func NewMemoryLog() Log {
	return &memoryLog{items: []Operation{}}
}

func (l *memoryLog) Enqueue(op Operation) error {
	if strings.TrimSpace(op.ID) == "" {
		return ErrInvalidInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, op)
	return nil
}

func (l *memoryLog) Head() (Operation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return Operation{}, false
	}
	return l.items[0], true
}

func (l *memoryLog) Dequeue() (Operation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return Operation{}, false
	}
	head := l.items[0]
	l.items = l.items[1:]
	return head, true
}

func (l *memoryLog) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *memoryLog) Snapshot() []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Operation(nil), l.items...)
}

func (l *memoryLog) Close() error {
	return nil
}

type fileLog struct {
	path  string
	mu    sync.Mutex
	items []Operation
}

type fileLogState struct {
	Items []Operation `json:"items"`
}

// NewFileLog opens (or creates) a JSON-file-backed log at path. Existing
// contents are loaded so queued operations survive restarts.
func NewFileLog(path string) (Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	l := &fileLog{path: path, items: []Operation{}}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *fileLog) Enqueue(op Operation) error {
	if strings.TrimSpace(op.ID) == "" {
		return ErrInvalidInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, op)
	if err := l.saveLocked(); err != nil {
		l.items = l.items[:len(l.items)-1]
		return err
	}
	return nil
}

func (l *fileLog) Head() (Operation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return Operation{}, false
	}
	return l.items[0], true
}

func (l *fileLog) Dequeue() (Operation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return Operation{}, false
	}
	head := l.items[0]
	l.items = l.items[1:]
	if err := l.saveLocked(); err != nil {
		l.items = append([]Operation{head}, l.items...)
		return Operation{}, false
	}
	return head, true
}

func (l *fileLog) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *fileLog) Snapshot() []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Operation(nil), l.items...)
}

// Reload re-reads the log from disk, picking up operations appended by
// another process sharing the same file.
func (l *fileLog) Reload() error {
	return l.load()
}

func (l *fileLog) Close() error {
	return nil
}

func (l *fileLog) load() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileLogState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	l.items = append([]Operation(nil), snapshot.Items...)
	return nil
}

func (l *fileLog) saveLocked() error {
	snapshot := fileLogState{Items: append([]Operation(nil), l.items...)}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

// Reloader is implemented by logs that can refresh from shared storage.
type Reloader interface {
	Reload() error
}
