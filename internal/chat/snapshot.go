package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// snapshot is the serialized form of a store: the full forest as one
// JSON blob, written whole on every save.
type snapshot struct {
	Threads  []Thread                   `json:"threads"`
	Messages []Message                  `json:"messages"`
	Drafts   []Draft                    `json:"drafts,omitempty"`
	Borders  map[string]json.RawMessage `json:"borders,omitempty"`
}

// Snapshot serializes the current store state.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		Threads:  make([]Thread, 0, len(s.threads)),
		Messages: make([]Message, 0, len(s.messages)),
	}
	for _, t := range s.threads {
		snap.Threads = append(snap.Threads, copyThread(t))
	}
	for _, m := range s.messages {
		snap.Messages = append(snap.Messages, *m)
	}
	for _, d := range s.drafts {
		snap.Drafts = append(snap.Drafts, d)
	}
	if len(s.borders) > 0 {
		snap.Borders = make(map[string]json.RawMessage, len(s.borders))
		for k, v := range s.borders {
			snap.Borders[k] = v
		}
	}
	return json.Marshal(snap)
}

// Restore replaces the store contents with a previously serialized
// snapshot. Restore does not enqueue operations; the snapshot already
// reflects state the remote has been told about.
func (s *Store) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = make(map[string]*Thread, len(snap.Threads))
	s.messages = make(map[string]*Message, len(snap.Messages))
	s.drafts = make(map[string]Draft, len(snap.Drafts))
	s.borders = make(map[string]json.RawMessage, len(snap.Borders))
	for i := range snap.Threads {
		t := snap.Threads[i]
		if t.SelectedChildren == nil {
			t.SelectedChildren = make(map[string]string)
		}
		s.threads[t.ID] = &t
	}
	for i := range snap.Messages {
		m := snap.Messages[i]
		s.messages[m.ID] = &m
	}
	for _, d := range snap.Drafts {
		s.drafts[d.ThreadID] = d
	}
	for k, v := range snap.Borders {
		s.borders[k] = v
	}
	return nil
}

// SaveTo writes the snapshot to path via a temp file and rename so a
// crash mid-write cannot leave a truncated snapshot behind.
func (s *Store) SaveTo(path string) error {
	data, err := s.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// LoadFrom restores the store from a snapshot file. A missing file is
// not an error; the store simply starts empty.
func (s *Store) LoadFrom(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return s.Restore(data)
}
