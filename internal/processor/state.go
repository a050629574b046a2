package processor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ItemState records one finished item.
type ItemState struct {
	Output      string    `json:"output"`
	CompletedAt time.Time `json:"completed_at"`
}

// State is the persistent processed-item ledger. It is written after
// every change with a tmp-file rename so a crash never leaves a torn
// file.
type State struct {
	mu    sync.RWMutex
	path  string
	items map[string]ItemState // "uid/folder" -> state
}

// LoadState reads the ledger at path, starting empty when the file does
// not exist yet.
func LoadState(path string) (*State, error) {
	s := &State{path: path, items: make(map[string]ItemState)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &s.items); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	return s, nil
}

// IsDone reports whether the item has already been processed.
func (s *State) IsDone(uid, folder string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[uid+"/"+folder]
	return ok
}

// MarkDone records a finished item and persists the ledger.
func (s *State) MarkDone(uid, folder, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[uid+"/"+folder] = ItemState{Output: output, CompletedAt: time.Now().UTC()}
	return s.save()
}

// Done returns the number of recorded items.
func (s *State) Done() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *State) save() error {
	raw, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}
