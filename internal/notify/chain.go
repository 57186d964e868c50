package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoChainHead is returned when a destination has never had an event delivered.
var ErrNoChainHead = errors.New("no chain head found")

const headsFile = "chain-heads.json"

// Head is the last delivered event for one destination.
type Head struct {
	EventHash  string    `json:"event_hash"`
	EventID    string    `json:"event_id"`
	Generation string    `json:"generation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChainTracker keeps one Head per destination in a JSON file next to the
// event backups.
type ChainTracker struct {
	mu    sync.Mutex
	path  string
	heads map[string]Head
}

// NewChainTracker opens (or starts) the heads file in dir.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event dir: %w", err)
	}
	ct := &ChainTracker{
		path:  filepath.Join(dir, headsFile),
		heads: map[string]Head{},
	}

	data, err := os.ReadFile(ct.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &ct.heads); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ct.path, err)
		}
	}
	return ct, nil
}

// Head returns the last delivered event for destination.
func (ct *ChainTracker) Head(destination string) (Head, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	h, ok := ct.heads[destination]
	if !ok || h.EventHash == "" {
		return Head{}, ErrNoChainHead
	}
	return h, nil
}

// Advance records evt as the head of its destination's chain.
func (ct *ChainTracker) Advance(evt *Event, at time.Time) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	key := evt.ChainKey()
	prev, had := ct.heads[key]
	ct.heads[key] = Head{
		EventHash:  evt.Chain.EventHash,
		EventID:    evt.EventID,
		Generation: evt.Generation,
		UpdatedAt:  at.UTC(),
	}
	if err := ct.flush(); err != nil {
		if had {
			ct.heads[key] = prev
		} else {
			delete(ct.heads, key)
		}
		return err
	}
	return nil
}

func (ct *ChainTracker) flush() error {
	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}
	tmp := ct.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write chain heads: %w", err)
	}
	return os.Rename(tmp, ct.path)
}
