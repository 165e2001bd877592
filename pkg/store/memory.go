package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-callbridge/pkg/inference"
)

// Memory is an in-process ledger. With a file path it rewrites the file
// after every change and reloads it on open.
type Memory struct {
	path string

	mu    sync.RWMutex
	calls map[string]*Call
}

// NewMemory creates an ephemeral ledger.
func NewMemory() *Memory {
	return &Memory{calls: make(map[string]*Call)}
}

// NewFile creates a ledger persisted to a JSON file. A missing file is
// treated as empty.
func NewFile(path string) (*Memory, error) {
	m := NewMemory()
	m.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}

	var calls []*Call
	if err := json.Unmarshal(data, &calls); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}
	for _, c := range calls {
		m.calls[c.CallSid] = c
	}
	return m, nil
}

// StartCall records a new call. Starting a known call refreshes its
// stream id.
func (m *Memory) StartCall(ctx context.Context, callSid, streamSid string) error {
	m.mu.Lock()
	if c, ok := m.calls[callSid]; ok {
		c.StreamSid = streamSid
	} else {
		m.calls[callSid] = &Call{
			ID:        uuid.New(),
			CallSid:   callSid,
			StreamSid: streamSid,
			StartedAt: time.Now().UTC(),
		}
	}
	m.mu.Unlock()
	return m.save()
}

// FinishCall stores the transcript and end time. Unknown calls are created.
func (m *Memory) FinishCall(ctx context.Context, callSid string, transcript []inference.Message) error {
	now := time.Now().UTC()

	m.mu.Lock()
	c, ok := m.calls[callSid]
	if !ok {
		c = &Call{ID: uuid.New(), CallSid: callSid, StartedAt: now}
		m.calls[callSid] = c
	}
	c.EndedAt = &now
	c.Transcript = append([]inference.Message(nil), transcript...)
	m.mu.Unlock()
	return m.save()
}

// Get returns a copy of one call.
func (m *Memory) Get(ctx context.Context, callSid string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[callSid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// List returns calls newest first.
func (m *Memory) List(ctx context.Context, limit int) ([]Call, error) {
	m.mu.RLock()
	out := make([]Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, *c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) save() error {
	if m.path == "" {
		return nil
	}

	m.mu.RLock()
	calls := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		calls = append(calls, c)
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].StartedAt.Before(calls[j].StartedAt)
	})
	data, err := json.MarshalIndent(calls, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(m.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: create directory: %w", err)
		}
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("store: write file: %w", err)
	}
	return nil
}
