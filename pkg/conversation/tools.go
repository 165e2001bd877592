package conversation

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/teslashibe/go-callbridge/pkg/inference"
)

// ToolHandler executes a tool. args is the raw JSON object produced by the
// model; the returned string is fed back to the model as the function result.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is a function the model may call mid-turn.
type Tool struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object.
	Parameters map[string]any

	// Say is spoken right away while the tool runs, so the caller is not
	// left in silence.
	Say string

	Handler ToolHandler
}

// Toolset is the manifest offered to the model.
type Toolset struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolset creates a toolset holding tools.
func NewToolset(tools ...Tool) *Toolset {
	ts := &Toolset{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		ts.Register(t)
	}
	return ts
}

// Register adds or replaces a tool.
func (ts *Toolset) Register(t Tool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tools[t.Name] = t
}

// Lookup returns the named tool.
func (ts *Toolset) Lookup(name string) (Tool, bool) {
	if ts == nil {
		return Tool{}, false
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (ts *Toolset) Len() int {
	if ts == nil {
		return 0
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.tools)
}

// Manifest returns the tool definitions in name order.
func (ts *Toolset) Manifest() []inference.Tool {
	if ts == nil {
		return nil
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	names := make([]string, 0, len(ts.tools))
	for name := range ts.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]inference.Tool, 0, len(names))
	for _, name := range names {
		t := ts.tools[name]
		out = append(out, inference.NewTool(t.Name, t.Description, t.Parameters))
	}
	return out
}
