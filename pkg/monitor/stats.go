package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/conversation"
)

// Stats aggregates session events.
type Stats struct {
	mu     sync.Mutex
	start  time.Time
	active map[string]time.Time
	counts map[conversation.EventType]int
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Uptime      time.Duration                  `json:"uptime"`
	ActiveCalls []string                       `json:"active_calls"`
	Events      map[conversation.EventType]int `json:"events"`
}

// NewStats creates empty counters.
func NewStats() *Stats {
	return &Stats{
		start:  time.Now(),
		active: make(map[string]time.Time),
		counts: make(map[conversation.EventType]int),
	}
}

// Record counts ev and tracks call start and end.
func (s *Stats) Record(ev conversation.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[ev.Type]++
	switch ev.Type {
	case conversation.EventStarted:
		s.active[ev.CallSid] = ev.Time
	case conversation.EventEnded:
		delete(s.active, ev.CallSid)
	}
}

// Active returns the number of calls in progress.
func (s *Stats) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Uptime:      time.Since(s.start),
		ActiveCalls: make([]string, 0, len(s.active)),
		Events:      make(map[conversation.EventType]int, len(s.counts)),
	}
	for sid := range s.active {
		snap.ActiveCalls = append(snap.ActiveCalls, sid)
	}
	sort.Strings(snap.ActiveCalls)
	for k, v := range s.counts {
		snap.Events[k] = v
	}
	return snap
}
