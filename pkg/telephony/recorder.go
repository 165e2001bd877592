package telephony

import (
	"sync"
	"time"
)

// Recorder is an in-memory audio sink for tests. It records what would have
// been written to Twilio.
type Recorder struct {
	// Err, when set, is returned from every send.
	Err error

	mu      sync.Mutex
	entries []Sent
	changed chan struct{}
}

// Sent is one recorded outbound action.
type Sent struct {
	Event Event
	Audio []byte
	Mark  string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{}, 1)}
}

// SendAudio records a media message and its mark.
func (r *Recorder) SendAudio(audio []byte, mark string) error {
	if r.Err != nil {
		return r.Err
	}
	r.add(Sent{Event: EventMedia, Audio: append([]byte(nil), audio...), Mark: mark})
	return nil
}

// Clear records a clear message.
func (r *Recorder) Clear() error {
	if r.Err != nil {
		return r.Err
	}
	r.add(Sent{Event: EventClear})
	return nil
}

func (r *Recorder) add(s Sent) {
	r.mu.Lock()
	r.entries = append(r.entries, s)
	r.mu.Unlock()
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Sent returns a copy of everything recorded.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.entries...)
}

// AudioTexts returns the recorded media payloads as strings, in send order.
func (r *Recorder) AudioTexts() []string {
	var out []string
	for _, s := range r.Sent() {
		if s.Event == EventMedia {
			out = append(out, string(s.Audio))
		}
	}
	return out
}

// Clears counts recorded clear messages.
func (r *Recorder) Clears() int {
	n := 0
	for _, s := range r.Sent() {
		if s.Event == EventClear {
			n++
		}
	}
	return n
}

// WaitFor blocks until at least n entries are recorded or timeout elapses.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		got := len(r.entries)
		r.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-r.changed:
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
