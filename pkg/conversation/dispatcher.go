package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dispatcher releases synthesized audio to the sink in index order and
// tracks the playback marks Twilio has not yet acknowledged.
//
// Results below the cursor have already been played or skipped; pending
// only ever holds indices at or above it.
type Dispatcher struct {
	sink   AudioSink
	gap    time.Duration
	logger *slog.Logger

	// OnAudioSent is called after each successful send, outside the lock.
	OnAudioSent func(mark string, r Result)

	// OnGap is called when the gap timer skips an index.
	OnGap func(err *OrderingGapError)

	// OnSendError is called when the sink rejects audio.
	OnSendError func(r Result, err error)

	mu       sync.Mutex
	next     int
	pending  map[int]Result
	skipped  map[int]struct{}
	marks    []string
	timer    *time.Timer
	timerGen uint64
	closed   bool
	newMark  func() string
}

// NewDispatcher creates a dispatcher writing to sink. gap is how long a
// missing index may hold up later ones.
func NewDispatcher(sink AudioSink, gap time.Duration, logger *slog.Logger) *Dispatcher {
	if gap <= 0 {
		gap = DefaultConfig().GapTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sink:    sink,
		gap:     gap,
		logger:  logger.With("component", "conversation.dispatcher"),
		pending: make(map[int]Result),
		skipped: make(map[int]struct{}),
		newMark: uuid.NewString,
	}
}

// Submit accepts a synthesized result. NoOrder results play immediately;
// others wait for their turn. Late or duplicate indices are dropped.
func (d *Dispatcher) Submit(r Result) {
	var notes []func()
	d.mu.Lock()
	defer func() {
		d.mu.Unlock()
		run(notes)
	}()

	if d.closed {
		return
	}
	if r.Index == NoOrder {
		notes = d.dispatch(r, notes)
		return
	}
	if r.Index < d.next {
		d.logger.Debug("dropping stale result", "index", r.Index, "next", d.next)
		return
	}
	if _, dup := d.pending[r.Index]; dup {
		d.logger.Debug("dropping duplicate result", "index", r.Index)
		return
	}
	if _, gone := d.skipped[r.Index]; gone {
		d.logger.Debug("dropping skipped result", "index", r.Index)
		return
	}

	d.pending[r.Index] = r
	notes, moved := d.drain(notes)
	d.armTimer(moved)
}

// Skip gives up on index. Below the cursor it is a no-op; at the cursor
// draining resumes; ahead of it the index is skipped when reached.
func (d *Dispatcher) Skip(index int) {
	var notes []func()
	d.mu.Lock()
	defer func() {
		d.mu.Unlock()
		run(notes)
	}()

	if d.closed || index < d.next {
		return
	}
	d.skipped[index] = struct{}{}
	notes, moved := d.drain(notes)
	d.armTimer(moved)
}

// Acknowledge removes a played mark. Unknown marks are ignored.
func (d *Dispatcher) Acknowledge(mark string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, m := range d.marks {
		if m == mark {
			d.marks = append(d.marks[:i], d.marks[i+1:]...)
			return true
		}
	}
	return false
}

// ClearMarks drops every outstanding mark and returns how many there were.
func (d *Dispatcher) ClearMarks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.marks)
	d.marks = nil
	return n
}

// Interrupt sends clear to the sink and drops the outstanding marks while
// holding the lock, so no audio is sent between the two. It returns the
// number of marks dropped; with nothing outstanding it does nothing.
func (d *Dispatcher) Interrupt() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.marks)
	if n == 0 {
		return 0, nil
	}
	err := d.sink.Clear()
	d.marks = nil
	return n, err
}

// Outstanding returns the number of unacknowledged marks.
func (d *Dispatcher) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.marks)
}

// Marks returns the outstanding marks in dispatch order.
func (d *Dispatcher) Marks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.marks...)
}

// Next returns the index the dispatcher is waiting for.
func (d *Dispatcher) Next() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}

// Pending returns how many results are buffered behind the cursor.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close stops the gap timer. Later submissions are ignored.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.stopTimer()
}

// drain releases results while the cursor's index is available or skipped.
// Must be called with mu held.
func (d *Dispatcher) drain(notes []func()) ([]func(), bool) {
	moved := false
	for {
		if r, ok := d.pending[d.next]; ok {
			delete(d.pending, d.next)
			d.next++
			moved = true
			notes = d.dispatch(r, notes)
			continue
		}
		if _, ok := d.skipped[d.next]; ok {
			delete(d.skipped, d.next)
			d.next++
			moved = true
			continue
		}
		return notes, moved
	}
}

// dispatch sends one result. Must be called with mu held so sends stay in
// cursor order.
func (d *Dispatcher) dispatch(r Result, notes []func()) []func() {
	mark := d.newMark()
	if err := d.sink.SendAudio(r.Audio, mark); err != nil {
		d.logger.Warn("send failed", "index", r.Index, "error", err)
		if d.OnSendError != nil {
			cb := d.OnSendError
			notes = append(notes, func() { cb(r, err) })
		}
		return notes
	}
	d.marks = append(d.marks, mark)
	if d.OnAudioSent != nil {
		cb := d.OnAudioSent
		notes = append(notes, func() { cb(mark, r) })
	}
	return notes
}

// armTimer keeps the gap timer running while results are pending. The
// window restarts whenever the cursor moves. Must be called with mu held.
func (d *Dispatcher) armTimer(moved bool) {
	if len(d.pending) == 0 {
		d.stopTimer()
		return
	}
	if d.timer != nil && !moved {
		return
	}
	d.stopTimer()
	d.timerGen++
	gen := d.timerGen
	d.timer = time.AfterFunc(d.gap, func() { d.gapExpired(gen) })
}

func (d *Dispatcher) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.timerGen++
}

func (d *Dispatcher) gapExpired(gen uint64) {
	var notes []func()
	d.mu.Lock()
	defer func() {
		d.mu.Unlock()
		run(notes)
	}()

	if d.closed || gen != d.timerGen || len(d.pending) == 0 {
		return
	}
	d.timer = nil

	gapErr := &OrderingGapError{Index: d.next, Waited: d.gap}
	d.logger.Warn("skipping missing fragment", "index", d.next, "waited", d.gap)
	d.next++
	if d.OnGap != nil {
		cb := d.OnGap
		notes = append(notes, func() { cb(gapErr) })
	}
	notes, _ = d.drain(notes)
	d.armTimer(true)
}

func run(notes []func()) {
	for _, fn := range notes {
		fn()
	}
}
