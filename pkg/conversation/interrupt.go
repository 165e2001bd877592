package conversation

import (
	"log/slog"
	"unicode/utf8"
)

// playback is the part of the dispatcher the interrupter needs.
type playback interface {
	Outstanding() int
	Interrupt() (int, error)
}

// Interrupter implements barge-in. When the caller starts talking over
// audio that is still playing, Twilio's buffer is cleared and the
// outstanding marks are forgotten.
//
// Ordering state is left alone: results still in flight play when they
// arrive.
type Interrupter struct {
	playback playback
	minChars int
	logger   *slog.Logger

	// OnInterrupt is called after a barge-in with the triggering text and
	// the number of marks dropped.
	OnInterrupt func(text string, cleared int)
}

// NewInterrupter creates an interrupter. Utterances must be longer than
// minChars runes to interrupt.
func NewInterrupter(p playback, minChars int, logger *slog.Logger) *Interrupter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interrupter{
		playback: p,
		minChars: minChars,
		logger:   logger.With("component", "conversation.interrupt"),
	}
}

// OnUtterance handles interim caller speech and reports whether playback
// was interrupted.
func (i *Interrupter) OnUtterance(text string) bool {
	if i.playback.Outstanding() == 0 {
		return false
	}
	if utf8.RuneCountInString(text) <= i.minChars {
		return false
	}

	cleared, err := i.playback.Interrupt()
	if err != nil {
		i.logger.Warn("clear failed", "error", err)
	}
	if cleared == 0 {
		return false
	}
	i.logger.Info("caller interrupted", "cleared_marks", cleared)

	if i.OnInterrupt != nil {
		i.OnInterrupt(text, cleared)
	}
	return true
}
