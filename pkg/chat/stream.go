package chat

import (
	"context"
	"sync"
)

// Stream is the pull-driven event sequence for one turn. The channel is
// unbuffered: the producing turn only advances when the consumer receives,
// so backpressure is bounded by the consumer's pull rate.
type Stream struct {
	events    chan Event
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{events: make(chan Event), cancel: cancel}
}

// Events yields the turn's events. The channel closes after the terminal
// done or error event.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close cancels the producing turn. Safe to call at any point; a consumer
// that stops pulling must call it so generation is cancelled promptly.
func (s *Stream) Close() {
	s.closeOnce.Do(s.cancel)
}

// emit delivers one event, or reports false when the turn was cancelled.
func (s *Stream) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
