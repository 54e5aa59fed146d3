// Package stream carries ordered progress events from a long-running
// producer (code generation, image builds, log tails) to a single consumer
// (an SSE handler). A stream terminates with exactly one done or error
// event; everything published after the terminal event is rejected.
//
// Part of the Functional Core - no I/O happens here, only channel plumbing.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// =============================================================================
// Events
// =============================================================================

// Kind discriminates the three event types on the wire.
type Kind string

const (
	KindLog   Kind = "log"
	KindDone  Kind = "done"
	KindError Kind = "error"
)

// Event is a single entry in a stream. Line is set for log events, Fields
// for done events, Err for error events.
type Event struct {
	Kind   Kind
	Line   string
	Fields map[string]any
	Err    error
}

// ErrClosed is returned by publish methods once a stream has terminated or
// its consumer has gone away.
var ErrClosed = errors.New("stream closed")

// =============================================================================
// Stream
// =============================================================================

// defaultBuffer bounds how far a producer may run ahead of its consumer.
const defaultBuffer = 64

// Stream is a bounded, ordered event channel between one producer and one
// consumer. The producer publishes via Log/Done/Fail and watches Context
// for cancellation; the consumer ranges over Events and calls Close when it
// stops reading, which cancels the producer's context.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	mu        sync.Mutex
	done      bool
	closeOnce sync.Once
}

// New returns a stream whose producer context descends from parent.
func New(parent context.Context) *Stream {
	ctx, cancel := context.WithCancel(parent)
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, defaultBuffer),
	}
}

// Events returns the receive side. It is closed after the terminal event.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Context returns the producer-side context. External work (subprocesses,
// API calls) must be bound to it so consumer abandonment kills the work.
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Log publishes a progress line.
func (s *Stream) Log(line string) error {
	return s.publish(Event{Kind: KindLog, Line: line}, false)
}

// Logf publishes a formatted progress line.
func (s *Stream) Logf(format string, args ...any) error {
	return s.Log(fmt.Sprintf(format, args...))
}

// Done publishes the successful terminal event.
func (s *Stream) Done(fields map[string]any) error {
	return s.publish(Event{Kind: KindDone, Fields: fields}, true)
}

// Fail publishes the failure terminal event.
func (s *Stream) Fail(err error) error {
	return s.publish(Event{Kind: KindError, Err: err}, true)
}

// Close signals that the consumer has stopped reading. The producer context
// is cancelled immediately so in-flight external work is torn down. Safe to
// call more than once, and safe to call after the terminal event.
func (s *Stream) Close() {
	s.closeOnce.Do(s.cancel)
}

// publish holds the lock across the channel send so a terminal event and a
// concurrent log line cannot race past the done flag.
func (s *Stream) publish(ev Event, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return ErrClosed
	}

	// Reject deterministically once the consumer is gone, even when the
	// buffer still has room.
	select {
	case <-s.ctx.Done():
		s.done = true
		return ErrClosed
	default:
	}

	select {
	case s.events <- ev:
	case <-s.ctx.Done():
		s.done = true
		return ErrClosed
	}

	if terminal {
		s.done = true
		close(s.events)
		s.cancel()
	}
	return nil
}
