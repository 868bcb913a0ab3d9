package ecgflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("ecgflow: channel sink closed")

// ResultFunc is invoked once per finished job.
type ResultFunc func(ctx context.Context, r DiagnosticResult) error

// AlertFunc adapts a function into an AlertDispatcher.
type AlertFunc func(ctx context.Context, r DiagnosticResult) error

func (f AlertFunc) OnCriticalAlert(ctx context.Context, r DiagnosticResult) error {
	if f == nil {
		return errors.New("alert func: nil handler")
	}
	return f(ctx, r)
}

// NewCallbackSink adapts a ResultFunc into a full ResultSink implementation so callers
// can plug arbitrary functions without defining structs.
func NewCallbackSink(name string, fn ResultFunc) ResultSink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes results via a channel; it returns the sink, the read-only
// channel, and a close function that the caller should invoke after shutdown.
// OnResult blocks while the channel is full, holding a worker, until ctx ends.
func NewChannelSink(name string, buffer int) (ResultSink, <-chan DiagnosticResult, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan DiagnosticResult, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   ResultFunc
}

func (s *callbackSink) OnResult(ctx context.Context, r DiagnosticResult) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	return s.fn(ctx, r)
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan DiagnosticResult
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (s *channelSink) OnResult(ctx context.Context, r DiagnosticResult) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- r:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}
