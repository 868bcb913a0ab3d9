package ecgflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCallbackSink(t *testing.T) {
	var received []DiagnosticResult
	sink := NewCallbackSink("cb", func(_ context.Context, r DiagnosticResult) error {
		received = append(received, r)
		return nil
	})

	input := DiagnosticResult{JobID: "job-1", Status: StageDone, Urgency: UrgencyRoutine}
	if err := sink.OnResult(context.Background(), input); err != nil {
		t.Fatalf("OnResult returned error: %v", err)
	}
	if len(received) != 1 || received[0].JobID != "job-1" {
		t.Fatalf("unexpected results %+v", received)
	}
	if sink.Name() != "cb" {
		t.Fatalf("unexpected name %s", sink.Name())
	}
}

func TestNewCallbackSinkNilHandler(t *testing.T) {
	sink := NewCallbackSink("", nil)
	if sink.Name() != "callback" {
		t.Fatalf("expected default name, got %s", sink.Name())
	}
	if err := sink.OnResult(context.Background(), DiagnosticResult{}); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestNewChannelSink(t *testing.T) {
	sink, ch, closeFn := NewChannelSink("chan", 0)
	defer closeFn()

	input := DiagnosticResult{JobID: "job-2", Status: StageFailed, Reason: ReasonTimeout}
	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.OnResult(context.Background(), input)
	}()

	var got DiagnosticResult
	select {
	case got = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel result")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("OnResult returned error: %v", err)
	}
	if got.JobID != input.JobID || got.Reason != ReasonTimeout {
		t.Fatalf("unexpected result %+v", got)
	}

	closeFn()
	if err := sink.OnResult(context.Background(), input); !errors.Is(err, ErrChannelSinkClosed) {
		t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
	}
}

func TestChannelSinkHonoursContext(t *testing.T) {
	sink, _, closeFn := NewChannelSink("", 0)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := sink.OnResult(ctx, DiagnosticResult{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestChannelSinkCloseUnblocksWriter(t *testing.T) {
	sink, _, closeFn := NewChannelSink("", 0)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.OnResult(context.Background(), DiagnosticResult{})
	}()
	time.Sleep(10 * time.Millisecond)
	closeFn()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrChannelSinkClosed) {
			t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("writer stayed blocked after close")
	}
}

func TestAlertFunc(t *testing.T) {
	var called bool
	f := AlertFunc(func(context.Context, DiagnosticResult) error {
		called = true
		return nil
	})
	if err := f.OnCriticalAlert(context.Background(), DiagnosticResult{}); err != nil || !called {
		t.Fatalf("expected alert func to be called, err=%v", err)
	}
	var nilFunc AlertFunc
	if err := nilFunc.OnCriticalAlert(context.Background(), DiagnosticResult{}); err == nil {
		t.Fatalf("expected nil alert func to fail")
	}
}
