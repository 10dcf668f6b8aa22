package canbus

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

// recordSink is a slog.Handler that keeps every record.
type recordSink struct {
	mu      sync.Mutex
	records []slog.Record
}

func (s *recordSink) Enabled(context.Context, slog.Level) bool { return true }

func (s *recordSink) Handle(_ context.Context, r slog.Record) error {
	s.mu.Lock()
	s.records = append(s.records, r.Clone())
	s.mu.Unlock()
	return nil
}

func (s *recordSink) WithAttrs([]slog.Attr) slog.Handler { return s }
func (s *recordSink) WithGroup(string) slog.Handler      { return s }

func (s *recordSink) has(level slog.Level, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Level == level && r.Message == msg {
			return true
		}
	}
	return false
}

func (s *recordSink) count(msg string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.Message == msg {
			n++
		}
	}
	return n
}

func TestLoggedBus_WriteAndRead(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()
	ctx := testCtx(t)

	sink := &recordSink{}
	logger := slog.New(sink)
	sender := NewLoggedBus(lb.Open(), logger, slog.LevelInfo, LogWrite, nil)
	receiver := NewLoggedBus(lb.Open(), logger, slog.LevelInfo, LogRead, nil)
	defer sender.Close()
	defer receiver.Close()

	if err := sender.Send(ctx, MustFrame(0x123, []byte{1, 2, 3})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := receiver.Receive(ctx); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !sink.has(slog.LevelInfo, "canbus send") {
		t.Fatalf("expected write log entry")
	}
	if !sink.has(slog.LevelInfo, "canbus receive") {
		t.Fatalf("expected read log entry")
	}
}

func TestLoggedBus_FilterAndErrors(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()
	ctx := testCtx(t)

	sink := &recordSink{}
	logger := slog.New(sink)
	d := NewLoggedDialer(lb, logger, slog.LevelDebug, LogAll, Not(ByID(0x03F)))
	rx := lb.Open()
	defer rx.Close()

	for _, id := range []uint32{0x03F, 0x020} {
		if err := SendOnce(ctx, d, MustFrame(id, nil)); err != nil {
			t.Fatalf("send %03X: %v", id, err)
		}
	}
	if n := sink.count("canbus send"); n != 1 {
		t.Fatalf("filtered send logs = %d, want 1", n)
	}

	closed := lb.Open()
	_ = closed.Close()
	wrapped := NewLoggedBus(closed, logger, slog.LevelInfo, LogAll, nil)
	_, _ = wrapped.Receive(ctx)
	_ = wrapped.Send(ctx, MustFrame(0x1, nil))
	if !sink.has(slog.LevelError, "canbus receive error") {
		t.Fatalf("expected receive error log entry")
	}
	if !sink.has(slog.LevelError, "canbus send error") {
		t.Fatalf("expected send error log entry")
	}
}
