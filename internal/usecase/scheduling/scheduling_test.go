package scheduling

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"teacher-agent/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionSessionReap, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.AddTask(ScheduledTask{Name: "reap", Schedule: "50ms", Action: ActionSessionReap}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 1 {
		t.Errorf("action fired %d times, expected at least 1", c)
	}
}

func TestSchedulerStopCancelsTasks(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	var cancelled atomic.Bool

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionSessionReap, func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	s.AddTask(ScheduledTask{Name: "slow", Schedule: "20ms", Action: ActionSessionReap})
	s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}
	s.Stop()
	if !cancelled.Load() {
		t.Error("running task should observe cancellation before Stop returns")
	}
}

func TestSchedulerUnknownAction(t *testing.T) {
	s := NewScheduler(newTestLogger())
	if err := s.AddTask(ScheduledTask{Name: "unknown", Schedule: "100ms", Action: "does_not_exist"}); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestParseSchedule(t *testing.T) {
	valid := []string{"*/5 * * * *", "@every 5m", "@hourly", "30m", "250ms"}
	for _, v := range valid {
		if _, err := ParseSchedule(v); err != nil {
			t.Errorf("ParseSchedule(%q): %v", v, err)
		}
	}
	invalid := []string{"", "not a schedule", "-5m", "0s"}
	for _, v := range invalid {
		if _, err := ParseSchedule(v); err == nil {
			t.Errorf("ParseSchedule(%q): expected error", v)
		}
	}

	sched, _ := ParseSchedule("90s")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := sched.Next(now); !got.Equal(now.Add(90 * time.Second)) {
		t.Errorf("Next = %v", got)
	}
}

type fakeReaper struct {
	ns      domain.Namespace
	maxIdle time.Duration
}

func (f *fakeReaper) ReapIdle(_ context.Context, ns domain.Namespace, maxIdle time.Duration) []string {
	f.ns, f.maxIdle = ns, maxIdle
	return []string{"old"}
}

func TestReapAction(t *testing.T) {
	r := &fakeReaper{}
	fn := ReapAction(r, domain.NamespaceHTTP, time.Hour, newTestLogger())
	if err := fn(context.Background()); err != nil {
		t.Fatalf("reap: %v", err)
	}
	if r.ns != domain.NamespaceHTTP || r.maxIdle != time.Hour {
		t.Errorf("ReapIdle called with %q, %v", r.ns, r.maxIdle)
	}
}
