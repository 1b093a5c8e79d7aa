package janitor

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestRunInvokesTasksUntilCanceled(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		Run(ctx, 10*time.Millisecond, quietLogger(), Task{
			Name: "count",
			Sweep: func(context.Context) int {
				runs.Add(1)
				return 0
			},
		})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("task should run repeatedly, runs=%d", runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run should return after cancel")
	}
}

func TestRunReturnsImmediatelyWithoutInterval(t *testing.T) {
	done := make(chan struct{})
	go func() {
		Run(context.Background(), 0, quietLogger(), Task{Name: "noop", Sweep: func(context.Context) int { return 0 }})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run with zero interval should return immediately")
	}
}

func TestRunOnceSurvivesPanics(t *testing.T) {
	var ran bool
	RunOnce(context.Background(), quietLogger(),
		Task{Name: "boom", Sweep: func(context.Context) int { panic("boom") }},
		Task{Name: "after", Sweep: func(context.Context) int { ran = true; return 1 }},
	)
	if !ran {
		t.Fatalf("tasks after a panicking task should still run")
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
