package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	calls   atomic.Int64
	started chan struct{}
	release chan struct{}
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 10), release: make(chan struct{})}
}

func (r *blockingRunner) RunOnce(ctx context.Context) (*models.RunReport, error) {
	r.calls.Add(1)
	r.started <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return models.NewRunReport(time.Now()), r.err
}

func runAsync(t *testing.T, s *Scheduler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func waitStarted(t *testing.T, r *blockingRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run was not started")
	}
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(newBlockingRunner(), "every now and then")
	require.Error(t, err)
}

func TestNew_DefaultSpec(t *testing.T) {
	s, err := New(newBlockingRunner(), "")
	require.NoError(t, err)
	now := time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC)
	require.Equal(t, now.Add(time.Hour), s.Next(now))
	require.Equal(t, DefaultSpec, s.Stats().Schedule)

	s, err = New(newBlockingRunner(), "*/60 * * * *")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 11, 20, 11, 0, 0, 0, time.UTC), s.Next(now))
}

func TestScheduler_TriggerRuns(t *testing.T) {
	r := newBlockingRunner()
	close(r.release)
	s, err := New(r, "@every 1h")
	require.NoError(t, err)

	cancel, done := runAsync(t, s)
	s.Trigger()
	waitStarted(t, r)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, int64(1), r.calls.Load())
	require.NotNil(t, s.Stats().LastTriggerAt)
}

func TestScheduler_OverlappingTriggerSkipped(t *testing.T) {
	r := newBlockingRunner()
	s, err := New(r, "@every 1h")
	require.NoError(t, err)

	cancel, done := runAsync(t, s)
	s.Trigger()
	waitStarted(t, r)

	s.Trigger()
	require.Eventually(t, func() bool { return s.Stats().SkippedRuns == 1 }, 2*time.Second, 5*time.Millisecond)

	close(r.release)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, int64(1), r.calls.Load())
}

func TestScheduler_RunOnStart(t *testing.T) {
	r := newBlockingRunner()
	r.err = errors.New("list pending: boom")
	close(r.release)
	s, err := New(r, "@every 1h")
	require.NoError(t, err)

	cancel, done := runAsync(t, s.WithRunOnStart(true))
	waitStarted(t, r)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestScheduler_StopWaitsForRunningPass(t *testing.T) {
	r := newBlockingRunner()
	s, err := New(r, "@every 1h")
	require.NoError(t, err)

	cancel, done := runAsync(t, s.WithRunOnStart(true))
	waitStarted(t, r)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
