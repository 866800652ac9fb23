package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsJobsUntilStopped(t *testing.T) {
	s := NewScheduler(nil)

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:       "count",
		Interval:   5 * time.Millisecond,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
}

func TestScheduler_FailingJobKeepsRunning(t *testing.T) {
	s := NewScheduler(nil)

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "flaky",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestScheduler_Add(t *testing.T) {
	noop := func(context.Context) error { return nil }

	tests := map[string]struct {
		job    Job
		expErr bool
	}{
		"valid":            {job: Job{Name: "a", Interval: time.Second, Run: noop}},
		"missing name":     {job: Job{Interval: time.Second, Run: noop}, expErr: true},
		"missing run":      {job: Job{Name: "a", Interval: time.Second}, expErr: true},
		"non-positive ivl": {job: Job{Name: "a", Run: noop}, expErr: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := NewScheduler(nil).Add(test.job)
			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	s := NewScheduler(nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()))
	assert.Error(t, s.Add(Job{Name: "late", Interval: time.Second, Run: func(context.Context) error { return nil }}))
}
