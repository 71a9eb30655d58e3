package generic_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trade-ledger/generic"
)

func TestJob_RunReportsProgress(t *testing.T) {
	job := generic.NewJob(generic.JobConfig{Name: "rebuild"})

	status, err := job.Run(context.Background(), func(_ context.Context, p *generic.Progress) error {
		p.SetTotal(3)
		for i := 1; i <= 3; i++ {
			p.SetCurrent(i)
		}
		return nil
	})

	require.NoError(t, err)
	assert.NotEmpty(t, status.ID)
	assert.Equal(t, 3, status.Current)
	assert.Equal(t, 3, status.Total)
	assert.False(t, status.Running)
	assert.NotNil(t, status.FinishedAt)
	assert.Equal(t, status, job.Status())
}

func TestJob_SecondStartRejected(t *testing.T) {
	// GIVEN: A run blocked mid-flight
	job := generic.NewJob(generic.JobConfig{Name: "rebuild"})
	entered := make(chan struct{})
	unblock := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := job.Run(context.Background(), func(_ context.Context, p *generic.Progress) error {
			p.SetTotal(10)
			p.SetCurrent(4)
			close(entered)
			<-unblock
			return nil
		})
		done <- err
	}()
	<-entered

	// WHEN: A second run starts
	_, err := job.Run(context.Background(), func(context.Context, *generic.Progress) error {
		t.Fatal("second run must not execute")
		return nil
	})

	// THEN: It is rejected and the first run's progress is intact
	assert.ErrorIs(t, err, generic.ErrJobRunning)
	assert.True(t, generic.IsConflict(err))
	status := job.Status()
	assert.True(t, status.Running)
	assert.Equal(t, 4, status.Current)
	assert.Equal(t, 10, status.Total)

	close(unblock)
	require.NoError(t, <-done)

	// A new run is accepted once the slot is free.
	next, err := job.Run(context.Background(), func(context.Context, *generic.Progress) error { return nil })
	require.NoError(t, err)
	assert.NotEqual(t, status.ID, next.ID)
}

func TestJob_FailureRecorded(t *testing.T) {
	job := generic.NewJob(generic.JobConfig{Name: "rebuild"})
	boom := errors.New("write failed")

	status, err := job.Run(context.Background(), func(_ context.Context, p *generic.Progress) error {
		p.SetTotal(5)
		p.SetCurrent(2)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, status.Running)
	assert.Equal(t, 2, status.Current)
	assert.Equal(t, "write failed", status.Error)
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := generic.NewLocalLocker()

	release, err := l.Obtain(ctx, "k")
	require.NoError(t, err)

	_, err = l.Obtain(ctx, "k")
	assert.ErrorIs(t, err, generic.ErrLockNotObtained)

	_, err = l.Obtain(ctx, "other")
	assert.NoError(t, err)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))
	_, err = l.Obtain(ctx, "k")
	assert.NoError(t, err)
}
