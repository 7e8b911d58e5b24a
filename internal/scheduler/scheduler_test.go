package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-slots/internal/clock"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

var start = time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)

func countingJob(name string, every time.Duration, n *int32) Job {
	return Job{
		Name:     name,
		Schedule: Every(every),
		Run: func(context.Context) error {
			atomic.AddInt32(n, 1)
			return nil
		},
	}
}

func TestRunDueFollowsClock(t *testing.T) {
	fake := clock.NewFake(start)
	s := New(fake, logging.New("error"))
	var sweeps, digests int32
	require.NoError(t, s.Add(countingJob("sweep-holds", 5*time.Minute, &sweeps)))
	require.NoError(t, s.Add(countingJob("upcoming", time.Hour, &digests)))

	ctx := context.Background()
	assert.Empty(t, s.RunDue(ctx))

	fake.Advance(5 * time.Minute)
	assert.Equal(t, []string{"sweep-holds"}, s.RunDue(ctx))
	assert.Empty(t, s.RunDue(ctx))

	fake.Advance(55 * time.Minute)
	assert.ElementsMatch(t, []string{"sweep-holds", "upcoming"}, s.RunDue(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&sweeps))
	assert.Equal(t, int32(1), atomic.LoadInt32(&digests))

	next, ok := s.NextRun("sweep-holds")
	require.True(t, ok)
	assert.Equal(t, start.Add(65*time.Minute), next)
}

func TestAddRejectsDuplicatesAndIncompleteJobs(t *testing.T) {
	s := New(clock.NewFake(start), logging.New("error"))
	var n int32
	require.NoError(t, s.Add(countingJob("a", time.Minute, &n)))
	assert.Error(t, s.Add(countingJob("a", time.Minute, &n)))
	assert.Error(t, s.Add(Job{Name: "b"}))
	require.NoError(t, s.Add(countingJob("c", time.Minute, &n)))
	assert.Equal(t, []string{"a", "c"}, s.Jobs())
}

func TestJobDoesNotOverlapItself(t *testing.T) {
	s := New(clock.NewFake(start), logging.New("error"))
	started := make(chan struct{})
	unblock := make(chan struct{})
	require.NoError(t, s.Add(Job{
		Name:     "slow",
		Schedule: Every(time.Minute),
		Run: func(context.Context) error {
			close(started)
			<-unblock
			return nil
		},
	}))

	ctx := context.Background()
	done := make(chan bool)
	go func() {
		ran, _ := s.RunNow(ctx, "slow")
		done <- ran
	}()
	<-started

	ran, err := s.RunNow(ctx, "slow")
	require.NoError(t, err)
	assert.False(t, ran)

	close(unblock)
	assert.True(t, <-done)

	_, err = s.RunNow(ctx, "missing")
	assert.Error(t, err)
}

func TestJobErrorStillCountsAsRun(t *testing.T) {
	fake := clock.NewFake(start)
	s := New(fake, logging.New("error"))
	require.NoError(t, s.Add(Job{
		Name:     "broken",
		Schedule: Every(time.Minute),
		Run:      func(context.Context) error { return errors.New("db down") },
	}))
	fake.Advance(time.Minute)
	assert.Equal(t, []string{"broken"}, s.RunDue(context.Background()))
}

func TestRedisLockerSkipsWhenAnotherInstanceHoldsLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, "")
	ctx := context.Background()
	require.NoError(t, mr.Set("scheduler:lock:sweep-holds", "other-instance"))

	s := New(clock.NewFake(start), logging.New("error"), WithLocker(locker))
	var n int32
	require.NoError(t, s.Add(countingJob("sweep-holds", time.Minute, &n)))

	ran, err := s.RunNow(ctx, "sweep-holds")
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, atomic.LoadInt32(&n))

	mr.Del("scheduler:lock:sweep-holds")
	ran, err = s.RunNow(ctx, "sweep-holds")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("scheduler:lock:sweep-holds"), "lock released after run")
}

func TestRedisLockerReleaseKeepsForeignLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client, "test:")
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// The lock expired and someone else took it; releasing must not delete theirs.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set("test:job", "someone-else"))
	release(ctx)
	got, err := mr.Get("test:job")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLockerErrorFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	s := New(clock.NewFake(start), logging.New("error"), WithLocker(NewRedisLocker(client, "")))
	var n int32
	require.NoError(t, s.Add(countingJob("sweep-holds", time.Minute, &n)))
	ran, err := s.RunNow(context.Background(), "sweep-holds")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
}

func TestLocalJobIgnoresDistributedLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, mr.Set("scheduler:lock:evict", "other-instance"))

	s := New(clock.NewFake(start), logging.New("error"), WithLocker(NewRedisLocker(client, "")))
	var n int32
	job := countingJob("evict", time.Minute, &n)
	job.Local = true
	require.NoError(t, s.Add(job))

	ran, err := s.RunNow(context.Background(), "evict")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
}
