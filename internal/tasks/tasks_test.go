package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/folio/pkg/types"
)

func newRunner(t *testing.T, concurrency int) *Runner {
	t.Helper()
	r := NewRunner(concurrency, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Close(ctx)
	})
	return r
}

func waitFor(t *testing.T, r *Runner, id string) Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := r.Wait(ctx, id)
	require.NoError(t, err)
	return task
}

func TestRunner_SubmitAndWait(t *testing.T) {
	r := newRunner(t, 2)

	task, err := r.Submit(Spec{Kind: "export", OwnerID: "u1", TargetID: "res1"}, func(ctx context.Context) (any, error) {
		return map[string]int{"created": 3}, nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.NotEmpty(t, task.PickupKey)
	assert.NotEqual(t, task.ID, task.PickupKey)

	done := waitFor(t, r, task.ID)
	assert.Equal(t, StatusDone, done.Status)
	assert.Equal(t, map[string]int{"created": 3}, done.Result)
	assert.False(t, done.EndedAt.Before(done.StartedAt))

	byKey, err := r.ByPickupKey(task.PickupKey)
	require.NoError(t, err)
	assert.Equal(t, task.ID, byKey.ID)
}

func TestRunner_FailedAndPanicking(t *testing.T) {
	r := newRunner(t, 1)

	failed, err := r.Submit(Spec{Kind: "import"}, func(ctx context.Context) (any, error) {
		return nil, errors.New("bad record")
	})
	require.NoError(t, err)
	got := waitFor(t, r, failed.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "bad record", got.Error)
	assert.Nil(t, got.Result)

	panicking, err := r.Submit(Spec{Kind: "import"}, func(ctx context.Context) (any, error) {
		panic("boom")
	})
	require.NoError(t, err)
	got = waitFor(t, r, panicking.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "boom")
}

func TestRunner_Cancel(t *testing.T) {
	r := newRunner(t, 1)
	started := make(chan struct{})

	task, err := r.Submit(Spec{Kind: "maintenance"}, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started

	assert.ErrorIs(t, r.Delete(task.ID), types.ErrInvalidState, "running tasks cannot be deleted")
	require.NoError(t, r.Cancel(task.ID))
	got := waitFor(t, r, task.ID)
	assert.Equal(t, StatusCanceled, got.Status)

	require.NoError(t, r.Delete(task.ID))
	_, err = r.Get(task.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRunner_ConcurrencyBound(t *testing.T) {
	r := newRunner(t, 2)
	var running, peak atomic.Int32
	release := make(chan struct{})

	var ids []string
	for range 5 {
		task, err := r.Submit(Spec{Kind: "export"}, func(ctx context.Context) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
	close(release)
	for _, id := range ids {
		assert.Equal(t, StatusDone, waitFor(t, r, id).Status)
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestRunner_Exclusive(t *testing.T) {
	r := newRunner(t, 1)
	release := make(chan struct{})
	spec := Spec{Kind: "maintenance", TargetID: "text1", Exclusive: true}

	first, err := r.Submit(spec, func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	_, err = r.Submit(spec, func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, types.ErrConflict)

	other := spec
	other.TargetID = "text2"
	_, err = r.Submit(other, func(ctx context.Context) (any, error) { return nil, nil })
	assert.NoError(t, err, "exclusivity is per target")

	close(release)
	waitFor(t, r, first.ID)
	_, err = r.Submit(spec, func(ctx context.Context) (any, error) { return nil, nil })
	assert.NoError(t, err)
}

func TestRunner_ListAndPrune(t *testing.T) {
	r := newRunner(t, 2)
	noop := func(ctx context.Context) (any, error) { return nil, nil }

	a, err := r.Submit(Spec{Kind: "export", OwnerID: "u1"}, noop)
	require.NoError(t, err)
	b, err := r.Submit(Spec{Kind: "export", OwnerID: "u2"}, noop)
	require.NoError(t, err)
	waitFor(t, r, a.ID)
	waitFor(t, r, b.ID)

	assert.Len(t, r.List(""), 2)
	mine := r.List("u1")
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)

	assert.Empty(t, r.Prune(time.Hour), "recent tasks are kept")
	pruned := r.Prune(-time.Second)
	assert.Len(t, pruned, 2)
	assert.Empty(t, r.List(""))
}

func TestRunner_Closed(t *testing.T) {
	r := NewRunner(1, zerolog.Nop())
	require.NoError(t, r.Close(context.Background()))
	_, err := r.Submit(Spec{Kind: "export"}, func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, r.Close(context.Background()), "Close is idempotent")
}
