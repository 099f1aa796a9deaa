package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feeder/internal/bundle"
)

const (
	workerA = "http://worker-a:7101/"
	workerB = "http://worker-b:7101/"
)

func newTestCoordinator(t *testing.T, mutate func(*Options)) *Coordinator {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	c := New(opts)
	c.modTime = func(string) int64 { return 1000 }
	return c
}

func collected(t *testing.T, priority int, files ...string) *bundle.Bundle {
	t.Helper()
	b := bundle.New()
	b.Priority = priority
	for _, f := range files {
		_, err := b.AddFile(f, 1000, 10)
		require.NoError(t, err)
	}
	return b
}

func TestTakeFollowsPriority(t *testing.T) {
	c := newTestCoordinator(t, nil)
	for _, p := range []int{3, 1, 2} {
		c.EnqueueCollected(collected(t, p, fmt.Sprintf("/in/%d.txt", p)))
	}

	var got []int
	for i := 0; i < 3; i++ {
		b := c.Take(workerA)
		require.False(t, b.IsEmpty())
		got = append(got, b.Priority)
		assert.Equal(t, "worker-a:7101", bundle.Deref(b.SentTo))
	}
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 3, c.PendingSize())
	assert.Equal(t, 0, c.OutboundSize())
	assert.Equal(t, 3, c.Status().TakenBy["worker-a:7101"])
}

func TestTakeWithSortMode(t *testing.T) {
	c := newTestCoordinator(t, func(o *Options) { o.SortMode = bundle.SortLargestFirst })
	small := collected(t, 5, "/in/small")
	large := collected(t, 5, "/in/large")
	large.TotalFileSize = 1 << 20
	c.EnqueueCollected(small)
	c.EnqueueCollected(large)

	assert.Equal(t, large.ID, c.Take(workerA).ID)
	assert.Equal(t, small.ID, c.Take(workerA).ID)
}

func TestTakeOnEmptyReturnsSentinel(t *testing.T) {
	c := newTestCoordinator(t, nil)
	b := c.Take(workerA)
	require.NotNil(t, b)
	assert.True(t, b.IsEmpty())
	assert.Equal(t, 0, c.PendingSize())

	st := c.Status()
	assert.Equal(t, []string{"worker-a:7101"}, st.NoMoreWork)
	assert.Empty(t, st.TakenBy)
}

func TestSimpleSuccess(t *testing.T) {
	c := newTestCoordinator(t, nil)
	b := collected(t, 5, "/in/a.txt", "/in/b.txt")
	c.EnqueueCollected(b)

	taken := c.Take(workerA)
	assert.Equal(t, b.ID, taken.ID)
	assert.Equal(t, []string{"/in/a.txt", "/in/b.txt"}, taken.FileNames())

	assert.True(t, c.BundleCompleted(workerA, taken.ID, true))
	assert.Equal(t, 0, c.PendingSize())
	assert.Equal(t, 0, c.OutboundSize())

	st := c.Status()
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, int64(2), st.FilesCollected)
	assert.Equal(t, int64(1), st.BundlesCollected)
	assert.Equal(t, int64(20), st.BytesCollected)
	assert.Equal(t, 0, st.FilesSeen)
	assert.Equal(t, 2, st.FilesDone)
}

func TestCompletionIsIdempotent(t *testing.T) {
	c := newTestCoordinator(t, nil)
	c.EnqueueCollected(collected(t, 5, "/in/a.txt"))
	b := c.Take(workerA)

	assert.True(t, c.BundleCompleted(workerA, b.ID, true))
	assert.False(t, c.BundleCompleted(workerA, b.ID, true))
	assert.False(t, c.BundleCompleted(workerA, b.ID, false))
	assert.False(t, c.BundleCompleted(workerA, "never-issued", true))

	st := c.Status()
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, int64(2), st.Duplicates)
	assert.Equal(t, 0, st.Outbound, "a late failure notice must not resurrect the bundle")
}

func TestCompletionFromOtherWorkerIgnored(t *testing.T) {
	c := newTestCoordinator(t, nil)
	c.EnqueueCollected(collected(t, 5, "/in/a.txt"))
	b := c.Take(workerA)

	assert.False(t, c.BundleCompleted(workerB, b.ID, true))
	assert.Equal(t, 1, c.PendingSize())
	assert.True(t, c.BundleCompleted(workerA, b.ID, true))
}

func TestFailureRequeuesSameBundle(t *testing.T) {
	c := newTestCoordinator(t, nil)
	c.EnqueueCollected(collected(t, 5, "/in/a.txt"))
	first := c.Take(workerA)

	require.True(t, c.BundleCompleted(workerA, first.ID, false))
	assert.Equal(t, 1, c.OutboundSize())

	again := c.Take(workerB)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, again.ErrorCount)
	assert.Equal(t, "worker-b:7101", bundle.Deref(again.SentTo))
}

func TestRetriesAreCapped(t *testing.T) {
	c := newTestCoordinator(t, nil)
	b := collected(t, 5, "/in/poison.bin")
	c.EnqueueCollected(b)

	for i := 0; i < 6; i++ {
		taken := c.Take(workerA)
		require.Equal(t, b.ID, taken.ID, "attempt %d", i+1)
		require.True(t, c.BundleCompleted(workerA, taken.ID, false))
	}

	assert.Equal(t, 0, c.OutboundSize())
	assert.Equal(t, 0, c.PendingSize())
	assert.True(t, c.Take(workerA).IsEmpty())

	st := c.Status()
	assert.Equal(t, int64(6), st.Failed)
	assert.Equal(t, int64(5), st.Retried)
	assert.Equal(t, int64(1), st.Discarded)
}

func TestWorkerLossRecoversPending(t *testing.T) {
	c := newTestCoordinator(t, nil)
	require.True(t, c.AddWorker(workerA))
	require.True(t, c.AddWorker(workerB))
	c.EnqueueCollected(collected(t, 1, "/in/1"))
	c.EnqueueCollected(collected(t, 2, "/in/2"))
	c.EnqueueCollected(collected(t, 3, "/in/3"))

	lostOne := c.Take(workerA)
	kept := c.Take(workerB)
	lostTwo := c.Take(workerA)

	assert.Equal(t, 2, c.RemoveWorker(workerA))
	assert.Equal(t, []string{workerB}, c.Workers())
	assert.Equal(t, 1, c.PendingSize())
	assert.Equal(t, 2, c.OutboundSize())

	ids := map[string]bool{}
	for i := 0; i < 2; i++ {
		b := c.Take(workerB)
		ids[b.ID] = true
		assert.Equal(t, 1, b.ErrorCount)
	}
	assert.True(t, ids[lostOne.ID])
	assert.True(t, ids[lostTwo.ID])
	assert.False(t, ids[kept.ID])
}

func TestRemoveWorkerWithoutRetryStrategy(t *testing.T) {
	c := newTestCoordinator(t, func(o *Options) { o.RetryStrategy = false })
	c.AddWorker(workerA)
	c.EnqueueCollected(collected(t, 1, "/in/1"))
	c.Take(workerA)

	assert.Equal(t, 0, c.RemoveWorker(workerA))
	assert.Equal(t, 1, c.PendingSize())
}

func TestReRegistrationRecoversWork(t *testing.T) {
	c := newTestCoordinator(t, nil)
	require.True(t, c.AddWorker(workerA))
	c.EnqueueCollected(collected(t, 1, "/in/1"))
	b := c.Take(workerA)

	assert.True(t, c.AddWorker(workerA), "restarted worker is re-added")
	assert.Equal(t, []string{workerA}, c.Workers())
	assert.Equal(t, 0, c.PendingSize())
	assert.Equal(t, b.ID, c.Take(workerA).ID)
}

func TestAddWorkerIsIdempotentWithoutRetryStrategy(t *testing.T) {
	c := newTestCoordinator(t, func(o *Options) { o.RetryStrategy = false })
	assert.True(t, c.AddWorker(workerA))
	assert.False(t, c.AddWorker(workerA))
	assert.Len(t, c.Workers(), 1)
}

func TestRotateWorkers(t *testing.T) {
	c := newTestCoordinator(t, nil)
	for _, w := range []string{"a", "b", "c"} {
		c.AddWorker(w)
	}
	before := c.Workers()
	c.RotateWorkers()
	assert.Equal(t, []string{"b", "c", "a"}, c.Workers())
	assert.Equal(t, []string{"a", "b", "c"}, before, "earlier snapshots are not mutated")
}

func TestAdmitSkipsQueuedAndSettledFiles(t *testing.T) {
	c := newTestCoordinator(t, nil)
	assert.True(t, c.Admit("/in/a.txt", 1000))

	c.EnqueueCollected(collected(t, 5, "/in/a.txt"))
	assert.False(t, c.Admit("/in/a.txt", 1000), "queued file with unchanged mtime")
	assert.True(t, c.Admit("/in/a.txt", 2000), "modified file is collected again")

	b := c.Take(workerA)
	require.True(t, c.BundleCompleted(workerA, b.ID, true))
	assert.False(t, c.Admit("/in/a.txt", 1000), "settled file with unchanged mtime")
	c.FinishPass()
	assert.False(t, c.Admit("/in/a.txt", 1000), "settled file still in place stays skipped across passes")
	assert.Equal(t, 1, c.Status().FilesDone)

	assert.True(t, c.Admit("/in/a.txt", 3000), "settled file modified since")
	assert.Equal(t, 0, c.Status().FilesDone)
}

func TestFinishPassForgetsMovedFiles(t *testing.T) {
	c := newTestCoordinator(t, nil)
	c.EnqueueCollected(collected(t, 5, "/in/a.txt", "/in/b.txt"))
	b := c.Take(workerA)
	require.True(t, c.BundleCompleted(workerA, b.ID, true))
	require.Equal(t, 2, c.Status().FilesDone)

	// a.txt has been moved away, b.txt is untouched
	c.modTime = func(name string) int64 {
		if name == "/in/a.txt" {
			return 0
		}
		return 1000
	}
	c.FinishPass()
	assert.Equal(t, 1, c.Status().FilesDone)
	assert.True(t, c.Admit("/in/a.txt", 1000), "a file that reappears is collected")
	assert.False(t, c.Admit("/in/b.txt", 1000))
}

func TestHangTimeoutDropsPending(t *testing.T) {
	c := newTestCoordinator(t, func(o *Options) { o.PendingHangTime = time.Minute })
	c.EnqueueCollected(collected(t, 5, "/in/a.txt"))
	start := time.Unix(1_700_000_000, 0)

	assert.Equal(t, 0, c.checkHang(start), "outbound still has work")
	c.Take(workerA)

	assert.Equal(t, 0, c.checkHang(start), "empty timestamp recorded")
	assert.Equal(t, 0, c.checkHang(start.Add(30*time.Second)))
	assert.Equal(t, 1, c.checkHang(start.Add(61*time.Second)))
	assert.Equal(t, 0, c.PendingSize())
	assert.True(t, c.Admit("/in/a.txt", 1000), "dropped files are no longer seen")
	assert.Equal(t, int64(1), c.Status().HangTimeouts)
}

func TestHangTimerResetsWhenOutboundRefills(t *testing.T) {
	c := newTestCoordinator(t, func(o *Options) { o.PendingHangTime = time.Minute })
	start := time.Unix(1_700_000_000, 0)
	c.EnqueueCollected(collected(t, 5, "/in/a.txt"))
	c.Take(workerA)
	c.checkHang(start)

	c.EnqueueCollected(collected(t, 5, "/in/b.txt"))
	c.checkHang(start.Add(50 * time.Second))
	c.Take(workerA)
	c.checkHang(start.Add(55 * time.Second))

	assert.Equal(t, 0, c.checkHang(start.Add(90*time.Second)))
	assert.Equal(t, 2, c.PendingSize())
}

func TestHangTimerResetsWhenWorkIsQueuedBetweenTicks(t *testing.T) {
	c := newTestCoordinator(t, func(o *Options) { o.PendingHangTime = time.Minute })
	start := time.Unix(1_700_000_000, 0)
	c.EnqueueCollected(collected(t, 5, "/in/a.txt"))
	c.Take(workerA)
	assert.Equal(t, 0, c.checkHang(start), "empty timestamp recorded")

	// queued and taken again with no tick in between
	c.EnqueueCollected(collected(t, 5, "/in/b.txt"))
	c.Take(workerA)

	assert.Equal(t, 0, c.checkHang(start.Add(61*time.Second)), "outbound was not empty for the whole minute")
	assert.Equal(t, 2, c.PendingSize())
	assert.Equal(t, 0, c.checkHang(start.Add(100*time.Second)))
	assert.Equal(t, 2, c.checkHang(start.Add(122*time.Second)))
}

func TestHangTimeoutIgnoredInLoopMode(t *testing.T) {
	c := newTestCoordinator(t, func(o *Options) {
		o.PendingHangTime = time.Second
		o.Loop = true
	})
	c.EnqueueCollected(collected(t, 5, "/in/a.txt"))
	c.Take(workerA)
	start := time.Now()
	c.checkHang(start)
	assert.Equal(t, 0, c.checkHang(start.Add(time.Hour)))
	assert.Equal(t, 1, c.PendingSize())
}

func TestRunExitsWhenStoppedAndDrained(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t, func(o *Options) {
		o.MonitorInterval = 10 * time.Millisecond
		o.DataDir = dir
	})
	c.EnqueueCollected(collected(t, 5, "/in/a.txt"))

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	c.Stop()
	select {
	case <-done:
		t.Fatal("run returned while work was outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	b := c.Take(workerA)
	require.True(t, c.BundleCompleted(workerA, b.ID, true))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after draining")
	}

	st, err := c.Store().LoadStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Stopping)
	assert.Equal(t, int64(1), st.Completed)
}

func TestRunHonoursContext(t *testing.T) {
	c := newTestCoordinator(t, func(o *Options) { o.MonitorInterval = 10 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
}

func TestExitWhenDoneStopsAfterCollectors(t *testing.T) {
	c := newTestCoordinator(t, func(o *Options) { o.ExitWhenDone = true })
	doneA := c.CollectorStarted()
	doneB := c.CollectorStarted()
	assert.False(t, c.CollectorsDone())

	doneA()
	doneA()
	assert.False(t, c.Stopping())
	doneB()
	assert.True(t, c.CollectorsDone())
	assert.True(t, c.Stopping())
	assert.True(t, c.Finished())
}

func TestForceFailPending(t *testing.T) {
	c := newTestCoordinator(t, nil)
	c.EnqueueCollected(collected(t, 5, "/in/a.txt"))
	c.EnqueueCollected(collected(t, 5, "/in/b.txt"))
	c.Take(workerA)
	c.Take(workerA)
	require.Len(t, c.PendingBundles(), 2)

	assert.Equal(t, 2, c.ForceFailPending("operator request"))
	assert.Empty(t, c.PendingBundles())
	assert.Equal(t, 0, c.OutboundSize())
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "worker-a:7101", HostOf(workerA))
	assert.Equal(t, "plain-name", HostOf("plain-name"))
}
