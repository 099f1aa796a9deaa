package transport

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feeder/internal/bundle"
	"feeder/internal/notifier"
	"feeder/internal/pickup"
	"feeder/internal/processor"
)

func TestClientTakeAndComplete(t *testing.T) {
	coord, router := setupCoordinator(t, "")
	queued := enqueue(t, coord, "/in/a.txt")
	space := httptest.NewServer(router)
	defer space.Close()

	client := NewClient(time.Second)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx, space.URL, testWorker))
	assert.Equal(t, []string{testWorker}, coord.Workers())

	got, err := client.Take(ctx, space.URL, testWorker)
	require.NoError(t, err)
	assert.Equal(t, queued.ID, got.ID)

	require.NoError(t, client.Complete(ctx, space.URL, testWorker, got.ID, true))
	assert.Equal(t, int64(1), coord.Status().Completed)

	empty, err := client.Take(ctx, space.URL, testWorker)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	require.NoError(t, client.Deregister(ctx, space.URL, testWorker))
	assert.Empty(t, coord.Workers())
}

func TestClientReportsBadStatus(t *testing.T) {
	_, router := setupCoordinator(t, "")
	space := httptest.NewServer(router)
	defer space.Close()

	_, err := NewClient(time.Second).Take(context.Background(), space.URL, "")
	require.ErrorIs(t, err, ErrBadStatus)
}

func TestClientPush(t *testing.T) {
	_, router := setupWorker(t, 1)
	worker := httptest.NewServer(router)
	defer worker.Close()

	client := NewClient(time.Second)
	ctx := context.Background()
	first := bundle.New()
	_, err := first.AddFileName("/in/a.txt")
	require.NoError(t, err)
	second := first.Clone()

	require.NoError(t, client.Push(ctx, worker.URL, "", first))
	require.ErrorIs(t, client.Push(ctx, worker.URL, "", second), ErrWorkerBusy)
}

// A notice over HTTP opens the space on the worker, which then pulls and
// acknowledges everything the coordinator holds.
func TestNoticeDrivesWorkerToDrainSpace(t *testing.T) {
	coord, coordRouter := setupCoordinator(t, "")
	space := httptest.NewServer(coordRouter)
	defer space.Close()
	for _, f := range []string{"/in/a.txt", "/in/b.txt", "/in/c.txt"} {
		enqueue(t, coord, f)
	}

	var mu sync.Mutex
	var processed []string
	proc := processor.Func(func(_ context.Context, b *bundle.Bundle) (bool, error) {
		mu.Lock()
		processed = append(processed, b.FileNames()...)
		mu.Unlock()
		return true, nil
	})
	client := NewClient(time.Second)
	queue := pickup.NewQueue(2)
	pickupSpace := pickup.NewSpace(client, queue, pickup.SpaceOptions{WorkerID: testWorker})
	srv := pickup.NewServer(pickupSpace, queue, proc, pickup.ServerOptions{
		Concurrency:     2,
		PollingInterval: 5 * time.Millisecond,
		TakePause:       time.Millisecond,
	})
	workerRouter := NewRouter("worker")
	NewWorkerAPI(srv).RegisterRoutes(workerRouter)
	worker := httptest.NewServer(workerRouter)
	defer worker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	var sender notifier.Sender = Notices{Client: client, SpaceURL: space.URL}
	require.NoError(t, sender.Notify(ctx, worker.URL))

	deadline := time.Now().Add(3 * time.Second)
	for coord.Status().Completed < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out, status %+v", coord.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	assert.ElementsMatch(t, []string{"/in/a.txt", "/in/b.txt", "/in/c.txt"}, processed)
	mu.Unlock()
	assert.Equal(t, 0, coord.PendingSize())
}
