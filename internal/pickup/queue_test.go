package pickup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feeder/internal/bundle"
)

func oneFile(t *testing.T, name string) *bundle.Bundle {
	t.Helper()
	b := bundle.New()
	_, err := b.AddFileName(name)
	require.NoError(t, err)
	return b
}

func TestQueueIsBoundedFIFO(t *testing.T) {
	q := NewQueue(2)
	a, b, c := oneFile(t, "a"), oneFile(t, "b"), oneFile(t, "c")

	assert.True(t, q.CanHold(2))
	assert.True(t, q.Enqueue(a))
	assert.True(t, q.Enqueue(b))
	assert.False(t, q.CanHold(1))
	assert.False(t, q.Enqueue(c))
	assert.Equal(t, 2, q.Len())

	assert.Equal(t, a.ID, q.Dequeue().ID)
	assert.Equal(t, b.ID, q.Dequeue().ID)
	assert.Nil(t, q.Dequeue())
}

func TestQueueIgnoresEmptyBundles(t *testing.T) {
	q := NewQueue(1)
	assert.True(t, q.Enqueue(nil))
	assert.True(t, q.Enqueue(bundle.New()))
	assert.Equal(t, 0, q.Len())
}

func TestQueueDefaultSize(t *testing.T) {
	assert.Equal(t, DefaultQueueSize, NewQueue(0).Cap())
}

func TestQueueWaitWakesOnEnqueue(t *testing.T) {
	q := NewQueue(1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(oneFile(t, "a"))
	}()
	start := time.Now()
	assert.True(t, q.Wait(context.Background(), 5*time.Second))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.False(t, q.Wait(context.Background(), 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, q.Wait(ctx, time.Hour))
}
