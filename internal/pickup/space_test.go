package pickup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	spaceA = "http://coord-a:7001"
	spaceB = "http://coord-b:7001"
)

func newTestSpace(client Client, queue *Queue) *Space {
	return NewSpace(client, queue, SpaceOptions{WorkerID: "http://me:7101", CompleteBackoff: time.Millisecond})
}

func TestOpenAndCloseSpaces(t *testing.T) {
	s := newTestSpace(newFakeClient(), NewQueue(5))
	assert.True(t, s.OpenSpace(spaceA))
	assert.False(t, s.OpenSpace(spaceA))
	assert.True(t, s.OpenSpace(spaceB))
	assert.Equal(t, 2, s.SpaceCount())
	assert.Equal(t, []string{spaceA, spaceB}, s.SpaceNames())

	assert.True(t, s.CloseSpace(spaceA))
	assert.False(t, s.CloseSpace(spaceA))
	assert.Equal(t, []string{spaceB}, s.SpaceNames())
}

func TestTakeOnePerSpaceAndCloseOnEmpty(t *testing.T) {
	client := newFakeClient()
	client.add(spaceA, oneFile(t, "a1"), oneFile(t, "a2"))
	q := NewQueue(5)
	s := newTestSpace(client, q)
	s.OpenSpace(spaceA)
	s.OpenSpace(spaceB)

	assert.Equal(t, 1, s.Take(context.Background()))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, []string{spaceA}, s.SpaceNames(), "empty reply closes the space")
	assert.Equal(t, 1, s.LastBundleSize(spaceA))

	assert.Equal(t, 1, s.Take(context.Background()))
	assert.Equal(t, 0, s.Take(context.Background()))
	assert.Zero(t, s.SpaceCount())
	assert.Equal(t, 2, q.Len())
}

func TestRepeatedTakeErrorsCloseSpace(t *testing.T) {
	client := newFakeClient()
	client.takeErr[spaceA] = errors.New("connection refused")
	s := newTestSpace(client, NewQueue(5))
	s.OpenSpace(spaceA)

	for i := 1; i <= defaultTakeErrorMax; i++ {
		s.Take(context.Background())
		require.Equal(t, i, s.ConsecutiveTakeErrors(spaceA))
		require.Equal(t, 1, s.SpaceCount())
	}
	s.Take(context.Background())
	assert.Zero(t, s.SpaceCount())
}

func TestTakeErrorStreakResetsOnSuccess(t *testing.T) {
	client := newFakeClient()
	client.takeErr[spaceA] = errors.New("timeout")
	s := newTestSpace(client, NewQueue(5))
	s.OpenSpace(spaceA)
	s.Take(context.Background())
	s.Take(context.Background())
	require.Equal(t, 2, s.ConsecutiveTakeErrors(spaceA))

	client.mu.Lock()
	delete(client.takeErr, spaceA)
	client.mu.Unlock()
	client.add(spaceA, oneFile(t, "x"))
	s.Take(context.Background())
	assert.Zero(t, s.ConsecutiveTakeErrors(spaceA))
}

func TestFullQueueHandsBundleBack(t *testing.T) {
	client := newFakeClient()
	b := oneFile(t, "a")
	client.add(spaceA, b)
	q := NewQueue(1)
	require.True(t, q.Enqueue(oneFile(t, "blocker")))
	s := newTestSpace(client, q)
	s.OpenSpace(spaceA)

	assert.Equal(t, 0, s.Take(context.Background()))
	assert.Equal(t, []completion{{space: spaceA, worker: "http://me:7101", bundleID: b.ID, ok: false}}, client.done())
	assert.Zero(t, s.Pending())
}

func TestBundleCompletedRoutesToOwner(t *testing.T) {
	client := newFakeClient()
	a, b := oneFile(t, "a"), oneFile(t, "b")
	client.add(spaceA, a)
	client.add(spaceB, b)
	s := newTestSpace(client, NewQueue(5))
	s.OpenSpace(spaceA)
	s.OpenSpace(spaceB)
	require.Equal(t, 2, s.Take(context.Background()))
	s.CloseSpace(spaceB)

	require.NoError(t, s.BundleCompleted(context.Background(), b.ID, true))
	require.NoError(t, s.BundleCompleted(context.Background(), a.ID, false))
	assert.Equal(t, []completion{
		{space: spaceB, worker: "http://me:7101", bundleID: b.ID, ok: true},
		{space: spaceA, worker: "http://me:7101", bundleID: a.ID, ok: false},
	}, client.done())

	assert.ErrorIs(t, s.BundleCompleted(context.Background(), a.ID, true), ErrUnknownBundle)
}

func TestBundleCompletedRetries(t *testing.T) {
	client := newFakeClient()
	client.completeFail = 2
	s := newTestSpace(client, NewQueue(5))
	s.Adopt("bundle-1", spaceA)

	require.NoError(t, s.BundleCompleted(context.Background(), "bundle-1", true))
	assert.Len(t, client.done(), 1)

	client.completeFail = 100
	s.Adopt("bundle-2", spaceA)
	assert.Error(t, s.BundleCompleted(context.Background(), "bundle-2", true))
}
