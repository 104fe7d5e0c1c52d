package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tinywideclouds/go-push-service/internal/storage/memory"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func enqueue(t *testing.T, q *memory.Queue, n *push.Notification) bson.ObjectID {
	t.Helper()
	id, err := q.Enqueue(context.Background(), n)
	require.NoError(t, err)
	return id
}

func TestQueueEnqueue(t *testing.T) {
	ctx := context.Background()
	q := memory.NewQueue()

	t.Run("valid notification gets an id", func(t *testing.T) {
		n, err := push.NewNotification("hi", "body", push.ByUsers("u1"))
		require.NoError(t, err)

		id, err := q.Enqueue(ctx, n)
		require.NoError(t, err)
		assert.False(t, id.IsZero())
	})

	t.Run("record without recipients is rejected", func(t *testing.T) {
		_, err := q.Enqueue(ctx, &push.Notification{Title: "hi"})
		assert.ErrorIs(t, err, push.ErrMalformedNotification)
	})
}

func TestQueueFindDue(t *testing.T) {
	ctx := context.Background()
	now := int64(1_000_000)
	q := memory.NewQueue()

	oldest := &push.Notification{Title: "a", UserIDs: []string{"u"}, CreatedAt: 1}
	newest := &push.Notification{Title: "b", UserIDs: []string{"u"}, CreatedAt: 2}
	delayed := &push.Notification{Title: "c", UserIDs: []string{"u"}, CreatedAt: 3, DelayUntil: now + 1}
	sent := &push.Notification{Title: "d", UserIDs: []string{"u"}, CreatedAt: 4, Sent: true}
	claimed := &push.Notification{Title: "e", UserIDs: []string{"u"}, CreatedAt: 5, Sending: now + 30_000}

	enqueue(t, q, newest)
	enqueue(t, q, oldest)
	enqueue(t, q, delayed)
	enqueue(t, q, sent)
	enqueue(t, q, claimed)

	t.Run("returns only eligible records oldest first", func(t *testing.T) {
		due, err := q.FindDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "a", due[0].Title)
		assert.Equal(t, "b", due[1].Title)
	})

	t.Run("respects the batch limit", func(t *testing.T) {
		due, err := q.FindDue(ctx, now, 1)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "a", due[0].Title)
	})

	t.Run("expired lease makes a record due again", func(t *testing.T) {
		due, err := q.FindDue(ctx, now+40_000, 10)
		require.NoError(t, err)
		// delayed, claimed-with-expired-lease, oldest and newest; sent stays out
		assert.Len(t, due, 4)
	})
}

func TestQueueClaim(t *testing.T) {
	ctx := context.Background()
	now := int64(1_000_000)
	lease := now + 30_000

	t.Run("first claim wins, repeat claim loses", func(t *testing.T) {
		q := memory.NewQueue()
		id := enqueue(t, q, &push.Notification{Title: "x", UserIDs: []string{"u"}})

		ok, err := q.Claim(ctx, id, now, lease)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = q.Claim(ctx, id, now, lease)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("exactly one of N concurrent claims succeeds", func(t *testing.T) {
		q := memory.NewQueue()
		id := enqueue(t, q, &push.Notification{Title: "x", UserIDs: []string{"u"}})

		const workers = 16
		var wg sync.WaitGroup
		wins := make(chan struct{}, workers)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := q.Claim(ctx, id, now, lease)
				require.NoError(t, err)
				if ok {
					wins <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(wins)
		assert.Len(t, wins, 1)
	})

	t.Run("claim after lease expiry succeeds", func(t *testing.T) {
		q := memory.NewQueue()
		id := enqueue(t, q, &push.Notification{Title: "x", UserIDs: []string{"u"}})

		ok, err := q.Claim(ctx, id, now, lease)
		require.NoError(t, err)
		require.True(t, ok)

		later := lease + 1
		ok, err = q.Claim(ctx, id, later, later+30_000)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("claim re-checks the delay at update time", func(t *testing.T) {
		q := memory.NewQueue()
		id := enqueue(t, q, &push.Notification{
			Title:      "x",
			UserIDs:    []string{"u"},
			DelayUntil: now + 60_000,
		})

		// A direct claim must fail while the record is held back, even
		// though nothing else holds a lease.
		ok, err := q.Claim(ctx, id, now, lease)
		require.NoError(t, err)
		assert.False(t, ok)

		afterDelay := now + 60_001
		ok, err = q.Claim(ctx, id, afterDelay, afterDelay+30_000)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("claim of a missing record fails", func(t *testing.T) {
		q := memory.NewQueue()
		ok, err := q.Claim(ctx, bson.NewObjectID(), now, lease)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestQueueArchive(t *testing.T) {
	ctx := context.Background()
	q := memory.NewQueue()
	id := enqueue(t, q, &push.Notification{Title: "x", UserIDs: []string{"u"}})

	counts := push.DeliveryCounts{APN: 1, Web: 2}
	require.NoError(t, q.Archive(ctx, id, counts, 123))

	n, ok := q.Get(id)
	require.True(t, ok)
	assert.True(t, n.Sent)
	assert.Equal(t, int64(123), n.SentAt)
	assert.Zero(t, n.Sending)
	require.NotNil(t, n.Count)
	assert.Equal(t, 3, n.Count.Total())

	// archived records never come due again
	due, err := q.FindDue(ctx, 1<<60, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	assert.ErrorIs(t, q.Archive(ctx, bson.NewObjectID(), counts, 123), push.ErrNotFound)
}

func TestQueueDelete(t *testing.T) {
	ctx := context.Background()
	q := memory.NewQueue()
	id := enqueue(t, q, &push.Notification{Title: "x", UserIDs: []string{"u"}})

	require.NoError(t, q.Delete(ctx, id))
	assert.Zero(t, q.Len())
	// idempotent
	assert.NoError(t, q.Delete(ctx, id))
}
