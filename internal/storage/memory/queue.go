package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Queue is an in-memory push.NotificationQueue with the same claim
// semantics as the Mongo implementation: eligibility is re-checked under
// the lock at claim time, so exactly one of N concurrent claims succeeds.
type Queue struct {
	mu      sync.Mutex
	records map[bson.ObjectID]*push.Notification
}

func NewQueue() *Queue {
	return &Queue{records: make(map[bson.ObjectID]*push.Notification)}
}

// Seed installs a record directly, bypassing Enqueue validation. Test
// fixture helper.
func (q *Queue) Seed(n push.Notification) bson.ObjectID {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n.ID.IsZero() {
		n.ID = bson.NewObjectID()
	}
	q.records[n.ID] = &n
	return n.ID
}

// Get returns a copy of the stored record.
func (q *Queue) Get(id bson.ObjectID) (push.Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, ok := q.records[id]
	if !ok {
		return push.Notification{}, false
	}
	return *n, true
}

// Len reports the number of stored records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

func (q *Queue) Enqueue(_ context.Context, n *push.Notification) (bson.ObjectID, error) {
	if _, err := n.Selector(); err != nil {
		return bson.ObjectID{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if n.CreatedAt == 0 {
		n.CreatedAt = time.Now().UnixMilli()
	}
	if n.ID.IsZero() {
		n.ID = bson.NewObjectID()
	}
	stored := *n
	q.records[n.ID] = &stored
	return n.ID, nil
}

func (q *Queue) FindDue(_ context.Context, now int64, limit int) ([]*push.Notification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*push.Notification
	for _, n := range q.records {
		if n.Eligible(now) {
			copied := *n
			due = append(due, &copied)
		}
	}
	slices.SortFunc(due, func(a, b *push.Notification) int {
		switch {
		case a.CreatedAt < b.CreatedAt:
			return -1
		case a.CreatedAt > b.CreatedAt:
			return 1
		}
		return 0
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (q *Queue) Claim(_ context.Context, id bson.ObjectID, now, leaseUntil int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, ok := q.records[id]
	if !ok || !n.Eligible(now) {
		return false, nil
	}
	n.Sending = leaseUntil
	return true, nil
}

func (q *Queue) Archive(_ context.Context, id bson.ObjectID, counts push.DeliveryCounts, sentAt int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, ok := q.records[id]
	if !ok {
		return push.ErrNotFound
	}
	n.Sent = true
	n.SentAt = sentAt
	n.Count = &counts
	n.Sending = 0
	return nil
}

func (q *Queue) Delete(_ context.Context, id bson.ObjectID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.records, id)
	return nil
}
