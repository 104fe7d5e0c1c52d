package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const notificationCollection = "push_notifications"

// Queue implements push.NotificationQueue on a Mongo collection. The claim
// filter doubles as the compare half of a compare-and-swap: eligibility is
// re-evaluated server-side at update time, so concurrent workers cannot
// both reserve one record.
type Queue struct {
	col *mongo.Collection
}

func NewQueue(db *mongo.Database) *Queue {
	return &Queue{col: db.Collection(notificationCollection)}
}

// Enqueue validates the recipient fields and inserts the record.
func (q *Queue) Enqueue(ctx context.Context, n *push.Notification) (bson.ObjectID, error) {
	if _, err := n.Selector(); err != nil {
		return bson.ObjectID{}, err
	}
	if n.CreatedAt == 0 {
		n.CreatedAt = time.Now().UnixMilli()
	}
	res, err := q.col.InsertOne(ctx, n)
	if err != nil {
		return bson.ObjectID{}, fmt.Errorf("notification insert failed: %w", err)
	}
	id := res.InsertedID.(bson.ObjectID)
	n.ID = id
	return id, nil
}

func dueFilter(now int64) bson.M {
	return bson.M{"$and": bson.A{
		bson.M{"sent": false},
		bson.M{"sending": bson.M{"$lt": now}},
		bson.M{"$or": bson.A{
			bson.M{"delayUntil": bson.M{"$exists": false}},
			bson.M{"delayUntil": bson.M{"$lte": now}},
		}},
	}}
}

// FindDue returns up to limit eligible records, oldest first.
func (q *Queue) FindDue(ctx context.Context, now int64, limit int) ([]*push.Notification, error) {
	cur, err := q.col.Find(ctx, dueFilter(now),
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: 1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("due query failed: %w", err)
	}
	var due []*push.Notification
	if err := cur.All(ctx, &due); err != nil {
		return nil, fmt.Errorf("due decode failed: %w", err)
	}
	return due, nil
}

// Claim reserves the record until leaseUntil iff the full eligibility
// predicate still holds at update time. Zero modified documents means
// another worker (or a live lease) won the race.
func (q *Queue) Claim(ctx context.Context, id bson.ObjectID, now, leaseUntil int64) (bool, error) {
	filter := dueFilter(now)
	filter["_id"] = id
	res, err := q.col.UpdateOne(ctx,
		filter,
		bson.M{"$set": bson.M{"sending": leaseUntil}},
	)
	if err != nil {
		return false, fmt.Errorf("claim update failed: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// Archive keeps the record as delivery history.
func (q *Queue) Archive(ctx context.Context, id bson.ObjectID, counts push.DeliveryCounts, sentAt int64) error {
	res, err := q.col.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"sent":    true,
			"sentAt":  sentAt,
			"count":   counts,
			"sending": int64(0),
		}},
	)
	if err != nil {
		return fmt.Errorf("archive update failed: %w", err)
	}
	if res.MatchedCount == 0 {
		return push.ErrNotFound
	}
	return nil
}

// Delete removes the record.
func (q *Queue) Delete(ctx context.Context, id bson.ObjectID) error {
	if _, err := q.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("notification delete failed: %w", err)
	}
	return nil
}

// EnsureIndexes creates the indexes the due scan and recipient queries rely
// on. Safe to call on every startup.
func (q *Queue) EnsureIndexes(ctx context.Context) error {
	_, err := q.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sent", Value: 1}, {Key: "sending", Value: 1}, {Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("queue index creation failed: %w", err)
	}
	return nil
}
