package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Tracker keeps funnel analytics as Redis counters:
//
//	INCR    funnel:quiz:{quizID}:impressions
//	INCR    funnel:quiz:{quizID}:completions
//	HINCRBY funnel:quiz:{quizID}:dropoffs {elementID} 1
type Tracker struct {
	client *redis.Client
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

func (t *Tracker) RecordImpression(ctx context.Context, quizID string) error {
	return t.client.Incr(ctx, "funnel:quiz:"+quizID+":impressions").Err()
}

func (t *Tracker) RecordCompletion(ctx context.Context, quizID string) error {
	return t.client.Incr(ctx, "funnel:quiz:"+quizID+":completions").Err()
}

func (t *Tracker) RecordDropOff(ctx context.Context, quizID, elementID string) error {
	return t.client.HIncrBy(ctx, "funnel:quiz:"+quizID+":dropoffs", elementID, 1).Err()
}
