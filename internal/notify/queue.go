// Package notify delivers loan events to borrowers. Events are published to a
// Redis stream after the ledger commits; a consumer-group worker turns them
// into persisted notifications, so a crashed worker never loses events.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"librarian/internal/app"
	"librarian/internal/store"
)

// QueueConfig tunes the loan event stream. Zero values get safe defaults.
type QueueConfig struct {
	Stream     string
	Group      string
	Consumer   string
	Block      time.Duration
	ClaimIdle  time.Duration
	MaxLen     int64
	ReadCount  int64
	MaxRetries int
}

// Queue is a Redis-streams transport for loan events.
type Queue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	block        time.Duration
	claimIdle    time.Duration
	maxLen       int64
	readCount    int64
	maxRetries   int
	once         sync.Once
}

// NewQueue builds a Queue on an existing Redis client.
func NewQueue(client *redis.Client, cfg QueueConfig) (*Queue, error) {
	if client == nil {
		return nil, errors.New("notify queue requires a redis client")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "librarian:loan-events"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "notifiers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = store.NewID()
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Queue{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		block:        block,
		claimIdle:    claimIdle,
		maxLen:       maxLen,
		readCount:    readCount,
		maxRetries:   maxRetries,
	}, nil
}

// PublishLoanEvent appends the event to the stream. Implements
// app.EventPublisher.
func (q *Queue) PublishLoanEvent(ctx context.Context, e app.LoanEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"event":    payload,
			"attempts": 0,
		},
	}).Err()
}

// Start launches consumer goroutines that run until ctx is canceled. Events
// the handler fails on are re-queued with an attempt counter and dropped
// after the retry budget.
func (q *Queue) Start(ctx context.Context, concurrency int, handler func(context.Context, app.LoanEvent) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *Queue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			// best-effort; errors surface on consume
		}
	})
}

func (q *Queue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, app.LoanEvent) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *Queue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *Queue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, app.LoanEvent) error) {
	raw, _ := msg.Values["event"].(string)
	attempts := parseAttempts(msg.Values["attempts"])
	var event app.LoanEvent
	if raw == "" || json.Unmarshal([]byte(raw), &event) != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if err := handler(ctx, event); err != nil {
		if attempts+1 < q.maxRetries {
			_ = q.client.XAdd(ctx, &redis.XAddArgs{
				Stream: q.stream,
				MaxLen: q.maxLen,
				Approx: true,
				Values: map[string]any{
					"event":    raw,
					"attempts": attempts + 1,
				},
			}).Err()
		}
	}
	q.ackAndDel(ctx, msg.ID)
}

func (q *Queue) ackAndDel(ctx context.Context, msgID string) {
	_ = q.client.XAck(ctx, q.stream, q.group, msgID).Err()
	_ = q.client.XDel(ctx, q.stream, msgID).Err()
}

func parseAttempts(v any) int {
	switch t := v.(type) {
	case string:
		n, _ := strconv.Atoi(t)
		return n
	case int64:
		return int(t)
	default:
		return 0
	}
}
