package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// Backoffs; tests shorten them.
var (
	redisBackoff   = 3 * time.Second
	requeueBackoff = 2 * time.Second
	shutdownFlush  = 5 * time.Second
)

// batcher drains one Redis list into a buffer and flushes it by size or age.
// A failed bulk write falls back to row-by-row; rows that still fail go back
// on the queue unless the database rejected the data itself.
type batcher[T any] struct {
	queue  string
	rdb    *redis.Client
	log    zerolog.Logger
	bulk   func(ctx context.Context, batch []T) error
	single func(ctx context.Context, item T) error
}

func (b *batcher[T]) run(ctx context.Context) {
	b.log.Info().Str("queue", b.queue).Msg("Worker started")

	buffer := make([]T, 0, BatchSize)
	lastFlush := time.Now()

	for {
		// 1. Flush by size or age
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			b.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			b.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis
		result, err := b.rdb.BLPop(ctx, PollTimeout, b.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			b.log.Error().Err(err).Msgf("Redis connection error, sleeping %s", redisBackoff)
			sleep(ctx, redisBackoff)
			continue
		}
		if len(result) < 2 {
			continue
		}

		// 4. Decode; malformed JSON can never succeed, so it is dropped.
		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			b.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, item)
	}
}

// flushSafe tries the bulk path, then the row-by-row fallback, then requeues.
func (b *batcher[T]) flushSafe(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	err := b.bulk(ctx, batch)
	if err == nil {
		return
	}
	b.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk write failed, attempting row-by-row recovery")

	var requeue []T
	for _, item := range batch {
		if err := b.single(ctx, item); err != nil {
			if permanent(err) {
				b.log.Error().Err(err).Msg("Dropping row rejected by the database")
				continue
			}
			requeue = append(requeue, item)
		}
	}
	if len(requeue) > 0 {
		b.requeue(ctx, requeue)
	}
}

func (b *batcher[T]) requeue(ctx context.Context, items []T) {
	// Requeue must survive a cancelled worker context.
	ctx = context.WithoutCancel(ctx)

	pipe := b.rdb.Pipeline()
	for _, item := range items {
		data, _ := json.Marshal(item)
		pipe.RPush(ctx, b.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	b.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the database is down.
	sleep(ctx, requeueBackoff)
}

func (b *batcher[T]) shutdown(buffer []T) {
	b.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlush)
	defer cancel()
	b.flushSafe(ctx, buffer)

	b.log.Info().Msg("Worker stopped")
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return repository.IsForeignKeyViolation(err) || repository.IsCheckViolation(err)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
