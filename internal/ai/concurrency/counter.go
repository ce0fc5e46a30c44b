package concurrency

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mc-plugin-market/assistant/internal/ai/model"
	errx "github.com/mc-plugin-market/assistant/internal/core/error"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// ErrContended is returned when a decrement lost every compare-and-set race.
var ErrContended = errors.New("concurrency counter contended")

// Counter is the in-flight request count shared by every process using the
// same model credential.
type Counter interface {
	// TryIncrement adds one slot unless the count is already at max.
	TryIncrement(ctx context.Context, modelID string, max int) (count int, ok bool, err error)
	// Decrement removes n of this process's slots, never going below zero.
	Decrement(ctx context.Context, modelID string, n int) (count int, err error)
	Count(ctx context.Context, modelID string) (int, error)
	// Heartbeat marks this process as alive for another TTL.
	Heartbeat(ctx context.Context) error
}

// RedisCounter keeps one hash per model with a field per process holding
// that process's slot count. Each process also owns a heartbeat key with
// the slot TTL, refreshed on every update and by Pool.Start. Fields whose
// heartbeat has expired belong to a crashed process; they are not counted
// and are pruned on the next update.
// Updates are compare-and-set through WATCH/MULTI/EXEC and retried when
// another process wins the race.
type RedisCounter struct {
	rdb        redis.UniversalClient
	prefix     string
	instanceID string
	ttl        time.Duration
	retries    int
}

func NewRedisCounter(rdb redis.UniversalClient, instanceID string, cfg model.LimiterConfig) *RedisCounter {
	retries := cfg.CASRetries
	if retries <= 0 {
		retries = 10
	}
	ttl := cfg.SlotTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCounter{
		rdb:        rdb,
		prefix:     cfg.KeyPrefix,
		instanceID: instanceID,
		ttl:        ttl,
		retries:    retries,
	}
}

func (c *RedisCounter) key(modelID string) string {
	return c.prefix + ":" + modelID
}

func (c *RedisCounter) heartbeatKey(instanceID string) string {
	return c.prefix + ":instance:" + instanceID
}

func (c *RedisCounter) Heartbeat(ctx context.Context) error {
	if err := c.rdb.Set(ctx, c.heartbeatKey(c.instanceID), 1, c.ttl).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

func (c *RedisCounter) TryIncrement(ctx context.Context, modelID string, max int) (int, bool, error) {
	return c.update(ctx, modelID, func(total, own int) (int, bool) {
		if total >= max {
			return own, false
		}
		return own + 1, true
	})
}

func (c *RedisCounter) Decrement(ctx context.Context, modelID string, n int) (int, error) {
	count, applied, err := c.update(ctx, modelID, func(total, own int) (int, bool) {
		return max(own-n, 0), true
	})
	if err == nil && !applied {
		return count, ErrContended
	}
	return count, err
}

// Count sums the slots of live processes.
func (c *RedisCounter) Count(ctx context.Context, modelID string) (int, error) {
	fields, err := c.rdb.HGetAll(ctx, c.key(modelID)).Result()
	if err != nil {
		return 0, errx.WrapRedis(err)
	}
	total, _, _, err := c.tally(ctx, c.rdb, fields)
	if err != nil {
		return 0, errx.WrapRedis(err)
	}
	return total, nil
}

type existsChecker interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// tally returns the live total, this process's own count and the fields
// of processes whose heartbeat is gone.
func (c *RedisCounter) tally(ctx context.Context, rdb existsChecker, fields map[string]string) (total, own int, stale []string, err error) {
	for instance, raw := range fields {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n <= 0 {
			stale = append(stale, instance)
			continue
		}
		if instance == c.instanceID {
			own = n
			total += n
			continue
		}
		alive, err := rdb.Exists(ctx, c.heartbeatKey(instance)).Result()
		if err != nil {
			return 0, 0, nil, err
		}
		if alive == 0 {
			stale = append(stale, instance)
			continue
		}
		total += n
	}
	return total, own, stale, nil
}

// update reads the model hash, asks fn for this process's next slot count
// given the live total and its own count, and writes it only if no other
// client touched the hash in between. Stale fields are dropped in the same
// transaction and an empty hash is deleted. When every retry loses the race
// the update is reported as not applied.
func (c *RedisCounter) update(ctx context.Context, modelID string, fn func(total, own int) (int, bool)) (int, bool, error) {
	key := c.key(modelID)
	var (
		result  int
		applied bool
	)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		total, own, stale, err := c.tally(ctx, tx, fields)
		if err != nil {
			return err
		}
		next, ok := fn(total, own)
		result, applied = total, ok
		if !ok {
			return nil
		}
		if len(stale) > 0 {
			logx.Warn().Str("key", key).Strs("instances", stale).Msg("dropping slots of expired instances")
		}

		remaining := total - own + next
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.heartbeatKey(c.instanceID), 1, c.ttl)
			if len(stale) > 0 {
				pipe.HDel(ctx, key, stale...)
			}
			if next > 0 {
				pipe.HSet(ctx, key, c.instanceID, next)
			} else {
				pipe.HDel(ctx, key, c.instanceID)
			}
			if remaining <= 0 {
				pipe.Del(ctx, key)
			}
			return nil
		})
		if err == nil {
			result = remaining
		}
		return err
	}

	for attempt := 0; attempt < c.retries; attempt++ {
		err := c.rdb.Watch(ctx, txf, key)
		if err == nil {
			return result, applied, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		logx.Error().Err(err).Str("key", key).Msg("Failed to update concurrency counter")
		return 0, false, errx.WrapRedis(err)
	}

	logx.Warn().Str("key", key).Int("retries", c.retries).Msg("concurrency counter update lost every race")
	return result, false, nil
}
