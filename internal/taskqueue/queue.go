package taskqueue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// delayedKey 某个队列的延迟投递 ZSET，score 为到期时间戳
func delayedKey(queue string) string {
	return queue + ":delayed"
}

// Queue Redis 任务队列
// 即时任务 LPUSH 进列表，延迟任务先进 ZSET，到期后由 worker 搬回列表
type Queue struct {
	rdb *redis.Client
}

// NewQueue 创建任务队列
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue 投递即时任务
func (q *Queue) Enqueue(ctx context.Context, queue string, payload any) error {
	data, err := Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	if err := q.rdb.LPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("enqueue to %s: %w", queue, err)
	}

	log.Info().Str("queue", queue).Msg("任务已入队")
	return nil
}

// EnqueueIn 投递延迟任务，delay 后才对 worker 可见
func (q *Queue) EnqueueIn(ctx context.Context, queue string, payload any, delay time.Duration) error {
	data, err := Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}

	dueAt := time.Now().Add(delay)
	member := redis.Z{Score: float64(dueAt.UnixMilli()), Member: data}
	if err := q.rdb.ZAdd(ctx, delayedKey(queue), member).Err(); err != nil {
		return fmt.Errorf("enqueue delayed to %s: %w", queue, err)
	}

	log.Info().
		Str("queue", queue).
		Dur("delay", delay).
		Time("due_at", dueAt).
		Msg("延迟任务已入队")
	return nil
}

// PromoteDue 把某个队列已到期的延迟任务搬回即时列表
// 返回搬运的任务数；worker 循环周期性调用
func (q *Queue) PromoteDue(ctx context.Context, queue string) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	key := delayedKey(queue)

	members, err := q.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "0", Max: now}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed tasks: %w", err)
	}

	promoted := 0
	for _, m := range members {
		// 先删后推，ZRem 返回 0 说明别的 worker 已经抢走了这条任务
		removed, err := q.rdb.ZRem(ctx, key, m).Result()
		if err != nil {
			return promoted, fmt.Errorf("remove delayed task: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, queue, m).Err(); err != nil {
			return promoted, fmt.Errorf("promote delayed task: %w", err)
		}
		promoted++
	}

	if promoted > 0 {
		log.Info().Str("queue", queue).Int("count", promoted).Msg("到期延迟任务已提升")
	}
	return promoted, nil
}
