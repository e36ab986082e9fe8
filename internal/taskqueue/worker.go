package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Handler 任务处理函数
type Handler func(ctx context.Context, payload string) error

// BRPop 的阻塞时长，同时也是延迟任务提升的扫描周期
const popTimeout = 5 * time.Second

// Worker 任务队列消费者
// 在注册过的队列上阻塞消费，每轮先提升到期的延迟任务再 BRPOP；
// 处理失败只记日志不重新入队，重试调度由上层业务决定
type Worker struct {
	queue    *Queue
	handlers map[string]Handler
}

// NewWorker 创建消费者
func NewWorker(queue *Queue) *Worker {
	return &Worker{
		queue:    queue,
		handlers: make(map[string]Handler),
	}
}

// Register 注册某个队列的处理函数
func (w *Worker) Register(queueName string, handler Handler) {
	w.handlers[queueName] = handler
	log.Info().Str("queue", queueName).Msg("任务处理器已注册")
}

// Run 启动消费循环，直到 ctx 取消
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	queues := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		queues = append(queues, name)
	}
	log.Info().Strs("queues", queues).Msg("worker 开始消费")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker 退出")
			return ctx.Err()
		default:
		}

		for _, queue := range queues {
			if _, err := w.queue.PromoteDue(ctx, queue); err != nil {
				log.Error().Err(err).Str("queue", queue).Msg("提升延迟任务失败")
			}
		}

		result, err := w.queue.rdb.BRPop(ctx, popTimeout, queues...).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // 超时无任务，回去扫延迟队列
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("BRPOP 失败")
			time.Sleep(time.Second)
			continue
		}

		// result[0] 是队列名，result[1] 是载荷
		queueName, payload := result[0], result[1]
		handler, ok := w.handlers[queueName]
		if !ok {
			log.Error().Str("queue", queueName).Msg("队列没有注册处理器")
			continue
		}

		start := time.Now()
		if err := handler(ctx, payload); err != nil {
			log.Error().
				Err(err).
				Str("queue", queueName).
				Dur("elapsed", time.Since(start)).
				Msg("任务处理失败")
			continue
		}

		log.Info().
			Str("queue", queueName).
			Dur("elapsed", time.Since(start)).
			Msg("任务处理完成")
	}
}
