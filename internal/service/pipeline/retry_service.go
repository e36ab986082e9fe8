package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"fable/internal/model/pipeline"
	"fable/internal/taskqueue"
)

// 自动重试退避参数：30s 起步逐次翻倍，封顶 300s
const (
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = 300 * time.Second
)

// backoffDelay 第 attempt 次自动重试的延迟（attempt 从 1 开始）
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		return retryMaxDelay
	}
	return delay
}

// retryStageFor 推断重试应回到的阶段
// 视频清单已经落盘说明生成阶段走完了，回合并阶段；否则回生成阶段
func retryStageFor(job *pipeline.GenerationJob) pipeline.GenerationStatus {
	if job.VideoData != nil && job.VideoData.Statistics != nil && job.VideoData.Statistics.CompletedScenes > 0 {
		return pipeline.GenerationStatusMergingAudio
	}
	return pipeline.GenerationStatusGeneratingVideo
}

// ManualRetry 手动重试入口
// 只有 failed / retrieval_failed 状态可以手动重试，上限 3 次；
// 校验通过后立即把任务投回失败时所在阶段的队列
func (s *Service) ManualRetry(ctx context.Context, jobID string) (*pipeline.GenerationJob, error) {
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", jobID, err)
	}

	if job.GenerationStatus != pipeline.GenerationStatusFailed &&
		job.GenerationStatus != pipeline.GenerationStatusRetrievalFailed {
		return nil, fmt.Errorf("job %s is not in a retryable state: %s", jobID, job.GenerationStatus)
	}
	if job.RetryCount >= pipeline.MaxManualRetries {
		if err := s.jobRepo.UpdateRetryState(ctx, jobID, job.RetryCount, false); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("job %s exceeded max manual retries (%d)", jobID, pipeline.MaxManualRetries)
	}

	stage := retryStageFor(job)
	if err := s.jobRepo.UpdateRetryState(ctx, jobID, job.RetryCount+1, true); err != nil {
		return nil, fmt.Errorf("update retry state: %w", err)
	}

	var enqueueErr error
	switch stage {
	case pipeline.GenerationStatusMergingAudio:
		enqueueErr = s.queue.Enqueue(ctx, taskqueue.QueueAudioVideoMerge, &taskqueue.MergePayload{JobID: jobID})
	default:
		enqueueErr = s.queue.Enqueue(ctx, taskqueue.QueueSceneGeneration, &taskqueue.SceneGenerationPayload{JobID: jobID})
	}
	if enqueueErr != nil {
		return nil, fmt.Errorf("enqueue retry: %w", enqueueErr)
	}

	log.Info().
		Str("job_id", jobID).
		Str("stage", stage.String()).
		Int("retry_count", job.RetryCount+1).
		Msg("手动重试已入队")

	job.RetryCount++
	job.CanResume = true
	return job, nil
}

// scheduleAutoRetry 资源获取类失败后的自动重试调度
// 上限 2 次，超限转终态 failed 且 can_resume 置 false 等待人工介入；
// 未超限则任务进入 retrieval_failed，延迟投递到重试队列
func (s *Service) scheduleAutoRetry(ctx context.Context, job *pipeline.GenerationJob, stage pipeline.GenerationStatus, cause error) error {
	attempt := job.RetryCount + 1
	if attempt > pipeline.MaxAutoRetries {
		log.Error().
			Str("job_id", job.ID).
			Int("attempts", job.RetryCount).
			Msg("自动重试次数耗尽，任务转终态")
		if err := s.jobRepo.UpdateRetryState(ctx, job.ID, job.RetryCount, false); err != nil {
			return err
		}
		return s.failJob(ctx, job, fmt.Sprintf("auto retries exhausted: %s", cause.Error()))
	}

	if err := s.setStatus(ctx, job, pipeline.GenerationStatusRetrievalFailed, cause.Error()); err != nil {
		return err
	}
	if err := s.jobRepo.UpdateRetryState(ctx, job.ID, attempt, true); err != nil {
		return fmt.Errorf("update retry state: %w", err)
	}

	delay := backoffDelay(attempt)
	payload := &taskqueue.RetryPayload{
		JobID:       job.ID,
		FailedStage: stage.String(),
		Attempt:     attempt,
	}
	if err := s.queue.EnqueueIn(ctx, taskqueue.QueueRetryGeneration, payload, delay); err != nil {
		return fmt.Errorf("schedule auto retry: %w", err)
	}

	log.Warn().
		Str("job_id", job.ID).
		Str("stage", stage.String()).
		Int("attempt", attempt).
		Dur("delay", delay).
		Str("cause", cause.Error()).
		Msg("资源获取失败，已调度自动重试")
	return nil
}

// RecoverPendingJobs 启动时恢复扫描
// 进程崩溃会丢掉延迟队列尚未投递的重试任务，把数据库里
// 仍处于 retrieval_failed 且可恢复的任务重新调度一遍
func (s *Service) RecoverPendingJobs(ctx context.Context) (int, error) {
	jobs, err := s.jobRepo.FindByStatus(ctx, pipeline.GenerationStatusRetrievalFailed)
	if err != nil {
		return 0, fmt.Errorf("scan pending jobs: %w", err)
	}

	recovered := 0
	for _, job := range jobs {
		if !job.CanResume {
			continue
		}
		payload := &taskqueue.RetryPayload{
			JobID:       job.ID,
			FailedStage: retryStageFor(job).String(),
			Attempt:     job.RetryCount,
		}
		if err := s.queue.EnqueueIn(ctx, taskqueue.QueueRetryGeneration, payload, backoffDelay(job.RetryCount)); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("恢复调度失败")
			continue
		}
		recovered++
	}

	if recovered > 0 {
		log.Info().Int("count", recovered).Msg("中断任务已重新调度")
	}
	return recovered, nil
}

// HandleRetryTask 重试队列的任务处理器
// 按载荷里的失败阶段把任务送回对应的执行函数
func (s *Service) HandleRetryTask(ctx context.Context, payload *taskqueue.RetryPayload) error {
	log.Info().
		Str("job_id", payload.JobID).
		Str("stage", payload.FailedStage).
		Int("attempt", payload.Attempt).
		Msg("执行自动重试")

	switch payload.FailedStage {
	case pipeline.GenerationStatusMergingAudio.String():
		return s.MergeAudioVideo(ctx, payload.JobID)
	default:
		return s.GenerateSceneVideos(ctx, payload.JobID)
	}
}
