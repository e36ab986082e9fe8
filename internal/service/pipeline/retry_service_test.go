package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"fable/internal/model/pipeline"
	"fable/internal/taskqueue"
)

func TestBackoffDelay(t *testing.T) {
	Convey("自动重试退避", t, func() {
		Convey("30 秒起步逐次翻倍", func() {
			So(backoffDelay(1), ShouldEqual, 30*time.Second)
			So(backoffDelay(2), ShouldEqual, 60*time.Second)
			So(backoffDelay(3), ShouldEqual, 120*time.Second)
			So(backoffDelay(4), ShouldEqual, 240*time.Second)
		})

		Convey("封顶 300 秒", func() {
			So(backoffDelay(5), ShouldEqual, 300*time.Second)
			So(backoffDelay(10), ShouldEqual, 300*time.Second)
		})

		Convey("非法次数按第 1 次处理", func() {
			So(backoffDelay(0), ShouldEqual, 30*time.Second)
			So(backoffDelay(-3), ShouldEqual, 30*time.Second)
		})
	})
}

func TestRetryStageFor(t *testing.T) {
	Convey("重试阶段推断", t, func() {
		Convey("视频清单已有完成场景时回合并阶段", func() {
			job := &pipeline.GenerationJob{
				VideoData: &pipeline.VideoData{
					Statistics: &pipeline.VideoStatistics{CompletedScenes: 2},
				},
			}
			So(retryStageFor(job), ShouldEqual, pipeline.GenerationStatusMergingAudio)
		})

		Convey("没有完成场景时回生成阶段", func() {
			So(retryStageFor(&pipeline.GenerationJob{}), ShouldEqual, pipeline.GenerationStatusGeneratingVideo)

			job := &pipeline.GenerationJob{
				VideoData: &pipeline.VideoData{Statistics: &pipeline.VideoStatistics{}},
			}
			So(retryStageFor(job), ShouldEqual, pipeline.GenerationStatusGeneratingVideo)
		})
	})
}

func TestManualRetry(t *testing.T) {
	ctx := context.Background()

	failedJob := func(env *testEnv, retryCount int) *pipeline.GenerationJob {
		job := env.twoSceneJob(ctx)
		stored := env.jobs.get(job.ID)
		stored.GenerationStatus = pipeline.GenerationStatusFailed
		stored.RetryCount = retryCount
		return stored
	}

	Convey("手动重试", t, func() {
		Convey("失败任务重试回生成队列", func() {
			env := newTestEnv(t.TempDir())
			job := failedJob(env, 0)

			updated, err := env.svc.ManualRetry(ctx, job.ID)
			So(err, ShouldBeNil)
			So(updated.RetryCount, ShouldEqual, 1)
			So(updated.CanResume, ShouldBeTrue)

			tasks := env.queue.all()
			So(len(tasks), ShouldEqual, 1)
			So(tasks[0].queue, ShouldEqual, taskqueue.QueueSceneGeneration)
			So(tasks[0].payload.(*taskqueue.SceneGenerationPayload).JobID, ShouldEqual, job.ID)
		})

		Convey("生成阶段已走完的任务重试回合并队列", func() {
			env := newTestEnv(t.TempDir())
			job := failedJob(env, 0)
			job.VideoData = &pipeline.VideoData{
				Statistics: &pipeline.VideoStatistics{CompletedScenes: 2},
			}

			_, err := env.svc.ManualRetry(ctx, job.ID)
			So(err, ShouldBeNil)

			tasks := env.queue.all()
			So(len(tasks), ShouldEqual, 1)
			So(tasks[0].queue, ShouldEqual, taskqueue.QueueAudioVideoMerge)
		})

		Convey("retrieval_failed 状态也可手动重试", func() {
			env := newTestEnv(t.TempDir())
			job := failedJob(env, 0)
			job.GenerationStatus = pipeline.GenerationStatusRetrievalFailed

			_, err := env.svc.ManualRetry(ctx, job.ID)
			So(err, ShouldBeNil)
		})

		Convey("非失败状态不可手动重试", func() {
			env := newTestEnv(t.TempDir())
			job := env.twoSceneJob(ctx)

			_, err := env.svc.ManualRetry(ctx, job.ID)
			So(err, ShouldNotBeNil)
			So(len(env.queue.all()), ShouldEqual, 0)
		})

		Convey("超过上限后拒绝并关闭 can_resume", func() {
			env := newTestEnv(t.TempDir())
			job := failedJob(env, pipeline.MaxManualRetries)

			_, err := env.svc.ManualRetry(ctx, job.ID)
			So(err, ShouldNotBeNil)

			stored := env.jobs.get(job.ID)
			So(stored.CanResume, ShouldBeFalse)
			So(len(env.queue.all()), ShouldEqual, 0)
		})
	})
}

func TestScheduleAutoRetry(t *testing.T) {
	ctx := context.Background()

	Convey("自动重试调度", t, func() {
		Convey("未超限时任务进入 retrieval_failed 并延迟投递", func() {
			env := newTestEnv(t.TempDir())
			job := env.twoSceneJob(ctx)
			stored := env.jobs.get(job.ID)
			stored.GenerationStatus = pipeline.GenerationStatusGeneratingVideo
			stored.RetryCount = 1

			err := env.svc.scheduleAutoRetry(ctx, stored, pipeline.GenerationStatusGeneratingVideo,
				fmt.Errorf("asset url unreachable"))
			So(err, ShouldBeNil)

			after := env.jobs.get(job.ID)
			So(after.GenerationStatus, ShouldEqual, pipeline.GenerationStatusRetrievalFailed)
			So(after.RetryCount, ShouldEqual, 2)
			So(after.CanResume, ShouldBeTrue)
			So(after.ErrorMessage, ShouldEqual, "asset url unreachable")

			tasks := env.queue.all()
			So(len(tasks), ShouldEqual, 1)
			So(tasks[0].queue, ShouldEqual, taskqueue.QueueRetryGeneration)
			So(tasks[0].delay, ShouldEqual, 60*time.Second)
			p := tasks[0].payload.(*taskqueue.RetryPayload)
			So(p.Attempt, ShouldEqual, 2)
		})

		Convey("超限后任务转终态 failed 且不再入队", func() {
			env := newTestEnv(t.TempDir())
			job := env.twoSceneJob(ctx)
			stored := env.jobs.get(job.ID)
			stored.GenerationStatus = pipeline.GenerationStatusGeneratingVideo
			stored.RetryCount = pipeline.MaxAutoRetries

			err := env.svc.scheduleAutoRetry(ctx, stored, pipeline.GenerationStatusGeneratingVideo,
				fmt.Errorf("asset url unreachable"))
			So(err, ShouldNotBeNil)

			after := env.jobs.get(job.ID)
			So(after.GenerationStatus, ShouldEqual, pipeline.GenerationStatusFailed)
			So(after.CanResume, ShouldBeFalse)
			So(len(env.queue.all()), ShouldEqual, 0)
		})
	})
}

func TestHandleRetryTask(t *testing.T) {
	ctx := context.Background()

	Convey("重试任务分发", t, func() {
		Convey("合并阶段的重试回到合并流程", func() {
			env := newTestEnv(t.TempDir())
			job := env.mergeReadyJob(ctx)
			stored := env.jobs.get(job.ID)
			stored.GenerationStatus = pipeline.GenerationStatusRetrievalFailed

			err := env.svc.HandleRetryTask(ctx, &taskqueue.RetryPayload{
				JobID:       job.ID,
				FailedStage: pipeline.GenerationStatusMergingAudio.String(),
				Attempt:     1,
			})
			So(err, ShouldBeNil)
			So(env.jobs.get(job.ID).GenerationStatus, ShouldEqual, pipeline.GenerationStatusCompleted)
		})

		Convey("生成阶段的重试回到场景生成流程", func() {
			env := newTestEnv(t.TempDir())
			job := env.twoSceneJob(ctx)
			stored := env.jobs.get(job.ID)
			stored.GenerationStatus = pipeline.GenerationStatusRetrievalFailed

			err := env.svc.HandleRetryTask(ctx, &taskqueue.RetryPayload{
				JobID:       job.ID,
				FailedStage: pipeline.GenerationStatusGeneratingVideo.String(),
				Attempt:     1,
			})
			So(err, ShouldBeNil)
			So(env.jobs.get(job.ID).GenerationStatus, ShouldEqual, pipeline.GenerationStatusVideoCompleted)
		})
	})
}

func TestRecoverPendingJobs(t *testing.T) {
	ctx := context.Background()

	Convey("启动恢复扫描", t, func() {
		Convey("retrieval_failed 且可恢复的任务重新入队", func() {
			env := newTestEnv(t.TempDir())
			job := env.twoSceneJob(ctx)
			stored := env.jobs.get(job.ID)
			stored.GenerationStatus = pipeline.GenerationStatusRetrievalFailed
			stored.RetryCount = 1
			stored.CanResume = true

			n, err := env.svc.RecoverPendingJobs(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			tasks := env.queue.all()
			So(tasks, ShouldHaveLength, 2) // 创建时的生成任务 + 恢复的重试任务
			So(tasks[1].queue, ShouldEqual, taskqueue.QueueRetryGeneration)
			So(tasks[1].delay, ShouldEqual, backoffDelay(1))
			payload := tasks[1].payload.(*taskqueue.RetryPayload)
			So(payload.JobID, ShouldEqual, job.ID)
			So(payload.FailedStage, ShouldEqual, pipeline.GenerationStatusGeneratingVideo.String())
		})

		Convey("不可恢复的任务被跳过", func() {
			env := newTestEnv(t.TempDir())
			job := env.twoSceneJob(ctx)
			stored := env.jobs.get(job.ID)
			stored.GenerationStatus = pipeline.GenerationStatusRetrievalFailed
			stored.CanResume = false

			n, err := env.svc.RecoverPendingJobs(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
			So(env.queue.all(), ShouldHaveLength, 1)
		})

		Convey("非 retrieval_failed 状态不在扫描范围", func() {
			env := newTestEnv(t.TempDir())
			job := env.twoSceneJob(ctx)
			stored := env.jobs.get(job.ID)
			stored.GenerationStatus = pipeline.GenerationStatusFailed
			stored.CanResume = true

			n, err := env.svc.RecoverPendingJobs(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})
}

func TestStatusTransitions(t *testing.T) {
	Convey("任务状态机", t, func() {
		Convey("主路径逐段合法", func() {
			path := []pipeline.GenerationStatus{
				pipeline.GenerationStatusQueued,
				pipeline.GenerationStatusProcessingImages,
				pipeline.GenerationStatusGeneratingVideo,
				pipeline.GenerationStatusVideoCompleted,
				pipeline.GenerationStatusMergingAudio,
				pipeline.GenerationStatusCompleted,
			}
			for i := 0; i < len(path)-1; i++ {
				So(path[i].CanTransitionTo(path[i+1]), ShouldBeTrue)
			}
		})

		Convey("跳段和回退被拒绝", func() {
			So(pipeline.GenerationStatusQueued.CanTransitionTo(pipeline.GenerationStatusCompleted), ShouldBeFalse)
			So(pipeline.GenerationStatusCompleted.CanTransitionTo(pipeline.GenerationStatusQueued), ShouldBeFalse)
			So(pipeline.GenerationStatusVideoCompleted.CanTransitionTo(pipeline.GenerationStatusGeneratingVideo), ShouldBeFalse)
		})

		Convey("失败分支可通过重试回到执行阶段", func() {
			So(pipeline.GenerationStatusFailed.CanTransitionTo(pipeline.GenerationStatusGeneratingVideo), ShouldBeTrue)
			So(pipeline.GenerationStatusFailed.CanTransitionTo(pipeline.GenerationStatusMergingAudio), ShouldBeTrue)
			So(pipeline.GenerationStatusRetrievalFailed.CanTransitionTo(pipeline.GenerationStatusGeneratingVideo), ShouldBeTrue)
			So(pipeline.GenerationStatusRetrievalFailed.IsTerminal(), ShouldBeFalse)
			So(pipeline.GenerationStatusFailed.IsTerminal(), ShouldBeTrue)
		})
	})
}
