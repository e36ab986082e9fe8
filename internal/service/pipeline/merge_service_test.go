package pipeline

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"fable/internal/model/pipeline"
	"fable/internal/taskqueue"
)

// mergeReadyJob 构造一个已完成场景生成、等待合并的任务和两个完成片段
func (e *testEnv) mergeReadyJob(ctx context.Context) *pipeline.GenerationJob {
	job := e.twoSceneJob(ctx)
	stored := e.jobs.get(job.ID)
	stored.GenerationStatus = pipeline.GenerationStatusVideoCompleted
	stored.VideoData = &pipeline.VideoData{
		Statistics: &pipeline.VideoStatistics{TotalScenes: 2, CompletedScenes: 2},
	}

	_ = e.segments.Upsert(ctx, &pipeline.SceneVideoSegment{
		ID:              "seg-1",
		JobID:           job.ID,
		SceneID:         "scene_1",
		SegmentIndex:    1,
		SourceImageURL:  "https://cdn.test/scene1.png",
		VideoURL:        "https://provider.test/video_1.mp4",
		KeySceneShotURL: "https://cdn.test/pipeline/job-1/scene_1/key_shot.jpg",
		Duration:        5,
		Status:          pipeline.SegmentStatusCompleted,
	})
	_ = e.segments.Upsert(ctx, &pipeline.SceneVideoSegment{
		ID:             "seg-2",
		JobID:          job.ID,
		SceneID:        "scene_2",
		SegmentIndex:   2,
		SourceImageURL: "https://cdn.test/scene2.png",
		VideoURL:       "https://provider.test/video_2.mp4",
		Duration:       5,
		Status:         pipeline.SegmentStatusCompleted,
	})
	return job
}

func TestMergeAudioVideo(t *testing.T) {
	ctx := context.Background()

	Convey("主流水线音视频合并", t, func() {
		Convey("完整路径：混音、转场、拼接、三档编码", func() {
			env := newTestEnv(t.TempDir())
			job := env.mergeReadyJob(ctx)

			err := env.svc.MergeAudioVideo(ctx, job.ID)
			So(err, ShouldBeNil)

			stored := env.jobs.get(job.ID)
			So(stored.GenerationStatus, ShouldEqual, pipeline.GenerationStatusCompleted)
			So(stored.Progress, ShouldEqual, 100)
			So(stored.FinalVideoURL, ShouldEqual, "https://cdn.test/pipeline/job-1/final_web.mp4")

			So(stored.MergeData, ShouldNotBeNil)
			So(len(stored.MergeData.QualityVersions), ShouldEqual, 3)
			So(stored.MergeData.QualityVersions[0].Tier, ShouldEqual, pipeline.QualityTierWeb)

			stats := stored.MergeData.MergeStatistics
			So(stats.TotalScenesMerged, ShouldEqual, 2)
			So(stats.ScenesWithAudio, ShouldEqual, 2)
			So(stats.TracksMixed, ShouldEqual, 2)
			So(stats.TransitionsAdded, ShouldEqual, 1)
			So(stats.FileSize, ShouldEqual, 1024)

			// 每个场景一条旁白音轨，amix 输入各 1 条
			So(env.media.count("MergeAudioIntoVideo:1"), ShouldEqual, 2)
			// 两个场景加一个转场，拼接序列长度 3
			So(env.media.count("ConcatVideos:3"), ShouldEqual, 1)
			So(env.media.count("ApplyColorFilters"), ShouldEqual, 1)
			So(env.media.count("EncodeQualityTier:web"), ShouldEqual, 1)
			So(env.media.count("EncodeQualityTier:medium"), ShouldEqual, 1)
			So(env.media.count("EncodeQualityTier:high"), ShouldEqual, 1)
		})

		Convey("混音失败的场景回退到原始视频", func() {
			env := newTestEnv(t.TempDir())
			env.media.failMergeAudio = true
			job := env.mergeReadyJob(ctx)

			err := env.svc.MergeAudioVideo(ctx, job.ID)
			So(err, ShouldBeNil)

			stored := env.jobs.get(job.ID)
			So(stored.GenerationStatus, ShouldEqual, pipeline.GenerationStatusCompleted)
			So(stored.MergeData.MergeStatistics.ScenesWithAudio, ShouldEqual, 0)
			So(stored.MergeData.MergeStatistics.TracksMixed, ShouldEqual, 0)
		})

		Convey("转场素材缺失时跳过该对场景", func() {
			env := newTestEnv(t.TempDir())
			job := env.mergeReadyJob(ctx)
			// 抹掉首场景的关键帧，转场无法生成
			seg, _ := env.segments.FindByJobAndScene(ctx, job.ID, "scene_1")
			seg.KeySceneShotURL = ""
			_ = env.segments.Upsert(ctx, seg)

			err := env.svc.MergeAudioVideo(ctx, job.ID)
			So(err, ShouldBeNil)

			stored := env.jobs.get(job.ID)
			So(stored.MergeData.MergeStatistics.TransitionsAdded, ShouldEqual, 0)
			So(env.media.count("ConcatVideos:2"), ShouldEqual, 1)
		})

		Convey("转场生成失败不影响整体合并", func() {
			env := newTestEnv(t.TempDir())
			env.media.failTransition = true
			job := env.mergeReadyJob(ctx)

			err := env.svc.MergeAudioVideo(ctx, job.ID)
			So(err, ShouldBeNil)

			stored := env.jobs.get(job.ID)
			So(stored.GenerationStatus, ShouldEqual, pipeline.GenerationStatusCompleted)
			So(stored.MergeData.MergeStatistics.TransitionsAdded, ShouldEqual, 0)
		})

		Convey("没有可合并的完成片段时任务失败", func() {
			env := newTestEnv(t.TempDir())
			job := env.twoSceneJob(ctx)
			env.jobs.get(job.ID).GenerationStatus = pipeline.GenerationStatusVideoCompleted

			err := env.svc.MergeAudioVideo(ctx, job.ID)
			So(err, ShouldNotBeNil)

			stored := env.jobs.get(job.ID)
			So(stored.GenerationStatus, ShouldEqual, pipeline.GenerationStatusFailed)
			So(stored.ErrorMessage, ShouldEqual, "no completed scene segments to merge")
		})

		Convey("场景视频下载失败触发自动重试调度", func() {
			env := newTestEnv(t.TempDir())
			job := env.mergeReadyJob(ctx)
			env.fetcher.failURLs["https://provider.test/video_1.mp4"] = true

			err := env.svc.MergeAudioVideo(ctx, job.ID)
			So(err, ShouldBeNil)

			stored := env.jobs.get(job.ID)
			So(stored.GenerationStatus, ShouldEqual, pipeline.GenerationStatusRetrievalFailed)
			So(stored.RetryCount, ShouldEqual, 1)

			tasks := env.queue.all()
			So(len(tasks), ShouldEqual, 1)
			So(tasks[0].queue, ShouldEqual, taskqueue.QueueRetryGeneration)
			p := tasks[0].payload.(*taskqueue.RetryPayload)
			So(p.FailedStage, ShouldEqual, pipeline.GenerationStatusMergingAudio.String())
		})

		Convey("音轨下载失败只跳过该音轨", func() {
			env := newTestEnv(t.TempDir())
			job := env.mergeReadyJob(ctx)
			env.fetcher.failURLs["https://cdn.test/narrator1.mp3"] = true

			err := env.svc.MergeAudioVideo(ctx, job.ID)
			So(err, ShouldBeNil)

			stored := env.jobs.get(job.ID)
			So(stored.GenerationStatus, ShouldEqual, pipeline.GenerationStatusCompleted)
			So(stored.MergeData.MergeStatistics.ScenesWithAudio, ShouldEqual, 1)
			So(stored.MergeData.MergeStatistics.TracksMixed, ShouldEqual, 1)
		})
	})
}

func TestBuildConcatSequence(t *testing.T) {
	Convey("拼接序列构造", t, func() {
		scenes := []string{"a.mp4", "b.mp4", "c.mp4"}

		Convey("全部转场齐备时序列长度为 2N-1", func() {
			transitions := map[int]string{0: "t0.mp4", 1: "t1.mp4"}
			seq := buildConcatSequence(scenes, transitions)
			So(seq, ShouldResemble, []string{"a.mp4", "t0.mp4", "b.mp4", "t1.mp4", "c.mp4"})
		})

		Convey("部分转场缺失时只交错存在的", func() {
			transitions := map[int]string{1: "t1.mp4"}
			seq := buildConcatSequence(scenes, transitions)
			So(seq, ShouldResemble, []string{"a.mp4", "b.mp4", "t1.mp4", "c.mp4"})
		})

		Convey("没有转场时退化为场景序列", func() {
			seq := buildConcatSequence(scenes, nil)
			So(seq, ShouldResemble, scenes)
		})

		Convey("末尾场景后不会追加转场", func() {
			transitions := map[int]string{2: "t2.mp4"}
			seq := buildConcatSequence(scenes, transitions)
			So(seq, ShouldResemble, scenes)
		})

		Convey("单场景序列原样返回", func() {
			seq := buildConcatSequence([]string{"only.mp4"}, map[int]string{})
			So(seq, ShouldResemble, []string{"only.mp4"})
		})
	})
}
