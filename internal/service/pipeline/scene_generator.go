package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"fable/internal/model/pipeline"
	"fable/internal/pkg/id"
	"fable/internal/pkg/modelslab"
	"fable/internal/pkg/scriptkit"
	"fable/internal/taskqueue"
)

// GenerateSceneVideos 按顺序生成任务的全部场景视频
// 场景必须严格按 1..N 生成：场景 i 的起始图优先用场景 i-1 的关键帧，
// 这是硬顺序依赖，不能并行。单个场景失败只断开续接链，不中止整批；
// 可重试类失败（超时/资源获取）例外，会让任务进入 retrieval_failed 等待调度。
func (s *Service) GenerateSceneVideos(ctx context.Context, jobID string) error {
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("find job %s: %w", jobID, err)
	}
	if job.ScriptData == nil || len(job.ScriptData.Scenes) == 0 {
		return s.failJob(ctx, job, "job has no parsed scenes")
	}

	if job.GenerationStatus == pipeline.GenerationStatusQueued {
		if err := s.setStatus(ctx, job, pipeline.GenerationStatusProcessingImages, ""); err != nil {
			return err
		}
		s.ensureSceneImages(ctx, job)
	}
	if err := s.setStatus(ctx, job, pipeline.GenerationStatusGeneratingVideo, ""); err != nil {
		return err
	}

	// 对白和动作不持久化，从剧本文本确定性地重建
	parser := scriptkit.NewParser(job.ScriptData.Characters, job.ScriptData.ScriptStyle)
	comp := parser.Parse(job.Script)

	total := len(job.ScriptData.Scenes)
	stats := &pipeline.VideoStatistics{TotalScenes: total}
	var refs []pipeline.SceneVideoRef
	prevKeyShot := ""
	prevSceneNum := 0

	for i, scene := range job.ScriptData.Scenes {
		sceneNum := scene.SceneNumber
		sceneID := fmt.Sprintf("scene_%d", sceneNum)

		// 重试再入口：已完成的片段直接复用，不重复提交生成请求
		if done, err := s.segmentRepo.FindByJobAndScene(ctx, jobID, sceneID); err == nil &&
			done != nil && done.Status == pipeline.SegmentStatusCompleted {
			stats.CompletedScenes++
			stats.TotalDuration += done.Duration
			refs = append(refs, pipeline.SceneVideoRef{
				SceneID:  sceneID,
				VideoURL: done.VideoURL,
				Status:   pipeline.SegmentStatusCompleted.String(),
			})
			prevKeyShot = done.KeySceneShotURL
			prevSceneNum = sceneNum
			continue
		}

		startImage := s.resolveStartImage(job, sceneNum, prevSceneNum, prevKeyShot)
		if startImage == "" {
			// 没有任何可用起始图，跳过该场景并记录失败片段
			log.Warn().Str("job_id", jobID).Int("scene", sceneNum).Msg("场景没有可用起始图，跳过")
			s.persistFailedSegment(ctx, job, sceneID, i+1, scene.Description, "", "no start image available")
			stats.FailedScenes++
			refs = append(refs, pipeline.SceneVideoRef{SceneID: sceneID, Status: pipeline.SegmentStatusFailed.String()})
			prevKeyShot = ""
			prevSceneNum = sceneNum
			continue
		}

		// 每次提交只做一次过滤，不循环过滤
		prompt := s.prompts.BuildScenePrompt(sceneNum, comp)
		sanitized, report := s.sanitizer.Process(prompt)
		if !report.Safe {
			log.Warn().
				Str("job_id", jobID).
				Int("scene", sceneNum).
				Float64("score", report.Score).
				Msg("场景提示词触发安全改写")
		}

		seg, err := s.generateScene(ctx, job, comp, sceneID, i+1, sceneNum, scene.Description, startImage, sanitized)
		if err != nil {
			if modelslab.IsRetrievalFailure(err) || isTimeoutError(err) {
				// 上游已经生成成功但拿不到资源，交给自动重试调度
				s.persistFailedSegment(ctx, job, sceneID, i+1, scene.Description, startImage, err.Error())
				return s.scheduleAutoRetry(ctx, job, pipeline.GenerationStatusGeneratingVideo, err)
			}
			log.Error().Err(err).Str("job_id", jobID).Int("scene", sceneNum).Msg("场景视频生成失败")
			s.persistFailedSegment(ctx, job, sceneID, i+1, scene.Description, startImage, err.Error())
			stats.FailedScenes++
			refs = append(refs, pipeline.SceneVideoRef{SceneID: sceneID, Status: pipeline.SegmentStatusFailed.String()})
			prevKeyShot = ""
			prevSceneNum = sceneNum
			continue
		}

		stats.CompletedScenes++
		stats.TotalDuration += seg.Duration
		refs = append(refs, pipeline.SceneVideoRef{
			SceneID:  sceneID,
			VideoURL: seg.VideoURL,
			Status:   pipeline.SegmentStatusCompleted.String(),
		})
		prevKeyShot = seg.KeySceneShotURL
		prevSceneNum = sceneNum

		progress := (i + 1) * 100 / total
		step := fmt.Sprintf("Generated scene %d of %d", i+1, total)
		if err := s.jobRepo.UpdateProgress(ctx, jobID, progress, step); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("更新进度失败")
		}
	}

	if err := s.jobRepo.UpdateVideoData(ctx, jobID, &pipeline.VideoData{SceneVideos: refs, Statistics: stats}); err != nil {
		return fmt.Errorf("persist video data: %w", err)
	}

	if stats.CompletedScenes == 0 {
		return s.failJob(ctx, job, "all scenes failed to generate")
	}

	if err := s.setStatus(ctx, job, pipeline.GenerationStatusVideoCompleted, ""); err != nil {
		return err
	}

	log.Info().
		Str("job_id", jobID).
		Int("completed", stats.CompletedScenes).
		Int("failed", stats.FailedScenes).
		Msg("场景视频生成完成，进入合并队列")
	return s.queue.Enqueue(ctx, taskqueue.QueueAudioVideoMerge, &taskqueue.MergePayload{JobID: jobID})
}

// resolveStartImage 解析场景的起始图
// 首场景用预生成的场景/角色图；后续场景优先续接上一场景的关键帧。
// 关键帧缺失时先回退到上一场景的预生成图，画面仍来自前一场景，续接感不断；
// 上一场景连预生成图都没有时才用本场景自有图
func (s *Service) resolveStartImage(job *pipeline.GenerationJob, sceneNum, prevSceneNum int, prevKeyShot string) string {
	if prevSceneNum == 0 {
		return job.ImageData.ForScene(sceneNum)
	}
	if prevKeyShot != "" {
		return prevKeyShot
	}
	if img := job.ImageData.ForScene(prevSceneNum); img != "" {
		return img
	}
	return job.ImageData.ForScene(sceneNum)
}

// ensureSceneImages 为缺少预生成图的场景补生成图片并持久化到图片清单
// 单个场景生成失败只记警告，该场景稍后会走起始图回退链或被记为失败片段
func (s *Service) ensureSceneImages(ctx context.Context, job *pipeline.GenerationJob) {
	if s.images == nil {
		return
	}
	if job.ImageData == nil {
		job.ImageData = &pipeline.ImageData{}
	}

	generated := 0
	for _, scene := range job.ScriptData.Scenes {
		if job.ImageData.ForScene(scene.SceneNumber) != "" {
			continue
		}
		sanitized, _ := s.sanitizer.Process(scene.Description)
		result, err := s.images.Generate(ctx, &modelslab.ImageRequest{
			Prompt: sanitized,
			Width:  s.width,
			Height: s.height,
		})
		if err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Int("scene", scene.SceneNumber).Msg("场景图片生成失败")
			continue
		}
		job.ImageData.SceneImages = append(job.ImageData.SceneImages, pipeline.SceneImage{
			Scene:    scene.SceneNumber,
			ImageURL: result.URL,
		})
		generated++
	}

	if generated > 0 {
		if err := s.jobRepo.UpdateImageData(ctx, job.ID, job.ImageData); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("持久化图片清单失败")
		}
	}
}

// generateScene 生成单个场景：图生视频 → 可选口型同步 → 提取末帧 → 持久化片段
// 场景内部三步严格串行
func (s *Service) generateScene(ctx context.Context, job *pipeline.GenerationJob, comp *scriptkit.ScriptComponents,
	sceneID string, segmentIndex, sceneNum int, description, startImage, prompt string) (*pipeline.SceneVideoSegment, error) {

	result, err := s.videos.Generate(ctx, &modelslab.VideoRequest{
		Prompt:       prompt,
		InitImageURL: startImage,
	})
	if err != nil {
		return nil, err
	}

	videoURL := result.URL
	metadata := map[string]string{
		"model":   result.Metadata["model"],
		"attempt": result.Metadata["attempt"],
	}

	// 口型同步尽力而为：场景有角色对白音轨才做，失败保留未同步的视频
	dialogues := comp.DialoguesForScene(sceneNum)
	metadata["dialogue_count"] = fmt.Sprintf("%d", len(dialogues))
	if audioURL := firstDialogueAudio(job.AudioFiles, sceneNum); audioURL != "" && len(dialogues) > 0 && s.lipSync != nil {
		synced, err := s.lipSync.Sync(ctx, videoURL, audioURL)
		if err != nil {
			log.Warn().Err(err).Str("scene_id", sceneID).Msg("口型同步失败，保留未同步视频")
			metadata["lip_sync"] = "failed"
		} else {
			videoURL = synced.URL
			metadata["lip_sync"] = "applied"
		}
	}

	// 末帧提取尽力而为：失败只断开续接链，不影响本场景结果
	keyShotURL, duration := s.extractKeyShot(ctx, job.ID, sceneID, videoURL)

	seg := &pipeline.SceneVideoSegment{
		ID:                id.New(),
		JobID:             job.ID,
		SceneID:           sceneID,
		SegmentIndex:      segmentIndex,
		SceneDescription:  description,
		SourceImageURL:    startImage,
		VideoURL:          videoURL,
		KeySceneShotURL:   keyShotURL,
		Duration:          duration,
		GenerationMethod:  "image_to_video",
		Status:            pipeline.SegmentStatusCompleted,
		ProcessingService: "modelslab",
		Model:             result.Metadata["model"],
		Metadata:          metadata,
	}
	if err := s.segmentRepo.Upsert(ctx, seg); err != nil {
		return nil, fmt.Errorf("persist segment %s: %w", sceneID, err)
	}
	return seg, nil
}

// extractKeyShot 下载场景视频并提取末帧上传，返回关键帧URL和视频时长
// 任一步失败都返回空关键帧，调用方回退到场景自有图片续接
func (s *Service) extractKeyShot(ctx context.Context, jobID, sceneID, videoURL string) (string, float64) {
	dir, err := os.MkdirTemp(s.workDir, "keyshot_")
	if err != nil {
		log.Warn().Err(err).Str("scene_id", sceneID).Msg("创建临时目录失败")
		return "", 0
	}
	defer os.RemoveAll(dir)

	data, err := s.fetcher.Download(ctx, videoURL)
	if err != nil {
		log.Warn().Err(err).Str("scene_id", sceneID).Msg("下载场景视频失败，跳过末帧提取")
		return "", 0
	}

	videoPath := filepath.Join(dir, "scene.mp4")
	if err := os.WriteFile(videoPath, data, 0o644); err != nil {
		log.Warn().Err(err).Str("scene_id", sceneID).Msg("写入临时视频失败")
		return "", 0
	}

	var duration float64
	if info, err := s.media.GetVideoInfo(ctx, videoPath); err == nil {
		duration = info.Duration
	}

	framePath := filepath.Join(dir, "last_frame.jpg")
	if err := s.media.ExtractLastFrame(ctx, videoPath, framePath); err != nil {
		log.Warn().Err(err).Str("scene_id", sceneID).Msg("末帧提取失败，续接链断开")
		return "", duration
	}

	frameData, err := os.ReadFile(framePath)
	if err != nil {
		return "", duration
	}

	key := fmt.Sprintf("pipeline/%s/%s/key_shot.jpg", jobID, sceneID)
	url, err := s.store.Upload(ctx, key, bytes.NewReader(frameData), "image/jpeg")
	if err != nil {
		log.Warn().Err(err).Str("scene_id", sceneID).Msg("关键帧上传失败")
		return "", duration
	}
	return url, duration
}

// persistFailedSegment 记录失败片段，保证部分进度可见
func (s *Service) persistFailedSegment(ctx context.Context, job *pipeline.GenerationJob, sceneID string, segmentIndex int, description, startImage, errMsg string) {
	seg := &pipeline.SceneVideoSegment{
		ID:                id.New(),
		JobID:             job.ID,
		SceneID:           sceneID,
		SegmentIndex:      segmentIndex,
		SceneDescription:  description,
		SourceImageURL:    startImage,
		GenerationMethod:  "image_to_video",
		Status:            pipeline.SegmentStatusFailed,
		ProcessingService: "modelslab",
		ErrorMessage:      errMsg,
	}
	if err := s.segmentRepo.Upsert(ctx, seg); err != nil {
		log.Error().Err(err).Str("scene_id", sceneID).Msg("持久化失败片段失败")
	}
}

// failJob 把任务置为终态 failed
func (s *Service) failJob(ctx context.Context, job *pipeline.GenerationJob, msg string) error {
	log.Error().Str("job_id", job.ID).Str("reason", msg).Msg("任务失败")
	if err := s.setStatus(ctx, job, pipeline.GenerationStatusFailed, msg); err != nil {
		return err
	}
	return fmt.Errorf("%s", msg)
}

// firstDialogueAudio 返回场景中第一条角色对白音轨的URL
func firstDialogueAudio(files *pipeline.AudioFiles, scene int) string {
	if files == nil {
		return ""
	}
	for _, t := range files.Characters {
		if t.Scene == scene && t.AudioURL != "" {
			return t.AudioURL
		}
	}
	return ""
}

// isTimeoutError 判断是否为轮询超时（可重试类）
func isTimeoutError(err error) bool {
	return errors.Is(err, modelslab.ErrTimeout)
}
