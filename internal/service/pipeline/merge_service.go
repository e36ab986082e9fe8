package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"fable/internal/model/pipeline"
	"fable/internal/pkg/ffmpeg"
	"fable/internal/pkg/modelslab"
)

// 主流水线各步骤的进度锚点
const (
	progressAudioMerged  = 30
	progressTransitions  = 50
	progressConcatenated = 70
	progressEncoded      = 90
)

// 转场时长（秒）
const transitionDuration = 1.0

// mergedScene 合并阶段单个场景的中间产物
type mergedScene struct {
	segment   *pipeline.SceneVideoSegment
	localPath string // 本地视频路径（已混音或原始）
	hasAudio  bool
}

// MergeAudioVideo 主流水线音视频合并
// Step A 逐场景混音 → Step B 转场 → Step C 拼接加色阶校正 →
// Step D 多档位编码上传 → Step E 统计落盘。每步之后更新进度。
func (s *Service) MergeAudioVideo(ctx context.Context, jobID string) error {
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("find job %s: %w", jobID, err)
	}
	if err := s.setStatus(ctx, job, pipeline.GenerationStatusMergingAudio, ""); err != nil {
		return err
	}

	segments, err := s.segmentRepo.FindCompletedByJobID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("find completed segments: %w", err)
	}
	if len(segments) == 0 {
		return s.failJob(ctx, job, "no completed scene segments to merge")
	}

	dir, err := os.MkdirTemp(s.workDir, "merge_")
	if err != nil {
		return fmt.Errorf("create merge workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	start := time.Now()
	stats := &pipeline.MergeStatistics{TotalScenesMerged: len(segments)}

	// Step A: 逐场景混音
	merged, err := s.mergeSceneAudio(ctx, job, segments, dir, stats)
	if err != nil {
		return s.handleMergeFailure(ctx, job, err)
	}
	s.reportProgress(ctx, jobID, progressAudioMerged, "Scene audio merged")

	// Step B: 生成转场片段（尽力而为）
	transitions := s.buildTransitions(ctx, segments, dir, stats)
	s.reportProgress(ctx, jobID, progressTransitions, "Transitions generated")

	// Step C: 拼接 + 色阶校正
	sceneFiles := make([]string, len(merged))
	for i, m := range merged {
		sceneFiles[i] = m.localPath
	}
	sequence := buildConcatSequence(sceneFiles, transitions)

	concatPath := filepath.Join(dir, "concat.mp4")
	if err := s.media.ConcatVideos(ctx, sequence, concatPath); err != nil {
		return s.handleMergeFailure(ctx, job, fmt.Errorf("concat scenes: %w", err))
	}
	filteredPath := filepath.Join(dir, "filtered.mp4")
	if err := s.media.ApplyColorFilters(ctx, concatPath, filteredPath, ""); err != nil {
		return s.handleMergeFailure(ctx, job, fmt.Errorf("apply color filters: %w", err))
	}
	s.reportProgress(ctx, jobID, progressConcatenated, "Scenes concatenated")

	if info, err := s.media.GetVideoInfo(ctx, filteredPath); err == nil {
		stats.TotalDuration = info.Duration
	}

	// Step D: 多档位编码，各档独立上传，web 档作为最终视频
	versions, finalURL, err := s.encodeQualityVersions(ctx, jobID, filteredPath, dir, stats)
	if err != nil {
		return s.handleMergeFailure(ctx, job, err)
	}
	s.reportProgress(ctx, jobID, progressEncoded, "Quality tiers encoded")

	// Step E: 统计落盘，任务完成
	stats.ProcessingTime = time.Since(start).Seconds()
	mergeData := &pipeline.MergeData{
		FinalVideoURL:   finalURL,
		MergeStatistics: stats,
		QualityVersions: versions,
	}
	if err := s.jobRepo.UpdateMergeData(ctx, jobID, mergeData, finalURL); err != nil {
		return fmt.Errorf("persist merge data: %w", err)
	}
	if err := s.setStatus(ctx, job, pipeline.GenerationStatusCompleted, ""); err != nil {
		return err
	}
	s.reportProgress(ctx, jobID, 100, "Completed")

	log.Info().
		Str("job_id", jobID).
		Int("scenes", stats.TotalScenesMerged).
		Int("transitions", stats.TransitionsAdded).
		Float64("duration", stats.TotalDuration).
		Str("final_url", finalURL).
		Msg("音视频合并完成")
	return nil
}

// mergeSceneAudio Step A：把每个场景的音轨混入场景视频
// 混音失败的场景回退到原始视频继续，不中止整批
func (s *Service) mergeSceneAudio(ctx context.Context, job *pipeline.GenerationJob, segments []*pipeline.SceneVideoSegment, dir string, stats *pipeline.MergeStatistics) ([]*mergedScene, error) {
	merged := make([]*mergedScene, 0, len(segments))

	for _, seg := range segments {
		localPath := filepath.Join(dir, fmt.Sprintf("%s.mp4", seg.SceneID))
		if err := s.downloadTo(ctx, seg.VideoURL, localPath); err != nil {
			return nil, fmt.Errorf("download scene video %s: %w", seg.SceneID, err)
		}

		sceneNum := 0
		fmt.Sscanf(seg.SceneID, "scene_%d", &sceneNum)
		tracks := job.AudioFiles.ForScene(sceneNum)
		if len(tracks) == 0 {
			merged = append(merged, &mergedScene{segment: seg, localPath: localPath, hasAudio: false})
			continue
		}

		audioPaths := s.downloadAudioTracks(ctx, seg.SceneID, tracks, dir)

		if len(audioPaths) == 0 {
			merged = append(merged, &mergedScene{segment: seg, localPath: localPath, hasAudio: false})
			continue
		}

		mergedPath := filepath.Join(dir, fmt.Sprintf("%s_merged.mp4", seg.SceneID))
		if err := s.media.MergeAudioIntoVideo(ctx, localPath, audioPaths, mergedPath); err != nil {
			// 回退到未混音的场景视频
			log.Warn().Err(err).Str("scene_id", seg.SceneID).Msg("场景混音失败，回退到原始视频")
			merged = append(merged, &mergedScene{segment: seg, localPath: localPath, hasAudio: false})
			continue
		}

		stats.ScenesWithAudio++
		stats.TracksMixed += len(audioPaths)
		merged = append(merged, &mergedScene{segment: seg, localPath: mergedPath, hasAudio: true})
	}
	return merged, nil
}

// downloadAudioTracks 并发下载一个场景的全部音轨，最多3个并发
// 下载失败的音轨跳过，返回值保持清单顺序
func (s *Service) downloadAudioTracks(ctx context.Context, sceneID string, tracks []pipeline.AudioTrack, dir string) []string {
	slots := make([]string, len(tracks))
	sem := make(chan struct{}, 3)
	var wg sync.WaitGroup

	for i, t := range tracks {
		wg.Add(1)
		go func(i int, audioURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			audioPath := filepath.Join(dir, fmt.Sprintf("%s_audio_%d", sceneID, i))
			if err := s.downloadTo(ctx, audioURL, audioPath); err != nil {
				log.Warn().Err(err).Str("scene_id", sceneID).Msg("音轨下载失败，跳过该音轨")
				return
			}
			slots[i] = audioPath
		}(i, t.AudioURL)
	}
	wg.Wait()

	audioPaths := make([]string, 0, len(tracks))
	for _, p := range slots {
		if p != "" {
			audioPaths = append(audioPaths, p)
		}
	}
	return audioPaths
}

// buildTransitions Step B：为相邻场景对生成交叉淡化转场
// 前场景关键帧 → 后场景起始图；素材缺失或生成失败就跳过该对
func (s *Service) buildTransitions(ctx context.Context, segments []*pipeline.SceneVideoSegment, dir string, stats *pipeline.MergeStatistics) map[int]string {
	transitions := make(map[int]string)

	for i := 0; i < len(segments)-1; i++ {
		from, to := segments[i], segments[i+1]
		if from.KeySceneShotURL == "" || to.SourceImageURL == "" {
			continue
		}

		fromPath := filepath.Join(dir, fmt.Sprintf("trans_%d_from.jpg", i))
		toPath := filepath.Join(dir, fmt.Sprintf("trans_%d_to.jpg", i))
		if err := s.downloadTo(ctx, from.KeySceneShotURL, fromPath); err != nil {
			continue
		}
		if err := s.downloadTo(ctx, to.SourceImageURL, toPath); err != nil {
			continue
		}

		outPath := filepath.Join(dir, fmt.Sprintf("trans_%d.mp4", i))
		if err := s.media.CrossfadeTransition(ctx, fromPath, toPath, outPath, transitionDuration, s.width, s.height, s.fps); err != nil {
			log.Warn().Err(err).Int("pair", i).Msg("转场生成失败，跳过该对场景")
			continue
		}

		transitions[i] = outPath
		stats.TransitionsAdded++
	}
	return transitions
}

// buildConcatSequence 按顺序交错场景片段和转场片段
// transitions 的 key 是前一个场景的下标；全部转场齐备时序列长度为 2N-1
func buildConcatSequence(sceneFiles []string, transitions map[int]string) []string {
	sequence := make([]string, 0, 2*len(sceneFiles)-1)
	for i, f := range sceneFiles {
		sequence = append(sequence, f)
		if i < len(sceneFiles)-1 {
			if t, ok := transitions[i]; ok {
				sequence = append(sequence, t)
			}
		}
	}
	return sequence
}

// encodeQualityVersions Step D：按配置档位重编码并独立上传
// web 档作为最终下发URL
func (s *Service) encodeQualityVersions(ctx context.Context, jobID, inputPath, dir string, stats *pipeline.MergeStatistics) ([]pipeline.QualityVersion, string, error) {
	tiers := []pipeline.QualityTier{pipeline.QualityTierWeb, pipeline.QualityTierMedium, pipeline.QualityTierHigh}

	var versions []pipeline.QualityVersion
	finalURL := ""

	for _, tier := range tiers {
		outPath := filepath.Join(dir, fmt.Sprintf("final_%s.mp4", tier))
		if err := s.media.EncodeQualityTier(ctx, inputPath, outPath, tier.String(), nil); err != nil {
			return nil, "", fmt.Errorf("encode %s tier: %w", tier, err)
		}

		size, _ := s.media.GetFileSize(outPath)
		data, err := os.ReadFile(outPath)
		if err != nil {
			return nil, "", fmt.Errorf("read %s tier output: %w", tier, err)
		}

		key := fmt.Sprintf("pipeline/%s/final_%s.mp4", jobID, tier)
		url, err := s.store.Upload(ctx, key, bytes.NewReader(data), "video/mp4")
		if err != nil {
			return nil, "", fmt.Errorf("upload %s tier: %w", tier, err)
		}

		versions = append(versions, pipeline.QualityVersion{Tier: tier, FileSize: size, DownloadURL: url})
		if tier == pipeline.QualityTierWeb {
			finalURL = url
			stats.FileSize = size
		}
	}
	return versions, finalURL, nil
}

// handleMergeFailure 合并失败的统一出口
// 资源获取类失败进入自动重试调度，其余进入终态 failed
func (s *Service) handleMergeFailure(ctx context.Context, job *pipeline.GenerationJob, err error) error {
	if modelslab.IsRetrievalFailure(err) {
		return s.scheduleAutoRetry(ctx, job, pipeline.GenerationStatusMergingAudio, err)
	}
	return s.failJob(ctx, job, err.Error())
}

// reportProgress 持久化进度百分比和当前步骤
func (s *Service) reportProgress(ctx context.Context, jobID string, progress int, step string) {
	if err := s.jobRepo.UpdateProgress(ctx, jobID, progress, step); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("更新进度失败")
	}
}

// downloadTo 下载远端资源到本地路径
func (s *Service) downloadTo(ctx context.Context, url, path string) error {
	data, err := s.fetcher.Download(ctx, url)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// 编译期检查：FFmpeg 客户端满足 MediaProcessor
var _ MediaProcessor = (*ffmpeg.Client)(nil)
