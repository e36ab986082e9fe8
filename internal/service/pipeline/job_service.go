package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"fable/internal/model/pipeline"
	"fable/internal/pkg/id"
	"fable/internal/pkg/scriptkit"
	"fable/internal/taskqueue"
)

// CreateJobRequest 创建视频生成任务的入参
// 音频清单和图片清单由上游生成阶段提供，核心流水线只消费
type CreateJobRequest struct {
	UserID      string              // 用户ID
	ChapterID   string              // 章节ID
	Script      string              // 剧本文本（为空时用 ChapterText 生成）
	ChapterText string              // 章节原文（仅 Script 为空时使用）
	Characters  []string            // 已知角色名
	ScriptStyle string              // 剧本风格：cinematic_movie / cinematic_narration
	VideoStyle  string              // 视频风格
	AudioFiles  *pipeline.AudioFiles // 音频清单
	ImageData   *pipeline.ImageData  // 图片清单
}

// CreateGenerationJob 创建生成任务并投递到场景生成队列
// API 进程在这里就返回，多分钟的生成在 worker 里执行
func (s *Service) CreateGenerationJob(ctx context.Context, req *CreateJobRequest) (*pipeline.GenerationJob, error) {
	script := req.Script
	if script == "" {
		if req.ChapterText == "" {
			return nil, fmt.Errorf("either script or chapter text is required")
		}
		if s.scriptWriter == nil {
			return nil, fmt.Errorf("script writer is not configured")
		}
		generated, err := s.scriptWriter.WriteScript(ctx, req.ChapterText, req.Characters, req.ScriptStyle)
		if err != nil {
			return nil, fmt.Errorf("write script: %w", err)
		}
		script = generated
	}

	// 解析剧本，场景结构持久化到任务记录上
	parser := scriptkit.NewParser(req.Characters, req.ScriptStyle)
	comp := parser.Parse(script)

	// 解析器对同一场景可能产出多条描述（narration 风格下每行画面描述一条），
	// 任务记录里每个场景编号只保留一条，多条描述按原始顺序合并
	scenes := make([]pipeline.SceneInfo, 0, len(comp.SceneDescriptions))
	sceneIndex := make(map[int]int, len(comp.SceneDescriptions))
	for _, d := range comp.SceneDescriptions {
		if idx, ok := sceneIndex[d.Scene]; ok {
			scenes[idx].Description += " " + d.Text
			continue
		}
		sceneIndex[d.Scene] = len(scenes)
		scenes = append(scenes, pipeline.SceneInfo{SceneNumber: d.Scene, Description: d.Text})
	}

	job := &pipeline.GenerationJob{
		ID:        id.New(),
		UserID:    req.UserID,
		ChapterID: req.ChapterID,
		Script:    script,
		ScriptData: &pipeline.ScriptData{
			Scenes:      scenes,
			Characters:  req.Characters,
			VideoStyle:  req.VideoStyle,
			ScriptStyle: req.ScriptStyle,
		},
		AudioFiles:       req.AudioFiles,
		ImageData:        req.ImageData,
		GenerationStatus: pipeline.GenerationStatusQueued,
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create generation job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, taskqueue.QueueSceneGeneration, &taskqueue.SceneGenerationPayload{JobID: job.ID}); err != nil {
		return nil, fmt.Errorf("enqueue scene generation: %w", err)
	}

	log.Info().
		Str("job_id", job.ID).
		Str("user_id", req.UserID).
		Int("scenes", len(scenes)).
		Msg("视频生成任务已创建")
	return job, nil
}

// GetJob 查询生成任务
func (s *Service) GetJob(ctx context.Context, jobID string) (*pipeline.GenerationJob, error) {
	return s.jobRepo.FindByID(ctx, jobID)
}

// ListJobs 查询用户的生成任务
func (s *Service) ListJobs(ctx context.Context, userID string, limit int64) ([]*pipeline.GenerationJob, error) {
	return s.jobRepo.FindByUserID(ctx, userID, limit)
}

// ListSegments 查询任务的全部场景片段
func (s *Service) ListSegments(ctx context.Context, jobID string) ([]*pipeline.SceneVideoSegment, error) {
	return s.segmentRepo.FindByJobID(ctx, jobID)
}
