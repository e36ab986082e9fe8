package pipeline

import (
	"context"
	"os"
	"time"

	"fable/internal/model/pipeline"
	"fable/internal/pkg/ffmpeg"
	"fable/internal/pkg/modelslab"
	"fable/internal/pkg/scriptkit"
	"fable/internal/pkg/storage"
	repo "fable/internal/repository/pipeline"
)

// ImageGenerator 图片生成能力
type ImageGenerator interface {
	Generate(ctx context.Context, req *modelslab.ImageRequest) (*modelslab.Result, error)
}

// VideoGenerator 视频生成能力
type VideoGenerator interface {
	Generate(ctx context.Context, req *modelslab.VideoRequest) (*modelslab.Result, error)
}

// LipSyncer 口型同步能力
type LipSyncer interface {
	Sync(ctx context.Context, videoURL, audioURL string) (*modelslab.Result, error)
}

// AssetFetcher 远端资源下载能力
type AssetFetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// ScriptWriter 剧本生成能力（章节文本 → 剧本）
type ScriptWriter interface {
	WriteScript(ctx context.Context, chapterText string, characters []string, style string) (string, error)
}

// MediaProcessor 本地媒体处理能力，由 FFmpeg 客户端提供
type MediaProcessor interface {
	GetVideoInfo(ctx context.Context, videoPath string) (*ffmpeg.VideoInfo, error)
	GetAudioInfo(ctx context.Context, audioPath string) (*ffmpeg.AudioInfo, error)
	GetFileSize(path string) (int64, error)
	ExtractLastFrame(ctx context.Context, videoPath, outputPath string) error
	MergeAudioIntoVideo(ctx context.Context, videoPath string, audioPaths []string, outputPath string) error
	CrossfadeTransition(ctx context.Context, fromFrame, toFrame, outputPath string, duration float64, width, height, fps int) error
	StillClip(ctx context.Context, imagePath, outputPath string, duration float64, width, height, fps int) error
	ConcatVideos(ctx context.Context, videoPaths []string, outputPath string) error
	ApplyColorFilters(ctx context.Context, inputPath, outputPath, filter string) error
	EncodeQualityTier(ctx context.Context, inputPath, outputPath, tier string, opts *ffmpeg.EncodeOptions) error
	TrimWithFilters(ctx context.Context, inputPath, outputPath string, opts *ffmpeg.TrimOptions, sourceDuration float64) error
	FastTrim(ctx context.Context, inputPath, outputPath string, start, duration float64) error
}

// TaskQueue 后台任务投递能力
type TaskQueue interface {
	Enqueue(ctx context.Context, queue string, payload any) error
	EnqueueIn(ctx context.Context, queue string, payload any, delay time.Duration) error
}

// Service 视频生产流水线服务
// API 进程只创建/查询任务并立即入队；多分钟的生成和 FFmpeg 重活
// 全部在 worker 进程里执行，两边共用这同一个服务实例
type Service struct {
	jobRepo     repo.JobRepository
	segmentRepo repo.SegmentRepository
	mergeRepo   repo.MergeRepository

	queue        TaskQueue
	media        MediaProcessor
	videos       VideoGenerator
	images       ImageGenerator
	lipSync      LipSyncer
	fetcher      AssetFetcher
	store        storage.Storage
	scriptWriter ScriptWriter

	sanitizer *scriptkit.Sanitizer
	prompts   *scriptkit.PromptBuilder

	workDir string // FFmpeg 工作目录（临时文件）
	width   int    // 输出宽度
	height  int    // 输出高度
	fps     int    // 输出帧率
}

// Deps 服务依赖
type Deps struct {
	JobRepo      repo.JobRepository
	SegmentRepo  repo.SegmentRepository
	MergeRepo    repo.MergeRepository
	Queue        TaskQueue
	Media        MediaProcessor
	Videos       VideoGenerator
	Images       ImageGenerator
	LipSync      LipSyncer
	Fetcher      AssetFetcher
	Store        storage.Storage
	ScriptWriter ScriptWriter

	WorkDir string
	Width   int
	Height  int
	FPS     int
}

// NewService 创建流水线服务
func NewService(d Deps) *Service {
	if d.WorkDir == "" {
		d.WorkDir = "/tmp/fable"
	}
	if d.Width == 0 {
		d.Width = 720
	}
	if d.Height == 0 {
		d.Height = 1280
	}
	if d.FPS == 0 {
		d.FPS = 24
	}
	_ = os.MkdirAll(d.WorkDir, 0o755)
	return &Service{
		jobRepo:      d.JobRepo,
		segmentRepo:  d.SegmentRepo,
		mergeRepo:    d.MergeRepo,
		queue:        d.Queue,
		media:        d.Media,
		videos:       d.Videos,
		images:       d.Images,
		lipSync:      d.LipSync,
		fetcher:      d.Fetcher,
		store:        d.Store,
		scriptWriter: d.ScriptWriter,
		sanitizer:    scriptkit.NewSanitizer(),
		prompts:      scriptkit.NewPromptBuilder(0),
		workDir:      d.WorkDir,
		width:        d.Width,
		height:       d.Height,
		fps:          d.FPS,
	}
}

// setStatus 推进任务状态机，非法迁移直接拒绝
func (s *Service) setStatus(ctx context.Context, job *pipeline.GenerationJob, next pipeline.GenerationStatus, errorMsg string) error {
	if !job.GenerationStatus.CanTransitionTo(next) {
		return &InvalidTransitionError{From: job.GenerationStatus, To: next}
	}
	if err := s.jobRepo.UpdateStatus(ctx, job.ID, next, errorMsg); err != nil {
		return err
	}
	job.GenerationStatus = next
	job.ErrorMessage = errorMsg
	return nil
}

// InvalidTransitionError 非法状态迁移
type InvalidTransitionError struct {
	From pipeline.GenerationStatus
	To   pipeline.GenerationStatus
}

// Error 实现 error 接口
func (e *InvalidTransitionError) Error() string {
	return "invalid status transition: " + e.From.String() + " -> " + e.To.String()
}
