package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"fable/internal/model/pipeline"
	"fable/internal/pkg/ffmpeg"
	"fable/internal/pkg/id"
	"fable/internal/taskqueue"
)

// 预览模式限额
const (
	previewMaxPerInput = 10.0 // 单输入最多截取秒数
	previewMaxTotal    = 30.0 // 预览总时长上限（秒）
	stillClipDuration  = 3.0  // 图片输入转成的片段时长（秒）
)

// CreateMergeRequest 手动合并请求
type CreateMergeRequest struct {
	UserID       string
	Inputs       []pipeline.InputSource
	Quality      pipeline.QualityTier
	OutputFormat string
	CustomParams *pipeline.CustomEncode
	IsPreview    bool
}

// CreateMergeOperation 创建手动合并操作并入队
func (s *Service) CreateMergeOperation(ctx context.Context, req *CreateMergeRequest) (*pipeline.MergeOperation, error) {
	if len(req.Inputs) == 0 {
		return nil, fmt.Errorf("at least one input source is required")
	}
	for i, in := range req.Inputs {
		if in.URL == "" {
			return nil, fmt.Errorf("input %d has no url", i)
		}
		switch in.Type {
		case pipeline.InputSourceVideo, pipeline.InputSourceAudio, pipeline.InputSourceImage:
		default:
			return nil, fmt.Errorf("input %d has unknown type %q", i, in.Type)
		}
		if in.TrimEnd > 0 && in.TrimEnd <= in.TrimStart {
			return nil, fmt.Errorf("input %d trim range is empty", i)
		}
	}

	quality := req.Quality
	if quality == "" {
		quality = pipeline.QualityTierWeb
	}
	if quality == pipeline.QualityTierCustom && req.CustomParams == nil {
		return nil, fmt.Errorf("custom quality requires custom params")
	}

	format := req.OutputFormat
	if format == "" {
		format = "mp4"
	}

	op := &pipeline.MergeOperation{
		ID:           id.New(),
		UserID:       req.UserID,
		Inputs:       req.Inputs,
		Quality:      quality,
		OutputFormat: format,
		CustomParams: req.CustomParams,
		IsPreview:    req.IsPreview,
		MergeStatus:  pipeline.MergeStatusQueued,
	}
	if err := s.mergeRepo.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("create merge operation: %w", err)
	}

	if err := s.queue.Enqueue(ctx, taskqueue.QueueManualMerge, &taskqueue.ManualMergePayload{OperationID: op.ID}); err != nil {
		return nil, fmt.Errorf("enqueue manual merge: %w", err)
	}

	log.Info().
		Str("operation_id", op.ID).
		Int("inputs", len(req.Inputs)).
		Bool("preview", req.IsPreview).
		Msg("手动合并操作已创建")
	return op, nil
}

// GetMergeOperation 查询手动合并操作
func (s *Service) GetMergeOperation(ctx context.Context, opID string) (*pipeline.MergeOperation, error) {
	return s.mergeRepo.FindByID(ctx, opID)
}

// ProcessManualMerge 执行手动合并任务
// 每个输入先做裁剪/音量/淡入淡出处理，多输入再拼接，最后按档位重编码一次；
// 预览模式改走流复制快速裁剪，限额 30 秒
func (s *Service) ProcessManualMerge(ctx context.Context, opID string) error {
	op, err := s.mergeRepo.FindByID(ctx, opID)
	if err != nil {
		return fmt.Errorf("find merge operation %s: %w", opID, err)
	}
	if op.MergeStatus == pipeline.MergeStatusCompleted || op.MergeStatus == pipeline.MergeStatusFailed {
		return nil // 终态不重复处理
	}

	if err := s.mergeRepo.UpdateStatus(ctx, opID, pipeline.MergeStatusInProgress, ""); err != nil {
		return err
	}

	dir, err := os.MkdirTemp(s.workDir, "manual_merge_")
	if err != nil {
		return s.failMergeOp(ctx, opID, fmt.Errorf("create workdir: %w", err))
	}
	defer os.RemoveAll(dir)

	start := time.Now()

	// 各输入独立处理
	clips, err := s.prepareMergeInputs(ctx, op, dir)
	if err != nil {
		return s.failMergeOp(ctx, opID, err)
	}
	if len(clips) == 0 {
		return s.failMergeOp(ctx, opID, fmt.Errorf("no usable inputs after processing"))
	}
	s.reportMergeProgress(ctx, opID, 40, "Inputs processed")

	// 多输入拼接一次
	combined := clips[0]
	if len(clips) > 1 {
		combined = filepath.Join(dir, "combined.mp4")
		if err := s.media.ConcatVideos(ctx, clips, combined); err != nil {
			return s.failMergeOp(ctx, opID, fmt.Errorf("concat inputs: %w", err))
		}
	}
	s.reportMergeProgress(ctx, opID, 70, "Inputs concatenated")

	// 末尾一次重编码；预览直接流复制产物，牺牲保真换速度
	outPath := filepath.Join(dir, "output."+op.OutputFormat)
	if op.IsPreview {
		if err := copyFile(combined, outPath); err != nil {
			return s.failMergeOp(ctx, opID, err)
		}
	} else {
		if err := s.media.EncodeQualityTier(ctx, combined, outPath, op.Quality.String(), customEncodeOptions(op.CustomParams)); err != nil {
			return s.failMergeOp(ctx, opID, fmt.Errorf("encode output: %w", err))
		}
	}
	s.reportMergeProgress(ctx, opID, 90, "Output encoded")

	// 上传产物
	data, err := os.ReadFile(outPath)
	if err != nil {
		return s.failMergeOp(ctx, opID, fmt.Errorf("read output: %w", err))
	}
	key := fmt.Sprintf("merges/%s/output.%s", opID, op.OutputFormat)
	url, err := s.store.Upload(ctx, key, bytes.NewReader(data), "video/mp4")
	if err != nil {
		return s.failMergeOp(ctx, opID, fmt.Errorf("upload output: %w", err))
	}

	size, _ := s.media.GetFileSize(outPath)
	stats := map[string]string{
		"inputs":          fmt.Sprintf("%d", len(op.Inputs)),
		"file_size":       fmt.Sprintf("%d", size),
		"processing_time": fmt.Sprintf("%.2f", time.Since(start).Seconds()),
	}

	outputURL, previewURL := url, ""
	if op.IsPreview {
		outputURL, previewURL = "", url
	}
	if err := s.mergeRepo.Complete(ctx, opID, outputURL, previewURL, stats); err != nil {
		return fmt.Errorf("complete merge operation: %w", err)
	}

	log.Info().
		Str("operation_id", opID).
		Bool("preview", op.IsPreview).
		Str("url", url).
		Msg("手动合并完成")
	return nil
}

// prepareMergeInputs 下载并逐个处理输入源，返回可拼接的本地片段
// 视频走裁剪/滤镜链，图片转定长片段，音频在此路径跳过（无视频轨可依附）
func (s *Service) prepareMergeInputs(ctx context.Context, op *pipeline.MergeOperation, dir string) ([]string, error) {
	var clips []string
	budget := previewMaxTotal

	for i, in := range op.Inputs {
		srcPath := filepath.Join(dir, fmt.Sprintf("input_%d", i))
		if err := s.downloadTo(ctx, in.URL, srcPath); err != nil {
			return nil, fmt.Errorf("download input %d: %w", i, err)
		}

		outPath := filepath.Join(dir, fmt.Sprintf("clip_%d.mp4", i))
		switch in.Type {
		case pipeline.InputSourceImage:
			if err := s.media.StillClip(ctx, srcPath, outPath, stillClipDuration, s.width, s.height, s.fps); err != nil {
				return nil, fmt.Errorf("process image input %d: %w", i, err)
			}
		case pipeline.InputSourceAudio:
			log.Warn().Int("input", i).Msg("音频输入在手动合并中被跳过")
			continue
		default:
			processed, consumed, err := s.prepareVideoInput(ctx, op, &in, srcPath, outPath, budget)
			if err != nil {
				return nil, fmt.Errorf("process video input %d: %w", i, err)
			}
			if processed == "" {
				continue // 预览限额耗尽
			}
			budget -= consumed
			outPath = processed
		}
		clips = append(clips, outPath)

		if op.IsPreview && budget <= 0 {
			break
		}
	}
	return clips, nil
}

// prepareVideoInput 处理单个视频输入
// 预览走流复制限额裁剪；正式路径走裁剪/音量/淡入淡出重编码。
// 返回处理后的路径和（预览模式下）消耗的时长预算
func (s *Service) prepareVideoInput(ctx context.Context, op *pipeline.MergeOperation, in *pipeline.InputSource, srcPath, outPath string, budget float64) (string, float64, error) {
	info, err := s.media.GetVideoInfo(ctx, srcPath)
	if err != nil {
		return "", 0, fmt.Errorf("probe input: %w", err)
	}

	if op.IsPreview {
		take := previewTake(in, info.Duration, budget)
		if take <= 0 {
			return "", 0, nil
		}
		if err := s.media.FastTrim(ctx, srcPath, outPath, in.TrimStart, take); err != nil {
			return "", 0, err
		}
		return outPath, take, nil
	}

	opts := &ffmpeg.TrimOptions{
		Start:   in.TrimStart,
		End:     in.TrimEnd,
		Volume:  in.Volume,
		FadeIn:  in.FadeIn,
		FadeOut: in.FadeOut,
	}
	if err := s.media.TrimWithFilters(ctx, srcPath, outPath, opts, info.Duration); err != nil {
		return "", 0, err
	}
	return outPath, 0, nil
}

// previewTake 计算预览模式下该输入应截取的秒数
// 受三重限制：输入自身裁剪范围、单输入 10 秒、剩余总预算
func previewTake(in *pipeline.InputSource, sourceDuration, budget float64) float64 {
	available := sourceDuration - in.TrimStart
	if in.TrimEnd > 0 && in.TrimEnd-in.TrimStart < available {
		available = in.TrimEnd - in.TrimStart
	}
	take := available
	if take > previewMaxPerInput {
		take = previewMaxPerInput
	}
	if take > budget {
		take = budget
	}
	if take < 0 {
		take = 0
	}
	return take
}

// customEncodeOptions 把持久化的自定义编码参数转成 FFmpeg 选项
func customEncodeOptions(p *pipeline.CustomEncode) *ffmpeg.EncodeOptions {
	if p == nil {
		return nil
	}
	opts := &ffmpeg.EncodeOptions{
		VideoCodec: p.VideoCodec,
		Bitrate:    p.Bitrate,
		Resolution: p.Resolution,
		FPS:        p.FPS,
	}
	if p.Filters != "" {
		opts.Filters = []string{p.Filters}
	}
	return opts
}

// failMergeOp 把合并操作置为终态 FAILED
func (s *Service) failMergeOp(ctx context.Context, opID string, cause error) error {
	log.Error().Err(cause).Str("operation_id", opID).Msg("手动合并失败")
	if err := s.mergeRepo.UpdateStatus(ctx, opID, pipeline.MergeStatusFailed, cause.Error()); err != nil {
		return err
	}
	return cause
}

// reportMergeProgress 持久化合并进度
func (s *Service) reportMergeProgress(ctx context.Context, opID string, progress int, step string) {
	if err := s.mergeRepo.UpdateProgress(ctx, opID, progress, step); err != nil {
		log.Warn().Err(err).Str("operation_id", opID).Msg("更新合并进度失败")
	}
}

// copyFile 复制本地文件
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
