package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// buildAudioMergeArgs 构造把音轨混入视频的命令行参数
// 多音轨先 amix（duration=longest），视频流直接复制，音频重编为 aac，
// -shortest 防止长音轨把视频尾部拉成静帧
func buildAudioMergeArgs(videoPath string, audioPaths []string, outputPath string) []string {
	args := []string{"-y", "-i", videoPath}
	for _, p := range audioPaths {
		args = append(args, "-i", p)
	}

	if len(audioPaths) == 1 {
		args = append(args,
			"-map", "0:v:0",
			"-map", "1:a:0",
		)
	} else {
		inputs := ""
		for i := range audioPaths {
			inputs += fmt.Sprintf("[%d:a]", i+1)
		}
		filter := fmt.Sprintf("%samix=inputs=%d:duration=longest[aout]", inputs, len(audioPaths))
		args = append(args,
			"-filter_complex", filter,
			"-map", "0:v:0",
			"-map", "[aout]",
		)
	}

	args = append(args,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "128k",
		"-shortest",
		outputPath,
	)
	return args
}

// MergeAudioIntoVideo 把若干条音轨合入一段场景视频
func (c *Client) MergeAudioIntoVideo(ctx context.Context, videoPath string, audioPaths []string, outputPath string) error {
	if len(audioPaths) == 0 {
		return fmt.Errorf("no audio tracks to merge")
	}

	if err := c.run(ctx, buildAudioMergeArgs(videoPath, audioPaths, outputPath)); err != nil {
		return fmt.Errorf("merge audio into video: %w", err)
	}

	log.Info().
		Str("video", videoPath).
		Int("tracks", len(audioPaths)).
		Str("output", outputPath).
		Msg("场景音轨混入完成")
	return nil
}

// buildExtractLastFrameArgs 构造提取视频最后一帧的命令行参数
// 从文件尾部回退半秒定位，避免逐帧扫完整个视频
func buildExtractLastFrameArgs(videoPath, outputPath string) []string {
	return []string{
		"-y",
		"-sseof", "-0.5",
		"-i", videoPath,
		"-update", "1",
		"-frames:v", "1",
		"-q:v", "2",
		outputPath,
	}
}

// ExtractLastFrame 提取视频最后一帧为静帧图片
func (c *Client) ExtractLastFrame(ctx context.Context, videoPath, outputPath string) error {
	if err := c.run(ctx, buildExtractLastFrameArgs(videoPath, outputPath)); err != nil {
		return fmt.Errorf("extract last frame: %w", err)
	}
	return nil
}

// buildCrossfadeArgs 构造交叉淡化过渡片段的命令行参数
// 两张静帧各自 loop 成短片，前帧淡出、后帧淡入（alpha 通道），overlay 合成
func buildCrossfadeArgs(fromFrame, toFrame, outputPath string, duration float64, width, height, fps int) []string {
	filter := fmt.Sprintf(
		"[0:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,fade=t=out:st=0:d=%.2f:alpha=1[va];"+
			"[1:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,fade=t=in:st=0:d=%.2f:alpha=1[vb];"+
			"[va][vb]overlay=format=auto[v]",
		width, height, width, height, duration,
		width, height, width, height, duration,
	)

	return []string{
		"-y",
		"-loop", "1", "-t", fmt.Sprintf("%.2f", duration), "-i", fromFrame,
		"-loop", "1", "-t", fmt.Sprintf("%.2f", duration), "-i", toFrame,
		"-filter_complex", filter,
		"-map", "[v]",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", fps),
		outputPath,
	}
}

// CrossfadeTransition 从两张关键帧静帧生成交叉淡化过渡片段
func (c *Client) CrossfadeTransition(ctx context.Context, fromFrame, toFrame, outputPath string, duration float64, width, height, fps int) error {
	if duration <= 0 {
		duration = 1.0
	}
	if err := c.run(ctx, buildCrossfadeArgs(fromFrame, toFrame, outputPath, duration, width, height, fps)); err != nil {
		return fmt.Errorf("crossfade transition: %w", err)
	}

	log.Info().
		Str("from", fromFrame).
		Str("to", toFrame).
		Float64("duration", duration).
		Msg("过渡片段生成完成")
	return nil
}

// buildStillClipArgs 构造把静帧图片 loop 成短片的命令行参数
func buildStillClipArgs(imagePath, outputPath string, duration float64, width, height, fps int) []string {
	return []string{
		"-y",
		"-loop", "1",
		"-i", imagePath,
		"-t", fmt.Sprintf("%.2f", duration),
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1", width, height, width, height),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", fps),
		outputPath,
	}
}

// StillClip 把静帧图片转成指定时长的视频片段
func (c *Client) StillClip(ctx context.Context, imagePath, outputPath string, duration float64, width, height, fps int) error {
	if err := c.run(ctx, buildStillClipArgs(imagePath, outputPath, duration, width, height, fps)); err != nil {
		return fmt.Errorf("still clip: %w", err)
	}
	return nil
}

// ConcatVideos 按顺序拼接多段视频
// 使用 concat demuxer 加流复制，避免在拼接阶段重编码
func (c *Client) ConcatVideos(ctx context.Context, videoPaths []string, outputPath string) error {
	if len(videoPaths) == 0 {
		return fmt.Errorf("no videos to concat")
	}

	tempDir := filepath.Dir(outputPath)
	concatListFile := filepath.Join(tempDir, fmt.Sprintf("concat_list_%d.txt", time.Now().UnixNano()))

	file, err := os.Create(concatListFile)
	if err != nil {
		return fmt.Errorf("create concat list file: %w", err)
	}
	defer os.Remove(concatListFile)

	for _, videoPath := range videoPaths {
		absPath, err := filepath.Abs(videoPath)
		if err != nil {
			file.Close()
			return fmt.Errorf("get absolute path: %w", err)
		}
		fmt.Fprintf(file, "file '%s'\n", absPath)
	}
	file.Close()

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatListFile,
		"-c", "copy",
		outputPath,
	}

	if err := c.run(ctx, args); err != nil {
		return fmt.Errorf("concat videos: %w", err)
	}

	log.Info().
		Int("count", len(videoPaths)).
		Str("output", outputPath).
		Msg("视频拼接完成")
	return nil
}

// 拼接后统一做的色阶校正滤镜
const defaultColorFilter = "eq=brightness=0.02:contrast=1.05:saturation=1.1"

// buildColorFilterArgs 构造色阶校正的命令行参数，音频流直接复制
func buildColorFilterArgs(inputPath, outputPath, filter string) []string {
	if filter == "" {
		filter = defaultColorFilter
	}
	return []string{
		"-y",
		"-i", inputPath,
		"-vf", filter,
		"-c:v", "libx264",
		"-crf", "20",
		"-preset", "medium",
		"-pix_fmt", "yuv420p",
		"-c:a", "copy",
		outputPath,
	}
}

// ApplyColorFilters 对拼接结果做一遍色阶校正
// filter 为空时使用默认校正参数
func (c *Client) ApplyColorFilters(ctx context.Context, inputPath, outputPath, filter string) error {
	if err := c.run(ctx, buildColorFilterArgs(inputPath, outputPath, filter)); err != nil {
		return fmt.Errorf("apply color filters: %w", err)
	}
	return nil
}
