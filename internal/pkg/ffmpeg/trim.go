package ffmpeg

import (
	"context"
	"fmt"
	"strings"
)

// TrimOptions 单个输入的裁剪与音频处理参数
type TrimOptions struct {
	Start   float64 // 起点（秒）
	End     float64 // 终点（秒），0 表示到结尾
	Volume  float64 // 音量倍数，0 或 1 表示不变
	FadeIn  float64 // 淡入时长（秒）
	FadeOut float64 // 淡出时长（秒）
}

// clipDuration 裁剪后的片段时长，End 为 0 时需要调用方先探测原始时长
func (o *TrimOptions) clipDuration(sourceDuration float64) float64 {
	end := o.End
	if end <= 0 {
		end = sourceDuration
	}
	return end - o.Start
}

// buildAudioFilterChain 构造音量加淡入淡出的音频滤镜链
// 淡出的起点依赖片段时长，由调用方传入
func buildAudioFilterChain(opts *TrimOptions, clipDuration float64) string {
	var filters []string

	if opts.Volume > 0 && opts.Volume != 1 {
		filters = append(filters, fmt.Sprintf("volume=%.2f", opts.Volume))
	}
	if opts.FadeIn > 0 {
		filters = append(filters, fmt.Sprintf("afade=t=in:st=0:d=%.2f", opts.FadeIn))
	}
	if opts.FadeOut > 0 && clipDuration > opts.FadeOut {
		filters = append(filters, fmt.Sprintf("afade=t=out:st=%.2f:d=%.2f", clipDuration-opts.FadeOut, opts.FadeOut))
	}

	return strings.Join(filters, ",")
}

// buildTrimArgs 构造裁剪加滤镜处理的命令行参数（重编码路径）
func buildTrimArgs(inputPath, outputPath string, opts *TrimOptions, sourceDuration float64) []string {
	args := []string{"-y"}

	if opts.Start > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.2f", opts.Start))
	}
	if opts.End > 0 {
		args = append(args, "-to", fmt.Sprintf("%.2f", opts.End))
	}
	args = append(args, "-i", inputPath)

	if chain := buildAudioFilterChain(opts, opts.clipDuration(sourceDuration)); chain != "" {
		args = append(args, "-af", chain)
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "medium",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		outputPath,
	)
	return args
}

// TrimWithFilters 裁剪输入并应用音量与淡入淡出，重编码输出
// sourceDuration 用于定位淡出起点，End 为 0 时也用它推算片段时长
func (c *Client) TrimWithFilters(ctx context.Context, inputPath, outputPath string, opts *TrimOptions, sourceDuration float64) error {
	if err := c.run(ctx, buildTrimArgs(inputPath, outputPath, opts, sourceDuration)); err != nil {
		return fmt.Errorf("trim with filters: %w", err)
	}
	return nil
}

// buildFastTrimArgs 构造流复制快速裁剪的命令行参数（预览路径，不重编码）
func buildFastTrimArgs(inputPath, outputPath string, start, duration float64) []string {
	args := []string{"-y"}
	if start > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.2f", start))
	}
	args = append(args,
		"-i", inputPath,
		"-t", fmt.Sprintf("%.2f", duration),
		"-c", "copy",
		outputPath,
	)
	return args
}

// FastTrim 流复制快速裁剪，牺牲关键帧精度换速度
func (c *Client) FastTrim(ctx context.Context, inputPath, outputPath string, start, duration float64) error {
	if err := c.run(ctx, buildFastTrimArgs(inputPath, outputPath, start, duration)); err != nil {
		return fmt.Errorf("fast trim: %w", err)
	}
	return nil
}
