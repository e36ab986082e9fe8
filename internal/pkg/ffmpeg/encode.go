package ffmpeg

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// 质量档位
const (
	TierWeb    = "web"    // 封顶码率 ~3Mbps，fast 预设，作为默认下发版本
	TierMedium = "medium" // CRF 23
	TierHigh   = "high"   // CRF 18，slow 预设
	TierCustom = "custom" // 调用方自定参数
)

// EncodeOptions 自定义档位的编码参数（仅 TierCustom 使用）
type EncodeOptions struct {
	VideoCodec string   // 视频编码器（默认 libx264）
	Bitrate    string   // 码率（如 "5M"）
	Resolution string   // 分辨率（如 "1920x1080"）
	FPS        int      // 帧率
	Filters    []string // 附加视频滤镜
}

// buildEncodeArgs 构造质量档位重编码的命令行参数
// 所有档位统一加 -movflags +faststart，保证网页端可边下边播
func buildEncodeArgs(inputPath, outputPath, tier string, opts *EncodeOptions) ([]string, error) {
	args := []string{"-y", "-i", inputPath}

	switch tier {
	case TierWeb:
		args = append(args,
			"-c:v", "libx264",
			"-b:v", "3M",
			"-maxrate", "3M",
			"-bufsize", "6M",
			"-preset", "fast",
		)
	case TierMedium:
		args = append(args,
			"-c:v", "libx264",
			"-crf", "23",
			"-preset", "medium",
		)
	case TierHigh:
		args = append(args,
			"-c:v", "libx264",
			"-crf", "18",
			"-preset", "slow",
		)
	case TierCustom:
		if opts == nil {
			return nil, fmt.Errorf("custom tier requires encode options")
		}
		codec := opts.VideoCodec
		if codec == "" {
			codec = "libx264"
		}
		args = append(args, "-c:v", codec)
		if opts.Bitrate != "" {
			args = append(args, "-b:v", opts.Bitrate)
		}
		if opts.Resolution != "" {
			args = append(args, "-s", opts.Resolution)
		}
		if opts.FPS > 0 {
			args = append(args, "-r", fmt.Sprintf("%d", opts.FPS))
		}
		for _, f := range opts.Filters {
			args = append(args, "-vf", f)
		}
	default:
		return nil, fmt.Errorf("unknown quality tier: %s", tier)
	}

	args = append(args,
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		outputPath,
	)
	return args, nil
}

// EncodeQualityTier 按质量档位重编码视频
func (c *Client) EncodeQualityTier(ctx context.Context, inputPath, outputPath, tier string, opts *EncodeOptions) error {
	args, err := buildEncodeArgs(inputPath, outputPath, tier, opts)
	if err != nil {
		return err
	}

	if err := c.run(ctx, args); err != nil {
		return fmt.Errorf("encode %s tier: %w", tier, err)
	}

	log.Info().
		Str("tier", tier).
		Str("output", outputPath).
		Msg("质量档位编码完成")
	return nil
}
