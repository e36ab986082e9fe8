package modelslab

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// 图片生成轮询墙钟上限
const imagePollCeiling = 20 * time.Minute

// ImageClient 图片生成客户端
// 支持文生图和图生图，隐藏上游的异步任务/轮询协议
type ImageClient struct {
	client *Client
	model  string // 默认模型
}

// NewImageClient 创建图片生成客户端
func NewImageClient(client *Client, defaultModel string) *ImageClient {
	if defaultModel == "" {
		defaultModel = ModelFluxDev
	}
	return &ImageClient{client: client, model: defaultModel}
}

// Generate 生成图片并返回资源URL
// 默认阻塞直到完成；req.NonBlocking 为 true 时提交后立即返回 processing 结果
func (ic *ImageClient) Generate(ctx context.Context, req *ImageRequest) (*Result, error) {
	if req.Model == "" {
		req.Model = ic.model
	}

	payload, err := buildImagePayload(ic.client.apiKey, req)
	if err != nil {
		return nil, err
	}

	path := "/images/text2img"
	if req.InitImageURL != "" {
		path = "/images/img2img"
	}

	resp, err := ic.client.submit(ctx, path, payload)
	if err != nil {
		return nil, fmt.Errorf("submit image generation: %w", err)
	}

	log.Info().
		Str("model", req.Model).
		Str("job_id", resp.ID.String()).
		Str("status", resp.Status).
		Msg("图片生成任务已提交")

	if resp.Status == "processing" {
		if req.NonBlocking {
			return &Result{Status: "processing", JobID: resp.ID.String(), ETA: int(resp.ETA)}, nil
		}
		resp, err = ic.client.pollUntil(ctx, resp.ID.String(), imagePollCeiling, "images")
		if err != nil {
			return nil, err
		}
	}

	url, err := ic.client.resolveAssetURL(ctx, resp)
	if err != nil {
		return nil, err
	}

	return &Result{
		Status: "success",
		URL:    url,
		JobID:  resp.ID.String(),
		Metadata: map[string]string{
			"model": req.Model,
		},
	}, nil
}
