package modelslab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// 视频生成轮询墙钟上限
const videoPollCeiling = 15 * time.Minute

// 风控兜底时使用的极简安全提示词
const safeFallbackPrompt = "A gentle cinematic scene with soft natural lighting and calm camera movement."

// AttemptKind 尝试策略类型（带标签变体）
// 降级顺序是一等公民的数据结构，而不是嵌套的异常控制流
type AttemptKind string

const (
	AttemptPrimary            AttemptKind = "primary_model"       // 主模型
	AttemptFallbackModel      AttemptKind = "fallback_model"      // 降级模型
	AttemptSafeFallbackPrompt AttemptKind = "safe_fallback_prompt" // 安全兜底提示词（仅风控拒绝后）
)

// Attempt 单次尝试策略
type Attempt struct {
	Kind   AttemptKind // 策略类型
	Model  string      // 本次使用的模型ID
	Prompt string      // 本次使用的提示词
}

// BuildAttemptPlan 构造有序的尝试计划
// 顺序：主模型 → 家族降级模型 → 安全兜底提示词（兜底提示词只在风控拒绝后执行）
func BuildAttemptPlan(model, prompt string) []Attempt {
	plan := []Attempt{{Kind: AttemptPrimary, Model: model, Prompt: prompt}}

	if fallback := FallbackModelFor(model); fallback != "" {
		plan = append(plan, Attempt{Kind: AttemptFallbackModel, Model: fallback, Prompt: prompt})
	}

	plan = append(plan, Attempt{Kind: AttemptSafeFallbackPrompt, Model: model, Prompt: safeFallbackPrompt})
	return plan
}

// VideoClient 视频生成客户端
// 隐藏上游的异步任务协议，并按尝试计划做模型降级和风控兜底
type VideoClient struct {
	client *Client
	model  string // 默认模型
}

// NewVideoClient 创建视频生成客户端
func NewVideoClient(client *Client, defaultModel string) *VideoClient {
	if defaultModel == "" {
		defaultModel = ModelVeo2
	}
	return &VideoClient{client: client, model: defaultModel}
}

// Generate 生成视频并返回资源URL
// 按尝试计划依次执行：
//   - 模型不可用 → 推进到降级模型
//   - 风控拒绝 → 跳到安全兜底提示词（每次提交只做一次过滤，不循环过滤）
//   - 超时/资源获取失败 → 原样上浮（调用方决定重试策略）
// 所有策略耗尽后返回最后一次上游错误（message 原样携带）
func (vc *VideoClient) Generate(ctx context.Context, req *VideoRequest) (*Result, error) {
	if req.Model == "" {
		req.Model = vc.model
	}

	plan := BuildAttemptPlan(req.Model, req.Prompt)
	rejected := false
	var lastErr error

	for _, attempt := range plan {
		// 兜底提示词只在确认风控拒绝后才动用
		if attempt.Kind == AttemptSafeFallbackPrompt && !rejected {
			continue
		}

		attemptReq := *req
		attemptReq.Model = attempt.Model
		attemptReq.Prompt = attempt.Prompt

		result, err := vc.generateOnce(ctx, &attemptReq)
		if err == nil {
			if attempt.Kind != AttemptPrimary {
				log.Warn().
					Str("kind", string(attempt.Kind)).
					Str("model", attempt.Model).
					Msg("视频生成经降级策略成功")
			}
			if result.Metadata == nil {
				result.Metadata = make(map[string]string)
			}
			result.Metadata["attempt"] = string(attempt.Kind)
			return result, nil
		}

		lastErr = err
		switch {
		case errors.Is(err, ErrContentRejected):
			rejected = true
			log.Warn().Err(err).Str("model", attempt.Model).Msg("上游风控拒绝，尝试安全兜底提示词")
		case errors.Is(err, ErrModelUnavailable):
			log.Warn().Err(err).Str("model", attempt.Model).Msg("模型不可用，尝试降级模型")
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrRetrieval):
			// 可重试类失败不再消耗后续策略，交给上层重试调度
			return nil, err
		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("video generation exhausted all attempts: %w", lastErr)
}

// generateOnce 执行单次提交+轮询
func (vc *VideoClient) generateOnce(ctx context.Context, req *VideoRequest) (*Result, error) {
	payload, err := buildVideoPayload(vc.client.apiKey, req)
	if err != nil {
		return nil, err
	}

	path := "/video/text2video"
	if req.InitImageURL != "" {
		path = "/video/image2video"
	}

	resp, err := vc.client.submit(ctx, path, payload)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("model", req.Model).
		Str("job_id", resp.ID.String()).
		Str("status", resp.Status).
		Msg("视频生成任务已提交")

	if resp.Status == "processing" {
		if req.NonBlocking {
			return &Result{Status: "processing", JobID: resp.ID.String(), ETA: int(resp.ETA)}, nil
		}
		resp, err = vc.client.pollUntil(ctx, resp.ID.String(), videoPollCeiling, "video")
		if err != nil {
			return nil, err
		}
	}

	url, err := vc.client.resolveAssetURL(ctx, resp)
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
