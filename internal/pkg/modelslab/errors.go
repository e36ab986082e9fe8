package modelslab

import (
	"errors"
	"fmt"
	"strings"
)

// 错误分类
// 低层客户端负责捕获并分类，错误信息原样携带上游的最后一条 message 以便排障
var (
	// ErrMissingAPIKey 配置错误：缺少 API Key（立即失败，不重试）
	ErrMissingAPIKey = errors.New("modelslab: api key is required")

	// ErrUnsupportedModel 不支持的模型ID（立即失败，不发送畸形请求）
	ErrUnsupportedModel = errors.New("modelslab: unsupported model")

	// ErrTimeout 轮询超过墙钟上限（可重试，调用方不应视为致命）
	ErrTimeout = errors.New("modelslab: generation timed out")

	// ErrContentRejected 上游风控拒绝（触发一次安全兜底提示词重试）
	ErrContentRejected = errors.New("modelslab: content rejected by provider risk control")

	// ErrModelUnavailable 模型不可用（触发降级模型重试）
	ErrModelUnavailable = errors.New("modelslab: model unavailable")

	// ErrRetrieval 生成成功但资源URL不可用/无法下载（驱动自动重试调度）
	ErrRetrieval = errors.New("modelslab: asset retrieval failed")
)

// ProviderError 携带上游原始错误信息的错误
type ProviderError struct {
	Kind    error  // 上面的分类哨兵之一
	Message string // 上游返回的原始 message
}

// Error 实现 error 接口
func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Message)
}

// Unwrap 支持 errors.Is 按分类匹配
func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// 风控拒绝的特征关键字
var riskControlKeywords = []string{
	"risk control", "content policy", "content moderation", "flagged",
	"nsfw", "safety system", "rejected by safety", "violates",
}

// 模型不可用的特征关键字
var modelUnavailableKeywords = []string{
	"try another model", "model not available", "model is unavailable",
	"model not found", "cannot generate with this model", "model overloaded",
}

// 资源获取失败的特征关键字
var retrievalKeywords = []string{
	"retrieval", "download", "url", "fetch failed", "not accessible",
	"link expired", "file not found",
}

// ClassifyProviderMessage 根据上游 message 对失败进行分类
// 未匹配任何特征时归为普通生成失败（返回 nil 哨兵，调用方包装成一般错误）
func ClassifyProviderMessage(message string) error {
	lower := strings.ToLower(message)
	for _, kw := range riskControlKeywords {
		if strings.Contains(lower, kw) {
			return ErrContentRejected
		}
	}
	for _, kw := range modelUnavailableKeywords {
		if strings.Contains(lower, kw) {
			return ErrModelUnavailable
		}
	}
	for _, kw := range retrievalKeywords {
		if strings.Contains(lower, kw) {
			return ErrRetrieval
		}
	}
	return nil
}

// IsRetrievalFailure 判断错误是否属于资源获取失败类（自动重试的触发条件）
func IsRetrievalFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetrieval) {
		return true
	}
	return ClassifyProviderMessage(err.Error()) == ErrRetrieval
}
