package pipeline

import (
	"fable/internal/pkg/cache"
	httputil "fable/internal/pkg/http"
	pipelinesvc "fable/internal/service/pipeline"
)

// ErrorResponse 错误响应类型别名（使用共用的 http.ErrorResponse）
type ErrorResponse = httputil.ErrorResponse

// Handler 流水线处理器
// 所有视频生成/合并相关的 Handler 方法都通过这个结构体访问 Service
type Handler struct {
	svc   *pipelinesvc.Service
	cache *cache.RedisCache
}

// NewHandler 创建流水线处理器
// cache 可为 nil，此时任务状态查询直接落库
func NewHandler(svc *pipelinesvc.Service, rc *cache.RedisCache) *Handler {
	return &Handler{svc: svc, cache: rc}
}
