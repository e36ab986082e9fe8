package pipeline

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fable/internal/model/pipeline"
	"fable/internal/pkg/cache"
	"fable/internal/pkg/ctxutil"
	httputil "fable/internal/pkg/http"
	pipelinesvc "fable/internal/service/pipeline"
)

// CreateJobRequest 创建视频生成任务请求
// script 和 chapter_text 二选一：缺 script 时由剧本生成服务补齐
type CreateJobRequest struct {
	ChapterID   string               `json:"chapter_id" binding:"required"`  // 章节ID（必填）
	Script      string               `json:"script,omitempty"`               // 剧本文本
	ChapterText string               `json:"chapter_text,omitempty"`         // 章节原文（script 为空时必填）
	Characters  []string             `json:"characters,omitempty"`           // 已知角色名
	ScriptStyle string               `json:"script_style,omitempty"`         // 剧本风格：cinematic_movie / cinematic_narration
	VideoStyle  string               `json:"video_style,omitempty"`          // 视频风格
	AudioFiles  *pipeline.AudioFiles `json:"audio_files,omitempty"`          // 音频清单
	ImageData   *pipeline.ImageData  `json:"image_data,omitempty"`           // 图片清单
}

// CreateJob 创建视频生成任务
// @Summary      创建视频生成任务
// @Description  解析剧本并创建生成任务，任务入队后立即返回，生成在后台 worker 中执行
// @Tags         视频流水线
// @Accept       json
// @Produce      json
// @Param        request  body      CreateJobRequest  true  "创建任务请求"
// @Success      201      {object}  map[string]interface{}  "成功响应"
// @Failure      400      {object}  ErrorResponse  "请求参数错误"
// @Failure      500      {object}  ErrorResponse  "服务器内部错误"
// @Router       /api/v1/pipeline/jobs [post]
func (h *Handler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	userID, ok := ctxutil.GetUserID(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Code: 40101, Message: "未授权"})
		return
	}

	job, err := h.svc.CreateGenerationJob(ctx, &pipelinesvc.CreateJobRequest{
		UserID:      userID,
		ChapterID:   req.ChapterID,
		Script:      req.Script,
		ChapterText: req.ChapterText,
		Characters:  req.Characters,
		ScriptStyle: req.ScriptStyle,
		VideoStyle:  req.VideoStyle,
		AudioFiles:  req.AudioFiles,
		ImageData:   req.ImageData,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 50001, Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, httputil.NewSuccessResponse("任务已创建", job))
}

// GetJob 查询生成任务
// @Summary      查询生成任务
// @Description  返回任务的状态、进度、当前步骤及各阶段数据
// @Tags         视频流水线
// @Produce      json
// @Param        id   path      string  true  "任务ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Failure      404  {object}  ErrorResponse  "任务不存在"
// @Router       /api/v1/pipeline/jobs/{id} [get]
func (h *Handler) GetJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")

	// 轮询接口，短 TTL 缓存挡住数据库
	if h.cache != nil {
		var cached pipeline.GenerationJob
		if err := h.cache.Get(ctx, cache.JobCacheKey(jobID), &cached); err == nil {
			c.JSON(http.StatusOK, httputil.NewSuccessResponse("ok", &cached))
			return
		}
	}

	job, err := h.svc.GetJob(ctx, jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: 40401, Message: err.Error()})
		return
	}

	if h.cache != nil {
		_ = h.cache.Set(ctx, cache.JobCacheKey(jobID), job, cache.JobCacheTTL)
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("ok", job))
}

// ListJobs 查询当前用户的生成任务
// @Summary      查询用户的生成任务列表
// @Tags         视频流水线
// @Produce      json
// @Param        limit  query     int  false  "返回条数上限（默认20）"
// @Success      200    {object}  map[string]interface{}  "成功响应"
// @Router       /api/v1/pipeline/jobs [get]
func (h *Handler) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := ctxutil.GetUserID(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Code: 40101, Message: "未授权"})
		return
	}

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	jobs, err := h.svc.ListJobs(ctx, userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 50001, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("ok", jobs))
}

// ListSegments 查询任务的场景片段
// @Summary      查询任务的场景视频片段
// @Description  按片段序号排序返回每个场景的生成结果（成功或失败）
// @Tags         视频流水线
// @Produce      json
// @Param        id   path      string  true  "任务ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Router       /api/v1/pipeline/jobs/{id}/segments [get]
func (h *Handler) ListSegments(c *gin.Context) {
	segments, err := h.svc.ListSegments(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 50001, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("ok", segments))
}

// RetryJob 手动重试失败的任务
// @Summary      手动重试任务
// @Description  仅 failed / retrieval_failed 状态可重试，上限 3 次；任务被投回失败时所在阶段的队列
// @Tags         视频流水线
// @Produce      json
// @Param        id   path      string  true  "任务ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Failure      400  {object}  ErrorResponse  "任务不可重试或已达上限"
// @Router       /api/v1/pipeline/jobs/{id}/retry [post]
func (h *Handler) RetryJob(c *gin.Context) {
	job, err := h.svc.ManualRetry(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 40002, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("重试已入队", job))
}
