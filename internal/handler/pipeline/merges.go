package pipeline

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fable/internal/model/pipeline"
	"fable/internal/pkg/ctxutil"
	httputil "fable/internal/pkg/http"
	pipelinesvc "fable/internal/service/pipeline"
)

// CreateMergeRequest 手动合并请求
type CreateMergeRequest struct {
	Inputs       []pipeline.InputSource `json:"inputs" binding:"required"` // 输入源列表（必填）
	Quality      pipeline.QualityTier   `json:"quality,omitempty"`         // 输出质量档位（默认 web）
	OutputFormat string                 `json:"output_format,omitempty"`   // 输出格式（默认 mp4）
	CustomParams *pipeline.CustomEncode `json:"custom_params,omitempty"`   // 自定义编码参数（quality=custom 时必填）
}

// createMerge 公共路径：预览和正式合并只差 IsPreview 标记
func (h *Handler) createMerge(c *gin.Context, preview bool) {
	var req CreateMergeRequest
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

	op, err := h.svc.CreateMergeOperation(ctx, &pipelinesvc.CreateMergeRequest{
		UserID:       userID,
		Inputs:       req.Inputs,
		Quality:      req.Quality,
		OutputFormat: req.OutputFormat,
		CustomParams: req.CustomParams,
		IsPreview:    preview,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 40002, Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, httputil.NewSuccessResponse("合并操作已创建", op))
}

// CreateMerge 创建手动合并操作
// @Summary      创建手动合并操作
// @Description  对自选输入源做裁剪/音量/淡入淡出处理并合并，任务入队后立即返回
// @Tags         手动合并
// @Accept       json
// @Produce      json
// @Param        request  body      CreateMergeRequest  true  "合并请求"
// @Success      201      {object}  map[string]interface{}  "成功响应"
// @Failure      400      {object}  ErrorResponse  "请求参数错误"
// @Router       /api/v1/pipeline/merges [post]
func (h *Handler) CreateMerge(c *gin.Context) {
	h.createMerge(c, false)
}

// PreviewMerge 创建预览合并操作
// @Summary      创建预览合并操作
// @Description  低保真快速预览：流复制裁剪，单输入最多 10 秒，总时长最多 30 秒
// @Tags         手动合并
// @Accept       json
// @Produce      json
// @Param        request  body      CreateMergeRequest  true  "合并请求"
// @Success      201      {object}  map[string]interface{}  "成功响应"
// @Failure      400      {object}  ErrorResponse  "请求参数错误"
// @Router       /api/v1/pipeline/merges/preview [post]
func (h *Handler) PreviewMerge(c *gin.Context) {
	h.createMerge(c, true)
}

// GetMerge 查询手动合并操作
// @Summary      查询手动合并操作
// @Description  返回合并状态、进度、产物URL和处理统计
// @Tags         手动合并
// @Produce      json
// @Param        id   path      string  true  "操作ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Failure      404  {object}  ErrorResponse  "操作不存在"
// @Router       /api/v1/pipeline/merges/{id} [get]
func (h *Handler) GetMerge(c *gin.Context) {
	op, err := h.svc.GetMergeOperation(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: 40401, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse("ok", op))
}
