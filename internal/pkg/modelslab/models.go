package modelslab

import "fmt"

// 支持的模型ID（封闭枚举）
// 请求体的形状由模型ID决定：有的要 width/height，有的要 aspect_ratio，
// 有的只接受 prompt，图生视频类还带 1-2 张参考图和 strength 混合参数。
// 形状选择是查表决策，不是业务逻辑；表外模型直接返回 ErrUnsupportedModel。
const (
	// 图片模型
	ModelFluxDev  = "flux-dev"       // 文生图（width/height）
	ModelSDXL     = "sdxl-base-v1-0" // 文生图（width/height + 负向提示词）
	ModelImg2Img  = "img2img-v7"     // 图生图（init_image + strength）

	// 视频模型
	ModelVeo2        = "veo2"           // 图生视频主模型（aspect_ratio）
	ModelVeo3        = "veo3"           // veo 家族新版本（aspect_ratio）
	ModelOmniHuman   = "omni-human"     // veo 家族的降级目标（width/height）
	ModelCogVideoX   = "cogvideox"      // 纯提示词文生视频
	ModelWanI2V      = "wan2-1-i2v"     // 图生视频（init_image + strength）

	// 口型同步模型
	ModelLipSync2 = "lipsync-2"
)

// FallbackModelFor 返回模型的降级目标
// veo 家族统一降级到 omni-human 家族；没有降级目标时返回空串
func FallbackModelFor(model string) string {
	switch model {
	case ModelVeo2, ModelVeo3:
		return ModelOmniHuman
	case ModelCogVideoX:
		return ModelWanI2V
	default:
		return ""
	}
}

// ImageRequest 图片生成请求
type ImageRequest struct {
	Prompt         string // 提示词
	NegativePrompt string // 负向提示词（仅部分模型支持）
	Model          string // 模型ID
	Width          int    // 宽度（默认 768）
	Height         int    // 高度（默认 1024）
	InitImageURL   string // 图生图的参考图URL
	Strength       float64 // 图生图混合强度（0-1）
	Samples        int    // 生成张数（默认 1）
	NonBlocking    bool   // true 时提交后立即返回 processing，不在客户端内轮询
}

// VideoRequest 视频生成请求
type VideoRequest struct {
	Prompt       string  // 提示词
	Model        string  // 模型ID
	InitImageURL string  // 起始图片URL（图生视频）
	EndImageURL  string  // 结束参考图URL（可选，第二张参考图）
	Strength     float64 // 参考图混合强度（0-1）
	AspectRatio  string  // 宽高比（如 9:16，仅 veo 家族）
	Width        int     // 宽度（omni-human 家族）
	Height       int     // 高度（omni-human 家族）
	Duration     int     // 时长（秒）
	NonBlocking  bool    // true 时提交后立即返回 processing，不在客户端内轮询
}

// fluxPayload 文生图请求体（width/height 形状）
type fluxPayload struct {
	Key            string `json:"key"`
	ModelID        string `json:"model_id"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Samples        int    `json:"samples"`
	SafetyChecker  bool   `json:"safety_checker"`
}

// img2imgPayload 图生图请求体（参考图 + strength）
type img2imgPayload struct {
	Key       string  `json:"key"`
	ModelID   string  `json:"model_id"`
	Prompt    string  `json:"prompt"`
	InitImage string  `json:"init_image"`
	Strength  float64 `json:"strength"`
	Samples   int     `json:"samples"`
}

// veoPayload veo 家族图生视频请求体（aspect_ratio 形状）
type veoPayload struct {
	Key         string `json:"key"`
	ModelID     string `json:"model_id"`
	Prompt      string `json:"prompt"`
	InitImage   string `json:"init_image,omitempty"`
	AspectRatio string `json:"aspect_ratio"`
	Duration    int    `json:"duration,omitempty"`
}

// omniHumanPayload omni-human 家族请求体（width/height 形状）
type omniHumanPayload struct {
	Key       string `json:"key"`
	ModelID   string `json:"model_id"`
	Prompt    string `json:"prompt"`
	InitImage string `json:"init_image,omitempty"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  int    `json:"duration,omitempty"`
}

// promptOnlyPayload 极简纯提示词请求体
type promptOnlyPayload struct {
	Key     string `json:"key"`
	ModelID string `json:"model_id"`
	Prompt  string `json:"prompt"`
}

// i2vPayload 带参考图和混合强度的图生视频请求体（最多两张参考图）
type i2vPayload struct {
	Key       string   `json:"key"`
	ModelID   string   `json:"model_id"`
	Prompt    string   `json:"prompt"`
	InitImages []string `json:"init_images"`
	Strength  float64  `json:"strength"`
	Duration  int      `json:"duration,omitempty"`
}

// lipSyncPayload 口型同步请求体
type lipSyncPayload struct {
	Key      string `json:"key"`
	ModelID  string `json:"model_id"`
	InitVideo string `json:"init_video"`
	InitAudio string `json:"init_audio"`
}

// buildImagePayload 按模型ID构造图片请求体
func buildImagePayload(key string, req *ImageRequest) (any, error) {
	width, height := req.Width, req.Height
	if width == 0 {
		width = 768
	}
	if height == 0 {
		height = 1024
	}
	samples := req.Samples
	if samples == 0 {
		samples = 1
	}

	switch req.Model {
	case ModelFluxDev, ModelSDXL:
		return &fluxPayload{
			Key:            key,
			ModelID:        req.Model,
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Width:          width,
			Height:         height,
			Samples:        samples,
			SafetyChecker:  true,
		}, nil
	case ModelImg2Img:
		if req.InitImageURL == "" {
			return nil, fmt.Errorf("%w: %s requires init image", ErrUnsupportedModel, req.Model)
		}
		strength := req.Strength
		if strength == 0 {
			strength = 0.7
		}
		return &img2imgPayload{
			Key:       key,
			ModelID:   req.Model,
			Prompt:    req.Prompt,
			InitImage: req.InitImageURL,
			Strength:  strength,
			Samples:   samples,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, req.Model)
	}
}

// buildVideoPayload 按模型ID构造视频请求体
func buildVideoPayload(key string, req *VideoRequest) (any, error) {
	duration := req.Duration
	if duration == 0 {
		duration = 5
	}

	switch req.Model {
	case ModelVeo2, ModelVeo3:
		ratio := req.AspectRatio
		if ratio == "" {
			ratio = "9:16"
		}
		return &veoPayload{
			Key:         key,
			ModelID:     req.Model,
			Prompt:      req.Prompt,
			InitImage:   req.InitImageURL,
			AspectRatio: ratio,
			Duration:    duration,
		}, nil
	case ModelOmniHuman:
		width, height := req.Width, req.Height
		if width == 0 {
			width = 720
		}
		if height == 0 {
			height = 1280
		}
		return &omniHumanPayload{
			Key:       key,
			ModelID:   req.Model,
			Prompt:    req.Prompt,
			InitImage: req.InitImageURL,
			Width:     width,
			Height:    height,
			Duration:  duration,
		}, nil
	case ModelCogVideoX:
		return &promptOnlyPayload{
			Key:     key,
			ModelID: req.Model,
			Prompt:  req.Prompt,
		}, nil
	case ModelWanI2V:
		if req.InitImageURL == "" {
			return nil, fmt.Errorf("%w: %s requires init image", ErrUnsupportedModel, req.Model)
		}
		images := []string{req.InitImageURL}
		if req.EndImageURL != "" {
			images = append(images, req.EndImageURL)
		}
		strength := req.Strength
		if strength == 0 {
			strength = 0.8
		}
		return &i2vPayload{
			Key:        key,
			ModelID:    req.Model,
			Prompt:     req.Prompt,
			InitImages: images,
			Strength:   strength,
			Duration:   duration,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, req.Model)
	}
}
