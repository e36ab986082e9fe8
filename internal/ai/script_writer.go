package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"fable/internal/config"
)

// ScriptWriter 剧本生成客户端
// 职责: 章节文本 → 标准剧本格式（SCENE 标头 + 角色对白），供流水线解析
type ScriptWriter struct {
	cfg   *config.AIConfig
	model model.ChatModel
}

// NewScriptWriter 创建剧本生成客户端
func NewScriptWriter(ctx context.Context, cfg *config.AIConfig) (*ScriptWriter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ai api key is required")
	}

	chatModel, err := newChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	return &ScriptWriter{cfg: cfg, model: chatModel}, nil
}

// newChatModel 创建 ChatModel
// 支持 Provider: openai, azure
func newChatModel(ctx context.Context, cfg *config.AIConfig) (model.ChatModel, error) {
	switch cfg.Provider {
	case "openai", "":
		return newOpenAIChatModel(ctx, cfg, false)
	case "azure":
		return newOpenAIChatModel(ctx, cfg, true)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}

// newOpenAIChatModel 创建 OpenAI / Azure ChatModel
func newOpenAIChatModel(ctx context.Context, cfg *config.AIConfig, byAzure bool) (model.ChatModel, error) {
	modelCfg := &openai.ChatModelConfig{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		ByAzure: byAzure,
	}

	// Base URL (用于代理或兼容 API)
	if cfg.BaseURL != "" {
		modelCfg.BaseURL = cfg.BaseURL
	}

	// 模型参数
	if cfg.Options.Temperature > 0 {
		temp := float32(cfg.Options.Temperature)
		modelCfg.Temperature = &temp
	}
	if cfg.Options.MaxTokens > 0 {
		modelCfg.MaxTokens = &cfg.Options.MaxTokens
	}
	if cfg.Options.TopP > 0 {
		topP := float32(cfg.Options.TopP)
		modelCfg.TopP = &topP
	}

	return openai.NewChatModel(ctx, modelCfg)
}

// 剧本生成的系统提示词
// 输出格式必须与 scriptkit 解析器约定一致：SCENE N 标头、Name: 对白、(动作)
const scriptSystemPrompt = `You are a professional screenplay writer adapting book chapters into short cinematic scripts for AI video generation.

Output format rules:
- Divide the chapter into 3 to 8 scenes. Start each scene with a line "SCENE N" (N starting at 1).
- The first line after a scene header is a vivid visual description of the scene.
- Write character dialogue as "Name: spoken line" using only the provided character names.
- Write physical actions in parentheses, e.g. "(John walks to the window)".
- You may add camera directions like "Camera zooms in on the door".
- No markdown, no commentary, output the script only.`

// WriteScript 为章节生成剧本
func (w *ScriptWriter) WriteScript(ctx context.Context, chapterText string, characters []string, style string) (string, error) {
	if strings.TrimSpace(chapterText) == "" {
		return "", fmt.Errorf("chapter text is empty")
	}

	var user strings.Builder
	if style != "" {
		fmt.Fprintf(&user, "Script style: %s\n", style)
	}
	if len(characters) > 0 {
		fmt.Fprintf(&user, "Known characters: %s\n", strings.Join(characters, ", "))
	}
	user.WriteString("\nChapter text:\n")
	user.WriteString(chapterText)

	messages := []*schema.Message{
		schema.SystemMessage(scriptSystemPrompt),
		schema.UserMessage(user.String()),
	}

	resp, err := w.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate script: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("model returned empty script")
	}

	log.Info().
		Int("chapter_chars", len(chapterText)).
		Int("script_chars", len(resp.Content)).
		Str("model", w.cfg.Model).
		Msg("剧本生成完成")
	return resp.Content, nil
}
