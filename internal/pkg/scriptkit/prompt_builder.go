package scriptkit

import (
	"fmt"
	"strings"
)

// PromptBuilder 场景提示词构造器
// 把场景描述、镜头指令、角色动作和该场景自己的对白组合成视频生成提示词
type PromptBuilder struct {
	maxLength int // 提示词长度上限（字符，0 表示不限制）
}

// NewPromptBuilder 创建提示词构造器
func NewPromptBuilder(maxLength int) *PromptBuilder {
	return &PromptBuilder{maxLength: maxLength}
}

// BuildScenePrompt 为指定场景构造增强提示词
// 关键正确性约束：只包含属于该场景的对白行，绝不把整部剧本的对白混进来
// （跨场景对白泄漏会污染提示词，是被替代实现里验证过的缺陷模式）
func (b *PromptBuilder) BuildScenePrompt(scene int, comp *ScriptComponents) string {
	var parts []string

	// 1. 场景描述
	for _, d := range comp.SceneDescriptions {
		if d.Scene == scene {
			parts = append(parts, d.Text)
		}
	}

	// 2. 仅属于本场景的镜头运动指令
	if movements := comp.CameraForScene(scene); len(movements) > 0 {
		parts = append(parts, "Camera: "+strings.Join(movements, "; "))
	}

	// 3. 角色动作，按角色分组
	actionsByChar := make(map[string][]string)
	var charOrder []string
	for _, a := range comp.CharacterActions {
		if a.Scene != scene {
			continue
		}
		name := a.Character
		if name == "" {
			name = "Action"
		}
		if _, seen := actionsByChar[name]; !seen {
			charOrder = append(charOrder, name)
		}
		actionsByChar[name] = append(actionsByChar[name], a.Action)
	}
	for _, name := range charOrder {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(actionsByChar[name], ", ")))
	}

	// 4. 仅属于本场景的对白
	for _, d := range comp.DialoguesForScene(scene) {
		parts = append(parts, fmt.Sprintf("%s says: %q", d.Character, d.Text))
	}

	prompt := strings.Join(parts, ". ")
	if prompt == "" {
		prompt = FallbackSceneDescription
	}

	if b.maxLength > 0 && len(prompt) > b.maxLength {
		prompt = prompt[:b.maxLength]
	}
	return prompt
}
