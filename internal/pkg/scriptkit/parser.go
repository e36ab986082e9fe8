package scriptkit

import (
	"strings"
	"unicode"
)

// 剧本风格
const (
	StyleCinematicMovie     = "cinematic_movie"     // 电影剧本风格（角色提示 + 对白）
	StyleCinematicNarration = "cinematic_narration" // 旁白解说风格（无角色提示）
)

// SegmentStrategy 场景切分策略标签
// 调用方只依赖 ScriptComponents 接口，不需要感知结果由哪种策略产生
type SegmentStrategy string

const (
	StrategyExplicitHeaders SegmentStrategy = "explicit_headers" // 剧本自带场景头（INT./EXT./SCENE N）
	StrategySpeakerChange   SegmentStrategy = "speaker_change"   // 启发式：说话人变更或连续3行对白即分场
)

// 解析失败时的确定性兜底内容，保证下游阶段永远不会因解析失败而阻塞
const (
	FallbackNarration        = "Narrator: The story continues with gentle scenes unfolding one after another."
	FallbackSceneDescription = "A cinematic scene with visual elements that bring the story to life."
)

// SceneDescription 场景描述（有序）
type SceneDescription struct {
	Scene int    `json:"scene"` // 场景编号（从1开始）
	Text  string `json:"text"`  // 描述文本
}

// DialogueLine 单行对白
// 不变量：每行对白只属于一个场景编号
type DialogueLine struct {
	Character string `json:"character"` // 说话角色
	Text      string `json:"text"`      // 对白文本
	Scene     int    `json:"scene"`     // 所属场景编号
	Line      int    `json:"line"`      // 全局行号（从1开始）
}

// CharacterAction 角色动作
type CharacterAction struct {
	Character string `json:"character"` // 角色名（无法归属时为空）
	Action    string `json:"action"`    // 动作文本
	Scene     int    `json:"scene"`     // 所属场景编号
}

// CameraMovement 镜头运动指令
// 不变量：每条指令只属于一个场景编号，提示词构造时按场景过滤
type CameraMovement struct {
	Scene int    `json:"scene"` // 所属场景编号
	Text  string `json:"text"`  // 指令文本
}

// ScriptComponents 剧本解析产物
type ScriptComponents struct {
	SceneDescriptions  []SceneDescription `json:"scene_descriptions"`  // 场景描述（有序）
	CharacterDialogues []DialogueLine     `json:"character_dialogues"` // 角色对白
	CharacterActions   []CharacterAction  `json:"character_actions"`   // 角色动作
	CameraMovements    []CameraMovement   `json:"camera_movements"`    // 镜头运动指令（有序）
	SceneTransitions   []string           `json:"scene_transitions"`   // 转场指令
	NarrationLines     []string           `json:"narration_lines"`     // 旁白文本（narration 风格）
	Strategy           SegmentStrategy    `json:"strategy"`            // 本次解析使用的切分策略
}

// SceneCount 返回解析出的场景数量
func (c *ScriptComponents) SceneCount() int {
	max := 0
	for _, d := range c.SceneDescriptions {
		if d.Scene > max {
			max = d.Scene
		}
	}
	for _, d := range c.CharacterDialogues {
		if d.Scene > max {
			max = d.Scene
		}
	}
	return max
}

// CameraForScene 返回指定场景的全部镜头运动指令（保持原始顺序）
func (c *ScriptComponents) CameraForScene(scene int) []string {
	var texts []string
	for _, m := range c.CameraMovements {
		if m.Scene == scene {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

// DialoguesForScene 返回指定场景的全部对白（保持原始顺序）
func (c *ScriptComponents) DialoguesForScene(scene int) []DialogueLine {
	var lines []DialogueLine
	for _, d := range c.CharacterDialogues {
		if d.Scene == scene {
			lines = append(lines, d)
		}
	}
	return lines
}

// Parser 剧本解析器
// 把 AI 生成的自由格式剧本/旁白文本解析为结构化组件
type Parser struct {
	knownCharacters map[string]bool // 已知角色名（大写形式）
	style           string          // 剧本风格
}

// NewParser 创建剧本解析器
func NewParser(characters []string, style string) *Parser {
	known := make(map[string]bool, len(characters))
	for _, name := range characters {
		name = strings.TrimSpace(name)
		if name != "" {
			known[strings.ToUpper(name)] = true
		}
	}
	return &Parser{knownCharacters: known, style: style}
}

// 非角色名的保留关键字（全大写行里出现这些时不视为说话人提示）
var reservedCues = map[string]bool{
	"INT":      true,
	"EXT":      true,
	"SCENE":    true,
	"CUT TO":   true,
	"FADE IN":  true,
	"FADE OUT": true,
	"DISSOLVE": true,
	"THE END":  true,
	"TITLE":    true,
	"CAMERA":   true,
	"CONTINUED": true,
}

// 镜头运动关键字
var cameraKeywords = []string{
	"pan", "zoom", "dolly", "tracking shot", "close-up", "close up",
	"wide shot", "aerial", "crane shot", "tilt", "pov shot",
}

// 转场关键字
var transitionKeywords = []string{
	"cut to", "fade in", "fade out", "fade to black", "dissolve",
	"smash cut", "match cut", "transition",
}

// 视觉描述关键字（narration 风格下用于区分画面行和旁白行）
var visualKeywords = []string{
	"scene", "visual", "shot", "camera", "view", "landscape", "interior",
	"exterior", "shows", "appears", "背景", "画面", "镜头",
}

// Parse 解析剧本文本为结构化组件
// 空输入返回确定性兜底内容而不是报错
func (p *Parser) Parse(script string) *ScriptComponents {
	if strings.TrimSpace(script) == "" {
		return fallbackComponents()
	}

	if p.style == StyleCinematicNarration {
		return p.parseNarration(script)
	}
	return p.parseScreenplay(script)
}

// fallbackComponents 构造兜底组件
func fallbackComponents() *ScriptComponents {
	return &ScriptComponents{
		SceneDescriptions: []SceneDescription{
			{Scene: 1, Text: FallbackSceneDescription},
		},
		CharacterDialogues: []DialogueLine{
			{Character: "Narrator", Text: strings.TrimPrefix(FallbackNarration, "Narrator: "), Scene: 1, Line: 1},
		},
		Strategy: StrategyExplicitHeaders,
	}
}

// parseScreenplay 电影剧本模式解析
// 算法：逐行扫描
//   - 全大写且长度 2-50 的非保留关键字行视为新的说话人提示
//   - 说话人提示之后的缩进行或引号行归为该说话人的对白
//   - INT./EXT. 开头或含镜头/转场关键字的行归为场景描述
//   - 其余长度超过 10 的行归为动作/描述
func (p *Parser) parseScreenplay(script string) *ScriptComponents {
	comp := &ScriptComponents{}

	hasHeaders := hasExplicitSceneHeaders(script)
	if hasHeaders {
		comp.Strategy = StrategyExplicitHeaders
	} else {
		comp.Strategy = StrategySpeakerChange
	}

	currentScene := 1
	currentSpeaker := ""
	lineNumber := 0
	prevWasHeader := false // "SCENE N" 紧跟 INT./EXT. 场景行时算同一个场景

	for _, raw := range strings.Split(script, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			currentSpeaker = ""
			continue
		}

		// 显式场景头：推进场景编号并记录描述
		if isSceneHeader(line) {
			if hasHeaders && len(comp.SceneDescriptions) > 0 && !prevWasHeader {
				currentScene++
			}
			comp.SceneDescriptions = append(comp.SceneDescriptions, SceneDescription{
				Scene: currentScene,
				Text:  line,
			})
			currentSpeaker = ""
			prevWasHeader = true
			continue
		}
		prevWasHeader = false

		// 转场指令
		if containsAnyKeyword(line, transitionKeywords) && len(line) < 40 {
			comp.SceneTransitions = append(comp.SceneTransitions, line)
			currentSpeaker = ""
			continue
		}

		// 镜头运动指令
		if containsAnyKeyword(line, cameraKeywords) && !isAllCapsCue(line) {
			comp.CameraMovements = append(comp.CameraMovements, CameraMovement{Scene: currentScene, Text: line})
			continue
		}

		// 说话人提示
		if p.isSpeakerCue(line) {
			currentSpeaker = normalizeSpeaker(line)
			continue
		}

		// "角色名: 对白" 内联格式
		if name, text, ok := p.splitInlineDialogue(line); ok {
			lineNumber++
			comp.CharacterDialogues = append(comp.CharacterDialogues, DialogueLine{
				Character: name,
				Text:      text,
				Scene:     currentScene,
				Line:      lineNumber,
			})
			continue
		}

		// 归属当前说话人的对白（缩进行或引号行）
		if currentSpeaker != "" && (startsIndented(raw) || isQuoted(line)) {
			lineNumber++
			comp.CharacterDialogues = append(comp.CharacterDialogues, DialogueLine{
				Character: currentSpeaker,
				Text:      strings.Trim(line, `"“”`),
				Scene:     currentScene,
				Line:      lineNumber,
			})
			continue
		}

		// 其余长行视为动作/描述
		if len(line) > 10 {
			comp.CharacterActions = append(comp.CharacterActions, CharacterAction{
				Character: currentSpeaker,
				Action:    line,
				Scene:     currentScene,
			})
		}
	}

	if !hasHeaders {
		segmentBySpeakerChange(comp)
	}

	// 解析结果完全为空时退回兜底内容
	if len(comp.SceneDescriptions) == 0 && len(comp.CharacterDialogues) == 0 &&
		len(comp.CharacterActions) == 0 && len(comp.NarrationLines) == 0 {
		return fallbackComponents()
	}

	ensureSceneDescriptions(comp)
	return comp
}

// parseNarration 旁白解说模式解析
// 每行要么是画面描述（含视觉关键字），要么是普通旁白
func (p *Parser) parseNarration(script string) *ScriptComponents {
	comp := &ScriptComponents{Strategy: StrategyExplicitHeaders}

	currentScene := 1
	hasHeaders := hasExplicitSceneHeaders(script)
	lineNumber := 0
	prevWasHeader := false

	for _, raw := range strings.Split(script, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if isSceneHeader(line) {
			if hasHeaders && len(comp.SceneDescriptions) > 0 && !prevWasHeader {
				currentScene++
			}
			comp.SceneDescriptions = append(comp.SceneDescriptions, SceneDescription{
				Scene: currentScene,
				Text:  line,
			})
			prevWasHeader = true
			continue
		}
		prevWasHeader = false

		if containsAnyKeyword(line, cameraKeywords) || containsAnyKeyword(line, visualKeywords) {
			comp.SceneDescriptions = append(comp.SceneDescriptions, SceneDescription{
				Scene: currentScene,
				Text:  line,
			})
			comp.CameraMovements = appendIfCamera(comp.CameraMovements, currentScene, line)
			continue
		}

		// 普通旁白：进入旁白文本，同时以 Narrator 身份记一行对白供音频阶段消费
		lineNumber++
		comp.NarrationLines = append(comp.NarrationLines, line)
		comp.CharacterDialogues = append(comp.CharacterDialogues, DialogueLine{
			Character: "Narrator",
			Text:      line,
			Scene:     currentScene,
			Line:      lineNumber,
		})
	}

	if len(comp.SceneDescriptions) == 0 && len(comp.NarrationLines) == 0 {
		return fallbackComponents()
	}

	ensureSceneDescriptions(comp)
	return comp
}

// segmentBySpeakerChange 启发式场景切分
// 没有显式场景头时：说话人变更或同一说话人连续3行对白即开新场景，
// 保证对任意无结构剧本都能推进
func segmentBySpeakerChange(comp *ScriptComponents) {
	scene := 1
	lastSpeaker := ""
	consecutive := 0

	for i := range comp.CharacterDialogues {
		d := &comp.CharacterDialogues[i]
		if lastSpeaker == "" {
			lastSpeaker = d.Character
			consecutive = 1
		} else if d.Character != lastSpeaker || consecutive >= 3 {
			scene++
			lastSpeaker = d.Character
			consecutive = 1
		} else {
			consecutive++
		}
		d.Scene = scene
	}

	// 描述与动作按对白场景范围均摊到首场景，保持原有归属
	maxScene := scene
	for i := range comp.SceneDescriptions {
		if comp.SceneDescriptions[i].Scene > maxScene {
			comp.SceneDescriptions[i].Scene = maxScene
		}
	}
	for i := range comp.CharacterActions {
		if comp.CharacterActions[i].Scene > maxScene {
			comp.CharacterActions[i].Scene = maxScene
		}
	}
	for i := range comp.CameraMovements {
		if comp.CameraMovements[i].Scene > maxScene {
			comp.CameraMovements[i].Scene = maxScene
		}
	}
}

// ensureSceneDescriptions 为缺少描述的场景补一条合成描述
// 下游按场景编号取描述，不允许出现空洞
func ensureSceneDescriptions(comp *ScriptComponents) {
	described := make(map[int]bool)
	for _, d := range comp.SceneDescriptions {
		described[d.Scene] = true
	}

	for scene := 1; scene <= comp.SceneCount(); scene++ {
		if described[scene] {
			continue
		}
		text := FallbackSceneDescription
		for _, a := range comp.CharacterActions {
			if a.Scene == scene {
				text = a.Action
				break
			}
		}
		comp.SceneDescriptions = append(comp.SceneDescriptions, SceneDescription{
			Scene: scene,
			Text:  text,
		})
	}
}

// isSpeakerCue 判断是否为说话人提示行
func (p *Parser) isSpeakerCue(line string) bool {
	// 去掉括号备注，如 "JOHN (V.O.)"
	if idx := strings.Index(line, "("); idx > 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if !isAllCapsCue(line) {
		return false
	}
	if reservedCues[line] {
		return false
	}
	for cue := range reservedCues {
		if strings.HasPrefix(line, cue+".") || strings.HasPrefix(line, cue+" ") {
			return false
		}
	}
	return true
}

// splitInlineDialogue 解析 "角色名: 对白" 格式
// 角色名必须在已知角色表中（或为 Narrator），避免把普通冒号句误判为对白
func (p *Parser) splitInlineDialogue(line string) (name, text string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 || idx > 50 {
		return "", "", false
	}
	name = strings.TrimSpace(line[:idx])
	text = strings.TrimSpace(line[idx+1:])
	if text == "" {
		return "", "", false
	}
	upper := strings.ToUpper(name)
	if upper == "NARRATOR" || p.knownCharacters[upper] {
		return normalizeSpeaker(name), text, true
	}
	return "", "", false
}

// isAllCapsCue 判断是否为全大写提示行（长度 2-50，至少含一个字母）
func isAllCapsCue(line string) bool {
	n := len([]rune(line))
	if n < 2 || n > 50 {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

// isSceneHeader 判断是否为显式场景头
func isSceneHeader(line string) bool {
	upper := strings.ToUpper(line)
	if strings.HasPrefix(upper, "INT.") || strings.HasPrefix(upper, "EXT.") ||
		strings.HasPrefix(upper, "INT ") || strings.HasPrefix(upper, "EXT ") {
		return true
	}
	if strings.HasPrefix(upper, "SCENE ") || strings.HasPrefix(upper, "SCENE:") {
		return true
	}
	return false
}

// hasExplicitSceneHeaders 判断剧本是否携带显式场景头
func hasExplicitSceneHeaders(script string) bool {
	for _, raw := range strings.Split(script, "\n") {
		if isSceneHeader(strings.TrimSpace(raw)) {
			return true
		}
	}
	return false
}

// containsAnyKeyword 判断行内是否包含任一关键字（不区分大小写）
func containsAnyKeyword(line string, keywords []string) bool {
	lower := strings.ToLower(line)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// appendIfCamera 行内含镜头关键字时追加到镜头指令列表
func appendIfCamera(movements []CameraMovement, scene int, line string) []CameraMovement {
	if containsAnyKeyword(line, cameraKeywords) {
		return append(movements, CameraMovement{Scene: scene, Text: line})
	}
	return movements
}

// startsIndented 判断原始行是否以缩进开头
func startsIndented(raw string) bool {
	return strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t")
}

// isQuoted 判断是否为引号行
func isQuoted(line string) bool {
	return strings.HasPrefix(line, `"`) || strings.HasPrefix(line, "“")
}

// normalizeSpeaker 规范化说话人名称（首字母大写其余小写，多词各自处理）
func normalizeSpeaker(name string) string {
	words := strings.Fields(strings.ToLower(name))
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 {
			r[0] = unicode.ToUpper(r[0])
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
