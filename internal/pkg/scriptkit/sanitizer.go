package scriptkit

import (
	"sort"
	"strings"

	"github.com/go-ego/gse"
)

// Sanitizer 内容安全过滤器
// 在提交视频生成 API 之前扫描提示词中的风险内容，降低被上游风控拒绝的概率。
// 替换表的替换目标只会被移除、不会被引入，因此过滤是确定性且幂等的：
// sanitize(sanitize(x)) == sanitize(x)
type Sanitizer struct {
	// 风险类别 → 关键字列表
	categories map[string][]string

	// 关键字 → 委婉替换词（小写形式，替换时保留原词大小写风格）
	replacements map[string]string

	// 分词器（用于按词边界统计，初始化失败时降级为子串匹配）
	segmenter *gse.Segmenter

	totalKeywords int
}

// SafetyIssue 单个风险类别的命中情况
type SafetyIssue struct {
	Category string   `json:"category"` // 类别名
	Keywords []string `json:"keywords"` // 命中的关键字
}

// SafetyReport 安全检查报告
type SafetyReport struct {
	Safe           bool          `json:"safe"`           // Score > 0.7 即视为安全
	Score          float64       `json:"score"`          // 1 - 命中数/关键字总数
	Issues         []SafetyIssue `json:"issues"`         // 按类别分组的命中明细
	Recommendation string        `json:"recommendation"` // 处理建议
}

// 过滤后内容退化（长度不足）时使用的标准兜底场景描述
const SafeFallbackScene = "A peaceful educational scene in a bright classroom where students learn together with curiosity and joy."

// 过滤结果最短可接受长度，低于此值视为退化
const minSanitizedLength = 50

// NewSanitizer 创建内容安全过滤器
func NewSanitizer() *Sanitizer {
	s := &Sanitizer{
		categories: map[string][]string{
			"violence": {
				"kill", "murder", "blood", "gun", "knife", "weapon", "attack",
				"fight", "war", "bomb", "shoot", "stab", "violence", "brutal",
			},
			"sexual": {
				"nude", "naked", "sexual", "erotic", "seduce", "intimate",
				"lust", "sensual",
			},
			"substance": {
				"drug", "cocaine", "heroin", "overdose", "drunk", "alcohol",
				"smoking", "cigarette",
			},
			"mental_health": {
				"suicide", "self-harm", "depression", "hopeless", "despair",
			},
			"discrimination": {
				"racist", "discrimination", "slur", "supremacy",
			},
			"religious": {
				"blasphemy", "cult", "heresy",
			},
			"political": {
				"riot", "coup", "rebellion", "uprising", "terrorist",
			},
		},
		replacements: map[string]string{
			"kill":    "stop",
			"murder":  "mystery",
			"blood":   "red paint",
			"gun":     "prop",
			"knife":   "tool",
			"weapon":  "object",
			"attack":  "approach",
			"fight":   "contest",
			"war":     "conflict of ideas",
			"bomb":    "surprise",
			"shoot":   "film",
			"stab":    "tap",
			"brutal":  "intense",
			"nude":    "plainly dressed",
			"naked":   "simply dressed",
			"sexual":  "romantic",
			"erotic":  "artistic",
			"seduce":  "charm",
			"lust":    "longing",
			"drug":    "medicine",
			"drunk":   "dizzy",
			"alcohol": "beverage",
			"smoking": "resting",
			"suicide": "a hard moment",
			"despair": "sadness",
			"riot":    "gathering",
			"coup":    "change",
		},
	}

	for _, words := range s.categories {
		s.totalKeywords += len(words)
	}

	// gse 初始化失败时 segmenter 为 nil，Check 降级为子串匹配
	seg, err := gse.New()
	if err == nil {
		s.segmenter = &seg
	}

	return s
}

// Check 检查内容并生成安全报告
// 评分单调性：命中的风险关键字越多，Score 只会更低不会更高
func (s *Sanitizer) Check(content string) *SafetyReport {
	report := &SafetyReport{Safe: true, Score: 1.0}
	if strings.TrimSpace(content) == "" {
		report.Recommendation = "content is empty"
		return report
	}

	lower := strings.ToLower(content)
	tokens := s.tokenize(lower)

	matched := 0
	categories := make([]string, 0, len(s.categories))
	for cat := range s.categories {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		var hit []string
		for _, kw := range s.categories[cat] {
			if s.containsKeyword(lower, tokens, kw) {
				hit = append(hit, kw)
				matched++
			}
		}
		if len(hit) > 0 {
			report.Issues = append(report.Issues, SafetyIssue{Category: cat, Keywords: hit})
		}
	}

	report.Score = 1.0 - float64(matched)/float64(s.totalKeywords)
	report.Safe = report.Score > 0.7

	switch {
	case report.Safe && matched == 0:
		report.Recommendation = "content is safe for generation"
	case report.Safe:
		report.Recommendation = "minor issues detected, sanitization recommended"
	default:
		report.Recommendation = "high risk content, sanitize before submission"
	}

	return report
}

// Sanitize 替换风险关键字并返回过滤后的内容
// 大小写保留：对每个关键字处理 lower/Title/UPPER 三种变体。
// 过滤后长度退化（< 50 字符）时，直接替换为标准安全场景描述。
func (s *Sanitizer) Sanitize(content string) string {
	if strings.TrimSpace(content) == "" {
		return SafeFallbackScene
	}

	result := content

	// 排序保证替换顺序确定
	keywords := make([]string, 0, len(s.replacements))
	for kw := range s.replacements {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	for _, kw := range keywords {
		repl := s.replacements[kw]
		result = strings.ReplaceAll(result, kw, repl)
		result = strings.ReplaceAll(result, titleCase(kw), titleCase(repl))
		result = strings.ReplaceAll(result, strings.ToUpper(kw), strings.ToUpper(repl))
	}

	// 无替换词的关键字直接移除
	for _, words := range s.categories {
		for _, kw := range words {
			if _, has := s.replacements[kw]; has {
				continue
			}
			result = strings.ReplaceAll(result, kw, "")
			result = strings.ReplaceAll(result, titleCase(kw), "")
			result = strings.ReplaceAll(result, strings.ToUpper(kw), "")
		}
	}

	result = collapseWhitespace(result)

	if len(result) < minSanitizedLength {
		return SafeFallbackScene
	}
	return result
}

// Process 检查并过滤内容的便捷方法
func (s *Sanitizer) Process(content string) (string, *SafetyReport) {
	report := s.Check(content)
	if report.Safe && len(report.Issues) == 0 {
		return content, report
	}
	return s.Sanitize(content), report
}

// tokenize 用 gse 分词，失败时返回 nil（降级为子串匹配）
func (s *Sanitizer) tokenize(lower string) map[string]bool {
	if s.segmenter == nil {
		return nil
	}
	tokens := make(map[string]bool)
	for _, t := range s.segmenter.Cut(lower, true) {
		tokens[strings.TrimSpace(t)] = true
	}
	return tokens
}

// containsKeyword 判断内容是否命中关键字
// 有分词结果时优先按词边界匹配，多词关键字和未命中时回退到子串匹配
func (s *Sanitizer) containsKeyword(lower string, tokens map[string]bool, kw string) bool {
	if tokens != nil && !strings.Contains(kw, " ") && tokens[kw] {
		return true
	}
	return strings.Contains(lower, kw)
}

// titleCase 首字母大写
func titleCase(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + w[1:]
}

// collapseWhitespace 折叠连续空白
func collapseWhitespace(content string) string {
	return strings.Join(strings.Fields(content), " ")
}
