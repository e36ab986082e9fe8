package scriptkit

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

const sampleScreenplay = `SCENE 1
INT. CLASSROOM - DAY

JOHN
	Hello everyone, welcome to the lesson.

MARY
	Thank you, I am glad to be here.

SCENE 2
EXT. GARDEN - SUNSET

The camera slowly pans across the garden.

JOHN
	Look at the flowers blooming.

SCENE 3
INT. LIBRARY - NIGHT

MARY
	We should read this book together.
`

func TestParser_Parse(t *testing.T) {
	Convey("Parser.Parse 能把剧本解析为结构化组件", t, func() {
		parser := NewParser([]string{"John", "Mary"}, StyleCinematicMovie)

		Convey("显式场景头：N 个场景头产生 N 组场景描述", func() {
			comp := parser.Parse(sampleScreenplay)
			So(comp, ShouldNotBeNil)
			So(comp.Strategy, ShouldEqual, StrategyExplicitHeaders)
			So(comp.SceneCount(), ShouldEqual, 3)

			// 每个场景都有描述
			scenes := make(map[int]bool)
			for _, d := range comp.SceneDescriptions {
				scenes[d.Scene] = true
			}
			So(scenes[1], ShouldBeTrue)
			So(scenes[2], ShouldBeTrue)
			So(scenes[3], ShouldBeTrue)
		})

		Convey("对白按文本位置归属到正确的场景", func() {
			comp := parser.Parse(sampleScreenplay)
			So(len(comp.CharacterDialogues), ShouldEqual, 4)

			So(comp.CharacterDialogues[0].Character, ShouldEqual, "John")
			So(comp.CharacterDialogues[0].Scene, ShouldEqual, 1)
			So(comp.CharacterDialogues[1].Character, ShouldEqual, "Mary")
			So(comp.CharacterDialogues[1].Scene, ShouldEqual, 1)
			So(comp.CharacterDialogues[2].Scene, ShouldEqual, 2)
			So(comp.CharacterDialogues[3].Scene, ShouldEqual, 3)

			// 场景编号不超过场景总数
			for _, d := range comp.CharacterDialogues {
				So(d.Scene, ShouldBeLessThanOrEqualTo, comp.SceneCount())
			}
		})

		Convey("镜头运动行被识别并归属到所在场景", func() {
			comp := parser.Parse(sampleScreenplay)
			So(len(comp.CameraMovements), ShouldBeGreaterThanOrEqualTo, 1)
			So(comp.CameraMovements[0].Text, ShouldContainSubstring, "pans")
			So(comp.CameraMovements[0].Scene, ShouldEqual, 2)

			So(comp.CameraForScene(2), ShouldContain, comp.CameraMovements[0].Text)
			So(comp.CameraForScene(1), ShouldBeEmpty)
			So(comp.CameraForScene(3), ShouldBeEmpty)
		})

		Convey("空输入返回确定性兜底内容而不是报错", func() {
			comp := parser.Parse("")
			So(comp, ShouldNotBeNil)
			So(len(comp.SceneDescriptions), ShouldEqual, 1)
			So(comp.SceneDescriptions[0].Text, ShouldEqual, FallbackSceneDescription)
			So(len(comp.CharacterDialogues), ShouldEqual, 1)
			So(comp.CharacterDialogues[0].Character, ShouldEqual, "Narrator")

			blank := parser.Parse("   \n\n  ")
			So(blank.SceneDescriptions[0].Text, ShouldEqual, FallbackSceneDescription)
		})

		Convey("保留关键字不会被当作说话人", func() {
			comp := parser.Parse("FADE IN\n\nJOHN\n\tGood morning.\n")
			So(len(comp.CharacterDialogues), ShouldEqual, 1)
			So(comp.CharacterDialogues[0].Character, ShouldEqual, "John")
		})

		Convey("内联 '角色名: 对白' 格式被识别", func() {
			comp := parser.Parse("SCENE 1\nJohn: This is an inline line.\n")
			So(len(comp.CharacterDialogues), ShouldEqual, 1)
			So(comp.CharacterDialogues[0].Character, ShouldEqual, "John")
			So(comp.CharacterDialogues[0].Text, ShouldEqual, "This is an inline line.")
		})
	})
}

func TestParser_HeuristicSegmentation(t *testing.T) {
	Convey("无显式场景头时按说话人变更/连续3行切分", t, func() {
		parser := NewParser([]string{"John", "Mary"}, StyleCinematicMovie)

		Convey("说话人变更开新场景", func() {
			script := "JOHN\n\tLine one.\n\nMARY\n\tLine two.\n"
			comp := parser.Parse(script)
			So(comp.Strategy, ShouldEqual, StrategySpeakerChange)
			So(comp.CharacterDialogues[0].Scene, ShouldEqual, 1)
			So(comp.CharacterDialogues[1].Scene, ShouldEqual, 2)
		})

		Convey("同一说话人连续3行后开新场景", func() {
			script := "JOHN\n\tOne.\n\tTwo.\n\tThree.\n\tFour.\n"
			comp := parser.Parse(script)
			So(len(comp.CharacterDialogues), ShouldEqual, 4)
			So(comp.CharacterDialogues[0].Scene, ShouldEqual, 1)
			So(comp.CharacterDialogues[2].Scene, ShouldEqual, 1)
			So(comp.CharacterDialogues[3].Scene, ShouldEqual, 2)
		})

		Convey("每个场景都补齐场景描述", func() {
			script := "JOHN\n\tLine one.\n\nMARY\n\tLine two.\n"
			comp := parser.Parse(script)
			described := make(map[int]bool)
			for _, d := range comp.SceneDescriptions {
				described[d.Scene] = true
			}
			for i := 1; i <= comp.SceneCount(); i++ {
				So(described[i], ShouldBeTrue)
			}
		})
	})
}

func TestParser_NarrationMode(t *testing.T) {
	Convey("旁白解说模式：画面行和旁白行分流", t, func() {
		parser := NewParser(nil, StyleCinematicNarration)

		script := `The camera shows a quiet village at dawn.
Long ago, a young scholar lived here.
He spent his days reading by the river.
`
		comp := parser.Parse(script)

		Convey("含视觉关键字的行进入场景描述", func() {
			So(len(comp.SceneDescriptions), ShouldBeGreaterThanOrEqualTo, 1)
			So(comp.SceneDescriptions[0].Text, ShouldContainSubstring, "camera")
		})

		Convey("其余行作为旁白并以 Narrator 身份记录", func() {
			So(len(comp.NarrationLines), ShouldEqual, 2)
			for _, d := range comp.CharacterDialogues {
				So(d.Character, ShouldEqual, "Narrator")
			}
		})
	})
}

func TestPromptBuilder_BuildScenePrompt(t *testing.T) {
	Convey("BuildScenePrompt 只包含本场景的对白", t, func() {
		parser := NewParser([]string{"John", "Mary"}, StyleCinematicMovie)
		comp := parser.Parse(sampleScreenplay)
		builder := NewPromptBuilder(0)

		Convey("场景2的提示词包含场景2的全部对白", func() {
			prompt := builder.BuildScenePrompt(2, comp)
			So(prompt, ShouldContainSubstring, "Look at the flowers blooming")
		})

		Convey("不泄漏其他场景的对白", func() {
			prompt := builder.BuildScenePrompt(2, comp)
			So(prompt, ShouldNotContainSubstring, "welcome to the lesson")
			So(prompt, ShouldNotContainSubstring, "read this book")
		})

		Convey("镜头指令只出现在其所属场景的提示词里", func() {
			So(builder.BuildScenePrompt(2, comp), ShouldContainSubstring, "Camera: ")
			So(builder.BuildScenePrompt(1, comp), ShouldNotContainSubstring, "Camera: ")
			So(builder.BuildScenePrompt(3, comp), ShouldNotContainSubstring, "Camera: ")
		})

		Convey("组件为空时返回兜底描述", func() {
			empty := &ScriptComponents{}
			So(builder.BuildScenePrompt(1, empty), ShouldEqual, FallbackSceneDescription)
		})

		Convey("长度上限生效", func() {
			short := NewPromptBuilder(20)
			prompt := short.BuildScenePrompt(1, comp)
			So(len(prompt), ShouldBeLessThanOrEqualTo, 20)
		})
	})
}
