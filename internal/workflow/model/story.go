package model

// Brief 用户侧的创作输入，各阶段共用。
type Brief struct {
	// UserInput 创作意图/用户要求
	UserInput string `json:"user_input" yaml:"user_input"`
	// OutlinesDescription 当前大纲描述
	OutlinesDescription string `json:"outlines_description,omitempty" yaml:"outlines_description,omitempty"`
	// TempSettings 临时设定
	TempSettings string `json:"temp_settings,omitempty" yaml:"temp_settings,omitempty"`
}

// 通用槽位名
const (
	SlotUserInput           = "user_input"
	SlotOutlinesDescription = "outlines_description"
	SlotTempSettings        = "temp_settings"
)

// Vars 导出为模板槽位
func (b Brief) Vars() map[string]any {
	return map[string]any{
		SlotUserInput:           b.UserInput,
		SlotOutlinesDescription: b.OutlinesDescription,
		SlotTempSettings:        b.TempSettings,
	}
}

// DetailedOutline 单章细纲：由一条章节大纲展开的场景描述（3~8 条）。
type DetailedOutline struct {
	Index          int      `json:"index" yaml:"index"`
	ChapterOutline string   `json:"chapter_outline" yaml:"chapter_outline"`
	Scenes         []string `json:"detailed_outlines" yaml:"detailed_outlines"`
}
