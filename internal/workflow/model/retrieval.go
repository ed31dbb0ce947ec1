package model

// Purpose 检索用途，对应查询提取的五个桶
type Purpose string

const (
	PurposeOutline   Purpose = "outline"
	PurposeContext   Purpose = "context"
	PurposeKnowledge Purpose = "knowledge"
	PurposeCharacter Purpose = "character"
	PurposeEquipment Purpose = "equipment"
)

// Purposes 固定顺序，仅用于遍历；结果组装按用途键而非完成顺序。
var Purposes = []Purpose{PurposeOutline, PurposeCharacter, PurposeKnowledge, PurposeContext, PurposeEquipment}

// Partition 知识分区
type Partition string

const (
	PartitionProject   Partition = "project"
	PartitionKnowledge Partition = "knowledge"
	PartitionNarrative Partition = "narrative"
)

// PartitionFor 用途到分区的路由：大纲/角色/装备走项目设定分区。
func PartitionFor(p Purpose) Partition {
	switch p {
	case PurposeKnowledge:
		return PartitionKnowledge
	case PurposeContext:
		return PartitionNarrative
	default:
		return PartitionProject
	}
}

// 检索结果在模板中的槽位名
const (
	SlotOutlineSettings   = "outline_settings"
	SlotCharacterSettings = "character_settings"
	SlotKnowledgeContext  = "knowledge_context"
	SlotPreviousContent   = "previous_content"
	SlotEquipmentSettings = "equipment_settings"
)

// SlotFor 用途对应的结果槽位
func SlotFor(p Purpose) string {
	switch p {
	case PurposeOutline:
		return SlotOutlineSettings
	case PurposeCharacter:
		return SlotCharacterSettings
	case PurposeKnowledge:
		return SlotKnowledgeContext
	case PurposeContext:
		return SlotPreviousContent
	case PurposeEquipment:
		return SlotEquipmentSettings
	default:
		return ""
	}
}

// QueryBuckets 五个用途的查询词列表，五个键始终存在。
type QueryBuckets struct {
	Outline   []string `json:"outline_queries"`
	Context   []string `json:"context_queries"`
	Knowledge []string `json:"knowledge_queries"`
	Character []string `json:"character_queries"`
	Equipment []string `json:"equipment_queries"`
}

// Normalize 将 nil 列表替换为空列表
func (q QueryBuckets) Normalize() QueryBuckets {
	fix := func(s []string) []string {
		if s == nil {
			return []string{}
		}
		return s
	}
	return QueryBuckets{
		Outline:   fix(q.Outline),
		Context:   fix(q.Context),
		Knowledge: fix(q.Knowledge),
		Character: fix(q.Character),
		Equipment: fix(q.Equipment),
	}
}

// For 读取某个用途的查询词
func (q QueryBuckets) For(p Purpose) []string {
	switch p {
	case PurposeOutline:
		return q.Outline
	case PurposeContext:
		return q.Context
	case PurposeKnowledge:
		return q.Knowledge
	case PurposeCharacter:
		return q.Character
	case PurposeEquipment:
		return q.Equipment
	default:
		return nil
	}
}

// RetrievalResult 五个用途的聚合文本，字段固定，失败或无结果为空串。
type RetrievalResult struct {
	OutlineSettings   string `json:"outline_settings"`
	CharacterSettings string `json:"character_settings"`
	KnowledgeContext  string `json:"knowledge_context"`
	PreviousContent   string `json:"previous_content"`
	EquipmentSettings string `json:"equipment_settings"`
}

// Get 按用途读取
func (r RetrievalResult) Get(p Purpose) string {
	switch p {
	case PurposeOutline:
		return r.OutlineSettings
	case PurposeCharacter:
		return r.CharacterSettings
	case PurposeKnowledge:
		return r.KnowledgeContext
	case PurposeContext:
		return r.PreviousContent
	case PurposeEquipment:
		return r.EquipmentSettings
	default:
		return ""
	}
}

// With 返回替换了某个用途结果的副本
func (r RetrievalResult) With(p Purpose, text string) RetrievalResult {
	switch p {
	case PurposeOutline:
		r.OutlineSettings = text
	case PurposeCharacter:
		r.CharacterSettings = text
	case PurposeKnowledge:
		r.KnowledgeContext = text
	case PurposeContext:
		r.PreviousContent = text
	case PurposeEquipment:
		r.EquipmentSettings = text
	}
	return r
}

// Merge 以 override 中的非空值覆盖当前值（章节级检索优先于全局基线）。
func (r RetrievalResult) Merge(override RetrievalResult) RetrievalResult {
	out := r
	for _, p := range Purposes {
		if v := override.Get(p); v != "" {
			out = out.With(p, v)
		}
	}
	return out
}

// Vars 导出为模板槽位
func (r RetrievalResult) Vars() map[string]any {
	return map[string]any{
		SlotOutlineSettings:   r.OutlineSettings,
		SlotCharacterSettings: r.CharacterSettings,
		SlotKnowledgeContext:  r.KnowledgeContext,
		SlotPreviousContent:   r.PreviousContent,
		SlotEquipmentSettings: r.EquipmentSettings,
	}
}
