package prompt

import (
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptQueryExtractV1    PromptID = "query_extract_v1"
	PromptQueryRewriteV1    PromptID = "query_rewrite_v1"
	PromptOutlineV1         PromptID = "outline_v1"
	PromptDetailedOutlineV1 PromptID = "detailed_outline_v1"
	PromptContentShortenV1  PromptID = "content_shorten_v1"
	PromptChapterV1         PromptID = "chapter_v1"
	PromptOutputRepairV1    PromptID = "output_repair_v1"
)

// SlotReturnFormat 结构化任务的输出格式说明槽位，由生成任务自动填充
const SlotReturnFormat = "return_format"

var slotPattern = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)

type entry struct {
	tpl   einoprompt.ChatTemplate
	slots []string
}

type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]entry
}

func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]entry),
	}
}

// ChatTemplate 返回 system+user 两段 FString 模板
func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	e, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return e.tpl, nil
}

// Slots 返回模板引用的全部槽位名（排序后），调用方据此补齐缺失槽位
func (r *Registry) Slots(id PromptID) ([]string, error) {
	e, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return e.slots, nil
}

func (r *Registry) load(id PromptID) (entry, error) {
	if r == nil {
		return entry{}, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if e, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return e, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.cache[id]; ok {
		return e, nil
	}

	systemPath, userPath := resolvePromptFiles(id)
	system, err := readEmbeddedText(systemPath)
	if err != nil {
		return entry{}, fmt.Errorf("unknown prompt id %s: %w", id, err)
	}
	user, err := readEmbeddedText(userPath)
	if err != nil {
		return entry{}, fmt.Errorf("unknown prompt id %s: %w", id, err)
	}

	e := entry{
		tpl: einoprompt.FromMessages(
			schema.FString,
			schema.SystemMessage(system),
			schema.UserMessage(user),
		),
		slots: collectSlots(system, user),
	}
	r.cache[id] = e
	return e, nil
}

func resolvePromptFiles(id PromptID) (systemFile string, userFile string) {
	base := "templates/" + string(id)
	return base + ".system.txt", base + ".user.txt"
}

func collectSlots(texts ...string) []string {
	seen := make(map[string]struct{})
	for _, t := range texts {
		for _, m := range slotPattern.FindAllStringSubmatch(t, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
