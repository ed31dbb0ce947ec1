package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"z-novel-writer/internal/config"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// EinoFactory 管理多个 Eino ChatModel 客户端实例，按 provider 名称惰性创建并复用。
type EinoFactory struct {
	config *config.LLMConfig
	models map[string]model.BaseChatModel
	mu     sync.RWMutex
}

// NewEinoFactory 创建 Eino LLM 工厂
func NewEinoFactory(cfg *config.Config) *EinoFactory {
	return &EinoFactory{
		config: &cfg.LLM,
		models: make(map[string]model.BaseChatModel),
	}
}

// Get 获取指定名称的 ChatModel，如果未指定则返回主模型
func (f *EinoFactory) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = f.config.ProviderFor("main")
	}

	f.mu.RLock()
	m, ok := f.models[name]
	f.mu.RUnlock()
	if ok {
		return m, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok = f.models[name]; ok {
		return m, nil
	}

	providerCfg, ok := f.config.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found in LLM config", name)
	}

	chatModel, err := openai.NewChatModel(ctx, chatModelConfig(providerCfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model for %s: %w", name, err)
	}

	f.models[name] = chatModel
	return chatModel, nil
}

// ModelName 返回 provider 配置的模型名，用于日志与指标
func (f *EinoFactory) ModelName(name string) string {
	if name == "" {
		name = f.config.ProviderFor("main")
	}
	return f.config.Providers[name].Model
}

func chatModelConfig(p config.ProviderConfig) *openai.ChatModelConfig {
	cfg := &openai.ChatModelConfig{
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		Temperature: ptrFloat32(float32(p.Temperature)),
		Timeout:     p.Timeout,
	}
	if p.MaxTokens > 0 {
		maxTokens := p.MaxTokens
		cfg.MaxTokens = &maxTokens
	}
	// 零值视为未设置，交由服务端默认
	if p.TopP > 0 {
		cfg.TopP = ptrFloat32(float32(p.TopP))
	}
	if p.FrequencyPenalty != 0 {
		cfg.FrequencyPenalty = ptrFloat32(float32(p.FrequencyPenalty))
	}
	if p.PresencePenalty != 0 {
		cfg.PresencePenalty = ptrFloat32(float32(p.PresencePenalty))
	}
	return cfg
}

func ptrFloat32(f float32) *float32 {
	return &f
}
