// Package config 提供配置加载和管理功能
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Project       ProjectConfig       `yaml:"project" mapstructure:"project"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Vector        VectorConfig        `yaml:"vector" mapstructure:"vector"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding" mapstructure:"embedding"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Pipeline      PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// ProjectConfig 小说项目配置：三个知识分区各自对应一个文档目录。
type ProjectConfig struct {
	Name           string `yaml:"name" mapstructure:"name"`
	ProjectDocs    string `yaml:"project_documents" mapstructure:"project_documents"`
	KnowledgeDocs  string `yaml:"knowledge_documents" mapstructure:"knowledge_documents"`
	NarrativeDocs  string `yaml:"context_documents" mapstructure:"context_documents"`
	OutputDir      string `yaml:"output_dir" mapstructure:"output_dir"`
	ReindexOnStart bool   `yaml:"reindex_on_start" mapstructure:"reindex_on_start"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	// SearchTTL 检索结果缓存时长；0 表示不缓存
	SearchTTL time.Duration `yaml:"search_ttl" mapstructure:"search_ttl"`
}

// VectorConfig 向量数据库配置
type VectorConfig struct {
	// Backend milvus | memory
	Backend string       `yaml:"backend" mapstructure:"backend"`
	Milvus  MilvusConfig `yaml:"milvus" mapstructure:"milvus"`
}

// MilvusConfig Milvus 配置
type MilvusConfig struct {
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	CollectionPrefix   string `yaml:"collection_prefix" mapstructure:"collection_prefix"`
	IndexType          string `yaml:"index_type" mapstructure:"index_type"`
	MetricType         string `yaml:"metric_type" mapstructure:"metric_type"`
	HNSWM              int    `yaml:"hnsw_m" mapstructure:"hnsw_m"`
	HNSWEfConstruction int    `yaml:"hnsw_ef_construction" mapstructure:"hnsw_ef_construction"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Roles           RolesConfig               `yaml:"roles" mapstructure:"roles"`
}

// RolesConfig 各阶段使用的 provider 名称；留空回落到 Main。
type RolesConfig struct {
	Main      string `yaml:"main" mapstructure:"main"`
	Extractor string `yaml:"extractor" mapstructure:"extractor"`
	Shortener string `yaml:"shortener" mapstructure:"shortener"`
	Rewriter  string `yaml:"rewriter" mapstructure:"rewriter"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	APIKey           string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL          string        `yaml:"base_url" mapstructure:"base_url"`
	Model            string        `yaml:"model" mapstructure:"model"`
	MaxTokens        int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature      float64       `yaml:"temperature" mapstructure:"temperature"`
	TopP             float64       `yaml:"top_p" mapstructure:"top_p"`
	FrequencyPenalty float64       `yaml:"frequency_penalty" mapstructure:"frequency_penalty"`
	PresencePenalty  float64       `yaml:"presence_penalty" mapstructure:"presence_penalty"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// EmbeddingConfig Embedding 配置
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider" mapstructure:"provider"`
	Model     string        `yaml:"model" mapstructure:"model"`
	Dimension int           `yaml:"dimension" mapstructure:"dimension"`
	BatchSize int           `yaml:"batch_size" mapstructure:"batch_size"`
	Endpoint  string        `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen       int           `yaml:"max_len" mapstructure:"max_len"`
	BlockTimeout time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	RetryLimit   int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// PipelineConfig 生成流水线参数
type PipelineConfig struct {
	ChapterMaxAttempts         int     `yaml:"chapter_max_attempts" mapstructure:"chapter_max_attempts"`
	EarlyExitRatio             float64 `yaml:"early_exit_ratio" mapstructure:"early_exit_ratio"`
	AnchorRunes                int     `yaml:"anchor_runes" mapstructure:"anchor_runes"`
	MinSeamOverlap             int     `yaml:"min_seam_overlap" mapstructure:"min_seam_overlap"`
	MaxContinuationRunes       int     `yaml:"max_continuation_runes" mapstructure:"max_continuation_runes"`
	DetailedOutlineConcurrency int     `yaml:"detailed_outline_concurrency" mapstructure:"detailed_outline_concurrency"`
	ChapterRetries             int     `yaml:"chapter_retries" mapstructure:"chapter_retries"`
	RetrieverTopK              int     `yaml:"retriever_top_k" mapstructure:"retriever_top_k"`
	SearchTopK                 int     `yaml:"search_top_k" mapstructure:"search_top_k"`
	QueryExpansion             bool    `yaml:"query_expansion" mapstructure:"query_expansion"`
	DynamicRetrieval           bool    `yaml:"dynamic_retrieval" mapstructure:"dynamic_retrieval"`
	ChunkRunes                 int     `yaml:"chunk_runes" mapstructure:"chunk_runes"`
	ChunkOverlap               int     `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	BackendRetries             int     `yaml:"backend_retries" mapstructure:"backend_retries"`
	RepairAttempts             int     `yaml:"repair_attempts" mapstructure:"repair_attempts"`
	SpecialTemperature         float64 `yaml:"special_temperature" mapstructure:"special_temperature"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// RateLimitConfig 限流配置（作用于生成类接口）
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Limit   int           `yaml:"limit" mapstructure:"limit"`
	Window  time.Duration `yaml:"window" mapstructure:"window"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// ProviderFor 返回角色对应的 provider 名称，未配置时回落到主模型。
func (c LLMConfig) ProviderFor(role string) string {
	main := strings.TrimSpace(c.Roles.Main)
	if main == "" {
		main = strings.TrimSpace(c.DefaultProvider)
	}
	var name string
	switch role {
	case "extractor":
		name = c.Roles.Extractor
	case "shortener":
		name = c.Roles.Shortener
	case "rewriter":
		name = c.Roles.Rewriter
	}
	if strings.TrimSpace(name) == "" {
		return main
	}
	return strings.TrimSpace(name)
}

// NeedsStartupReindex 进程内向量库不持久化，启动时必须重建
func (c *Config) NeedsStartupReindex() bool {
	return c.Project.ReindexOnStart || c.Vector.Backend == "memory"
}

// Validate 校验会破坏流水线不变量的配置
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.ChapterMaxAttempts < 1 {
		return fmt.Errorf("pipeline.chapter_max_attempts must be >= 1, got %d", p.ChapterMaxAttempts)
	}
	if p.EarlyExitRatio <= 0 || p.EarlyExitRatio > 1 {
		return fmt.Errorf("pipeline.early_exit_ratio must be in (0,1], got %v", p.EarlyExitRatio)
	}
	if p.DetailedOutlineConcurrency < 1 {
		return fmt.Errorf("pipeline.detailed_outline_concurrency must be >= 1, got %d", p.DetailedOutlineConcurrency)
	}
	if p.ChapterRetries < 1 {
		return fmt.Errorf("pipeline.chapter_retries must be >= 1, got %d", p.ChapterRetries)
	}
	if p.ChunkRunes <= 0 || p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkRunes {
		return fmt.Errorf("pipeline chunking invalid: chunk_runes=%d chunk_overlap=%d", p.ChunkRunes, p.ChunkOverlap)
	}
	if p.RepairAttempts < 0 || p.BackendRetries < 0 {
		return fmt.Errorf("pipeline retry budgets must be >= 0")
	}
	if main := c.LLM.ProviderFor("main"); main != "" {
		if _, ok := c.LLM.Providers[main]; !ok {
			return fmt.Errorf("llm provider %q not configured", main)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Vector.Backend)) {
	case "", "memory", "milvus":
	default:
		return fmt.Errorf("vector.backend must be memory or milvus, got %q", c.Vector.Backend)
	}
	return nil
}
