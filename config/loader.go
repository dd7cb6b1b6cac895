// =============================================================================
// 📦 ChefRAG 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CHEFRAG").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ChefRAG 的完整配置结构
type Config struct {
	// Data 语料与快照配置
	Data DataConfig `yaml:"data" env:"DATA"`

	// Retrieval 混合检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Generation 回答生成配置
	Generation GenerationConfig `yaml:"generation" env:"GENERATION"`

	// LLM 对话模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Embedding 嵌入模型配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Cache 回答缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// DataConfig 语料与快照配置
type DataConfig struct {
	// 菜谱 Markdown 根目录
	RecipesDir string `yaml:"recipes_dir" env:"RECIPES_DIR"`
	// 嵌入快照数据库路径, 为空则禁用快照
	SnapshotPath string `yaml:"snapshot_path" env:"SNAPSHOT_PATH"`
}

// RetrievalConfig 混合检索配置
type RetrievalConfig struct {
	// 最终返回片段数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 每路索引的候选数
	CandidateK int `yaml:"candidate_k" env:"CANDIDATE_K"`
	// 稠密路 RRF 权重
	DenseWeight float64 `yaml:"dense_weight" env:"DENSE_WEIGHT"`
	// 稀疏路 RRF 权重
	SparseWeight float64 `yaml:"sparse_weight" env:"SPARSE_WEIGHT"`
	// BM25 词频饱和参数
	BM25K1 float64 `yaml:"bm25_k1" env:"BM25_K1"`
	// BM25 长度归一化参数
	BM25B float64 `yaml:"bm25_b" env:"BM25_B"`
}

// GenerationConfig 回答生成配置
type GenerationConfig struct {
	// 检索上下文 token 预算
	MaxContextTokens int `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	// 带入生成的最近对话条数
	HistoryWindow int `yaml:"history_window" env:"HISTORY_WINDOW"`
	// token 计数方式: tiktoken, estimator
	Tokenizer string `yaml:"tokenizer" env:"TOKENIZER"`
}

// LLMConfig 对话模型配置
type LLMConfig struct {
	// 基础 URL (OpenAI 兼容)
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大生成 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EmbeddingConfig 嵌入模型配置
type EmbeddingConfig struct {
	// 基础 URL (OpenAI 兼容)
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 向量维度 (0 表示由服务端决定)
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// 单次请求最大文本数
	MaxBatch int `yaml:"max_batch" env:"MAX_BATCH"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CacheConfig 回答缓存配置
type CacheConfig struct {
	// 本地缓存容量
	LocalSize int `yaml:"local_size" env:"LOCAL_SIZE"`
	// 本地缓存过期时间
	LocalTTL time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`
	// 是否启用 Redis 二级缓存
	EnableRedis bool `yaml:"enable_redis" env:"ENABLE_REDIS"`
	// Redis 地址
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	// Redis 密码
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	// Redis 数据库编号
	RedisDB int `yaml:"redis_db" env:"REDIS_DB"`
	// Redis 缓存过期时间
	RedisTTL time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig 返回带默认值的配置
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			RecipesDir:   "data/recipes",
			SnapshotPath: "data/embeddings.db",
		},
		Retrieval: RetrievalConfig{
			TopK:         3,
			CandidateK:   5,
			DenseWeight:  1.0,
			SparseWeight: 0,
			BM25K1:       1.5,
			BM25B:        0.75,
		},
		Generation: GenerationConfig{
			MaxContextTokens: 1600,
			HistoryWindow:    8,
			Tokenizer:        "estimator",
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.deepseek.com/v1",
			Model:       "deepseek-chat",
			Temperature: 0.1,
			MaxTokens:   2048,
			Timeout:     60 * time.Second,
		},
		Embedding: EmbeddingConfig{
			BaseURL:  "https://api.openai.com/v1",
			Model:    "text-embedding-3-small",
			MaxBatch: 64,
			Timeout:  30 * time.Second,
		},
		Cache: CacheConfig{
			LocalSize: 256,
			LocalTTL:  5 * time.Minute,
			RedisAddr: "localhost:6379",
			RedisTTL:  time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CHEFRAG",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Data.RecipesDir == "" {
		errs = append(errs, "recipes_dir is required")
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, "top_k must be positive")
	}
	if c.Retrieval.CandidateK < c.Retrieval.TopK {
		errs = append(errs, "candidate_k must be >= top_k")
	}
	if c.Retrieval.DenseWeight < 0 || c.Retrieval.SparseWeight < 0 {
		errs = append(errs, "retrieval weights must be non-negative")
	}
	if c.Retrieval.DenseWeight == 0 && c.Retrieval.SparseWeight == 0 {
		errs = append(errs, "at least one retrieval weight must be positive")
	}
	if c.Generation.MaxContextTokens <= 0 {
		errs = append(errs, "max_context_tokens must be positive")
	}
	if c.LLM.Model == "" {
		errs = append(errs, "llm model is required")
	}
	if c.Embedding.Model == "" {
		errs = append(errs, "embedding model is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
