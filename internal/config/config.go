// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfiguration 表示启动期的配置错误，服务不应进入就绪状态。
var ErrConfiguration = errors.New("configuration failure")

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	RAG           RAGConfig           `mapstructure:"rag"`
	Upload        UploadConfig        `mapstructure:"upload"`
	History       HistoryConfig       `mapstructure:"history"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	Mode        string   `mapstructure:"mode"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
	Dims      int    `mapstructure:"dims"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules    string `mapstructure:"rules"`
	RefStart string `mapstructure:"ref_start"`
	RefEnd   string `mapstructure:"ref_end"`
}

// RAGConfig 控制问答编排：就绪等待、检索条数与会话记忆。
type RAGConfig struct {
	ReadyAttempts int           `mapstructure:"ready_attempts"`
	ReadyDelay    time.Duration `mapstructure:"ready_delay"`
	TopK          int           `mapstructure:"top_k"`
	MemoryTurns   int           `mapstructure:"memory_turns"`
	ChainIdleTTL  time.Duration `mapstructure:"chain_idle_ttl"`
}

// UploadConfig 控制简历上传的校验与切块参数。
type UploadConfig struct {
	MaxFileSize       int64    `mapstructure:"max_file_size"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	ChunkSize         int      `mapstructure:"chunk_size"`
	ChunkOverlap      int      `mapstructure:"chunk_overlap"`
}

// HistoryConfig 控制聊天记录的持久化策略。
type HistoryConfig struct {
	// Persist 取值 success | always | never。
	Persist string        `mapstructure:"persist"`
	Backend string        `mapstructure:"backend"`
	Dir     string        `mapstructure:"dir"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// setDefaults 为可调参数设置默认值；同时让 AutomaticEnv 能覆盖这些键。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "resume-index")
	v.SetDefault("kafka.group_id", "resume-chat-go-consumer")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("elasticsearch.index_name", "resume_chunks")
	v.SetDefault("elasticsearch.dims", 1536)
	v.SetDefault("minio.bucket_name", "resumes")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("rag.ready_attempts", 5)
	v.SetDefault("rag.ready_delay", time.Second)
	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.memory_turns", 10)
	v.SetDefault("rag.chain_idle_ttl", time.Hour)
	v.SetDefault("upload.max_file_size", 10*1024*1024)
	v.SetDefault("upload.allowed_extensions", []string{".pdf", ".docx", ".doc", ".txt"})
	v.SetDefault("upload.chunk_size", 1000)
	v.SetDefault("upload.chunk_overlap", 200)
	v.SetDefault("history.persist", "success")
	v.SetDefault("history.backend", "redis")
	v.SetDefault("history.dir", "./data/sessions")
	v.SetDefault("history.ttl", 7*24*time.Hour)
}

// Load 从指定路径读取 YAML 配置，叠加环境变量覆盖（RESUMECHAT_ 前缀）后返回。
func Load(configPath string) (Config, error) {
	var cfg Config
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RESUMECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", "RESUMECHAT_LLM_API_KEY", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// Validate 检查启动所必需的配置项。返回的错误均包装 ErrConfiguration。
func Validate(cfg Config) error {
	var problems []string
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		problems = append(problems, "llm.api_key 未配置")
	}
	if cfg.LLM.BaseURL == "" {
		problems = append(problems, "llm.base_url 未配置")
	}
	if cfg.LLM.Model == "" {
		problems = append(problems, "llm.model 未配置")
	}
	if cfg.RAG.ReadyAttempts < 1 {
		problems = append(problems, "rag.ready_attempts 必须 >= 1")
	}
	if cfg.RAG.ReadyDelay <= 0 {
		problems = append(problems, "rag.ready_delay 必须 > 0")
	}
	if cfg.RAG.TopK < 1 {
		problems = append(problems, "rag.top_k 必须 >= 1")
	}
	if cfg.Upload.ChunkSize <= cfg.Upload.ChunkOverlap {
		problems = append(problems, "upload.chunk_size 必须大于 upload.chunk_overlap")
	}
	switch cfg.History.Persist {
	case "success", "always", "never":
	default:
		problems = append(problems, fmt.Sprintf("history.persist 取值无效: %q", cfg.History.Persist))
	}
	switch cfg.History.Backend {
	case "redis", "file":
	default:
		problems = append(problems, fmt.Sprintf("history.backend 取值无效: %q", cfg.History.Backend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}
