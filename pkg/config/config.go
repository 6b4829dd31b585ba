package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Name          string        `yaml:"name"`
	MaxConns      int32         `yaml:"max_conns"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port     string `yaml:"port"`
	SMTPPort string `yaml:"smtp_port"`
}

// AIConfig holds credentials and model names for the text and image providers.
type AIConfig struct {
	Provider       string        `yaml:"provider"` // anthropic | openai
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	ImageAPIKey    string        `yaml:"image_api_key"`
	ImageModel     string        `yaml:"image_model"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxTokens      int64         `yaml:"max_tokens"`
	ThumbnailScore float64       `yaml:"thumbnail_score_threshold"`
}

// MailConfig 转发地址使用的域名
type MailConfig struct {
	Domain string `yaml:"domain"`
}

// WebhookConfig 入站 webhook 配置
type WebhookConfig struct {
	Secret  string `yaml:"secret"`
	MaxBody int64  `yaml:"max_body"`
}

// RunnerConfig controls the processing job loop.
type RunnerConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Backoff      time.Duration `yaml:"backoff"`
	Interval     time.Duration `yaml:"interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	Retention    time.Duration `yaml:"retention"`
	GCInterval   time.Duration `yaml:"gc_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
}

// FlagsConfig 功能开关缓存配置
type FlagsConfig struct {
	TTL      time.Duration   `yaml:"ttl"`
	Defaults map[string]bool `yaml:"defaults"`
}

// AdminConfig 运维账号（密码为 bcrypt hash）
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		cfg.SMTPPort = port
	}
}

// OverrideAIFromEnv 从环境变量覆盖 AI 配置
func OverrideAIFromEnv(cfg *AIConfig) {
	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		cfg.Provider = strings.ToLower(provider)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider != "openai" {
		cfg.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Provider == "openai" {
			cfg.APIKey = key
		}
		cfg.ImageAPIKey = key
	}
	if model := os.Getenv("AI_MODEL"); model != "" {
		cfg.Model = model
	}
}

// OverrideMailFromEnv 从环境变量覆盖邮件域名
func OverrideMailFromEnv(cfg *MailConfig) {
	if domain := os.Getenv("EMAIL_DOMAIN"); domain != "" {
		cfg.Domain = domain
	}
}

// OverrideWebhookFromEnv 从环境变量覆盖 webhook 密钥
func OverrideWebhookFromEnv(cfg *WebhookConfig) {
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// ApplyRunnerDefaults fills zero values with the documented runner defaults.
func ApplyRunnerDefaults(cfg *RunnerConfig) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 60 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
}

// ApplyAIDefaults fills zero values for the AI section.
func ApplyAIDefaults(cfg *AIConfig) {
	if cfg.Provider == "" {
		cfg.Provider = "anthropic"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if cfg.ThumbnailScore <= 0 {
		cfg.ThumbnailScore = 0.7
	}
}

// ApplyMailDefaults picks the forwarding domain for the environment when none is configured.
func ApplyMailDefaults(cfg *MailConfig, env string) {
	if cfg.Domain != "" {
		return
	}
	if env == "production" {
		cfg.Domain = "newsletters.digestgenie.com"
		return
	}
	cfg.Domain = "newsletters.localhost"
}
