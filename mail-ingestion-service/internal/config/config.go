package config

import (
	"log"

	"digestgenie/pkg/config"
)

type Config struct {
	Env       string               `yaml:"-"`
	DB        config.DBConfig      `yaml:"db"`
	MQ        config.MQConfig      `yaml:"mq"`
	Redis     config.RedisConfig   `yaml:"redis"`
	Mail      config.MailConfig    `yaml:"mail"`
	Webhook   config.WebhookConfig `yaml:"webhook"`
	Runner    config.RunnerConfig  `yaml:"runner"`
	Ingestion struct {
		Server config.ServerConfig `yaml:"server"`
	} `yaml:"ingestion"`
}

func (c *Config) Production() bool { return c.Env == "production" }

func Load() *Config {
	// 使用统一配置中心
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	var cfg Config
	if err := config.Load(env, configDir, &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.Env = env

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMailFromEnv(&cfg.Mail)
	config.OverrideWebhookFromEnv(&cfg.Webhook)
	config.OverrideServerFromEnv(&cfg.Ingestion.Server)

	config.ApplyMailDefaults(&cfg.Mail, env)
	config.ApplyRunnerDefaults(&cfg.Runner)
	if cfg.Ingestion.Server.Port == "" {
		cfg.Ingestion.Server.Port = ":8081"
	}
	return &cfg
}
