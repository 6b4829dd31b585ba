package config

import (
	"log"

	"digestgenie/pkg/config"
)

type Config struct {
	Env       string              `yaml:"-"`
	DB        config.DBConfig     `yaml:"db"`
	MQ        config.MQConfig     `yaml:"mq"`
	Redis     config.RedisConfig  `yaml:"redis"`
	AI        config.AIConfig     `yaml:"ai"`
	Runner    config.RunnerConfig `yaml:"runner"`
	Flags     config.FlagsConfig  `yaml:"flags"`
	Processor struct {
		Server config.ServerConfig `yaml:"server"`
	} `yaml:"processor"`
}

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
	config.OverrideAIFromEnv(&cfg.AI)
	config.OverrideServerFromEnv(&cfg.Processor.Server)

	config.ApplyAIDefaults(&cfg.AI)
	config.ApplyRunnerDefaults(&cfg.Runner)
	if cfg.Processor.Server.Port == "" {
		cfg.Processor.Server.Port = ":8082"
	}
	return &cfg
}
