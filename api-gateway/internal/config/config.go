package config

import (
	"log"
	"os"
	"strings"

	"digestgenie/pkg/config"
)

type Config struct {
	Env     string              `yaml:"-"`
	DB      config.DBConfig     `yaml:"db"`
	MQ      config.MQConfig     `yaml:"mq"`
	JWT     config.JWTConfig    `yaml:"jwt"`
	Admin   config.AdminConfig  `yaml:"admin"`
	Mail    config.MailConfig   `yaml:"mail"`
	Runner  config.RunnerConfig `yaml:"runner"`
	Flags   config.FlagsConfig  `yaml:"flags"`
	Gateway struct {
		Server      config.ServerConfig `yaml:"server"`
		CORSOrigins []string            `yaml:"cors_origins"`
	} `yaml:"gateway"`
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
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideMailFromEnv(&cfg.Mail)
	config.OverrideServerFromEnv(&cfg.Gateway.Server)
	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		cfg.Admin.PasswordHash = hash
	}
	if origin := os.Getenv("FRONTEND_URL"); origin != "" {
		cfg.Gateway.CORSOrigins = append(cfg.Gateway.CORSOrigins, strings.TrimRight(origin, "/"))
	}

	config.ApplyMailDefaults(&cfg.Mail, env)
	config.ApplyRunnerDefaults(&cfg.Runner)
	if cfg.Gateway.Server.Port == "" {
		cfg.Gateway.Server.Port = ":8080"
	}
	if len(cfg.Gateway.CORSOrigins) == 0 {
		cfg.Gateway.CORSOrigins = []string{"http://localhost:3000"}
	}
	return &cfg
}
