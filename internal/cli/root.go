// Package cli implements digestctl, the operator command line for DigestGenie.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"digestgenie/internal/ops"
	"digestgenie/internal/repository"
	"digestgenie/pkg/config"
	"digestgenie/pkg/db"
	"digestgenie/pkg/featureflag"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/mq"
	"digestgenie/pkg/outbox"
)

// Config is the subset of the shared service configuration digestctl needs.
type Config struct {
	Env    string              `yaml:"-"`
	DB     config.DBConfig     `yaml:"db"`
	MQ     config.MQConfig     `yaml:"mq"`
	JWT    config.JWTConfig    `yaml:"jwt"`
	Mail   config.MailConfig   `yaml:"mail"`
	Runner config.RunnerConfig `yaml:"runner"`
	Flags  config.FlagsConfig  `yaml:"flags"`
}

// NewRootCmd builds the command tree. Each call gets its own viper instance so
// flags from one invocation never leak into another.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetDefault("env", "local")
	v.SetDefault("config_dir", "config")
	v.SetDefault("timeout", 30*time.Second)
	_ = v.BindEnv("env", "CONFIG_ENV")
	_ = v.BindEnv("config_dir", "CONFIG_DIR")

	root := &cobra.Command{
		Use:           "digestctl",
		Short:         "DigestGenie operator tool",
		Long:          "Runs migrations, reprocesses emails, manages feature flags and forwarding addresses, and issues admin API tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env", "local", "Config environment (base.yaml overlaid with <env>.yaml)")
	root.PersistentFlags().String("config-dir", "config", "Directory holding base.yaml and secrets.env")
	root.PersistentFlags().Duration("timeout", 30*time.Second, "Timeout for the whole command")
	_ = v.BindPFlag("env", root.PersistentFlags().Lookup("env"))
	_ = v.BindPFlag("config_dir", root.PersistentFlags().Lookup("config-dir"))
	_ = v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))

	root.AddCommand(
		newMigrateCmd(v),
		newReprocessCmd(v),
		newAddressCmd(v),
		newFlagsCmd(v),
		newJobsCmd(v),
		newOutboxCmd(v),
		newTokenCmd(v),
		newHashPasswordCmd(),
	)
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// LoadConfig reads the same layered files the services use, then applies env overrides.
func LoadConfig(v *viper.Viper) (*Config, error) {
	env := strings.TrimSpace(v.GetString("env"))
	var cfg Config
	if err := config.Load(env, v.GetString("config_dir"), &cfg); err != nil {
		return nil, err
	}
	cfg.Env = env

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideMailFromEnv(&cfg.Mail)
	config.ApplyMailDefaults(&cfg.Mail, env)
	config.ApplyRunnerDefaults(&cfg.Runner)
	return &cfg, nil
}

// session holds the connections one command works with.
type session struct {
	cfg       *Config
	log       *zap.Logger
	pool      *pgxpool.Pool
	publisher *mq.Publisher
	ops       *ops.Service
}

func openSession(ctx context.Context, v *viper.Viper, withBroker bool) (*session, error) {
	cfg, err := LoadConfig(v)
	if err != nil {
		return nil, err
	}
	log := logger.NewLogger(cfg.Env)

	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &session{cfg: cfg, log: log, pool: pool}

	flagRepo := repository.NewFlagRepository(pool)
	deps := ops.Deps{
		Jobs:        repository.NewJobRepository(pool),
		Emails:      repository.NewEmailRepository(pool),
		Newsletters: repository.NewNewsletterRepository(pool),
		Flags:       flagRepo,
		FlagWriter:  featureflag.NewCache(flagRepo, cfg.Flags.TTL, time.Now, cfg.Flags.Defaults, log),
		Users:       repository.NewUserRepository(pool),
	}
	if withBroker {
		s.publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
		deps.Outbox = outbox.NewReplayService(outbox.NewRepository(pool), s.publisher, log.Named("outbox"))
	}
	s.ops = ops.NewService(deps, cfg.Mail.Domain, cfg.Runner.MaxAttempts, log.Named("ops"))
	return s, nil
}

func (s *session) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	s.pool.Close()
	_ = s.log.Sync()
}

// withSession runs fn with a connected session bounded by the --timeout flag.
func withSession(cmd *cobra.Command, v *viper.Viper, withBroker bool, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
	defer cancel()

	s, err := openSession(ctx, v, withBroker)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}
