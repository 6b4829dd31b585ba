package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"digestgenie/api-gateway/internal/config"
	"digestgenie/api-gateway/internal/handler"
	gatewayhttp "digestgenie/api-gateway/internal/httpserver"
	"digestgenie/api-gateway/internal/service/auth"
	"digestgenie/internal/httpserver"
	"digestgenie/internal/ops"
	"digestgenie/internal/repository"
	"digestgenie/pkg/db"
	"digestgenie/pkg/featureflag"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/mq"
	"digestgenie/pkg/outbox"
)

func main() {
	// Load config
	cfg := config.Load()
	log := logger.NewLogger(cfg.Env)
	defer log.Sync()

	log.Info("Starting api-gateway...", zap.String("env", cfg.Env))
	if cfg.JWT.Secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init Repositories
	jobRepo := repository.NewJobRepository(dbConn)
	emailRepo := repository.NewEmailRepository(dbConn)
	newsletterRepo := repository.NewNewsletterRepository(dbConn)
	flagRepo := repository.NewFlagRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)

	flags := featureflag.NewCache(flagRepo, cfg.Flags.TTL, time.Now, cfg.Flags.Defaults, log.Named("featureflag"))

	deps := ops.Deps{
		Jobs:        jobRepo,
		Emails:      emailRepo,
		Newsletters: newsletterRepo,
		Flags:       flagRepo,
		FlagWriter:  flags,
		Users:       userRepo,
	}

	// Outbox replay needs the broker; without it the replay endpoints answer 503
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Warn("MQ unavailable, outbox replay disabled", zap.Error(err))
	} else {
		defer publisher.Close()
		deps.Outbox = outbox.NewReplayService(outbox.NewRepository(dbConn), publisher, log.Named("outbox"))
	}

	// Init Services
	authService := auth.NewService(cfg.Admin, cfg.JWT, log.Named("auth"))
	opsService := ops.NewService(deps, cfg.Mail.Domain, cfg.Runner.MaxAttempts, log.Named("ops"))

	// Init Handlers
	authHandler := handler.NewAuthHandler(authService, log)
	adminHandler := handler.NewAdminHandler(opsService, log)

	// Router
	router := gatewayhttp.NewRouter(log, authHandler, adminHandler, cfg.JWT.Secret, cfg.Gateway.CORSOrigins,
		httpserver.ReadinessCheck{Name: "db", Check: dbConn.Ping},
	)
	srv := &http.Server{Addr: cfg.Gateway.Server.Port, Handler: router}
	httpserver.Serve(srv, log)

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down api-gateway...")
	httpserver.Shutdown(srv, 10*time.Second, log)
	log.Info("api-gateway stopped")
}
