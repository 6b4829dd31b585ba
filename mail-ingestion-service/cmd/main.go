package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"digestgenie/internal/httpserver"
	"digestgenie/internal/repository"
	"digestgenie/mail-ingestion-service/internal/config"
	"digestgenie/mail-ingestion-service/internal/handler"
	ingesthttp "digestgenie/mail-ingestion-service/internal/httpserver"
	"digestgenie/mail-ingestion-service/internal/service/ingest"
	"digestgenie/mail-ingestion-service/internal/smtp"
	"digestgenie/pkg/db"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/mq"
	"digestgenie/pkg/outbox"
	"digestgenie/pkg/redis"
	"digestgenie/pkg/util"
)

func main() {
	cfg := config.Load()
	log := logger.NewLogger(cfg.Env)
	defer log.Sync()

	log.Info("Starting mail-ingestion-service...",
		zap.String("env", cfg.Env),
		zap.String("domain", cfg.Mail.Domain),
	)
	if cfg.Webhook.Secret == "" {
		if cfg.Production() {
			log.Error("WEBHOOK_SECRET is not set; webhook deliveries will be refused")
		} else {
			log.Warn("WEBHOOK_SECRET is not set; signature verification is disabled")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Redis (delivery dedup)
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	deduper := util.NewDeduperWithLogger(rdb, 24*time.Hour, log)

	// Init Repositories
	emailRepo := repository.NewEmailRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)

	// Init Services
	ingestService := ingest.NewService(
		userRepo,
		ingest.NewPgEmailStore(dbConn, emailRepo, cfg.Runner.MaxAttempts),
		deduper,
		cfg.Mail.Domain,
		log.Named("ingest"),
	)

	// email.received 事件通过 outbox 发布
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()
	dispatcher := outbox.NewDispatcher(outbox.NewRepository(dbConn), publisher, log.Named("outbox")).
		WithInterval(2 * time.Second)
	go dispatcher.Start(ctx)

	// HTTP webhook
	// Mailgun tokens only need to outlive the signature window; the 24h deduper covers it.
	webhookHandler := handler.NewWebhookHandler(ingestService, cfg.Webhook.Secret, cfg.Production(), cfg.Webhook.MaxBody, log.Named("webhook")).
		WithTokenGuard(deduper)
	router := ingesthttp.NewRouter(log, webhookHandler,
		httpserver.ReadinessCheck{Name: "db", Check: dbConn.Ping},
		httpserver.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error { return redis.Ping(ctx, rdb) }},
	)
	srv := &http.Server{Addr: cfg.Ingestion.Server.Port, Handler: router}
	httpserver.Serve(srv, log)

	// SMTP
	var smtpServer *smtp.Server
	if cfg.Ingestion.Server.SMTPPort != "" {
		backend := smtp.NewBackend(ctx, userRepo, ingestService, cfg.Mail.Domain, log.Named("smtp"))
		smtpServer = smtp.NewServer(cfg.Ingestion.Server.SMTPPort, cfg.Mail.Domain, backend, log.Named("smtp"))
		smtpServer.Start()
	}

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down mail-ingestion-service...")
	if smtpServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		smtpServer.Shutdown(shutdownCtx)
		done()
	}
	httpserver.Shutdown(srv, 30*time.Second, log)
	cancel()
	log.Info("mail-ingestion-service stopped")
}
