package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"digestgenie/contracts/db"
	"digestgenie/email-processor-service/internal/ai"
	"digestgenie/email-processor-service/internal/config"
	"digestgenie/email-processor-service/internal/dedup"
	"digestgenie/email-processor-service/internal/enrichment"
	"digestgenie/email-processor-service/internal/mqhandler"
	"digestgenie/email-processor-service/internal/pipeline"
	"digestgenie/email-processor-service/internal/resolver"
	"digestgenie/email-processor-service/internal/runner"
	"digestgenie/email-processor-service/internal/thumbnail"
	"digestgenie/internal/httpserver"
	"digestgenie/internal/repository"
	pkgdb "digestgenie/pkg/db"
	"digestgenie/pkg/featureflag"
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

	log.Info("Starting email-processor-service...", zap.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	deduper := util.NewDeduperWithLogger(rdb, mqhandler.EnrichLockTTL, log)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// DB
	dbConn, err := pkgdb.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	// repositories
	emailRepo := repository.NewEmailRepository(dbConn)
	articleRepo := repository.NewArticleRepository(dbConn)
	newsletterRepo := repository.NewNewsletterRepository(dbConn)
	jobRepo := repository.NewJobRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)
	flagRepo := repository.NewFlagRepository(dbConn)

	flags := featureflag.NewCache(flagRepo, cfg.Flags.TTL, time.Now, cfg.Flags.Defaults, log.Named("featureflag"))

	// AI
	aiService := ai.New(cfg.AI, log.Named("ai"))
	orchestrator := enrichment.NewOrchestrator(aiService, aiService, cfg.AI.ThumbnailScore, log.Named("enrichment"))

	// pipeline + job runner
	processor := pipeline.NewProcessor(
		pipeline.NewPgStore(dbConn, emailRepo, articleRepo),
		resolver.New(newsletterRepo, log.Named("resolver")),
		dedup.NewGate(articleRepo),
		log.Named("pipeline"),
	)
	thumbnails := thumbnail.NewHandler(articleRepo, aiService, flags, log.Named("thumbnail"))

	jobRunner := runner.New(jobRepo, log.Named("runner")).WithConfig(cfg.Runner)
	jobRunner.Register(db.JobTypeEmailProcessing, processor.HandleJob)
	jobRunner.Register(db.JobTypeThumbnailGeneration, thumbnails.HandleJob)
	go func() {
		if err := jobRunner.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error("Job runner exited", zap.Error(err))
		}
	}()

	// MQ publisher + outbox dispatcher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	dispatcher := outbox.NewDispatcher(outbox.NewRepository(dbConn), publisher, log.Named("outbox"))
	go dispatcher.Start(ctx)

	// -------------------------
	// article.created → enrichment
	// -------------------------
	enrichHandler := mqhandler.NewEnrichmentHandler(
		mqhandler.NewPgArticleStore(dbConn, articleRepo, cfg.Runner.MaxAttempts),
		userRepo,
		flags,
		orchestrator,
		deduper,
		retryCounter,
		log.Named("enrich"),
	)
	enrichConsumer, err := mq.NewConsumer(cfg.MQ.URL, "article.created.enrich.q", mq.RoutingKeyArticleCreated, 4, log)
	if err != nil {
		log.Fatal("Enrichment consumer init failed", zap.Error(err))
	}
	defer enrichConsumer.Close()
	enrichConsumer.SetHandler(enrichHandler.Handle)
	go func() {
		if err := enrichConsumer.StartConsuming(ctx); err != nil && ctx.Err() == nil {
			log.Fatal("Enrichment consumer crashed", zap.Error(err))
		}
	}()

	// -------------------------
	// email.received → wake the runner
	// -------------------------
	receivedConsumer, err := mq.NewConsumer(cfg.MQ.URL, "email.received.processor.q", mq.RoutingKeyEmailReceived, 10, log)
	if err != nil {
		log.Fatal("email.received consumer init failed", zap.Error(err))
	}
	defer receivedConsumer.Close()
	receivedConsumer.SetHandler(mqhandler.NewEmailReceivedHandler(jobRunner.Wake, log.Named("received")).Handle)
	go func() {
		if err := receivedConsumer.StartConsuming(ctx); err != nil && ctx.Err() == nil {
			log.Fatal("email.received consumer crashed", zap.Error(err))
		}
	}()

	// HTTP (health + metrics)
	engine := httpserver.NewEngine(log,
		httpserver.ReadinessCheck{Name: "db", Check: dbConn.Ping},
		httpserver.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error { return redis.Ping(ctx, rdb) }},
	)
	srv := &http.Server{Addr: cfg.Processor.Server.Port, Handler: engine}
	httpserver.Serve(srv, log)

	log.Info("email-processor-service running",
		zap.Bool("ai_configured", aiService.Configured()),
		zap.Int("batch_size", cfg.Runner.BatchSize),
	)

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down email-processor-service...")
	cancel()
	httpserver.Shutdown(srv, 30*time.Second, log)
	log.Info("email-processor-service stopped")
}
