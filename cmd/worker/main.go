package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/trackkit/yolo-detection-service/internal/domain/port"
	"github.com/trackkit/yolo-detection-service/internal/infra/config"
	"github.com/trackkit/yolo-detection-service/internal/infra/email"
	"github.com/trackkit/yolo-detection-service/internal/infra/metrics"
	miniostorage "github.com/trackkit/yolo-detection-service/internal/infra/minio"
	"github.com/trackkit/yolo-detection-service/internal/infra/postgres"
	"github.com/trackkit/yolo-detection-service/internal/infra/rabbitmq"
	"github.com/trackkit/yolo-detection-service/internal/infra/tracing"
	"github.com/trackkit/yolo-detection-service/internal/infra/yolo"
	"github.com/trackkit/yolo-detection-service/internal/usecase"
	"github.com/trackkit/yolo-detection-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting yolo-detection-service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// Migrations
	err = postgres.RunMigrations(cfg.DatabaseURL, "migrations")
	if err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:    cfg.MinIOEndpoint,
		AccessKey:   cfg.MinIOAccessKey,
		SecretKey:   cfg.MinIOSecretKey,
		UseSSL:      cfg.MinIOUseSSL,
		StackBucket: cfg.MinIOStackBucket,
		LogBucket:   cfg.MinIOLogBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Infra adapters
	jobRepo := postgres.NewJobRepository(pool)
	detRepo := postgres.NewDetectionRepository(pool)
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)
	detectors := &yolo.Factory{
		Command:       cfg.YOLOCommand,
		PollInterval:  time.Duration(cfg.TailPollMs) * time.Millisecond,
		IndexOffset:   cfg.FrameIndexOffset,
		IngestWorkers: cfg.IngestWorkers,
	}

	// Use case
	uc := usecase.NewProcessDetectionUseCase(
		jobRepo, detRepo, storage, detectors,
		statusPub, dlqPub, notifier,
		log,
		usecase.ProcessDetectionConfig{
			TempDir:    cfg.TempDir,
			MaxRetries: cfg.MaxRetries,
			RunDefaults: port.RunOptions{
				ModelPath:  cfg.YOLOModelPath,
				Confidence: cfg.YOLOConfidence,
				IoU:        cfg.YOLOIoU,
				UseGPU:     cfg.YOLOUseGPU,
			},
		},
	)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQJobQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("yolo-detection-service started, consuming messages")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("yolo-detection-service stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
