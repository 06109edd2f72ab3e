// Package bootstrap assembles the process-wide resources: config, logger,
// stores, brokers and clients. Both binaries build an App and own its
// lifecycle through Close.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docpipe/internal/config"
	"docpipe/internal/embed"
	"docpipe/internal/events"
	"docpipe/internal/model"
	"docpipe/internal/platform/logger"
	mysqlClient "docpipe/internal/platform/mysql"
	rabbitmqClient "docpipe/internal/platform/rabbitmq"
	redisClient "docpipe/internal/platform/redis"
	"docpipe/internal/pipeline"
	"docpipe/internal/queue"
	"docpipe/internal/vectorindex"
)

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	MySQL     *gorm.DB
	Redis     *redis.Client
	MQConn    *amqp.Connection
	Vector    *vectorindex.Store
	Embedder  embed.Embedder
	Queue     *queue.RedisQueue
	Publisher *events.Publisher

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log := logger.New(cfg.Log)

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(), cfg.MySQL.MaxIdleConns, cfg.MySQL.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.Document{}, &model.Chunk{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	vector, err := vectorindex.New(ctx, cfg.Weaviate)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:    cfg,
		Logger:    log,
		MySQL:     mysqlDB,
		Redis:     redisCli,
		MQConn:    mqConn,
		Vector:    vector,
		Embedder:  embed.NewOpenAIEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model),
		Queue:     queue.NewRedisQueue(redisCli, time.Duration(cfg.Pipeline.RetentionHours)*time.Hour),
		Publisher: events.NewPublisher(mqConn, cfg.RabbitMQ.DocumentEventsQueue),
		StartedAt: time.Now(),
	}, nil
}

// PipelineConfig maps the loaded config onto the orchestrator's settings.
func (a *App) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		ProcessingQueue:   a.Config.Pipeline.ProcessingQueue,
		EmbeddingQueue:    a.Config.Pipeline.EmbeddingQueue,
		ProcessingTimeout: time.Duration(a.Config.Pipeline.ProcessingTimeoutMinutes) * time.Minute,
		EmbeddingTimeout:  time.Duration(a.Config.Pipeline.EmbeddingTimeoutMinutes) * time.Minute,
		JobRetention:      time.Duration(a.Config.Pipeline.RetentionHours) * time.Hour,
		EmbedBatchSize:    a.Config.Embedding.BatchSize,
	}
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
