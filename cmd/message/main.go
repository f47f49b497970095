package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"sudooom.im.message/internal/config"
	"sudooom.im.message/internal/handler"
	"sudooom.im.message/internal/health"
	"sudooom.im.message/internal/msglog"
	imNats "sudooom.im.message/internal/nats"
	"sudooom.im.message/internal/registry"
	"sudooom.im.message/internal/router"
	"sudooom.im.message/internal/service"
	"sudooom.im.message/internal/syncer"
	"sudooom.im.message/internal/unread"
	"sudooom.im.message/internal/workerpool"
	"sudooom.im.message/pkg/snowflake"
)

func main() {
	configPath := "configs/config.yaml"
	if p := os.Getenv("IM_CONFIG"); p != "" {
		configPath = p
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接 NATS
	natsClient, err := imNats.NewClient(cfg.NATS, cfg.App.Name)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	logger.Info("Connected to NATS", "url", cfg.NATS.URL)

	// 连接 Redis
	redisClient := connectRedis(cfg.Redis)
	defer redisClient.Close()
	logger.Info("Connected to Redis", "host", cfg.Redis.Host)

	// 连接数据库
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	// 消息存储后端
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open message store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	logger.Info("Message store opened", "backend", backend.Name())

	node, err := snowflake.NewNode(cfg.Snowflake.NodeID)
	if err != nil {
		logger.Error("Failed to create snowflake node", "error", err)
		os.Exit(1)
	}

	// 初始化服务
	pool := workerpool.New(cfg.WorkerPool.Workers, cfg.WorkerPool.QueueSize, logger)
	emitter := syncer.NewEmitter(natsClient.Conn(), cfg.Sync)
	emitter.Start()

	messageLog := msglog.NewStore(backend, pool, emitter, msglog.Options{
		SequentialMax:     cfg.Batch.SequentialMax,
		PooledMax:         cfg.Batch.PooledMax,
		ChunkSize:         cfg.Batch.ChunkSize,
		MaxParallelChunks: cfg.Batch.MaxParallelChunks,
		ItemTimeout:       cfg.Batch.ItemTimeout,
	})
	unreadStore := unread.NewStore(redisClient, cfg.Unread.TTL)
	repo := registry.NewRepository(db)

	conversationService := service.NewConversationService(repo, messageLog, unreadStore)
	historyService := service.NewHistoryService(repo, messageLog)
	messageService := service.NewMessageService(messageLog, unreadStore, node)

	// 启动订阅者
	subscriber := imNats.NewEventSubscriber(natsClient.Conn(), messageService, cfg.Subscriber)
	if err := subscriber.Start(ctx); err != nil {
		logger.Error("Failed to start subscriber", "error", err)
		os.Exit(1)
	}

	// HTTP 服务
	engine := router.SetupRouter(cfg, handler.NewConversationHandler(conversationService, historyService))
	apiServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: engine,
	}
	go func() {
		logger.Info("HTTP server started", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	// 启动健康检查 HTTP 服务
	healthChecker := health.NewChecker(natsClient.Conn(), redisClient, db, messageLog)
	healthServer := newHealthServer(cfg.HTTP.HealthAddr, healthChecker)
	go func() {
		logger.Info("Health check server started", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed", "error", err)
		}
	}()

	logger.Info("Message service started", "name", cfg.App.Name)

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// 先停止接收新消息，再关闭对外服务，最后刷出同步事件
	if err := subscriber.Stop(); err != nil {
		logger.Warn("Failed to stop subscriber", "error", err)
	}
	cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", "error", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Health server shutdown failed", "error", err)
	}
	emitter.Stop()
	pool.Shutdown()
	if err := backend.Close(shutdownCtx); err != nil {
		logger.Warn("Failed to close message store", "error", err)
	}
	if err := natsClient.Drain(); err != nil {
		logger.Warn("Failed to drain NATS", "error", err)
	}
	logger.Info("Message service stopped")
}

// openBackend 按配置打开消息存储后端
func openBackend(ctx context.Context, cfg *config.Config) (msglog.Backend, error) {
	switch cfg.Store.Backend {
	case "cassandra":
		return msglog.NewCassandraBackend(ctx, cfg.Cassandra)
	case "mongo":
		return msglog.NewMongoBackend(ctx, cfg.Mongo)
	case "memory":
		slog.Warn("Using in-memory message store, data is not persisted")
		return msglog.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// newHealthServer 健康检查与指标端点
func newHealthServer(addr string, healthChecker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/health", healthChecker)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if healthChecker.IsHealthy(r.Context()) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not Ready"))
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	return pgxpool.NewWithConfig(ctx, poolConfig)
}
