package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/agent"
	authpkg "github.com/chatshell/streamcore/internal/auth"
	"github.com/chatshell/streamcore/internal/circuitbreaker"
	cfg "github.com/chatshell/streamcore/internal/config"
	"github.com/chatshell/streamcore/internal/health"
	"github.com/chatshell/streamcore/internal/httpapi"
	_ "github.com/chatshell/streamcore/internal/metrics" // registers collectors on import
	"github.com/chatshell/streamcore/internal/policy"
	"github.com/chatshell/streamcore/internal/ratelimit"
	"github.com/chatshell/streamcore/internal/store/postgres"
	"github.com/chatshell/streamcore/internal/store/redis"
	"github.com/chatshell/streamcore/internal/streaming"
	"github.com/chatshell/streamcore/internal/taskqueue"
	"github.com/chatshell/streamcore/internal/tracing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	circuitbreaker.StartMetricsCollection()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	features, err := cfg.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:     features.Observability.Metrics.Enabled,
		ServiceName: "streamcore",
	}, logger); err != nil {
		logger.Warn("tracing initialization failed, continuing without spans", zap.Error(err))
	}

	configManager, err := cfg.NewManager(logger)
	if err != nil {
		logger.Fatal("failed to start config manager", zap.Error(err))
	}
	if err := configManager.Start(ctx); err != nil {
		logger.Fatal("failed to watch configuration directory", zap.Error(err))
	}
	defer configManager.Stop()

	pool, err := postgres.Open(ctx, features.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()
	dbWrapper := circuitbreaker.NewDatabaseWrapper(pool.DB(), logger)

	cache, err := redis.NewCache(ctx, features.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer cache.Close()

	redisV8Client := redisv8.NewClient(&redisv8.Options{
		Addr:     features.Redis.Addr,
		Password: features.Redis.Password,
	})
	defer redisV8Client.Close()
	redisWrapper := circuitbreaker.NewRedisWrapper(redisV8Client, logger)

	tasks := postgres.NewTaskStore(pool)
	messages := postgres.NewMessageStore(pool)
	resources := postgres.NewResourceStore(pool)

	authService := authpkg.NewService(pool.SQLX(), logger, features.Auth.JWTSecret)
	jwtManager := authpkg.NewJWTManager(features.Auth.JWTSecret, 15*time.Minute, 7*24*time.Hour)
	authMiddleware := authpkg.NewMiddleware(authService, jwtManager, features.Auth.SkipAuth)

	policyCfg := policy.LoadConfig()
	var toolGate *policy.ToolGate
	if policyCfg.Enabled {
		engine, err := policy.NewOPAEngine(policyCfg, logger)
		if err != nil {
			logger.Warn("policy engine failed to start, running without tool gating", zap.Error(err))
		} else {
			toolGate = policy.NewToolGate(engine)
		}
	}

	provider := agent.NewOpenAIProvider(agent.OpenAIConfig{
		APIKey:  features.Provider.APIKey,
		BaseURL: features.Provider.BaseURL,
		Model:   features.Provider.Model,
	}, logger)
	registry := agent.NewRegistry()
	registry.Register(agent.CalculatorTool{})
	registry.Register(agent.EchoTool{})

	agentCfg := agent.DefaultConfig()
	agentCfg.Model = features.Provider.Model
	agentCfg.Temperature = features.Provider.Temperature

	state := streaming.NewStreamState()
	buffers := streaming.NewPerStreamBuffer(1000, 10*time.Minute)
	emitter := streaming.NewEmitter(256, 15*time.Second, logger)
	core := streaming.NewCore(state, buffers, emitter, features.Stream.ToStreamConfig(), logger)
	core.Start()
	defer core.Stop()

	broadcaster := taskqueue.NewLogBroadcaster(logger)
	executor := taskqueue.NewTaskExecutor(tasks, messages, resources, core, provider, registry, agentCfg, toolGate, broadcaster, logger)
	queue := taskqueue.NewQueue(executor, features.TaskQueue.Capacity, logger)
	queue.Start(ctx)
	defer queue.Stop()

	connectLimiter := ratelimit.NewConnectLimiter(features.RateLimit.ConnectRPS, features.RateLimit.ConnectBurst)

	server := httpapi.NewServer(core, tasks, queue, connectLimiter, logger)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         httpAddr(),
		Handler:      authMiddleware.HTTPMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming responses run indefinitely
	}

	healthManager := health.NewManager(logger)
	healthManager.RegisterChecker(health.NewTaskQueueHealthChecker(queue.IsStarted, queue.RunningCount, logger))
	healthManager.RegisterChecker(health.NewStreamingCoreHealthChecker(core.CleanupAlive, logger))
	healthManager.RegisterChecker(health.NewDatabaseHealthChecker(pool.DB(), dbWrapper, logger))
	healthManager.RegisterChecker(health.NewRedisHealthChecker(redisV8Client, redisWrapper, logger))
	if err := healthManager.Start(ctx); err != nil {
		logger.Fatal("failed to start health manager", zap.Error(err))
	}
	defer healthManager.Stop()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: metricsAddr(features), Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", zap.Error(err))
		}
	}()

	healthServer := health.StartHealthServer(healthManager, healthPort(), logger)

	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)
}

func httpAddr() string {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		return v
	}
	return ":8080"
}

func metricsAddr(f *cfg.Features) string {
	port := f.Observability.Metrics.Port
	if port == 0 {
		port = 9090
	}
	return ":" + strconv.Itoa(port)
}

func healthPort() int {
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 8081
}
