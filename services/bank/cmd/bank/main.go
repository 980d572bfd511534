package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lean98av/kipubank/libs/health"
	"github.com/lean98av/kipubank/libs/httpmiddleware"
	"github.com/lean98av/kipubank/libs/kafka"
	"github.com/lean98av/kipubank/libs/logging"
	"github.com/lean98av/kipubank/libs/metrics"
	"github.com/lean98av/kipubank/libs/trace"
	"github.com/lean98av/kipubank/services/bank/internal/config"
	"github.com/lean98av/kipubank/services/bank/internal/engine"
	"github.com/lean98av/kipubank/services/bank/internal/handlers"
	"github.com/lean98av/kipubank/services/bank/internal/oracle"
	"github.com/lean98av/kipubank/services/bank/internal/rate"
	"github.com/lean98av/kipubank/services/bank/internal/service"
	"github.com/lean98av/kipubank/services/bank/internal/storage"
	"github.com/lean98av/kipubank/services/bank/internal/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	bankMetrics := service.NewMetrics(registry)

	ready := health.NewManager(false)

	var publisher kafka.Publisher
	if cfg.Kafka.Enabled {
		kafkaMetrics := kafka.NewProducerMetrics(registry)
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DLQ, logger)
	}

	var limiter rate.Limiter
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		limiter = rate.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, "")
		logger.Info("rate limiter using redis", "addr", cfg.Redis.Addr)
	} else {
		limiter = rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
		logger.Info("rate limiter using process memory")
	}

	var converter handlers.Converter
	if cfg.Oracle.Enabled {
		ethClient, err := ethclient.Dial(cfg.Oracle.EthRPCURL)
		if err != nil {
			logger.Error("eth rpc connection failed", "error", err)
			os.Exit(1)
		}
		defer ethClient.Close()

		source, err := oracle.NewChainlinkSource(ethClient)
		if err != nil {
			logger.Error("chainlink source init failed", "error", err)
			os.Exit(1)
		}
		converter = oracle.NewAdapter(source, cfg.Oracle.NativeFeed, cfg.Oracle.FeedScale, cfg.Oracle.CacheTTL, logger)
	}

	var audit handlers.Auditor
	if cfg.DB.Enabled {
		pool, err := connectDB(cfg)
		if err != nil {
			logger.Error("db connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		audit = storage.New(pool, logger)
	}

	bank, err := engine.New(engine.Config{
		Limits: engine.Limits{
			BankCap:     cfg.Vault.BankCap,
			MaxWithdraw: cfg.Vault.MaxWithdraw,
		},
		Admin:       cfg.Vault.Admin,
		NativeScale: cfg.Vault.NativeScale,
		Transferor:  transfer.NewStub(logger),
		Publisher:   publisher,
		Topics: engine.Topics{
			Deposits:    cfg.Kafka.Topics.Deposits,
			Withdrawals: cfg.Kafka.Topics.Withdrawals,
			Catalog:     cfg.Kafka.Topics.Catalog,
		},
		Logger:  logger,
		Metrics: bankMetrics,
	})
	if err != nil {
		logger.Error("bank engine init failed", "error", err)
		os.Exit(1)
	}

	handler := handlers.New(bank, converter, limiter, audit, logger)
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler.Register(router, []byte(cfg.JWTSecret))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	ready.SetReady(true)

	go func() {
		logger.Info("bank http starting", "addr", httpServer.Addr,
			"bank_cap", cfg.Vault.BankCap, "max_withdraw", cfg.Vault.MaxWithdraw)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
