package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"autotg/internal/config"
	"autotg/internal/exchange"
	"autotg/internal/fulfill"
	"autotg/internal/health"
	"autotg/internal/marketplace"
	"autotg/internal/model"
	"autotg/internal/notify"
	"autotg/internal/queue"
	"autotg/internal/retrieval"
	"autotg/internal/router"
	"autotg/internal/store"
	rediskey "autotg/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	orderClaimTTL = 7 * 24 * time.Hour
	orderStateTTL = 30 * 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. SQLite：设置、国家策略、登记表、利润
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatalw("db open", "error", err)
	}
	st, err := store.Open(db)
	if err != nil {
		log.Fatalw("store open", "error", err)
	}
	if err := seed(st, cfg); err != nil {
		log.Fatalw("seed settings", "error", err)
	}

	// 2. Redis：outbox、延后队列、订单占位与状态、限流
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalw("redis ping", "addr", cfg.RedisAddr, "error", err)
	}

	// 3. 外部协作方
	ex, err := exchange.New(exchange.Options{
		BaseURL:     cfg.ExchangeBaseURL,
		MinInterval: cfg.ExchangeMinInterval,
		Token:       func() string { return st.Settings().ExchangeToken },
	})
	if err != nil {
		log.Fatalw("exchange client", "error", err)
	}
	market, err := marketplace.NewGateway(marketplace.GatewayOptions{
		BaseURL: cfg.MarketplaceBaseURL,
		Token:   cfg.MarketplaceToken,
	})
	if err != nil {
		log.Fatalw("marketplace gateway", "error", err)
	}
	var sender notify.Sender = notify.LogSender{Log: log.Named("notify")}
	if cfg.TelegramBotToken != "" {
		sender = notify.NewTelegramSender("", cfg.TelegramBotToken)
	}
	notifier := notify.New(sender, st, cfg.OrderLink, log.Named("notify"))

	// 4. 履约流水线：健康监控兼延后队列 + 处理器 + 调度器
	guard := rediskey.NewOrderGuard(rdb, orderClaimTTL, orderStateTTL)
	var processor *fulfill.Processor
	monitor := health.NewMonitor(health.Options{
		Prober:   ex,
		Buffer:   health.NewRedisBuffer(rdb),
		Settings: st,
		Notifier: notifier,
		Interval: cfg.HealthInterval,
		Logger:   log.Named("health"),
		Replay: func(ctx context.Context, o model.Order) {
			processor.Process(ctx, o)
		},
	})
	processor = fulfill.NewProcessor(fulfill.Deps{
		Exchange:    ex,
		Marketplace: market,
		Registry:    st,
		Notifier:    notifier,
		Deferrer:    monitor,
		Guard:       guard,
		Logger:      log.Named("fulfill"),
	})
	dispatcher := queue.NewDispatcher(func(ctx context.Context, o model.Order) {
		processor.Process(ctx, o)
	}, queue.DispatcherOptions{
		MaxConcurrent: cfg.MaxConcurrentTasks,
		Workers:       cfg.WorkerPoolSize,
		PollInterval:  cfg.DispatchPoll,
		Spill:         monitor,
		Logger:        log.Named("dispatcher"),
	})

	codes := retrieval.NewService(retrieval.Deps{
		Exchange:    ex,
		Registry:    st,
		Marketplace: market,
		Notifier:    notifier,
		Logger:      log.Named("retrieval"),
	}, retrieval.Options{
		MaxAttempts: cfg.CodeMaxAttempts,
		RetryDelay:  cfg.CodeRetryDelay,
		MaxDelay:    cfg.CodeMaxDelay,
		OrderLink:   cfg.OrderLink,
	})

	// 5. 事件链路：HTTP -> Redis Stream -> Relay -> Kafka -> Consumer -> Dispatcher
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	relay := queue.NewRelay(rdb, producer, cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer, log.Named("relay"))
	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, dispatcher, log.Named("consumer"))
	defer consumer.Close()

	go dispatcher.Run(ctx)
	go monitor.Run(ctx)
	go relay.Run(ctx)
	go consumer.Run(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		Events:      queue.NewStreamOutbox(rdb, cfg.OrderEventStream),
		Codes:       codes,
		Health:      monitor,
		Dispatcher:  dispatcher,
		Orders:      guard,
		Credentials: st,
		Redis:       rdb,
		RateLimit:   cfg.MessageRateLimit,
		RateWindow:  cfg.MessageRateWindow,
		AdminToken:  cfg.AdminAPIToken,
		Logger:      log.Named("http"),
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	// 等待运行中的订单处理完成
	dispatcher.Stop()
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// seed 把环境变量中的令牌、管理员与国家策略写入存储；已有值不覆盖。
func seed(st *store.Store, cfg config.AppConfig) error {
	err := st.UpdateSettings(func(s *model.Settings) {
		if s.ExchangeToken == "" {
			s.ExchangeToken = cfg.ExchangeToken
		}
		if len(s.Administrators) == 0 {
			s.Administrators = cfg.AdminIDs
		}
	})
	if err != nil {
		return err
	}
	for _, c := range cfg.Countries {
		if c.Name == "" {
			c.Name = c.Code
		}
		if _, err := st.SeedCountry(c); err != nil {
			return err
		}
	}
	return nil
}
