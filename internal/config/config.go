package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"autotg/internal/model"

	"github.com/shopspring/decimal"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string
	LogLevel string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox（API 入流，Relay 异步转 Kafka）
	OrderEventStream   string
	OrderEventGroup    string
	OrderEventConsumer string

	// 交易所
	ExchangeBaseURL     string
	ExchangeMinInterval time.Duration
	ExchangeToken       string // 仅在设置中尚无 token 时写入

	// 市场网关与管理员通知
	MarketplaceBaseURL string
	MarketplaceToken   string
	OrderLinkFormat    string
	TelegramBotToken   string
	AdminIDs           []string
	AdminAPIToken      string

	// 调度与健康检查
	MaxConcurrentTasks int
	WorkerPoolSize     int
	DispatchPoll       time.Duration
	HealthInterval     time.Duration

	// 取码重试
	CodeMaxAttempts int
	CodeRetryDelay  time.Duration
	CodeMaxDelay    time.Duration

	// 消息接口限流
	MessageRateLimit  int
	MessageRateWindow time.Duration

	// 启动时写入的国家价格策略，格式 CODE:min:max[:name]，逗号分隔
	Countries []model.Country
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DBPath:             getEnv("DB_PATH", "autotg.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "autotg-orders"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "autotg-order-consumer"),
		OrderEventStream:   getEnv("ORDER_EVENT_STREAM", "autotg:order_events"),
		OrderEventGroup:    getEnv("ORDER_EVENT_GROUP", "autotg-relay-group"),
		OrderEventConsumer: getEnv("ORDER_EVENT_CONSUMER", "autotg-relay-1"),
		ExchangeBaseURL:    getEnv("EXCHANGE_BASE_URL", "https://api.lzt.market"),
		ExchangeToken:      getEnv("EXCHANGE_TOKEN", ""),
		MarketplaceBaseURL: getEnv("MARKETPLACE_BASE_URL", "http://localhost:8090"),
		MarketplaceToken:   getEnv("MARKETPLACE_TOKEN", ""),
		OrderLinkFormat:    getEnv("ORDER_LINK_FORMAT", "https://funpay.com/orders/%s/"),
		TelegramBotToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminIDs:           splitCSV(getEnv("ADMIN_IDS", "")),
		AdminAPIToken:      getEnv("ADMIN_API_TOKEN", ""),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	ints := []struct {
		key      string
		fallback int
		min      int
		dst      *int
	}{
		{"MAX_CONCURRENT_TASKS", 3, 1, &cfg.MaxConcurrentTasks},
		{"WORKER_POOL_SIZE", 5, 1, &cfg.WorkerPoolSize},
		{"CODE_MAX_ATTEMPTS", 10, 1, &cfg.CodeMaxAttempts},
		{"MESSAGE_RATE_LIMIT", 20, 1, &cfg.MessageRateLimit},
	}
	for _, it := range ints {
		v, err := getEnvInt(it.key, it.fallback)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid %s: %w", it.key, err)
		}
		if v < it.min {
			return AppConfig{}, fmt.Errorf("%s must be >= %d", it.key, it.min)
		}
		*it.dst = v
	}

	durations := []struct {
		key      string
		fallback int
		unit     time.Duration
		min      int
		dst      *time.Duration
	}{
		{"EXCHANGE_MIN_INTERVAL_MS", 500, time.Millisecond, 0, &cfg.ExchangeMinInterval},
		{"DISPATCH_POLL_MS", 500, time.Millisecond, 1, &cfg.DispatchPoll},
		{"HEALTH_INTERVAL_SEC", 360, time.Second, 1, &cfg.HealthInterval},
		{"CODE_RETRY_DELAY_SEC", 3, time.Second, 0, &cfg.CodeRetryDelay},
		{"CODE_MAX_DELAY_SEC", 30, time.Second, 1, &cfg.CodeMaxDelay},
		{"MESSAGE_RATE_WINDOW_SEC", 60, time.Second, 1, &cfg.MessageRateWindow},
	}
	for _, it := range durations {
		v, err := getEnvInt(it.key, it.fallback)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid %s: %w", it.key, err)
		}
		if v < it.min {
			return AppConfig{}, fmt.Errorf("%s must be >= %d", it.key, it.min)
		}
		*it.dst = time.Duration(v) * it.unit
	}

	if cfg.Countries, err = parseCountries(getEnv("COUNTRY_POLICIES", "")); err != nil {
		return AppConfig{}, fmt.Errorf("invalid COUNTRY_POLICIES: %w", err)
	}

	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if cfg.OrderEventStream == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_STREAM must not be empty")
	}
	if !strings.Contains(cfg.OrderLinkFormat, "%s") {
		return AppConfig{}, fmt.Errorf("ORDER_LINK_FORMAT must contain %%s")
	}

	return cfg, nil
}

// OrderLink 按格式生成订单页面链接。
func (c AppConfig) OrderLink(orderID string) string {
	return fmt.Sprintf(c.OrderLinkFormat, orderID)
}

// parseCountries 解析 CODE:min:max[:name] 列表。
func parseCountries(value string) ([]model.Country, error) {
	var out []model.Country
	for _, item := range splitCSV(value) {
		parts := strings.SplitN(item, ":", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("%q: want CODE:min:max[:name]", item)
		}
		lo, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("%q: min price: %w", item, err)
		}
		hi, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("%q: max price: %w", item, err)
		}
		c := model.Country{
			Code:     strings.ToUpper(strings.TrimSpace(parts[0])),
			MinPrice: lo,
			MaxPrice: hi,
		}
		if len(parts) == 4 {
			c.Name = strings.TrimSpace(parts[3])
		}
		if c.Code == "" || hi.LessThan(lo) {
			return nil, fmt.Errorf("%q: invalid code or price band", item)
		}
		out = append(out, c)
	}
	return out, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
