package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Remote   RemoteConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Local    LocalConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// RemoteConfig points at the upstream LevelUp API. An empty BaseURL disables it.
type RemoteConfig struct {
	BaseURL        string
	TimeoutSeconds int
	AuthToken      string
}

// DatabaseConfig enables the Postgres backend when URL is set
type DatabaseConfig struct {
	URL string
}

// RedisConfig enables the Redis backend when Addr is set
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LocalConfig struct {
	CachePath string
	SeedDir   string
}

type KafkaConfig struct {
	Brokers       []string
	TopicOrder    string
	ConsumerGroup string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	PrometheusPort string
}

type BusinessConfig struct {
	PointsEarnRate      int
	DuocDiscountPercent int
	BackendRetrySeconds int
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	remoteTimeout, _ := strconv.Atoi(getEnv("REMOTE_TIMEOUT_SECONDS", "10"))
	earnRate, _ := strconv.Atoi(getEnv("POINTS_EARN_RATE", "100"))
	duocPercent, _ := strconv.Atoi(getEnv("DUOC_DISCOUNT_PERCENT", "20"))
	retrySeconds, _ := strconv.Atoi(getEnv("BACKEND_RETRY_SECONDS", "30"))

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Remote: RemoteConfig{
			BaseURL:        strings.TrimRight(getEnv("REMOTE_BASE_URL", "http://localhost:8081/api"), "/"),
			TimeoutSeconds: remoteTimeout,
			AuthToken:      getEnv("REMOTE_AUTH_TOKEN", ""),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Local: LocalConfig{
			CachePath: getEnv("LOCAL_CACHE_PATH", "data/levelup.ldb"),
			SeedDir:   getEnv("SEED_DIR", "seed"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "")),
			TopicOrder:    getEnv("KAFKA_TOPIC_ORDER_EVENTS", "levelup-order-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "levelup-tier-group"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
			PrometheusPort: getEnv("PROMETHEUS_PORT", "9090"),
		},
		Business: BusinessConfig{
			PointsEarnRate:      earnRate,
			DuocDiscountPercent: duocPercent,
			BackendRetrySeconds: retrySeconds,
		},
	}

	if cfg.Business.PointsEarnRate <= 0 {
		log.Printf("Invalid POINTS_EARN_RATE=%d, using 100", cfg.Business.PointsEarnRate)
		cfg.Business.PointsEarnRate = 100
	}

	log.Printf("Config loaded: env=%s, port=%s, remote=%q", cfg.Server.Env, cfg.Server.Port, cfg.Remote.BaseURL)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
