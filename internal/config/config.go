package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Paymob    PaymobConfig
	Signing   SigningConfig
	Orders    OrdersConfig
	Streaming StreamingConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host             string
	Port             string
	Username         string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	MaxLifetime      time.Duration
	MigrationsPath   string
	AutoMigrate      bool
	AutoCreateSchema bool
}

// DSN is the postgres URL used by both the pq connection and golang-migrate.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	OrderCreated        string
	OrderCompleted      string
	OrderFailed         string
	OrderExpired        string
	OrderReconciliation string
}

// All returns every configured topic, used for topic bootstrap.
func (t TopicConfig) All() []string {
	return []string{t.OrderCreated, t.OrderCompleted, t.OrderFailed, t.OrderExpired, t.OrderReconciliation}
}

type PaymobConfig struct {
	BaseURL               string
	APIKey                string
	IntegrationID         string
	IframeID              string
	HMACSecret            string
	Currency              string
	PaymentKeyExpiration  int
	HTTPTimeout           time.Duration
	AuthTokenTTL          time.Duration
	AllowUnsignedWebhooks bool
}

type SigningConfig struct {
	Secret         string
	TicketValidity time.Duration
	StreamValidity time.Duration
}

type OrdersConfig struct {
	TTL             time.Duration
	ExpiryBatchSize int
}

type StreamingConfig struct {
	ConcurrentLimit int
	SlotLockTTL     time.Duration
}

type AuthConfig struct {
	IssuerURL string
	ClientID  string
	Disabled  bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:             getEnv("DB_HOST", "localhost"),
			Port:             getEnv("DB_PORT", "5432"),
			Username:         getEnv("DB_USERNAME", "checkout_user"),
			Password:         getEnv("DB_PASSWORD", "checkout_pass"),
			Database:         getEnv("DB_NAME", "checkout"),
			SSLMode:          getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:     getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:      time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			MigrationsPath:   getEnv("MIGRATIONS_PATH", "file://migrations"),
			AutoMigrate:      getEnvBool("DB_AUTO_MIGRATE", true),
			AutoCreateSchema: getEnvBool("DB_AUTO_CREATE_SCHEMA", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				OrderCreated:        getEnv("KAFKA_TOPIC_ORDER_CREATED", "checkout.order.created"),
				OrderCompleted:      getEnv("KAFKA_TOPIC_ORDER_COMPLETED", "checkout.order.completed"),
				OrderFailed:         getEnv("KAFKA_TOPIC_ORDER_FAILED", "checkout.order.failed"),
				OrderExpired:        getEnv("KAFKA_TOPIC_ORDER_EXPIRED", "checkout.order.expired"),
				OrderReconciliation: getEnv("KAFKA_TOPIC_ORDER_RECONCILIATION", "checkout.order.reconciliation"),
			},
		},
		Paymob: PaymobConfig{
			BaseURL:               getEnv("PAYMOB_BASE_URL", "https://accept.paymob.com/api"),
			APIKey:                getEnv("PAYMOB_API_KEY", ""),
			IntegrationID:         getEnv("PAYMOB_INTEGRATION_ID", ""),
			IframeID:              getEnv("PAYMOB_IFRAME_ID", ""),
			HMACSecret:            getEnv("PAYMOB_HMAC_SECRET", ""),
			Currency:              getEnv("PAYMOB_CURRENCY", "EGP"),
			PaymentKeyExpiration:  getEnvInt("PAYMOB_PAYMENT_KEY_EXPIRATION", 3600),
			HTTPTimeout:           getEnvDuration("PAYMOB_HTTP_TIMEOUT", 15*time.Second),
			AuthTokenTTL:          getEnvDuration("PAYMOB_AUTH_TOKEN_TTL", 50*time.Minute),
			AllowUnsignedWebhooks: getEnvBool("PAYMOB_ALLOW_UNSIGNED_WEBHOOKS", false),
		},
		Signing: SigningConfig{
			Secret:         getEnv("TOKEN_SIGNING_SECRET", ""),
			TicketValidity: getEnvDuration("TICKET_TOKEN_VALIDITY", 24*time.Hour),
			StreamValidity: getEnvDuration("STREAM_TOKEN_VALIDITY", 12*time.Hour),
		},
		Orders: OrdersConfig{
			TTL:             getEnvDuration("ORDER_TTL", 15*time.Minute),
			ExpiryBatchSize: getEnvInt("ORDER_EXPIRY_BATCH_SIZE", 100),
		},
		Streaming: StreamingConfig{
			ConcurrentLimit: getEnvInt("STREAM_CONCURRENT_LIMIT", 3),
			SlotLockTTL:     getEnvDuration("STREAM_SLOT_LOCK_TTL", 5*time.Second),
		},
		Auth: AuthConfig{
			IssuerURL: getEnv("OIDC_ISSUER_URL", "http://localhost:8080/realms/evently"),
			ClientID:  getEnv("OIDC_CLIENT_ID", "checkout-service"),
			Disabled:  getEnvBool("AUTH_DISABLED", false),
		},
	}
}

// Validate rejects configurations the settlement core cannot run safely with.
func (c *Config) Validate() error {
	var errs []error
	if c.Signing.Secret == "" {
		errs = append(errs, errors.New("TOKEN_SIGNING_SECRET is required"))
	}
	if c.Paymob.HMACSecret == "" && !c.Paymob.AllowUnsignedWebhooks {
		errs = append(errs, errors.New("PAYMOB_HMAC_SECRET is required unless PAYMOB_ALLOW_UNSIGNED_WEBHOOKS=true"))
	}
	if c.Orders.TTL <= 0 {
		errs = append(errs, errors.New("ORDER_TTL must be positive"))
	}
	if c.Streaming.ConcurrentLimit < 1 {
		errs = append(errs, errors.New("STREAM_CONCURRENT_LIMIT must be at least 1"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
