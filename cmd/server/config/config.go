package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"

	LogMemory   = "memory"
	LogFile     = "file"
	LogPostgres = "postgres"

	StrategyInProcess = "inprocess"
	StrategyWorkflow  = "workflow"
)

// AppConfig selects the cart store, checkout strategy and outer surfaces.
type AppConfig struct {
	Env             string
	LogLevel        string
	GRPCAddr        string
	CartStore       string
	Strategy        string
	WorkflowLog     string
	WorkflowLogPath string
	DatabaseURL     string
	KafkaBrokers    string
	KafkaTopic      string
}

// RedisConfig holds Redis connection and behavior settings.
type RedisConfig struct {
	URL                string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	CartTTL            time.Duration
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// GRPCConfig holds ingress rate limiting settings. A zero interval disables limiting.
type GRPCConfig struct {
	RateLimitInterval time.Duration
	RateLimitBurst    int
}

// ObservabilityConfig holds the HTTP address for metrics and checkout events.
type ObservabilityConfig struct {
	Addr string
}

// LoadApp reads the application settings from env and applies defaults.
func LoadApp() (AppConfig, error) {
	cfg := AppConfig{
		Env:             strings.TrimSpace(os.Getenv("APP_ENV")),
		LogLevel:        stringOr("LOG_LEVEL", "info"),
		GRPCAddr:        stringOr("GRPC_ADDR", ":50051"),
		CartStore:       strings.ToLower(stringOr("CART_STORE", StoreMemory)),
		Strategy:        strings.ToLower(stringOr("CHECKOUT_STRATEGY", StrategyInProcess)),
		WorkflowLog:     strings.ToLower(stringOr("WORKFLOW_LOG", LogMemory)),
		WorkflowLogPath: stringOr("WORKFLOW_LOG_PATH", "checkout.log"),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		KafkaBrokers:    strings.TrimSpace(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      strings.TrimSpace(os.Getenv("KAFKA_TOPIC")),
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("app config: %w", err)
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	needsDB := c.CartStore == StorePostgres || (c.Strategy == StrategyWorkflow && c.WorkflowLog == LogPostgres)
	return validation.ValidateStruct(c,
		validation.Field(&c.GRPCAddr, validation.Required),
		validation.Field(&c.CartStore, validation.In(StoreMemory, StorePostgres, StoreRedis)),
		validation.Field(&c.Strategy, validation.In(StrategyInProcess, StrategyWorkflow)),
		validation.Field(&c.WorkflowLog, validation.In(LogMemory, LogFile, LogPostgres)),
		validation.Field(&c.WorkflowLogPath, validation.Required.When(c.WorkflowLog == LogFile)),
		validation.Field(&c.DatabaseURL, validation.Required.When(needsDB)),
	)
}

func (c AppConfig) Production() bool {
	return c.Env == "production"
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{}

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.HealthcheckTimeout, err = requiredDuration("REDIS_HEALTHCHECK_TIMEOUT"); err != nil {
		return cfg, err
	}
	ttl, err := optionalDuration("REDIS_CART_TTL")
	if err != nil {
		return cfg, err
	}
	if ttl != nil {
		cfg.CartTTL = *ttl
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadGRPC reads gRPC ingress rate limit settings from env.
func LoadGRPC() (GRPCConfig, error) {
	cfg := GRPCConfig{}
	interval, err := optionalDuration("GRPC_RATE_LIMIT_INTERVAL")
	if err != nil {
		return cfg, err
	}
	burst, err := optionalInt("GRPC_RATE_LIMIT_BURST")
	if err != nil {
		return cfg, err
	}
	if interval != nil {
		cfg.RateLimitInterval = *interval
	}
	if burst != nil {
		cfg.RateLimitBurst = *burst
	}
	if cfg.RateLimitInterval > 0 && cfg.RateLimitBurst == 0 {
		return cfg, errors.New("GRPC_RATE_LIMIT_BURST is required when GRPC_RATE_LIMIT_INTERVAL is set")
	}
	return cfg, nil
}

// LoadObservability reads the metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	return ObservabilityConfig{Addr: stringOr("OBS_ADDR", ":9090")}, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func stringOr(name, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return fallback
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}

func requiredDuration(name string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}
