package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DSN is the connection URL understood by both pgx and golang-migrate
// (with the pgx5 scheme swapped in).
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

type GatewayConfig struct {
	// Provider is one of snap, stripe, mock.
	Provider    string
	SnapBaseURL string
	APIBaseURL  string
	ServerKey   string
	StripeKey   string
	Currency    string
	SuccessURL  string
	CancelURL   string
	Timeout     time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ReconcileConfig struct {
	Backoff         []time.Duration
	FreshnessWindow time.Duration
	SweepInterval   time.Duration
	// SweepRate caps gateway status queries per second during a sweep.
	SweepRate float64
}

type LogConfig struct {
	Level  string
	Format string
}

type Config struct {
	App struct {
		Port string
		// AllowOrigins feeds CORS; empty allows every origin.
		AllowOrigins []string
	}
	// StoreDriver is postgres or memory.
	StoreDriver string
	Postgres    PostgresConfig
	Gateway     GatewayConfig
	Kafka       KafkaConfig
	Reconcile   ReconcileConfig
	Log         LogConfig
}

// Load reads an optional .env file at path, then the environment.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg := &Config{}
	cfg.App.Port = getEnv("APP_PORT", "8080")
	if origins := os.Getenv("CORS_ALLOW_ORIGINS"); origins != "" {
		cfg.App.AllowOrigins = splitList(origins)
	}
	cfg.StoreDriver = getEnv("STORE_DRIVER", "postgres")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "console")

	var err error
	var errs []error

	cfg.Postgres = PostgresConfig{
		Host:     os.Getenv("DB_HOST"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   os.Getenv("DB_NAME"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
	maxConns, err := getInt("DB_MAX_CONNS", 10)
	errs = append(errs, err)
	minConns, err := getInt("DB_MIN_CONNS", 2)
	errs = append(errs, err)
	cfg.Postgres.MaxConns = int32(maxConns)
	cfg.Postgres.MinConns = int32(minConns)
	cfg.Postgres.MaxConnLifetime, err = getDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	errs = append(errs, err)

	if cfg.StoreDriver == "postgres" {
		for key, v := range map[string]string{"DB_HOST": cfg.Postgres.Host, "DB_USER": cfg.Postgres.User, "DB_NAME": cfg.Postgres.DBName} {
			if v == "" {
				errs = append(errs, fmt.Errorf("%s is required", key))
			}
		}
	} else if cfg.StoreDriver != "memory" {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.StoreDriver))
	}

	cfg.Gateway = GatewayConfig{
		Provider:    getEnv("GATEWAY_PROVIDER", "snap"),
		SnapBaseURL: getEnv("GATEWAY_BASE_URL", "https://app.sandbox.midtrans.com"),
		APIBaseURL:  getEnv("GATEWAY_API_URL", "https://api.sandbox.midtrans.com"),
		ServerKey:   os.Getenv("GATEWAY_SERVER_KEY"),
		StripeKey:   os.Getenv("STRIPE_SECRET_KEY"),
		Currency:    getEnv("GATEWAY_CURRENCY", "idr"),
		SuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:8080/payment/finish"),
		CancelURL:   getEnv("CHECKOUT_CANCEL_URL", "http://localhost:8080/payment/cancel"),
	}
	cfg.Gateway.Timeout, err = getDuration("GATEWAY_TIMEOUT", 10*time.Second)
	errs = append(errs, err)
	switch cfg.Gateway.Provider {
	case "snap":
		if cfg.Gateway.ServerKey == "" {
			errs = append(errs, errors.New("GATEWAY_SERVER_KEY is required for the snap gateway"))
		}
	case "stripe":
		if cfg.Gateway.StripeKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required for the stripe gateway"))
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("GATEWAY_PROVIDER must be snap, stripe or mock, got %q", cfg.Gateway.Provider))
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", "canteen.orders")

	cfg.Reconcile.Backoff, err = getDurations("RECONCILE_BACKOFF", []time.Duration{time.Second, 2 * time.Second, 3 * time.Second})
	errs = append(errs, err)
	cfg.Reconcile.FreshnessWindow, err = getDuration("RECONCILE_WINDOW", 24*time.Hour)
	errs = append(errs, err)
	cfg.Reconcile.SweepInterval, err = getDuration("SWEEP_INTERVAL", 30*time.Second)
	errs = append(errs, err)
	cfg.Reconcile.SweepRate, err = getFloat("SWEEP_RATE", 5)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// getDurations parses a comma-separated list such as "1s,2s,3s".
func getDurations(key string, fallback []time.Duration) ([]time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	var out []time.Duration
	for _, part := range splitList(v) {
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: at least one duration is required", key)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
