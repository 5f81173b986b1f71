// README: Config loader; defaults, optional YAML file, then DROPOFF_* env overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dropoff/internal/modules/incentive"
	"dropoff/internal/modules/matching"
	"dropoff/internal/modules/order"
	"dropoff/internal/modules/pricing"
	"dropoff/internal/types"
)

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DBConfig leaves DSN empty to run on in-memory stores.
type DBConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	// Channel prefix for the pub/sub notification sink.
	ChannelPrefix string `yaml:"channelPrefix"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type FirebaseConfig struct {
	ProjectID       string `yaml:"projectId"`
	CredentialsFile string `yaml:"credentialsFile"`
	// Push enables the FCM topic sink.
	Push bool `yaml:"push"`
	// DatabaseURL enables the Realtime Database mirror under LiveRoot.
	DatabaseURL string `yaml:"databaseUrl"`
	LiveRoot    string `yaml:"liveRoot"`
}

type MapsConfig struct {
	APIKey          string  `yaml:"apiKey"`
	Region          string  `yaml:"region"`
	AverageSpeedKmh float64 `yaml:"averageSpeedKmh"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type CleanupConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	MaxAge      time.Duration `yaml:"maxAge"`
	Concurrency int           `yaml:"concurrency"`
	BatchSize   int           `yaml:"batchSize"`
	LockKey     string        `yaml:"lockKey"`
	LockTTL     time.Duration `yaml:"lockTTL"`
}

func (c CleanupConfig) SweepConfig() order.SweepConfig {
	return order.SweepConfig{
		Interval:    c.Interval,
		MaxAge:      c.MaxAge,
		Concurrency: c.Concurrency,
		BatchSize:   c.BatchSize,
		LockKey:     c.LockKey,
		LockTTL:     c.LockTTL,
	}
}

type NotifyConfig struct {
	QueueSize int `yaml:"queueSize"`
	// AllowedOrigins lists browser origins allowed to open /ws besides
	// the API's own host. "*" allows any.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// AuthConfig turns on Firebase ID token checks for /api routes.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	HTTP       HTTPConfig      `yaml:"http"`
	DB         DBConfig        `yaml:"db"`
	Redis      RedisConfig     `yaml:"redis"`
	Kafka      KafkaConfig     `yaml:"kafka"`
	AMQP       AMQPConfig      `yaml:"amqp"`
	Firebase   FirebaseConfig  `yaml:"firebase"`
	Maps       MapsConfig      `yaml:"maps"`
	Log        LogConfig       `yaml:"log"`
	Fees       pricing.Config  `yaml:"fees"`
	Incentives incentive.Rules `yaml:"incentives"`
	Cleanup    CleanupConfig   `yaml:"cleanup"`
	// Hub is the errand pickup point.
	Hub      types.Point     `yaml:"hub"`
	Notify   NotifyConfig    `yaml:"notify"`
	Matching matching.Config `yaml:"matching"`
	Auth     AuthConfig      `yaml:"auth"`
}

// Accra central hub.
var DefaultHub = types.Point{Lat: 5.6037, Lng: -0.1870}

func Default() Config {
	sweep := order.DefaultSweepConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		DB:         DBConfig{MaxConns: 20},
		Redis:      RedisConfig{ChannelPrefix: "dropoff:"},
		Kafka:      KafkaConfig{Topic: "dropoff.order-events"},
		AMQP:       AMQPConfig{Exchange: "dropoff.events"},
		Firebase:   FirebaseConfig{LiveRoot: "live"},
		Maps:       MapsConfig{AverageSpeedKmh: 30},
		Log:        LogConfig{Level: "info"},
		Fees:       pricing.DefaultConfig(),
		Incentives: incentive.DefaultRules(),
		Cleanup: CleanupConfig{
			Enabled:     true,
			Interval:    sweep.Interval,
			MaxAge:      sweep.MaxAge,
			Concurrency: sweep.Concurrency,
			BatchSize:   sweep.BatchSize,
			LockKey:     sweep.LockKey,
			LockTTL:     sweep.LockTTL,
		},
		Hub:      DefaultHub,
		Notify:   NotifyConfig{QueueSize: 1024},
		Matching: matching.DefaultConfig(),
	}
}

// Load builds the config from defaults, the YAML file at path (skipped
// when empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTP.Addr = envOrDefault("DROPOFF_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.DB.DSN = envOrDefault("DROPOFF_DB_DSN", cfg.DB.DSN)
	cfg.Redis.Addr = envOrDefault("DROPOFF_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envOrDefault("DROPOFF_REDIS_PASSWORD", cfg.Redis.Password)
	if v := os.Getenv("DROPOFF_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.Topic = envOrDefault("DROPOFF_KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.AMQP.URL = envOrDefault("DROPOFF_AMQP_URL", cfg.AMQP.URL)
	cfg.Firebase.ProjectID = envOrDefault("DROPOFF_FIREBASE_PROJECT_ID", cfg.Firebase.ProjectID)
	cfg.Firebase.CredentialsFile = envOrDefault("DROPOFF_FIREBASE_CREDENTIALS", cfg.Firebase.CredentialsFile)
	cfg.Firebase.Push = envOrDefaultBool("DROPOFF_FIREBASE_PUSH", cfg.Firebase.Push)
	cfg.Firebase.DatabaseURL = envOrDefault("DROPOFF_FIREBASE_DATABASE_URL", cfg.Firebase.DatabaseURL)
	cfg.Maps.APIKey = envOrDefault("DROPOFF_MAPS_API_KEY", cfg.Maps.APIKey)
	cfg.Log.Level = envOrDefault("DROPOFF_LOG_LEVEL", cfg.Log.Level)
	cfg.Cleanup.Enabled = envOrDefaultBool("DROPOFF_CLEANUP_ENABLED", cfg.Cleanup.Enabled)
	cfg.Cleanup.Interval = envOrDefaultDuration("DROPOFF_CLEANUP_INTERVAL", cfg.Cleanup.Interval)
	cfg.Cleanup.MaxAge = envOrDefaultDuration("DROPOFF_CLEANUP_MAX_AGE", cfg.Cleanup.MaxAge)
	cfg.Cleanup.Concurrency = envOrDefaultInt("DROPOFF_CLEANUP_CONCURRENCY", cfg.Cleanup.Concurrency)
	cfg.Hub.Lat = envOrDefaultFloat("DROPOFF_HUB_LAT", cfg.Hub.Lat)
	cfg.Hub.Lng = envOrDefaultFloat("DROPOFF_HUB_LNG", cfg.Hub.Lng)
	if v := os.Getenv("DROPOFF_WS_ALLOWED_ORIGINS"); v != "" {
		cfg.Notify.AllowedOrigins = splitList(v)
	}
	cfg.Matching.RadiusKm = envOrDefaultFloat("DROPOFF_MATCH_RADIUS_KM", cfg.Matching.RadiusKm)
	cfg.Auth.Enabled = envOrDefaultBool("DROPOFF_AUTH_ENABLED", cfg.Auth.Enabled)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if err := c.Fees.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fees: %w", err))
	}
	if err := c.Incentives.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("incentives: %w", err))
	}
	if c.Cleanup.Interval <= 0 {
		errs = append(errs, errors.New("cleanup.interval must be positive"))
	}
	if c.Cleanup.MaxAge <= 0 {
		errs = append(errs, errors.New("cleanup.maxAge must be positive"))
	}
	if c.Cleanup.Concurrency <= 0 {
		errs = append(errs, errors.New("cleanup.concurrency must be positive"))
	}
	if c.Hub.Lat < -90 || c.Hub.Lat > 90 || c.Hub.Lng < -180 || c.Hub.Lng > 180 {
		errs = append(errs, fmt.Errorf("hub %s is outside valid coordinates", c.Hub))
	}
	if c.Matching.RadiusKm <= 0 || c.Matching.ErrandRadiusKm <= 0 {
		errs = append(errs, errors.New("matching radii must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		errs = append(errs, errors.New("amqp.exchange is required when url is set"))
	}
	if (c.Auth.Enabled || c.Firebase.Push || c.Firebase.DatabaseURL != "") && c.Firebase.ProjectID == "" {
		errs = append(errs, errors.New("firebase.projectId is required for auth, push or databaseUrl"))
	}
	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
