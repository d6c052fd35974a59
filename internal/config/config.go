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

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Weather provider.
	Location          string
	WeatherAPIURL     string
	WeatherAPIKeyName string
	WeatherAPITimeout time.Duration

	// Local and object storage staging.
	StagingDir string
	S3Bucket   string
	S3Prefix   string
	S3Region   string
	S3Endpoint string

	// Warehouse.
	SnowflakeDSN   string
	SnowflakeTable string
	SnowflakeStage string

	// Run ledger and secrets.
	LedgerDSN     string
	SecretBackend string

	// Retry policy per stage; defaults come from RETRY_* and may be
	// overridden per stage by the PIPELINE_CONFIG file.
	Retry map[string]RetryPolicy

	ScheduleAt          string
	BackfillConcurrency int

	// Run status events; disabled when KafkaBrokers is empty.
	KafkaBrokers     []string
	KafkaStatusTopic string
}

// RetryPolicy bounds how often a stage is attempted and how long to wait between attempts.
type RetryPolicy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// Stage names used as keys in Config.Retry.
const (
	StageExtracting = "extracting"
	StageStaging    = "staging"
	StageLoading    = "loading"
)

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first if present; variables
// already set in the environment take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	apiTimeout, err := parsePositiveDuration("WEATHER_API_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	defaultPolicy, err := parseRetryPolicy()
	if err != nil {
		return nil, err
	}
	retry := map[string]RetryPolicy{
		StageExtracting: defaultPolicy,
		StageStaging:    defaultPolicy,
		StageLoading:    defaultPolicy,
	}
	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		if err := applyPipelineFile(path, retry); err != nil {
			return nil, err
		}
	}

	concurrency, err := parsePositiveInt("BACKFILL_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Location:          envOrDefault("WEATHER_LOCATION", "London"),
		WeatherAPIURL:     envOrDefault("WEATHER_API_URL", "https://api.openweathermap.org/data/2.5/weather"),
		WeatherAPIKeyName: envOrDefault("WEATHER_API_KEY_NAME", "openweather_api_key"),
		WeatherAPITimeout: apiTimeout,

		StagingDir: envOrDefault("STAGING_DIR", "/tmp/weather-etl"),
		S3Bucket:   envOrDefault("S3_BUCKET", "airflow-snowflake-etl-data"),
		S3Prefix:   strings.Trim(envOrDefault("S3_PREFIX", "weather_data"), "/"),
		S3Region:   envOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint: os.Getenv("S3_ENDPOINT"),

		SnowflakeDSN:   os.Getenv("SNOWFLAKE_DSN"),
		SnowflakeTable: envOrDefault("SNOWFLAKE_TABLE", "airflow_etl_db.weather_data.weather_log"),
		SnowflakeStage: envOrDefault("SNOWFLAKE_STAGE", "airflow_etl_db.weather_data.weather_s3_stage"),

		LedgerDSN:     os.Getenv("LEDGER_DSN"),
		SecretBackend: envOrDefault("SECRET_BACKEND", "env"),

		Retry: retry,

		ScheduleAt:          envOrDefault("SCHEDULE_AT", "00:30"),
		BackfillConcurrency: concurrency,

		KafkaBrokers:     parseList(os.Getenv("KAFKA_BROKERS")),
		KafkaStatusTopic: envOrDefault("KAFKA_STATUS_TOPIC", "weather-etl-runs"),
	}

	if cfg.Location == "" {
		return nil, errors.New("WEATHER_LOCATION is required")
	}
	if cfg.S3Bucket == "" {
		return nil, errors.New("S3_BUCKET is required")
	}
	if _, err := time.Parse("15:04", cfg.ScheduleAt); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_AT: %w", err)
	}
	switch cfg.SecretBackend {
	case "env":
	case "postgres":
		if cfg.LedgerDSN == "" {
			return nil, errors.New("SECRET_BACKEND=postgres requires LEDGER_DSN")
		}
	default:
		return nil, fmt.Errorf("invalid SECRET_BACKEND %q", cfg.SecretBackend)
	}

	return cfg, nil
}

func parseRetryPolicy() (RetryPolicy, error) {
	attempts, err := parsePositiveInt("RETRY_MAX_ATTEMPTS", 2)
	if err != nil {
		return RetryPolicy{}, err
	}
	delay, err := parseDuration("RETRY_DELAY", "5m")
	if err != nil {
		return RetryPolicy{}, err
	}
	maxDelay, err := parseDuration("RETRY_MAX_DELAY", "30m")
	if err != nil {
		return RetryPolicy{}, err
	}
	multiplier, err := strconv.ParseFloat(envOrDefault("RETRY_MULTIPLIER", "2"), 64)
	if err != nil || multiplier < 1 {
		return RetryPolicy{}, fmt.Errorf("invalid RETRY_MULTIPLIER: must be a number >= 1")
	}
	return RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
	}, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := parseDuration(key, def)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
