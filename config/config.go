package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Twitter   TwitterConfig   `yaml:"twitter"`
	Binance   BinanceConfig   `yaml:"binance"`
	Sentiment SentimentConfig `yaml:"sentiment"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Storage   StorageConfig   `yaml:"storage"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Region     string `yaml:"region"`
	Namespace  string `yaml:"namespace"`
	Dashboard  string `yaml:"dashboard"`
}

// RetryConfig bounds the rate-limit handling of one origin's fetch.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Margin      time.Duration `yaml:"margin"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

type TelegramConfig struct {
	Enabled            bool          `yaml:"enabled"`
	GatewayURL         string        `yaml:"gateway_url"`
	APIToken           string        `yaml:"api_token"`
	Channels           OriginList    `yaml:"channels"`
	Groups             OriginList    `yaml:"groups"`
	PageSize           int           `yaml:"page_size"`
	MessagesPerChannel int           `yaml:"messages_per_channel"`
	OriginPause        time.Duration `yaml:"origin_pause"`
	Timeout            time.Duration `yaml:"timeout"`
	Retry              RetryConfig   `yaml:"retry"`
}

// Origins returns groups followed by channels with duplicates removed.
func (t TelegramConfig) Origins() OriginList {
	all := make(OriginList, 0, len(t.Groups)+len(t.Channels))
	all = append(all, t.Groups...)
	all = append(all, t.Channels...)
	return all.dedup()
}

type TwitterConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	BearerToken  string        `yaml:"bearer_token"`
	Query        string        `yaml:"query"`
	PageSize     int           `yaml:"page_size"`
	TweetsPerDay int           `yaml:"tweets_per_day"`
	Timeout      time.Duration `yaml:"timeout"`
	Retry        RetryConfig   `yaml:"retry"`
}

type BinanceConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Symbol      string        `yaml:"symbol"`
	PageLimit   int           `yaml:"page_limit"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxAttempts int           `yaml:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout"`
}

type SentimentConfig struct {
	LowThreshold  float64 `yaml:"low_threshold"`
	HighThreshold float64 `yaml:"high_threshold"`
	NeutralFill   float64 `yaml:"neutral_fill"`
	NoDataLabel   string  `yaml:"no_data_label"`
	DefaultSource string  `yaml:"default_source"`
}

type PipelineConfig struct {
	DaysBack      int           `yaml:"days_back"`
	PriceDaysBack int           `yaml:"price_days_back"`
	IncludeToday  bool          `yaml:"include_today"`
	Timeout       time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	OutputPath      string      `yaml:"output_path"`
	PriceOutputPath string      `yaml:"price_output_path"`
	Compression     string      `yaml:"compression"`
	S3              S3Config    `yaml:"s3"`
	Kafka           KafkaConfig `yaml:"kafka"`
}

// KafkaConfig controls publishing of the daily series to a topic.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	retry := RetryConfig{MaxAttempts: 5, Margin: time.Second, MaxWait: 300 * time.Second}
	return Config{
		App:     AppConfig{Name: "sentiflow", Version: "dev"},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{Namespace: "Sentiflow", Dashboard: "Sentiflow"},
		Telegram: TelegramConfig{
			Enabled:            true,
			PageSize:           200,
			MessagesPerChannel: 200,
			OriginPause:        time.Second,
			Timeout:            30 * time.Second,
			Retry:              retry,
		},
		Twitter: TwitterConfig{
			BaseURL:      "https://api.twitter.com",
			Query:        "(bitcoin OR BTC) lang:en -is:retweet",
			PageSize:     100,
			TweetsPerDay: 50,
			Timeout:      30 * time.Second,
			Retry:        RetryConfig{MaxAttempts: 3, Margin: time.Second, MaxWait: 900 * time.Second},
		},
		Binance: BinanceConfig{
			BaseURL:     "https://api.binance.com",
			Symbol:      "BTCUSDT",
			PageLimit:   1000,
			Backoff:     1200 * time.Millisecond,
			MaxAttempts: 5,
			Timeout:     15 * time.Second,
		},
		Sentiment: SentimentConfig{
			LowThreshold:  45,
			HighThreshold: 55,
			NeutralFill:   50,
			NoDataLabel:   "no_data",
			DefaultSource: "telegram",
		},
		Pipeline: PipelineConfig{DaysBack: 1, PriceDaysBack: 60, IncludeToday: true, Timeout: 30 * time.Minute},
		Storage: StorageConfig{
			OutputPath:      "data/processed/daily_sentiment.parquet",
			PriceOutputPath: "data/processed/daily_sentiment_with_price.parquet",
			Compression:     "snappy",
			Kafka:           KafkaConfig{Topic: "btc.daily_sentiment"},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnv overrides secrets and origin lists from the environment.
func applyEnv(config *Config) error {
	if v := os.Getenv("TG_GATEWAY_URL"); v != "" {
		config.Telegram.GatewayURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("TG_API_TOKEN"); v != "" {
		config.Telegram.APIToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_CHANNELS"); v != "" {
		origins, err := ParseOrigins(v)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHANNELS: %w", err)
		}
		config.Telegram.Channels = origins
	}
	if v := os.Getenv("TELEGRAM_GROUPS"); v != "" {
		origins, err := ParseOrigins(v)
		if err != nil {
			return fmt.Errorf("TELEGRAM_GROUPS: %w", err)
		}
		config.Telegram.Groups = origins
	}
	if v := os.Getenv("X_BEARER_TOKEN"); v != "" {
		config.Twitter.BearerToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_SYMBOL"); v != "" {
		config.Binance.Symbol = v
	}
	config.Binance.Symbol = strings.ToUpper(strings.TrimSpace(config.Binance.Symbol))
	if config.Binance.Symbol == "" {
		config.Binance.Symbol = "BTCUSDT"
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		config.Storage.Kafka.Brokers = brokers
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	s := cfg.Sentiment
	if s.LowThreshold < 0 || s.HighThreshold > 100 || s.LowThreshold > s.HighThreshold {
		return fmt.Errorf("sentiment thresholds must satisfy 0 <= low_threshold <= high_threshold <= 100")
	}
	if s.NeutralFill < 0 || s.NeutralFill > 100 {
		return fmt.Errorf("sentiment.neutral_fill must be within [0, 100]")
	}
	if s.NoDataLabel == "" {
		return fmt.Errorf("sentiment.no_data_label is required")
	}

	if cfg.Telegram.Enabled {
		if cfg.Telegram.GatewayURL == "" {
			return fmt.Errorf("telegram.gateway_url is required when telegram is enabled")
		}
		if cfg.Telegram.PageSize <= 0 {
			return fmt.Errorf("telegram.page_size must be greater than 0")
		}
		if cfg.Telegram.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("telegram.retry.max_attempts must be greater than 0")
		}
	}

	if cfg.Twitter.Enabled {
		if cfg.Twitter.BearerToken == "" {
			return fmt.Errorf("twitter.bearer_token (or X_BEARER_TOKEN) is required when twitter is enabled")
		}
		if cfg.Twitter.PageSize < 10 || cfg.Twitter.PageSize > 100 {
			return fmt.Errorf("twitter.page_size must be within [10, 100]")
		}
	}

	if cfg.Binance.PageLimit <= 0 || cfg.Binance.PageLimit > 1000 {
		return fmt.Errorf("binance.page_limit must be within [1, 1000]")
	}

	if cfg.Pipeline.DaysBack < 1 {
		return fmt.Errorf("pipeline.days_back must be at least 1")
	}

	if cfg.Storage.OutputPath == "" {
		return fmt.Errorf("storage.output_path is required")
	}

	if IsProductionLike(getAppEnvironment()) && !cfg.Storage.S3.Enabled {
		return fmt.Errorf("storage.s3 must be enabled in %s", getAppEnvironment())
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
