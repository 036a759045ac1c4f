package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sentiflow/models"
)

// writeTempConfig writes content to a temporary config file and returns its
// path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_ENV", "TG_GATEWAY_URL", "TG_API_TOKEN", "TELEGRAM_CHANNELS",
		"TELEGRAM_GROUPS", "X_BEARER_TOKEN", "BINANCE_SYMBOL", "S3_BUCKET", "KAFKA_BROKERS",
	} {
		t.Setenv(k, "")
	}
}

const minimalConfig = `app:
  name: "TestApp"
  version: "1.0"
telegram:
  gateway_url: "http://localhost:8081"
  channels: ["@btc_news", -1001234567890]
  groups: "@traders, @traders"
  origin_pause: 2s
pipeline:
  days_back: 3
storage:
  output_path: "out/daily.parquet"
`

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.Pipeline.DaysBack != 3 {
		t.Errorf("unexpected days_back: %d", cfg.Pipeline.DaysBack)
	}
	if cfg.Telegram.OriginPause != 2*time.Second {
		t.Errorf("unexpected origin_pause: %v", cfg.Telegram.OriginPause)
	}
	// untouched keys keep their defaults
	if cfg.Sentiment.LowThreshold != 45 || cfg.Sentiment.HighThreshold != 55 {
		t.Errorf("unexpected thresholds: %+v", cfg.Sentiment)
	}
	if cfg.Binance.Symbol != "BTCUSDT" {
		t.Errorf("unexpected symbol: %s", cfg.Binance.Symbol)
	}

	origins := cfg.Telegram.Origins()
	if len(origins) != 3 {
		t.Fatalf("expected 3 origins, got %v", origins)
	}
	if origins[0] != models.NamedOrigin("@traders") {
		t.Errorf("groups should come first, got %v", origins[0])
	}
	if origins[2] != models.NumericOrigin(-1001234567890) {
		t.Errorf("numeric channel not parsed: %v", origins[2])
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_CHANNELS", "@a,@b")
	t.Setenv("TELEGRAM_GROUPS", "NONE")
	t.Setenv("BINANCE_SYMBOL", " ethusdt ")
	t.Setenv("TG_API_TOKEN", "secret")
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Telegram.Channels) != 2 || cfg.Telegram.Channels[1].Name != "@b" {
		t.Errorf("channels not overridden: %v", cfg.Telegram.Channels)
	}
	if len(cfg.Telegram.Groups) != 0 {
		t.Errorf("groups should be cleared, got %v", cfg.Telegram.Groups)
	}
	if cfg.Binance.Symbol != "ETHUSDT" {
		t.Errorf("symbol not normalized: %q", cfg.Binance.Symbol)
	}
	if cfg.Telegram.APIToken != "secret" {
		t.Errorf("api token not applied")
	}
	if len(cfg.Storage.Kafka.Brokers) != 0 {
		t.Errorf("unexpected brokers: %v", cfg.Storage.Kafka.Brokers)
	}
}

func TestLoadConfigKafkaBrokersEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Storage.Kafka.Brokers) != 2 || cfg.Storage.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers not parsed: %v", cfg.Storage.Kafka.Brokers)
	}
	if cfg.Storage.Kafka.Topic != "btc.daily_sentiment" {
		t.Errorf("unexpected topic: %s", cfg.Storage.Kafka.Topic)
	}
}

func TestLoadConfigRejectsBadOriginEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_CHANNELS", `["@a", true]`)
	path := writeTempConfig(t, minimalConfig)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for non string origin")
	}
}

func TestValidateConfig(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted thresholds", func(c *Config) { c.Sentiment.LowThreshold = 60 }},
		{"zero days", func(c *Config) { c.Pipeline.DaysBack = 0 }},
		{"missing gateway", func(c *Config) { c.Telegram.GatewayURL = "" }},
		{"twitter without token", func(c *Config) { c.Twitter.Enabled = true }},
		{"page limit too large", func(c *Config) { c.Binance.PageLimit = 1500 }},
		{"s3 without bucket", func(c *Config) { c.Storage.S3.Enabled = true; c.Storage.S3.Region = "eu-west-1" }},
		{"kafka without brokers", func(c *Config) { c.Storage.Kafka.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Telegram.GatewayURL = "http://gw"
			tc.mutate(&cfg)
			if err := validateConfig(&cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	cfg := Default()
	cfg.Telegram.GatewayURL = "http://gw"
	if err := validateConfig(&cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestProductionRequiresS3(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "prod")

	cfg := Default()
	cfg.Telegram.GatewayURL = "http://gw"
	if err := validateConfig(&cfg); err == nil {
		t.Fatalf("expected error when S3 is disabled in production")
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yml")
	staging := filepath.Join(dir, "config.staging.yml")
	if err := os.WriteFile(staging, []byte("app: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("APP_ENV", "stagging")
	if got := ResolvePath(base); got != staging {
		t.Errorf("ResolvePath = %s, want %s", got, staging)
	}

	t.Setenv("APP_ENV", "development")
	if got := ResolvePath(base); got != base {
		t.Errorf("ResolvePath = %s, want %s", got, base)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
