package initializers

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App struct {
		Name        string   `koanf:"name"`
		HTTPAddr    string   `koanf:"http_addr"`
		LogLevel    string   `koanf:"log_level"`
		LogFile     string   `koanf:"log_file"`
		CorsOrigins []string `koanf:"cors_origins"`
	} `koanf:"app"`

	MySQL struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"mysql"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"idempotency"`

	RabbitMQ struct {
		URL      string `koanf:"url"`
		Exchange string `koanf:"exchange"`
		Queue    string `koanf:"queue"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Brokers     string `koanf:"brokers"`
		TopicEvents string `koanf:"topic_events"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret     string `koanf:"jwt_secret"`
		CardCipherKey string `koanf:"card_cipher_key"`
	} `koanf:"security"`

	Payments struct {
		Currency string        `koanf:"currency"`
		Timeout  time.Duration `koanf:"timeout"`
	} `koanf:"payments"`

	Flutterwave struct {
		BaseURL     string `koanf:"base_url"`
		SecretKey   string `koanf:"secret_key"`
		WebhookHash string `koanf:"webhook_hash"`
		RedirectURL string `koanf:"redirect_url"`
	} `koanf:"flutterwave"`

	Paypack struct {
		BaseURL       string `koanf:"base_url"`
		ClientID      string `koanf:"client_id"`
		ClientSecret  string `koanf:"client_secret"`
		WebhookSecret string `koanf:"webhook_secret"`
	} `koanf:"paypack"`

	SMS struct {
		BaseURL string `koanf:"base_url"`
		Token   string `koanf:"token"`
		Sender  string `koanf:"sender"`
	} `koanf:"sms"`

	SMTP struct {
		Address  string `koanf:"address"`
		Host     string `koanf:"host"`
		From     string `koanf:"from"`
		Password string `koanf:"password"`
	} `koanf:"smtp"`

	Archive struct {
		Bucket string `koanf:"bucket"`
	} `koanf:"archive"`

	Subscriptions struct {
		SweepInterval time.Duration `koanf:"sweep_interval"`
	} `koanf:"subscriptions"`
}

var Cfg Config

func defaults() map[string]any {
	return map[string]any{
		"app.name":                     "food-bundles-api",
		"app.http_addr":                ":8080",
		"app.log_level":                "info",
		"app.log_file":                 "./logs/app.log",
		"app.cors_origins":             []string{"http://localhost:3000"},
		"mysql.max_open_conns":         16,
		"mysql.max_idle_conns":         16,
		"mysql.conn_max_lifetime":      "30m",
		"idempotency.ttl":              "24h",
		"rabbitmq.exchange":            "notifications",
		"rabbitmq.queue":               "notifications.q",
		"kafka.topic_events":           "marketplace.events",
		"payments.currency":            "RWF",
		"payments.timeout":             "30s",
		"flutterwave.base_url":         "https://api.flutterwave.com/v3",
		"paypack.base_url":             "https://payments.paypack.rw/api",
		"sms.base_url":                 "https://api.pindo.io/v1",
		"sms.sender":                   "FoodBundle",
		"subscriptions.sweep_interval": "1h",
	}
}

// LoadConfig layers defaults, an optional yaml file and FB_ prefixed
// environment variables (nested keys separated by "__", e.g. FB_MYSQL__DSN).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		_ = k.Set(key, val)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("FB_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "FB_")
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	Cfg = cfg
	return cfg, nil
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn required")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required")
	}
	if c.Payments.Timeout <= 0 {
		return fmt.Errorf("payments.timeout must be positive")
	}
	return nil
}
