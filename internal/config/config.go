package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Configはアプリ全体の設定（api / storefront / bot で共有）
type Config struct {
	GoEnv string // dev/prod
	Port  string // サーバーポート（8080）
	FEURL string // WebAppのURL（CORS）

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Catalog  CatalogConfig
	Session  SessionConfig
	Checkout CheckoutConfig
	Bot      BotConfig
	Log      LogConfig
	HTTP     HTTPConfig
}

type DatabaseConfig struct {
	URL string // DATABASE_URL があれば最優先

	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN はpostgres接続文字列
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	URL string // 空ならキャッシュ無し
	TTL time.Duration
}

type JWTConfig struct {
	Secret   string // 管理者トークンの署名シークレット
	AdminTTL time.Duration
}

type CatalogConfig struct {
	BaseURL    string        // api のベースURL
	TTL        time.Duration // 鮮度（60s）
	ServeStale bool          // 取得失敗時に古い一覧を返すか
	Retries    int
	Timeout    time.Duration
}

type SessionConfig struct {
	IdleTTL         time.Duration
	MaxLineQuantity int64 // 0は無制限
}

type CheckoutConfig struct {
	Placer   string // local / http
	APIURL   string
	Currency string
	Timeout  time.Duration
}

type BotConfig struct {
	Token     string
	WebAppURL string
}

type LogConfig struct {
	Level  string
	Format string
}

type HTTPConfig struct {
	RateLimit float64 // セッションごとの書き込み req/s（0で無効）
	RateBurst int
}

// Loadは .env → config.toml → 環境変数 の順に読む（後勝ち）
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return Config{}, fmt.Errorf("read config.toml: %w", err)
		}
	}

	// postgres.host → POSTGRES_HOST
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("go_env", "dev")
	v.SetDefault("port", "8080")
	v.SetDefault("fe_url", "")

	v.SetDefault("database.url", "")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.db", "app")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "60s")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.admin_ttl", "24h")

	v.SetDefault("catalog.base_url", "http://localhost:8080")
	v.SetDefault("catalog.ttl", "60s")
	v.SetDefault("catalog.serve_stale", false)
	v.SetDefault("catalog.retries", 0)
	v.SetDefault("catalog.timeout", "10s")

	v.SetDefault("session.idle_ttl", "30m")
	v.SetDefault("session.max_line_quantity", 0)

	v.SetDefault("checkout.placer", "local")
	v.SetDefault("checkout.api_url", "")
	v.SetDefault("checkout.currency", "USD")
	v.SetDefault("checkout.timeout", "10s")

	v.SetDefault("bot.token", "")
	v.SetDefault("webapp.url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")

	v.SetDefault("http.rate_limit", 5.0)
	v.SetDefault("http.rate_burst", 10)
}

func fromViper(v *viper.Viper) Config {
	return Config{
		GoEnv: v.GetString("go_env"),
		Port:  v.GetString("port"),
		FEURL: v.GetString("fe_url"),

		Database: DatabaseConfig{
			URL:      v.GetString("database.url"),
			Host:     v.GetString("postgres.host"),
			Port:     v.GetInt("postgres.port"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			Name:     v.GetString("postgres.db"),
			SSLMode:  v.GetString("postgres.sslmode"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis.url"),
			TTL: v.GetDuration("redis.ttl"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt.secret"),
			AdminTTL: v.GetDuration("jwt.admin_ttl"),
		},
		Catalog: CatalogConfig{
			BaseURL:    strings.TrimRight(v.GetString("catalog.base_url"), "/"),
			TTL:        v.GetDuration("catalog.ttl"),
			ServeStale: v.GetBool("catalog.serve_stale"),
			Retries:    v.GetInt("catalog.retries"),
			Timeout:    v.GetDuration("catalog.timeout"),
		},
		Session: SessionConfig{
			IdleTTL:         v.GetDuration("session.idle_ttl"),
			MaxLineQuantity: v.GetInt64("session.max_line_quantity"),
		},
		Checkout: CheckoutConfig{
			Placer:   strings.ToLower(v.GetString("checkout.placer")),
			APIURL:   strings.TrimRight(v.GetString("checkout.api_url"), "/"),
			Currency: strings.ToUpper(v.GetString("checkout.currency")),
			Timeout:  v.GetDuration("checkout.timeout"),
		},
		Bot: BotConfig{
			Token:     v.GetString("bot.token"),
			WebAppURL: v.GetString("webapp.url"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		HTTP: HTTPConfig{
			RateLimit: v.GetFloat64("http.rate_limit"),
			RateBurst: v.GetInt("http.rate_burst"),
		},
	}
}

// Addr は ":8080" 形式
func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func (c Config) IsProd() bool {
	return c.GoEnv == "prod" || c.GoEnv == "production"
}

// api の必須チェック
func (c Config) ValidateAPI() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("DATABASE_URL or POSTGRES_HOST is required")
	}
	return nil
}

// storefront の必須チェック
func (c Config) ValidateStorefront() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if err := requireURL("CATALOG_BASE_URL", c.Catalog.BaseURL); err != nil {
		return err
	}
	if c.Catalog.TTL <= 0 {
		return fmt.Errorf("CATALOG_TTL must be positive")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive")
	}
	if c.Session.MaxLineQuantity < 0 {
		return fmt.Errorf("SESSION_MAX_LINE_QUANTITY must not be negative")
	}
	switch c.Checkout.Placer {
	case "local":
	case "http":
		if err := requireURL("CHECKOUT_API_URL", c.Checkout.APIURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("CHECKOUT_PLACER must be local or http: %q", c.Checkout.Placer)
	}
	return nil
}

// bot の必須チェック
func (c Config) ValidateBot() error {
	if c.Bot.Token == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	return requireURL("WEBAPP_URL", c.Bot.WebAppURL)
}

func requireURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be absolute url: %q", key, raw)
	}
	return nil
}
