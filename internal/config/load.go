package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvConfigFile は設定ファイルのパスを指定する環境変数。
const EnvConfigFile = "CONFIG_FILE"

// DevSecret は開発用の既定のJWT共有鍵。本番環境では使用できない。
const DevSecret = "dev-secret-change"

// setDefaults は既定値を設定する。
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("jwt.secret", DevSecret)
	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("jwt.expires_seconds", 86400)

	v.SetDefault("cors_origins", []string{"*"})

	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.proxy_timeout", "30s")
	v.SetDefault("gateway.users_url", "http://localhost:8081")
	v.SetDefault("gateway.orders_url", "http://localhost:8082")
	v.SetDefault("gateway.trusted_proxies", []string{})
	v.SetDefault("gateway.rate_limit.store", "memory")
	v.SetDefault("gateway.rate_limit.janitor_interval", "1m")
	v.SetDefault("gateway.limits.auth.max_requests", 60)
	v.SetDefault("gateway.limits.auth.window_seconds", 60)
	v.SetDefault("gateway.limits.users.max_requests", 120)
	v.SetDefault("gateway.limits.users.window_seconds", 60)
	v.SetDefault("gateway.limits.orders.max_requests", 120)
	v.SetDefault("gateway.limits.orders.window_seconds", 60)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_idle", 8)
	v.SetDefault("redis.max_active", 64)
	v.SetDefault("redis.idle_timeout", "5m")
	v.SetDefault("redis.key_prefix", "ratelimit:v1:")

	v.SetDefault("users.port", 8081)
	v.SetDefault("users.database_path", "users.db")
	v.SetDefault("orders.port", 8082)
	v.SetDefault("orders.database_path", "orders.db")
}

// Load は設定を読み込んで検証する。
// pathが空の場合は環境変数CONFIG_FILEを参照し、それも空ならファイルを読まない。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	cfg.Gateway.TrustedProxies = trimAll(cfg.Gateway.TrustedProxies)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("設定値が不正です: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("設定値の検証に失敗: %w", err)
	}
	if c.IsProduction() && c.JWT.Secret == DevSecret {
		return errors.New("本番環境では開発用のJWT共有鍵を使用できません")
	}
	if c.Gateway.RateLimit.Store == "redis" && c.Redis.Addr == "" {
		return errors.New("redisストアにはredis.addrが必要です")
	}
	return nil
}

// trimAll は各要素の前後の空白を除去し、空要素を取り除く。
func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
