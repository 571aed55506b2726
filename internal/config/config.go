package config

import (
	"strings"
	"time"

	"github.com/Dan203302/control-system-backend/pkg/logger"
	"github.com/Dan203302/control-system-backend/pkg/ratelimit"
)

// Config はアプリケーション全体の設定。
type Config struct {
	// Environment は実行環境名（development, production など）。
	Environment string `mapstructure:"environment" validate:"required"`
	// Log はロガーの設定。
	Log logger.Config `mapstructure:"log"`
	// JWT はトークン発行・検証の設定。
	JWT JWTConfig `mapstructure:"jwt"`
	// CORSOrigins は許可するオリジン。"*" ですべてを許可する。
	CORSOrigins []string `mapstructure:"cors_origins"`
	// Gateway はgatewayサービスの設定。
	Gateway GatewayConfig `mapstructure:"gateway"`
	// Redis はレート制限カウンタを共有するRedisの設定。
	Redis RedisConfig `mapstructure:"redis"`
	// Users はusersサービスの設定。
	Users ServiceConfig `mapstructure:"users"`
	// Orders はordersサービスの設定。
	Orders ServiceConfig `mapstructure:"orders"`
}

// JWTConfig はトークンの設定。
type JWTConfig struct {
	// Secret は署名用の共有鍵。
	Secret string `mapstructure:"secret" validate:"required"`
	// Algorithm は署名アルゴリズム（HS256, HS384, HS512）。
	Algorithm string `mapstructure:"algorithm" validate:"required,oneof=HS256 HS384 HS512"`
	// ExpiresSeconds はトークンの有効期間（秒）。
	ExpiresSeconds int `mapstructure:"expires_seconds" validate:"gt=0"`
}

// TTL はトークンの有効期間を返す。
func (j JWTConfig) TTL() time.Duration {
	return time.Duration(j.ExpiresSeconds) * time.Second
}

// GatewayConfig はgatewayサービスの設定。
type GatewayConfig struct {
	// Port はリッスンポート。
	Port int `mapstructure:"port" validate:"gt=0,lt=65536"`
	// ProxyTimeout はバックエンドへの転送1件あたりのタイムアウト。
	ProxyTimeout time.Duration `mapstructure:"proxy_timeout" validate:"gt=0"`
	// UsersURL はusersサービスのベースURL。
	UsersURL string `mapstructure:"users_url" validate:"required,url"`
	// OrdersURL はordersサービスのベースURL。
	OrdersURL string `mapstructure:"orders_url" validate:"required,url"`
	// TrustedProxies はクライアントIPの判定で信頼するプロキシ。
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	// RateLimit はレート制限ストアの設定。
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// Limits はルートごとの上限。
	Limits LimitsConfig `mapstructure:"limits"`
}

// RateLimitConfig はレート制限ストアの設定。
type RateLimitConfig struct {
	// Store はカウンタの保存先（memory, redis）。
	Store string `mapstructure:"store" validate:"oneof=memory redis"`
	// JanitorInterval はメモリストアの期限切れウィンドウを掃除する間隔。
	JanitorInterval time.Duration `mapstructure:"janitor_interval" validate:"gt=0"`
}

// LimitsConfig はルートごとの上限。
type LimitsConfig struct {
	Auth   LimitConfig `mapstructure:"auth"`
	Users  LimitConfig `mapstructure:"users"`
	Orders LimitConfig `mapstructure:"orders"`
}

// LimitConfig は1ルートの上限。MaxRequestsが0なら制限しない。
type LimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests" validate:"gte=0"`
	WindowSeconds int `mapstructure:"window_seconds" validate:"gt=0"`
}

// Rule はレート制限のルールに変換する。
func (l LimitConfig) Rule() ratelimit.Rule {
	return ratelimit.Rule{
		MaxRequests: l.MaxRequests,
		Window:      time.Duration(l.WindowSeconds) * time.Second,
	}
}

// RedisConfig はRedisの接続設定。
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db" validate:"gte=0"`
	MaxIdle     int           `mapstructure:"max_idle" validate:"gte=0"`
	MaxActive   int           `mapstructure:"max_active" validate:"gte=0"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	// KeyPrefix はすべてのキーに付与する接頭辞。
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RedisOptions はratelimitパッケージの接続オプションに変換する。
func (r RedisConfig) RedisOptions() ratelimit.RedisOptions {
	return ratelimit.RedisOptions{
		Addr:        r.Addr,
		Password:    r.Password,
		DB:          r.DB,
		MaxIdle:     r.MaxIdle,
		MaxActive:   r.MaxActive,
		IdleTimeout: r.IdleTimeout,
	}
}

// ServiceConfig はバックエンドサービスの設定。
type ServiceConfig struct {
	// Port はリッスンポート。
	Port int `mapstructure:"port" validate:"gt=0,lt=65536"`
	// DatabasePath はSQLiteデータベースのパス（DSN）。
	DatabasePath string `mapstructure:"database_path" validate:"required"`
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
