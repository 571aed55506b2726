package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// incrementScript はINCRと初回のPEXPIREを1つの不可分な操作として実行する。
// キーの有効期限がウィンドウの終わりに相当し、期限切れでカウンタがリセットされる。
var incrementScript = redis.NewScript(1, `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisOptions はRedis接続プールの設定。
type RedisOptions struct {
	// Addr は接続先（host:port）。
	Addr string
	// Password は認証パスワード。空なら認証しない。
	Password string
	// DB はデータベース番号。
	DB int
	// MaxIdle はアイドル接続の最大数。
	MaxIdle int
	// MaxActive は同時接続の最大数。0は無制限。
	MaxActive int
	// IdleTimeout はアイドル接続を閉じるまでの時間。
	IdleTimeout time.Duration
}

// NewRedisPool はRedisの接続プールを生成する。
func NewRedisPool(opts RedisOptions) *redis.Pool {
	return &redis.Pool{
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			c, err := redis.DialContext(ctx, "tcp", opts.Addr,
				redis.DialPassword(opts.Password),
				redis.DialDatabase(opts.DB),
			)
			if err != nil {
				return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
			}
			return c, nil
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
		MaxIdle:     opts.MaxIdle,
		MaxActive:   opts.MaxActive,
		IdleTimeout: opts.IdleTimeout,
		Wait:        true,
	}
}

// RedisStore は複数のゲートウェイインスタンスでカウンタを共有するStore。
type RedisStore struct {
	// pool はRedis接続プール。
	pool *redis.Pool
	// prefix はキーの接頭辞。
	prefix string
}

// NewRedisStore は新しいRedisStoreを生成する。
func NewRedisStore(pool *redis.Pool, prefix string) *RedisStore {
	return &RedisStore{pool: pool, prefix: prefix}
}

// Increment はStoreインターフェースを実装する。
// 加算の順序はRedisがスクリプトを直列に実行することで決まり、期限はRedisの時計で
// 管理される。ウィンドウ開始時刻はスクリプトの応答後に読んだ時刻と残りTTLから求める。
func (s *RedisStore) Increment(ctx context.Context, key string, length time.Duration, clock Clock) (int64, time.Time, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("Redis接続の取得に失敗: %w", err)
	}
	defer conn.Close()

	values, err := redis.Int64s(incrementScript.Do(conn, s.prefix+key, length.Milliseconds()))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("カウンタスクリプトの実行に失敗: %w", err)
	}
	if len(values) != 2 {
		return 0, time.Time{}, fmt.Errorf("カウンタスクリプトの応答が不正: %v", values)
	}

	ttl := time.Duration(values[1]) * time.Millisecond
	return values[0], clock().Add(ttl - length), nil
}

// Ping はRedisとの疎通を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("Redis接続の取得に失敗: %w", err)
	}
	defer conn.Close()

	reply, err := redis.String(conn.Do("PING"))
	if err != nil {
		return fmt.Errorf("PINGに失敗: %w", err)
	}
	if reply != "PONG" {
		return fmt.Errorf("PINGの応答が不正: %q", reply)
	}
	return nil
}

// Close は接続プールを閉じる。
func (s *RedisStore) Close() error {
	return s.pool.Close()
}
