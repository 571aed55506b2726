package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Rule はルートごとのリクエスト数制限。
type Rule struct {
	// MaxRequests はウィンドウ内で許可するリクエスト数。
	MaxRequests int
	// Window はウィンドウの長さ。
	Window time.Duration
}

// Enabled は制限が有効かどうかを返す。
func (r Rule) Enabled() bool {
	return r.MaxRequests > 0 && r.Window > 0
}

// Result は1リクエスト分の判定結果。
type Result struct {
	// Allowed はリクエストを許可するかどうか。
	Allowed bool
	// Limit はウィンドウ内の上限。
	Limit int
	// Count は現在のウィンドウでのリクエスト数（このリクエストを含む）。
	Count int64
	// Remaining は現在のウィンドウで残っているリクエスト数。
	Remaining int
	// ResetAt は現在のウィンドウが終わる時刻。
	ResetAt time.Time
}

// RetryAfter はResetAtまでの待ち時間を返す。
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Clock は現在時刻を返す。
type Clock func() time.Time

// Store はカウンタの保持先。
// Incrementはキーごとに不可分でなければならない。すなわち、
// キーの排他区間の中でnowを読み、ウィンドウが now-windowStart >= window で
// 切れていればリセットし、カウントを1増やして、増やした後の値と
// ウィンドウ開始時刻を返す。同じキーでは時刻の順序と加算の順序が一致する。
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now Clock) (count int64, windowStart time.Time, err error)
}

// Limiter は固定ウィンドウ方式でリクエストを制限する。
type Limiter struct {
	// store はカウンタの保持先。
	store Store
	// now は現在時刻を返す関数。
	now Clock
}

// Option はLimiterの設定を変更する。
type Option func(*Limiter)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New は新しいLimiterを生成する。
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key はクライアント識別子とルートIDからカウンタのキーを組み立てる。
func Key(routeID, clientID string) string {
	return routeID + ":" + clientID
}

// Now はLimiterが使用する現在時刻を返す。
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Take はキーに対してリクエストを1件記録し、許可するかどうかを判定する。
// 上限を超えたリクエスト自体も現在のウィンドウのカウントに含まれ、
// 次のウィンドウには持ち越されない。
// Storeのエラー時は Allowed=true の結果とエラーを返す。
func (l *Limiter) Take(ctx context.Context, key string, rule Rule) (Result, error) {
	if !rule.Enabled() {
		return Result{Allowed: true}, nil
	}

	count, start, err := l.store.Increment(ctx, key, rule.Window, l.now)
	if err != nil {
		return Result{Allowed: true, Limit: rule.MaxRequests, Remaining: rule.MaxRequests}, fmt.Errorf("レート制限カウンタの更新に失敗: key=%s: %w", key, err)
	}

	remaining := rule.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(rule.MaxRequests),
		Limit:     rule.MaxRequests,
		Count:     count,
		Remaining: remaining,
		ResetAt:   start.Add(rule.Window),
	}, nil
}
