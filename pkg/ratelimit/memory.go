package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// shardCount はMemoryStoreのシャード数。
const shardCount = 64

// window は1キー分のカウンタ。
type window struct {
	count  int64
	start  time.Time
	length time.Duration
}

// shard は独立したロックを持つカウンタ表の一部。
type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// MemoryStore はプロセス内でカウンタを保持するStore。
// キーはハッシュ値によりシャードに振り分けられ、異なるシャードの
// キー同士はロックを奪い合わない。
type MemoryStore struct {
	shards [shardCount]*shard
}

// NewMemoryStore は新しいMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// Increment はStoreインターフェースを実装する。
// 時刻はシャードのロックを取得した後に読む。
func (s *MemoryStore) Increment(_ context.Context, key string, length time.Duration, clock Clock) (int64, time.Time, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := clock()
	w, ok := sh.windows[key]
	if !ok || now.Sub(w.start) >= length {
		w = &window{start: now, length: length}
		sh.windows[key] = w
	}
	w.count++
	return w.count, w.start, nil
}

// Sweep はnow時点で終了しているウィンドウを削除し、削除件数を返す。
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, w := range sh.windows {
			if now.Sub(w.start) >= w.length {
				delete(sh.windows, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len は保持しているキーの数を返す。
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}

// Run はctxがキャンセルされるまで、interval間隔でSweepを実行する。
// バックグラウンドgoroutineとして呼び出されることを想定している。
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}
