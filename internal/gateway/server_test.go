package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Dan203302/control-system-backend/pkg/metrics"
	"github.com/Dan203302/control-system-backend/pkg/ratelimit"
	"github.com/Dan203302/control-system-backend/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testToken はテスト用のBearerトークン。gatewayは存在だけを確認する。
const testToken = "Bearer opaque-token"

// capturedRequest はモックバックエンドが受け取ったリクエスト。
type capturedRequest struct {
	Method      string
	Path        string
	EscapedPath string
	RawQuery    string
	Body        string
	Header      http.Header
}

// mockBackend はリクエストを記録するモックバックエンド。
type mockBackend struct {
	server *httptest.Server
	hits   atomic.Int64
	last   atomic.Pointer[capturedRequest]
}

// newMockBackend はhandlerで応答するモックバックエンドを起動する。
func newMockBackend(t *testing.T, handler http.HandlerFunc) *mockBackend {
	t.Helper()

	b := &mockBackend{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.last.Store(&capturedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			EscapedPath: r.URL.EscapedPath(),
			RawQuery:    r.URL.RawQuery,
			Body:        string(body),
			Header:      r.Header.Clone(),
		})
		if r.URL.Path != "/health" {
			b.hits.Add(1)
		}
		handler(w, r)
	}))
	t.Cleanup(b.server.Close)
	return b
}

// okHandler は固定のJSONを返すハンドラ。
func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":true,"data":{}}`))
}

// newTestServer はusersとordersのバックエンドを持つテスト用Gatewayサーバーを生成する。
func newTestServer(t *testing.T, users, orders string, mutate func(*Options)) *Server {
	t.Helper()

	rule := ratelimit.Rule{MaxRequests: 100, Window: time.Minute}
	opts := Options{
		Routes: []Route{
			{ID: "auth", Prefix: "/api/v1/auth", Backend: users, Auth: AuthNone, Limit: rule},
			{ID: "users", Prefix: "/api/v1/users", Backend: users, Auth: AuthPresence, Limit: rule},
			{ID: "orders", Prefix: "/api/v1/orders", Backend: orders, Auth: AuthPresence, Limit: rule},
		},
		Limiter:      ratelimit.New(ratelimit.NewMemoryStore()),
		ProxyTimeout: 2 * time.Second,
		CORSOrigins:  []string{"*"},
	}
	if mutate != nil {
		mutate(&opts)
	}

	s, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer()でエラーが発生: %v", err)
	}
	return s
}

// envelope はレスポンスのパース用構造体。
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// decode はレスポンスボディをパースする。
func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v: %s", err, w.Body.String())
	}
	return env
}

// serve はリクエストをサーバーに送信する。
func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// TestHealth はヘルスチェックを検証する。
func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, "http://users.invalid", "http://orders.invalid", nil)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Body.String(); got != `{"success":true,"data":{"service":"gateway","status":"ok"}}` {
		t.Errorf("レスポンスボディ = %s", got)
	}
}

// TestForward は転送の挙動を検証する。
func TestForward(t *testing.T) {
	t.Parallel()

	t.Run("メソッドとパスとクエリとボディがそのまま転送されること", func(t *testing.T) {
		t.Parallel()

		orders := newMockBackend(t, okHandler)
		s := newTestServer(t, "http://users.invalid", orders.server.URL, nil)

		payload := `{"items":[{"sku":"A-1","qty":2,"price":150}]}`
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/orders/42/status?notify=true&x=%20y", strings.NewReader(payload))
		req.Header.Set("Authorization", testToken)
		req.Header.Set("Content-Type", "application/json")
		w := serve(s, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
		got := orders.last.Load()
		if got == nil {
			t.Fatal("バックエンドにリクエストが届いていない")
		}
		if got.Method != http.MethodPatch {
			t.Errorf("Method = %q, want %q", got.Method, http.MethodPatch)
		}
		if got.Path != "/api/v1/orders/42/status" {
			t.Errorf("Path = %q", got.Path)
		}
		if got.RawQuery != "notify=true&x=%20y" {
			t.Errorf("RawQuery = %q", got.RawQuery)
		}
		if got.Body != payload {
			t.Errorf("Body = %q, want %q", got.Body, payload)
		}
	})

	t.Run("エンコードされたパスが変形せずに転送されること", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			target      string
			wantPath    string
			wantEscaped string
			wantQuery   string
		}{
			{
				target:      "/api/v1/orders/abc%3Fadmin=1?page=2",
				wantPath:    "/api/v1/orders/abc?admin=1",
				wantEscaped: "/api/v1/orders/abc%3Fadmin=1",
				wantQuery:   "page=2",
			},
			{
				target:      "/api/v1/orders/a%2Fb?page=2",
				wantPath:    "/api/v1/orders/a/b",
				wantEscaped: "/api/v1/orders/a%2Fb",
				wantQuery:   "page=2",
			},
			{
				target:      "/api/v1/orders/a%23frag?page=2",
				wantPath:    "/api/v1/orders/a#frag",
				wantEscaped: "/api/v1/orders/a%23frag",
				wantQuery:   "page=2",
			},
		}

		orders := newMockBackend(t, okHandler)
		s := newTestServer(t, "http://users.invalid", orders.server.URL, nil)
		for _, tt := range tests {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			req.Header.Set("Authorization", testToken)
			w := serve(s, req)
			if w.Code != http.StatusOK {
				t.Fatalf("%s: ステータスコード = %d: %s", tt.target, w.Code, w.Body.String())
			}

			got := orders.last.Load()
			if got == nil {
				t.Fatalf("%s: バックエンドにリクエストが届いていない", tt.target)
			}
			if got.Path != tt.wantPath || got.EscapedPath != tt.wantEscaped {
				t.Errorf("%s: Path = %q (%q), want %q (%q)", tt.target, got.Path, got.EscapedPath, tt.wantPath, tt.wantEscaped)
			}
			if got.RawQuery != tt.wantQuery {
				t.Errorf("%s: RawQuery = %q, want %q", tt.target, got.RawQuery, tt.wantQuery)
			}
		}
	})

	t.Run("許可されたヘッダーだけが転送されること", func(t *testing.T) {
		t.Parallel()

		orders := newMockBackend(t, okHandler)
		s := newTestServer(t, "http://users.invalid", orders.server.URL, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Authorization", testToken)
		req.Header.Set("X-Request-ID", "corr-1")
		req.Header.Set("Cookie", "session=secret")
		req.Header.Set("X-Forwarded-For", "10.0.0.1")
		req.Header.Set("X-Internal-Flag", "1")
		serve(s, req)

		got := orders.last.Load()
		if got == nil {
			t.Fatal("バックエンドにリクエストが届いていない")
		}
		if got.Header.Get("Authorization") != testToken {
			t.Errorf("Authorization = %q", got.Header.Get("Authorization"))
		}
		if got.Header.Get("X-Request-ID") != "corr-1" {
			t.Errorf("X-Request-ID = %q", got.Header.Get("X-Request-ID"))
		}
		for _, name := range []string{"Cookie", "X-Forwarded-For", "X-Internal-Flag"} {
			if v := got.Header.Get(name); v != "" {
				t.Errorf("%s が転送されている: %q", name, v)
			}
		}
	})

	t.Run("相関IDが無い場合は採番されて転送されること", func(t *testing.T) {
		t.Parallel()

		orders := newMockBackend(t, okHandler)
		s := newTestServer(t, "http://users.invalid", orders.server.URL, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Authorization", testToken)
		w := serve(s, req)

		got := orders.last.Load()
		if got == nil || got.Header.Get("X-Request-ID") == "" {
			t.Fatal("相関IDが転送されていない")
		}
		if w.Header().Get("X-Request-ID") != got.Header.Get("X-Request-ID") {
			t.Errorf("レスポンスの相関ID = %q, want %q", w.Header().Get("X-Request-ID"), got.Header.Get("X-Request-ID"))
		}
	})

	t.Run("バックエンドのステータスとボディがそのまま中継されること", func(t *testing.T) {
		t.Parallel()

		const body = `{"success":true,"data":{"id":"o-1","status":"created","total_amount":300}}`
		orders := newMockBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Content-Language", "ja")
			w.Header().Set("Set-Cookie", "internal=1")
			w.Header().Set("X-Backend-Node", "orders-7")
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, body)
		})
		s := newTestServer(t, "http://users.invalid", orders.server.URL, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{}`))
		req.Header.Set("Authorization", testToken)
		w := serve(s, req)

		if w.Code != http.StatusCreated {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusCreated)
		}
		if w.Body.String() != body {
			t.Errorf("ボディ = %q, want %q", w.Body.String(), body)
		}
		if got := w.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
			t.Errorf("Content-Type = %q", got)
		}
		if got := w.Header().Get("Content-Language"); got != "ja" {
			t.Errorf("Content-Language = %q", got)
		}
		if w.Header().Get("Set-Cookie") != "" || w.Header().Get("X-Backend-Node") != "" {
			t.Error("バックエンド内部のヘッダーが中継されている")
		}
	})

	t.Run("バックエンドのエラーレスポンスも書き換えずに中継されること", func(t *testing.T) {
		t.Parallel()

		const body = `{"success":false,"error":{"code":"forbidden","message":"x"}}`
		orders := newMockBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, body)
		})
		s := newTestServer(t, "http://users.invalid", orders.server.URL, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/1", nil)
		req.Header.Set("Authorization", testToken)
		w := serve(s, req)

		if w.Code != http.StatusForbidden || w.Body.String() != body {
			t.Errorf("レスポンス = %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("認証系のルートはトークン無しで転送されること", func(t *testing.T) {
		t.Parallel()

		users := newMockBackend(t, okHandler)
		s := newTestServer(t, users.server.URL, "http://orders.invalid", nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"a@b.c","password":"secret"}`))
		req.Header.Set("Content-Type", "application/json")
		w := serve(s, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if users.hits.Load() != 1 {
			t.Errorf("バックエンドの呼び出し回数 = %d, want 1", users.hits.Load())
		}
		if got := users.last.Load(); got.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", got.Header.Get("Content-Type"))
		}
	})
}

// TestRouting はルート解決の失敗を検証する。
func TestRouting(t *testing.T) {
	t.Parallel()

	orders := newMockBackend(t, okHandler)
	s := newTestServer(t, "http://users.invalid", orders.server.URL, nil)

	for _, path := range []string{"/api/v1/unknown", "/api/v1/ordersX", "/api/v1", "/other"} {
		t.Run(path+"は404が返ること", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("Authorization", testToken)
			w := serve(s, req)

			if w.Code != http.StatusNotFound {
				t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
			}
			env := decode(t, w)
			if env.Success || env.Error == nil || env.Error.Code != "route_not_found" {
				t.Errorf("レスポンス = %s", w.Body.String())
			}
		})
	}
	if orders.hits.Load() != 0 {
		t.Errorf("バックエンドが呼び出された: %d回", orders.hits.Load())
	}
}

// TestAuthPresence は認証情報の存在確認を検証する。
func TestAuthPresence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
	}{
		{name: "Authorizationヘッダーなし", header: ""},
		{name: "Bearerでないスキーム", header: "Basic dXNlcjpwYXNz"},
		{name: "空のトークン", header: "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			orders := newMockBackend(t, okHandler)
			s := newTestServer(t, "http://users.invalid", orders.server.URL, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(s, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if env := decode(t, w); env.Error == nil || env.Error.Code != "unauthenticated" {
				t.Errorf("レスポンス = %s", w.Body.String())
			}
			if orders.hits.Load() != 0 {
				t.Errorf("バックエンドが呼び出された: %d回", orders.hits.Load())
			}
		})
	}
}

// TestAuthVerified はgatewayでトークンを検証するルートを確認する。
func TestAuthVerified(t *testing.T) {
	t.Parallel()

	codec, err := token.NewCodec("gateway-test-secret", "HS256")
	if err != nil {
		t.Fatalf("NewCodec()でエラーが発生: %v", err)
	}
	orders := newMockBackend(t, okHandler)
	s := newTestServer(t, "http://users.invalid", orders.server.URL, func(o *Options) {
		o.Codec = codec
		o.Routes[2].Auth = AuthVerified
	})

	t.Run("不正なトークンは401が返ること", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Authorization", testToken)
		w := serve(s, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("有効なトークンは転送されること", func(t *testing.T) {
		tok, err := codec.Issue("user-1", nil, time.Hour)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := serve(s, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("Codec無しでは生成できないこと", func(t *testing.T) {
		_, err := NewServer(Options{
			Routes: []Route{{ID: "x", Prefix: "/api/v1/x", Backend: "http://x:1", Auth: AuthVerified}},
		})
		if err == nil {
			t.Error("エラーが返るべき")
		}
	})
}

// TestRateLimit はレート制限を検証する。
func TestRateLimit(t *testing.T) {
	t.Parallel()

	t.Run("上限を超えると429が返りバックエンドに届かないこと", func(t *testing.T) {
		t.Parallel()

		orders := newMockBackend(t, okHandler)
		s := newTestServer(t, "http://users.invalid", orders.server.URL, func(o *Options) {
			o.Routes[2].Limit = ratelimit.Rule{MaxRequests: 3, Window: time.Minute}
		})

		var last *httptest.ResponseRecorder
		for i := 0; i < 5; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
			req.Header.Set("Authorization", testToken)
			last = serve(s, req)
			if i < 3 && last.Code != http.StatusOK {
				t.Fatalf("%d回目のステータスコード = %d, want %d", i+1, last.Code, http.StatusOK)
			}
		}

		if last.Code != http.StatusTooManyRequests {
			t.Fatalf("ステータスコード = %d, want %d", last.Code, http.StatusTooManyRequests)
		}
		if env := decode(t, last); env.Error == nil || env.Error.Code != "rate_limited" {
			t.Errorf("レスポンス = %s", last.Body.String())
		}
		if last.Header().Get("Retry-After") == "" {
			t.Error("Retry-Afterヘッダーが設定されていない")
		}
		if last.Header().Get("X-RateLimit-Remaining") != "0" {
			t.Errorf("X-RateLimit-Remaining = %q", last.Header().Get("X-RateLimit-Remaining"))
		}
		if orders.hits.Load() != 3 {
			t.Errorf("バックエンドの呼び出し回数 = %d, want 3", orders.hits.Load())
		}
	})

	t.Run("ルートごとに独立して数えられること", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, okHandler)
		s := newTestServer(t, backend.server.URL, backend.server.URL, func(o *Options) {
			o.Routes[1].Limit = ratelimit.Rule{MaxRequests: 1, Window: time.Minute}
			o.Routes[2].Limit = ratelimit.Rule{MaxRequests: 1, Window: time.Minute}
		})

		for _, path := range []string{"/api/v1/users/me", "/api/v1/orders"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("Authorization", testToken)
			if w := serve(s, req); w.Code != http.StatusOK {
				t.Errorf("%s のステータスコード = %d, want %d", path, w.Code, http.StatusOK)
			}
		}
	})

	t.Run("クライアントIPごとに独立して数えられること", func(t *testing.T) {
		t.Parallel()

		orders := newMockBackend(t, okHandler)
		s := newTestServer(t, "http://users.invalid", orders.server.URL, func(o *Options) {
			o.Routes[2].Limit = ratelimit.Rule{MaxRequests: 1, Window: time.Minute}
		})

		for _, addr := range []string{"192.0.2.10:1000", "192.0.2.11:1000"} {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
			req.RemoteAddr = addr
			req.Header.Set("Authorization", testToken)
			if w := serve(s, req); w.Code != http.StatusOK {
				t.Errorf("%s のステータスコード = %d, want %d", addr, w.Code, http.StatusOK)
			}
		}
	})

	t.Run("認証前に数えられること", func(t *testing.T) {
		t.Parallel()

		orders := newMockBackend(t, okHandler)
		s := newTestServer(t, "http://users.invalid", orders.server.URL, func(o *Options) {
			o.Routes[2].Limit = ratelimit.Rule{MaxRequests: 1, Window: time.Minute}
		})

		serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
		w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
	})

	t.Run("ストアが失敗した場合は通過させること", func(t *testing.T) {
		t.Parallel()

		orders := newMockBackend(t, okHandler)
		s := newTestServer(t, "http://users.invalid", orders.server.URL, func(o *Options) {
			o.Limiter = ratelimit.New(brokenStore{})
		})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Authorization", testToken)
		if w := serve(s, req); w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})
}

// brokenStore は常に失敗するレート制限ストア。
type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, time.Duration, ratelimit.Clock) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("redis: connection refused")
}

// TestBackendErrors はバックエンドとの通信失敗を検証する。
func TestBackendErrors(t *testing.T) {
	t.Parallel()

	t.Run("バックエンドに接続できない場合は502が返ること", func(t *testing.T) {
		t.Parallel()

		down := httptest.NewServer(http.NotFoundHandler())
		url := down.URL
		down.Close()

		s := newTestServer(t, "http://users.invalid", url, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Authorization", testToken)
		w := serve(s, req)

		if w.Code != http.StatusBadGateway {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadGateway)
		}
		if env := decode(t, w); env.Error == nil || env.Error.Code != "backend_unavailable" {
			t.Errorf("レスポンス = %s", w.Body.String())
		}
	})

	t.Run("バックエンドの応答が遅い場合は504が返ること", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		orders := newMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		defer close(release)

		s := newTestServer(t, "http://users.invalid", orders.server.URL, func(o *Options) {
			o.ProxyTimeout = 50 * time.Millisecond
		})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Authorization", testToken)
		w := serve(s, req)

		if w.Code != http.StatusGatewayTimeout {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusGatewayTimeout)
		}
		if env := decode(t, w); env.Error == nil || env.Error.Code != "backend_timeout" {
			t.Errorf("レスポンス = %s", w.Body.String())
		}
	})
}

// TestReady はバックエンドの疎通確認を検証する。
func TestReady(t *testing.T) {
	t.Parallel()

	t.Run("すべてのバックエンドが応答すれば200が返ること", func(t *testing.T) {
		t.Parallel()

		users := newMockBackend(t, okHandler)
		orders := newMockBackend(t, okHandler)
		s := newTestServer(t, users.server.URL, orders.server.URL, nil)

		w := serve(s, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
	})

	t.Run("応答しないバックエンドがあれば503が返ること", func(t *testing.T) {
		t.Parallel()

		users := newMockBackend(t, okHandler)
		down := httptest.NewServer(http.NotFoundHandler())
		url := down.URL
		down.Close()

		s := newTestServer(t, users.server.URL, url, nil)
		w := serve(s, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
		if !strings.Contains(w.Body.String(), `"status":"unavailable"`) {
			t.Errorf("レスポンス = %s", w.Body.String())
		}
	})
}

// TestMetrics はメトリクスの公開を検証する。
func TestMetrics(t *testing.T) {
	t.Parallel()

	orders := newMockBackend(t, okHandler)
	rec := metrics.New("gateway")
	s := newTestServer(t, "http://users.invalid", orders.server.URL, func(o *Options) {
		o.Metrics = rec
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", testToken)
	serve(s, req)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `gateway_requests_total{method="GET",route="orders",status="200"} 1`) {
		t.Errorf("requests_totalが記録されていない:\n%s", w.Body.String())
	}
}

// TestCORSPreflight はプリフライトリクエストを検証する。
func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	orders := newMockBackend(t, okHandler)
	s := newTestServer(t, "http://users.invalid", orders.server.URL, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := serve(s, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if orders.hits.Load() != 0 {
		t.Error("プリフライトがバックエンドに転送されている")
	}
}
