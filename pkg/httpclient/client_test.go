package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dan203302/control-system-backend/pkg/apperr"
)

// testRequest はテストサーバーが受け取ったリクエスト情報を保持する構造体。
type testRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// RawQuery はクエリ文字列。
	RawQuery string
	// Body はリクエストボディ。
	Body []byte
	// Headers はリクエストヘッダー。
	Headers http.Header
}

// mustNew はクライアントを生成し、失敗したらテストを中断する。
func mustNew(t *testing.T, baseURL string, timeout time.Duration) *Client {
	t.Helper()

	c, err := New(baseURL, timeout)
	if err != nil {
		t.Fatalf("New()でエラーが発生: %v", err)
	}
	return c
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("末尾のスラッシュが除去されること", func(t *testing.T) {
		t.Parallel()

		client := mustNew(t, "http://localhost:8081/", time.Second)
		if client.BaseURL() != "http://localhost:8081" {
			t.Errorf("BaseURL() = %q, want %q", client.BaseURL(), "http://localhost:8081")
		}
	})

	t.Run("タイムアウト未指定の場合は既定値が使われること", func(t *testing.T) {
		t.Parallel()

		client := mustNew(t, "http://localhost:8081", 0)
		if client.timeout != DefaultTimeout {
			t.Errorf("timeout = %v, want %v", client.timeout, DefaultTimeout)
		}
	})

	t.Run("URLにクエリ文字列が連結されること", func(t *testing.T) {
		t.Parallel()

		client := mustNew(t, "http://orders:8082", time.Second)
		if got := client.URL(Request{Path: "/api/v1/orders", RawQuery: "page=2&size=10"}).String(); got != "http://orders:8082/api/v1/orders?page=2&size=10" {
			t.Errorf("URL() = %q", got)
		}
		if got := client.URL(Request{Path: "/api/v1/orders"}).String(); got != "http://orders:8082/api/v1/orders" {
			t.Errorf("URL() = %q", got)
		}
	})

	t.Run("スキームやホストのないベースURLはエラーになること", func(t *testing.T) {
		t.Parallel()

		for _, base := range []string{"orders:8082", "/api", "http://%zz"} {
			if _, err := New(base, time.Second); err == nil {
				t.Errorf("New(%q) でエラーが返らない", base)
			}
		}
	})
}

// TestURL はエンコードされたパスが変形せずにURLへ反映されることを検証する。
func TestURL(t *testing.T) {
	t.Parallel()

	client := mustNew(t, "http://orders:8082/base", time.Second)
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "エンコードされた疑問符はクエリにならないこと",
			req:  Request{Path: "/api/v1/orders/abc?admin=1", RawQuery: "page=2"},
			want: "http://orders:8082/base/api/v1/orders/abc%3Fadmin=1?page=2",
		},
		{
			name: "エンコードされたシャープはフラグメントにならないこと",
			req:  Request{Path: "/api/v1/orders/a#frag", RawQuery: "page=2"},
			want: "http://orders:8082/base/api/v1/orders/a%23frag?page=2",
		},
		{
			name: "エンコードされたスラッシュは区切りにならないこと",
			req:  Request{Path: "/api/v1/orders/a/b", RawPath: "/api/v1/orders/a%2Fb", RawQuery: "page=2"},
			want: "http://orders:8082/base/api/v1/orders/a%2Fb?page=2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := client.URL(tt.req).String(); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestForward はForwardメソッドを検証する。
func TestForward(t *testing.T) {
	t.Parallel()

	t.Run("メソッドとパスとクエリとボディがそのまま送信されること", func(t *testing.T) {
		t.Parallel()

		received := make(chan testRequest, 1)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			received <- testRequest{
				Method:   r.Method,
				Path:     r.URL.Path,
				RawQuery: r.URL.RawQuery,
				Body:     body,
				Headers:  r.Header.Clone(),
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"1"}`))
		}))
		defer server.Close()

		payload := `{"items":[{"sku":"A","qty":1,"price":10}]}`
		client := mustNew(t, server.URL, time.Second)
		resp, err := client.Forward(context.Background(), Request{
			Method:        http.MethodPost,
			Path:          "/api/v1/orders",
			RawQuery:      "dry=1",
			Header:        http.Header{"Authorization": {"Bearer tok"}},
			Body:          strings.NewReader(payload),
			ContentLength: int64(len(payload)),
		})
		if err != nil {
			t.Fatalf("Forward()でエラーが発生: %v", err)
		}
		defer resp.Body.Close()

		got := <-received
		if got.Method != http.MethodPost {
			t.Errorf("Method = %q, want %q", got.Method, http.MethodPost)
		}
		if got.Path != "/api/v1/orders" {
			t.Errorf("Path = %q, want %q", got.Path, "/api/v1/orders")
		}
		if got.RawQuery != "dry=1" {
			t.Errorf("RawQuery = %q, want %q", got.RawQuery, "dry=1")
		}
		if string(got.Body) != payload {
			t.Errorf("Body = %q, want %q", got.Body, payload)
		}
		if got.Headers.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", got.Headers.Get("Authorization"), "Bearer tok")
		}

		if resp.StatusCode != http.StatusCreated {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
		}
		body, _ := io.ReadAll(resp.Body)
		if string(body) != `{"id":"1"}` {
			t.Errorf("レスポンスボディ = %q", body)
		}
	})

	t.Run("圧縮されたボディが解凍されずに返ること", func(t *testing.T) {
		t.Parallel()

		raw := []byte{0x1f, 0x8b, 0x08, 0x00, 0x01, 0x02}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(raw)
		}))
		defer server.Close()

		resp, err := mustNew(t, server.URL, time.Second).Forward(context.Background(), Request{Method: http.MethodGet, Path: "/"})
		if err != nil {
			t.Fatalf("Forward()でエラーが発生: %v", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if string(body) != string(raw) {
			t.Errorf("ボディが変更されている: %v", body)
		}
		if resp.Header.Get("Content-Encoding") != "gzip" {
			t.Errorf("Content-Encoding = %q, want gzip", resp.Header.Get("Content-Encoding"))
		}
	})

	t.Run("接続できない場合はErrBackendUnavailableが返ること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := mustNew(t, url, time.Second).Forward(context.Background(), Request{Method: http.MethodGet, Path: "/"})
		if !errors.Is(err, apperr.ErrBackendUnavailable) {
			t.Errorf("err = %v, want ErrBackendUnavailable", err)
		}
	})

	t.Run("応答が遅い場合はErrBackendTimeoutが返ること", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		_, err := mustNew(t, server.URL, 50*time.Millisecond).Forward(context.Background(), Request{Method: http.MethodGet, Path: "/"})
		if !errors.Is(err, apperr.ErrBackendTimeout) {
			t.Errorf("err = %v, want ErrBackendTimeout", err)
		}
	})

	t.Run("呼び出し元がキャンセルした場合はcontext.Canceledが返ること", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		_, err := mustNew(t, server.URL, 5*time.Second).Forward(ctx, Request{Method: http.MethodGet, Path: "/"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if errors.Is(err, apperr.ErrBackendUnavailable) || errors.Is(err, apperr.ErrBackendTimeout) {
			t.Errorf("キャンセルがバックエンドエラーとして分類された: %v", err)
		}
	})
}

// TestGetJSON はGetJSONメソッドを検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にJSONレスポンスをデシリアライズできること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true,"data":{"status":"ok"}}`))
		}))
		defer server.Close()

		var result struct {
			Success bool `json:"success"`
			Data    struct {
				Status string `json:"status"`
			} `json:"data"`
		}
		if err := mustNew(t, server.URL, time.Second).GetJSON(context.Background(), "/health", &result); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if !result.Success || result.Data.Status != "ok" {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("エラーステータスの場合はエラーが返ること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		err := mustNew(t, server.URL, time.Second).GetJSON(context.Background(), "/health", nil)
		if !errors.Is(err, apperr.ErrBackendUnavailable) {
			t.Errorf("err = %v, want ErrBackendUnavailable", err)
		}
	})
}
