package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Dan203302/control-system-backend/pkg/apperr"
)

// DefaultTimeout は転送1件あたりの既定のタイムアウト。
const DefaultTimeout = 30 * time.Second

// Client はバックエンドサービスへの転送用HTTPクライアント。
// 1つのバックエンドに対して1つ生成し、並行して使用できる。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// base は接続先サービスのベースURL。
	base *url.URL
	// timeout は1回の転送に許される時間。
	timeout time.Duration
}

// New は新しい転送用HTTPクライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "http://users:8081"）を指定する。
// timeoutが0以下の場合はDefaultTimeoutを使用する。
func New(baseURL string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ベースURL %q の解析に失敗: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("ベースURL %q にスキームまたはホストがありません", baseURL)
	}
	base.RawQuery = ""
	base.Fragment = ""

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// ボディをバイト単位でそのまま中継するため、透過的な解凍を無効にする
	transport.DisableCompression = true
	transport.MaxIdleConnsPerHost = 32

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			// リダイレクトは追跡せずそのまま呼び出し元に返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		base:    base,
		timeout: timeout,
	}, nil
}

// BaseURL は接続先のベースURLを返す。
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Request は転送するリクエストの内容。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// Path はベースURLに連結するデコード済みのパス。
	Path string
	// RawPath はPathの元のエンコード表現。空ならPathを標準の規則でエスケープする。
	// %2Fのようにデコードすると意味が変わる文字を保つために使う。
	RawPath string
	// RawQuery はエンコード済みのクエリ文字列。
	RawQuery string
	// Header は送信するヘッダー。呼び出し元で選別済みであること。
	Header http.Header
	// Body はリクエストボディ。nilでもよい。
	Body io.Reader
	// ContentLength はボディの長さ。不明な場合は-1。
	ContentLength int64
}

// URL は転送先のURLを組み立てる。パスは文字列連結ではなくURL構造体で扱い、
// エンコードされた "?" "/" "#" がクエリや区切りに化けないようにする。
func (c *Client) URL(r Request) *url.URL {
	u := *c.base
	u.Path = c.base.Path + r.Path
	u.RawPath = ""
	if r.RawPath != "" {
		u.RawPath = c.base.EscapedPath() + r.RawPath
	}
	u.RawQuery = r.RawQuery
	return &u
}

// Forward はリクエストをバックエンドへ送信し、レスポンスを返す。
// タイムアウトはctxに重ねて適用され、レスポンスボディを閉じるまで有効である。
// 呼び出し元は必ずレスポンスボディを閉じること。
// 通信に失敗した場合はClassifyで分類されたエラーを返す。
func (c *Client) Forward(ctx context.Context, r Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	body := r.Body
	if body == nil || r.ContentLength == 0 {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, c.URL(r).String(), body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	if body != http.NoBody {
		req.ContentLength = r.ContentLength
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s %s の転送に失敗: %w", r.Method, c.base.Host, Classify(ctx, err))
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody はボディを閉じたときにコンテキストを解放する。
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Classify は転送エラーを分類する。
// 呼び出し元がキャンセルした場合はcontext.Canceled、期限切れやネットワークの
// タイムアウトはErrBackendTimeout、それ以外はErrBackendUnavailableを含むエラーを返す。
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", apperr.ErrBackendTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("クライアントが切断: %w", context.Canceled)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", apperr.ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %w", apperr.ErrBackendUnavailable, err)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	resp, err := c.Forward(ctx, Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTPエラー: status=%d, body=%s: %w", resp.StatusCode, string(respBody), apperr.ErrBackendUnavailable)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}
