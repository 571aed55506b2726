package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Dan203302/control-system-backend/pkg/apperr"
	"github.com/Dan203302/control-system-backend/pkg/httpclient"
	"github.com/Dan203302/control-system-backend/pkg/metrics"
	"github.com/Dan203302/control-system-backend/pkg/middleware"
	"github.com/Dan203302/control-system-backend/pkg/ratelimit"
	"github.com/Dan203302/control-system-backend/pkg/response"
	"github.com/Dan203302/control-system-backend/pkg/token"
)

// routeKey はGinコンテキストに解決済みルートを保存するキー。
const routeKey = "gateway.route"

// readyTimeout はバックエンドの疎通確認1件あたりのタイムアウト。
const readyTimeout = 2 * time.Second

// proxiedMethods はgatewayが転送するHTTPメソッド。
var proxiedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// Options はgatewayサーバーの構成要素。
type Options struct {
	// Routes は転送ルート。
	Routes []Route
	// Limiter はレート制限。nilの場合は制限しない。
	Limiter *ratelimit.Limiter
	// Codec はAuthVerifiedのルートでトークンを検証する。
	Codec *token.Codec
	// ProxyTimeout は転送1件あたりのタイムアウト。
	ProxyTimeout time.Duration
	// CORSOrigins は許可するオリジン。
	CORSOrigins []string
	// TrustedProxies はクライアントIPの判定で信頼するプロキシ。
	TrustedProxies []string
	// Logger はログ出力先。
	Logger *zap.Logger
	// Metrics はメトリクスの記録先。nilでもよい。
	Metrics *metrics.Recorder
}

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// routes は転送ルートの表。
	routes *RouteTable
	// clients はバックエンドごとの転送クライアント。
	clients map[string]*httpclient.Client
	// limiter はレート制限。
	limiter *ratelimit.Limiter
	// codec はトークン検証に使う。
	codec *token.Codec
	// log はログ出力先。
	log *zap.Logger
	// metrics はメトリクスの記録先。
	metrics *metrics.Recorder
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(opts Options) (*Server, error) {
	table, err := NewRouteTable(opts.Routes)
	if err != nil {
		return nil, fmt.Errorf("ルート表の作成に失敗: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	clients := make(map[string]*httpclient.Client)
	for _, r := range table.Routes() {
		if r.Auth == AuthVerified && opts.Codec == nil {
			return nil, fmt.Errorf("ルート %s はトークン検証が必要ですがCodecが指定されていません", r.ID)
		}
		if _, ok := clients[r.Backend]; !ok {
			client, err := httpclient.New(r.Backend, opts.ProxyTimeout)
			if err != nil {
				return nil, fmt.Errorf("ルート %s の転送クライアントの作成に失敗: %w", r.ID, err)
			}
			clients[r.Backend] = client
		}
	}

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, fmt.Errorf("信頼するプロキシの設定に失敗: %w", err)
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(log))
	router.Use(middleware.AccessLog(log))
	router.Use(middleware.CORS(opts.CORSOrigins))

	s := &Server{
		router:  router,
		routes:  table,
		clients: clients,
		limiter: opts.Limiter,
		codec:   opts.Codec,
		log:     log,
		metrics: opts.Metrics,
	}
	s.setupRoutes()
	return s, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(s.observe(), s.resolveRoute(), s.rateLimit(), s.checkAuth())
	for _, method := range proxiedMethods {
		api.Handle(method, "/*path", s.forward())
	}

	s.router.GET("/health", func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET("/ready", s.handleReady())
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.router.NoRoute(func(c *gin.Context) {
		response.Fail(c, apperr.ErrRouteNotFound)
	})
}

// routeFrom はGinコンテキストから解決済みルートを取得する。
func routeFrom(c *gin.Context) (Route, bool) {
	v, ok := c.Get(routeKey)
	if !ok {
		return Route{}, false
	}
	r, ok := v.(Route)
	return r, ok
}

// observe は応答したリクエストをルートごとに記録する。
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		id := "none"
		if r, ok := routeFrom(c); ok {
			id = r.ID
		}
		s.metrics.Request(id, c.Request.Method, c.Writer.Status())
	}
}

// resolveRoute はパスに最長一致するルートを解決する。
func (s *Server) resolveRoute() gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := s.routes.Match(c.Request.URL.Path)
		if !ok {
			response.Fail(c, apperr.ErrRouteNotFound)
			return
		}
		c.Set(routeKey, r)
		c.Next()
	}
}

// rateLimit はルートとクライアントIPの組ごとにリクエスト数を制限する。
// カウンタの更新に失敗した場合はリクエストを通す。
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		r, _ := routeFrom(c)
		if s.limiter == nil || !r.Limit.Enabled() {
			c.Next()
			return
		}

		res, err := s.limiter.Take(c.Request.Context(), ratelimit.Key(r.ID, c.ClientIP()), r.Limit)
		if err != nil {
			s.metrics.RateLimitStoreError()
			s.log.Warn("レート制限の判定に失敗したため通過させます",
				zap.String("route", r.ID),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			retry := int(math.Ceil(res.RetryAfter(s.limiter.Now()).Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			s.metrics.RateLimited(r.ID)
			response.Fail(c, apperr.ErrRateLimited)
			return
		}
		c.Next()
	}
}

// checkAuth はルートが要求する認証を確認する。
func (s *Server) checkAuth() gin.HandlerFunc {
	presence := middleware.RequireBearer()
	var verified gin.HandlerFunc
	if s.codec != nil {
		verified = middleware.Authenticate(s.codec, nil, s.log)
	}
	return func(c *gin.Context) {
		r, _ := routeFrom(c)
		switch r.Auth {
		case AuthPresence:
			presence(c)
		case AuthVerified:
			verified(c)
		default:
			c.Next()
		}
	}
}

// forwardedRequestHeaders はバックエンドへ転送するリクエストヘッダー。
// AuthorizationとX-Request-ID以外はボディの表現に属するContent-Typeだけを送る。
// ボディをそのまま転送する以上、そのメディア型も同じエンティティの一部として保つ。
var forwardedRequestHeaders = []string{
	"Authorization",
	middleware.HeaderRequestID,
	"Content-Type",
}

// forward はリクエストをバックエンドへ転送し、レスポンスをそのまま中継する。
func (s *Server) forward() gin.HandlerFunc {
	return func(c *gin.Context) {
		r, _ := routeFrom(c)
		client := s.clients[r.Backend]

		header := make(http.Header, len(forwardedRequestHeaders))
		for _, name := range forwardedRequestHeaders {
			if v := c.Request.Header.Get(name); v != "" {
				header.Set(name, v)
			}
		}

		start := time.Now()
		resp, err := client.Forward(c.Request.Context(), httpclient.Request{
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			RawPath:       c.Request.URL.RawPath,
			RawQuery:      c.Request.URL.RawQuery,
			Header:        header,
			Body:          c.Request.Body,
			ContentLength: c.Request.ContentLength,
		})
		if err != nil {
			s.handleForwardError(c, r, time.Since(start), err)
			return
		}
		defer resp.Body.Close()

		for name, values := range resp.Header {
			if strings.HasPrefix(name, "Content-") || name == http.CanonicalHeaderKey(middleware.HeaderRequestID) {
				c.Writer.Header()[name] = append([]string(nil), values...)
			}
		}
		c.Writer.WriteHeader(resp.StatusCode)
		c.Writer.WriteHeaderNow()

		if _, err := io.Copy(c.Writer, resp.Body); err != nil {
			s.metrics.Upstream(r.ID, time.Since(start), "relay")
			s.log.Warn("レスポンスの中継が途中で失敗",
				zap.String("route", r.ID),
				zap.String("request_id", middleware.RequestIDFrom(c)),
				zap.Error(err),
			)
			c.Abort()
			return
		}
		s.metrics.Upstream(r.ID, time.Since(start), "")
	}
}

// handleForwardError は転送の失敗をステータスに変換する。
// クライアントが切断した場合は応答を書かずに中断する。
func (s *Server) handleForwardError(c *gin.Context, r Route, elapsed time.Duration, err error) {
	fields := []zap.Field{
		zap.String("route", r.ID),
		zap.String("backend", r.Backend),
		zap.String("request_id", middleware.RequestIDFrom(c)),
		zap.Error(err),
	}

	if errors.Is(err, context.Canceled) {
		s.metrics.Upstream(r.ID, elapsed, "canceled")
		s.log.Info("クライアントの切断により転送を中止", fields...)
		c.Abort()
		return
	}

	reason := "unavailable"
	if errors.Is(err, apperr.ErrBackendTimeout) {
		reason = "timeout"
	}
	s.metrics.Upstream(r.ID, elapsed, reason)
	s.log.Error("バックエンドへの転送に失敗", fields...)
	response.Fail(c, err)
}

// backendStatus はバックエンドの疎通状態。
type backendStatus struct {
	// Backend はバックエンドのベースURL。
	Backend string `json:"backend"`
	// Status は "ok" または "unavailable"。
	Status string `json:"status"`
}

// handleReady は全バックエンドの/healthを並行して確認するハンドラを返す。
func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		backends := make([]string, 0, len(s.clients))
		for base := range s.clients {
			backends = append(backends, base)
		}
		slices.Sort(backends)
		statuses := make([]backendStatus, len(backends))

		var g errgroup.Group
		for i, base := range backends {
			client := s.clients[base]
			g.Go(func() error {
				statuses[i] = backendStatus{Backend: base, Status: "ok"}
				if err := client.GetJSON(ctx, "/health", nil); err != nil {
					statuses[i].Status = "unavailable"
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			s.log.Warn("バックエンドの疎通確認に失敗", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, response.Envelope{
				Success: false,
				Data:    gin.H{"backends": statuses},
				Error: &response.ErrorBody{
					Code:    apperr.ErrBackendUnavailable.Code,
					Message: apperr.ErrBackendUnavailable.Message,
				},
			})
			return
		}
		response.OK(c, http.StatusOK, gin.H{"status": "ready", "backends": statuses})
	}
}
