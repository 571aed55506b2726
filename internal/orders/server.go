package orders

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Dan203302/control-system-backend/pkg/apperr"
	"github.com/Dan203302/control-system-backend/pkg/authz"
	"github.com/Dan203302/control-system-backend/pkg/middleware"
	"github.com/Dan203302/control-system-backend/pkg/response"
	"github.com/Dan203302/control-system-backend/pkg/token"
)

// ErrNotAllowed は注文の状態が操作を許可しないことを表す。
var ErrNotAllowed = apperr.New(http.StatusBadRequest, "not_allowed", "この状態の注文はキャンセルできません", "not allowed")

// Options はordersサーバーの構成要素。
type Options struct {
	// Store は注文のストア。
	Store *Store
	// Codec はトークンの検証に使う。
	Codec *token.Codec
	// CORSOrigins は許可するオリジン。
	CORSOrigins []string
	// Logger はログ出力先。
	Logger *zap.Logger
}

// Server はordersサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// store は注文のストア。
	store *Store
	// codec はトークンの検証に使う。
	codec *token.Codec
	// log はログ出力先。
	log *zap.Logger
}

// NewServer は新しいordersサーバーを生成する。
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Codec == nil {
		return nil, errors.New("StoreとCodecは必須です")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(log))
	router.Use(middleware.AccessLog(log))
	router.Use(middleware.CORS(opts.CORSOrigins))

	s := &Server{
		router: router,
		store:  opts.Store,
		codec:  opts.Codec,
		log:    log,
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
	orders := s.router.Group("/api/v1/orders")
	// ordersサービスはユーザーを保持しないため、主体の存在確認は行わない。
	orders.Use(middleware.Authenticate(s.codec, nil, s.log))
	{
		orders.POST("", s.handleCreate())
		orders.GET("", s.handleList())
		orders.GET("/:id", s.handleGet())
		// 状態変更（マネージャーと管理者のみ）
		orders.PATCH("/:id/status", middleware.RequireRoles(authz.RoleManager, authz.RoleAdmin), s.handleUpdateStatus())
		orders.POST("/:id/cancel", s.handleCancel())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"status": "ok", "service": "orders"})
	})

	s.router.NoRoute(func(c *gin.Context) {
		response.Fail(c, apperr.ErrNotFound)
	})
}

// createRequest は注文作成リクエストのJSON構造。
type createRequest struct {
	Items []Item `json:"items" binding:"required,min=1,dive"`
}

// statusRequest は状態変更リクエストのJSON構造。
type statusRequest struct {
	Status Status `json:"status" binding:"required,oneof=created in_progress done canceled"`
}

// listQuery は注文一覧のクエリパラメータ。
type listQuery struct {
	Page int    `form:"page,default=1" binding:"min=1"`
	Size int    `form:"size,default=20" binding:"min=1,max=100"`
	Sort string `form:"sort,default=-created_at" binding:"oneof=created_at -created_at"`
}

// orderResponse は注文のJSONレスポンス構造。
type orderResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Items       []Item  `json:"items"`
	Status      Status  `json:"status"`
	TotalAmount float64 `json:"total_amount"`
}

// ordersPage は注文一覧のレスポンス構造。
type ordersPage struct {
	Items []orderResponse `json:"items"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

// toOrderResponse はOrderをJSONレスポンスに変換する。
func toOrderResponse(o Order) orderResponse {
	items := o.Items
	if items == nil {
		items = []Item{}
	}
	return orderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Items:       items,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
	}
}

// badRequest はバインドエラーをErrBadRequestでラップする。
func badRequest(err error) error {
	return fmt.Errorf("%w: %w", apperr.ErrBadRequest, err)
}

// fromStoreError はストアのエラーをアプリケーションエラーに変換する。
func fromStoreError(err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	case errors.Is(err, ErrOrderFinal):
		return fmt.Errorf("%w: %w", ErrNotAllowed, err)
	default:
		return err
	}
}

// identity は認証済みIDを取り出す。
func identity(c *gin.Context) (token.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return token.Identity{}, apperr.ErrUnauthenticated
	}
	return id, nil
}

// handleCreate は注文を作成するハンドラを返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := identity(c)
		if err != nil {
			response.Fail(c, err)
			return
		}
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, badRequest(err))
			return
		}

		o, err := s.store.Create(c.Request.Context(), id.Subject, req.Items)
		if err != nil {
			s.log.Error("注文作成エラー", zap.String("user_id", id.Subject), zap.Error(err))
			response.Fail(c, err)
			return
		}

		s.log.Info("注文を作成しました", zap.String("order_id", o.ID), zap.String("user_id", o.UserID))
		response.OK(c, http.StatusCreated, toOrderResponse(o))
	}
}

// handleGet は注文を返すハンドラを返す。
// 注文者以外はマネージャーか管理者である必要がある。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := identity(c)
		if err != nil {
			response.Fail(c, err)
			return
		}

		o, err := s.store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			response.Fail(c, fromStoreError(err))
			return
		}
		if o.UserID != id.Subject && !authz.HasAnyRole(id, authz.RoleManager, authz.RoleAdmin) {
			response.Fail(c, apperr.ErrForbidden)
			return
		}
		response.OK(c, http.StatusOK, toOrderResponse(o))
	}
}

// handleList は自分の注文一覧を返すハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := identity(c)
		if err != nil {
			response.Fail(c, err)
			return
		}
		var q listQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			response.Fail(c, badRequest(err))
			return
		}

		orders, total, err := s.store.ListByUser(c.Request.Context(), ListParams{
			UserID:    id.Subject,
			Page:      q.Page,
			Size:      q.Size,
			Ascending: q.Sort == "created_at",
		})
		if err != nil {
			s.log.Error("注文一覧取得エラー", zap.String("user_id", id.Subject), zap.Error(err))
			response.Fail(c, err)
			return
		}

		items := make([]orderResponse, 0, len(orders))
		for _, o := range orders {
			items = append(items, toOrderResponse(o))
		}
		response.OK(c, http.StatusOK, ordersPage{Items: items, Total: total, Page: q.Page, Size: q.Size})
	}
}

// handleUpdateStatus は注文の状態を変更するハンドラを返す。
func (s *Server) handleUpdateStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, badRequest(err))
			return
		}

		orderID := c.Param("id")
		o, err := s.store.UpdateStatus(c.Request.Context(), orderID, req.Status)
		if err != nil {
			if !errors.Is(err, ErrOrderNotFound) {
				s.log.Error("注文状態更新エラー", zap.String("order_id", orderID), zap.Error(err))
			}
			response.Fail(c, fromStoreError(err))
			return
		}

		s.log.Info("注文状態を更新しました", zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
		response.OK(c, http.StatusOK, toOrderResponse(o))
	}
}

// handleCancel は自分の注文をキャンセルするハンドラを返す。
func (s *Server) handleCancel() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := identity(c)
		if err != nil {
			response.Fail(c, err)
			return
		}

		ctx := c.Request.Context()
		o, err := s.store.Get(ctx, c.Param("id"))
		if err != nil {
			response.Fail(c, fromStoreError(err))
			return
		}
		if o.UserID != id.Subject {
			response.Fail(c, apperr.ErrForbidden)
			return
		}

		o, err = s.store.Cancel(ctx, o.ID)
		if err != nil {
			response.Fail(c, fromStoreError(err))
			return
		}

		s.log.Info("注文をキャンセルしました", zap.String("order_id", o.ID))
		response.OK(c, http.StatusOK, toOrderResponse(o))
	}
}
