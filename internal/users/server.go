package users

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Dan203302/control-system-backend/pkg/apperr"
	"github.com/Dan203302/control-system-backend/pkg/authz"
	"github.com/Dan203302/control-system-backend/pkg/middleware"
	"github.com/Dan203302/control-system-backend/pkg/response"
	"github.com/Dan203302/control-system-backend/pkg/token"
)

var (
	// ErrUserExists はメールアドレスが登録済みであることを表す。
	ErrUserExists = apperr.New(http.StatusConflict, "user_exists", "このメールアドレスは既に登録されています", "user exists")
	// ErrInvalidCredentials はメールアドレスまたはパスワードが誤っていることを表す。
	ErrInvalidCredentials = apperr.New(http.StatusUnauthorized, "invalid_credentials", "メールアドレスまたはパスワードが正しくありません", "invalid credentials")
)

// defaultRoles は登録時にロールが指定されなかった場合のロール。
var defaultRoles = []string{authz.RoleEngineer}

// Options はusersサーバーの構成要素。
type Options struct {
	// Store はユーザーのストア。
	Store *Store
	// Codec はトークンの発行と検証に使う。
	Codec *token.Codec
	// TokenTTL は発行するトークンの有効期間。
	TokenTTL time.Duration
	// BcryptCost はパスワードハッシュのコスト。0なら既定値。
	BcryptCost int
	// CORSOrigins は許可するオリジン。
	CORSOrigins []string
	// Logger はログ出力先。
	Logger *zap.Logger
}

// Server はusersサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// store はユーザーのストア。
	store *Store
	// codec はトークンの発行と検証に使う。
	codec *token.Codec
	// tokenTTL は発行するトークンの有効期間。
	tokenTTL time.Duration
	// bcryptCost はパスワードハッシュのコスト。
	bcryptCost int
	// dummyHash はユーザーが存在しない場合の比較に使うハッシュ。
	dummyHash []byte
	// log はログ出力先。
	log *zap.Logger
}

// NewServer は新しいusersサーバーを生成する。
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Codec == nil {
		return nil, errors.New("StoreとCodecは必須です")
	}
	if opts.TokenTTL <= 0 {
		return nil, fmt.Errorf("トークンの有効期間が不正です: %s", opts.TokenTTL)
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("ダミーハッシュの生成に失敗: %w", err)
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
		router:     router,
		store:      opts.Store,
		codec:      opts.Codec,
		tokenTTL:   opts.TokenTTL,
		bcryptCost: cost,
		dummyHash:  dummy,
		log:        log,
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
	{
		auth := api.Group("/auth")
		{
			// ユーザー登録
			auth.POST("/register", s.handleRegister())
			// ログイン
			auth.POST("/login", s.handleLogin())
		}

		users := api.Group("/users")
		users.Use(middleware.Authenticate(s.codec, s.store, s.log))
		{
			// 自分の情報
			users.GET("/me", s.handleGetMe())
			// 自分の情報の更新
			users.PUT("/me", s.handleUpdateMe())
			// ユーザー一覧（管理者のみ）
			users.GET("", middleware.RequireRoles(authz.RoleAdmin), s.handleList())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"status": "ok", "service": "users"})
	})

	s.router.NoRoute(func(c *gin.Context) {
		response.Fail(c, apperr.ErrNotFound)
	})
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	// Email はログインに使うメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Password は6文字以上のパスワード。
	Password string `json:"password" binding:"required,min=6,max=72"`
	// Name は表示名。
	Name string `json:"name" binding:"required,min=1"`
	// Roles は付与するロール。省略時はengineer。
	Roles []string `json:"roles" binding:"omitempty,dive,oneof=admin manager engineer"`
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// updateMeRequest は自分の情報の更新リクエストのJSON構造。
// 変更できるのは名前のみで、ロールは無視される。
type updateMeRequest struct {
	Name *string `json:"name" binding:"omitempty,min=1"`
}

// tokenResponse はログイン成功時のレスポンス。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// userResponse はユーザーのJSONレスポンス構造。
type userResponse struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Email はメールアドレス。
	Email string `json:"email"`
	// Name は表示名。
	Name string `json:"name"`
	// Roles はロール。
	Roles []string `json:"roles"`
}

// usersPage はユーザー一覧のレスポンス構造。
type usersPage struct {
	Items []userResponse `json:"items"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}

// listQuery はユーザー一覧のクエリパラメータ。
type listQuery struct {
	Page int    `form:"page,default=1" binding:"min=1"`
	Size int    `form:"size,default=20" binding:"min=1,max=100"`
	Q    string `form:"q"`
}

// toUserResponse はUserをJSONレスポンスに変換する。
func toUserResponse(u User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, Roles: u.Roles}
}

// badRequest はバインドエラーをErrBadRequestでラップする。
func badRequest(err error) error {
	return fmt.Errorf("%w: %w", apperr.ErrBadRequest, err)
}

// handleRegister はユーザー登録を処理するハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, badRequest(err))
			return
		}

		roles := req.Roles
		if len(roles) == 0 {
			roles = defaultRoles
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
		if err != nil {
			response.Fail(c, fmt.Errorf("パスワードのハッシュ化に失敗: %w", err))
			return
		}

		u, err := s.store.Create(c.Request.Context(), req.Email, string(hash), strings.TrimSpace(req.Name), roles)
		if errors.Is(err, ErrEmailTaken) {
			response.Fail(c, ErrUserExists)
			return
		}
		if err != nil {
			s.log.Error("ユーザー登録エラー", zap.Error(err))
			response.Fail(c, err)
			return
		}

		s.log.Info("ユーザーを登録しました", zap.String("user_id", u.ID))
		response.OK(c, http.StatusCreated, gin.H{"id": u.ID})
	}
}

// handleLogin はログインを処理するハンドラを返す。
// ユーザーが存在しない場合もハッシュ比較を行い、応答時間の差を抑える。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, badRequest(err))
			return
		}

		u, err := s.store.GetByEmail(c.Request.Context(), req.Email)
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			s.log.Error("ユーザー取得エラー", zap.Error(err))
			response.Fail(c, err)
			return
		}

		hash := s.dummyHash
		if err == nil {
			hash = []byte(u.PasswordHash)
		}
		if cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); cmpErr != nil || err != nil {
			response.Fail(c, ErrInvalidCredentials)
			return
		}

		tok, err := s.codec.Issue(u.ID, u.Roles, s.tokenTTL)
		if err != nil {
			response.Fail(c, fmt.Errorf("トークンの発行に失敗: %w", err))
			return
		}
		response.OK(c, http.StatusOK, tokenResponse{AccessToken: tok, TokenType: "bearer"})
	}
}

// currentUser は認証済みIDに対応するユーザーを取得する。
func (s *Server) currentUser(c *gin.Context) (User, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return User{}, apperr.ErrUnauthenticated
	}
	u, err := s.store.GetByID(c.Request.Context(), id.Subject)
	if errors.Is(err, ErrUserNotFound) {
		return User{}, fmt.Errorf("%w: %w", apperr.ErrUnauthenticated, err)
	}
	return u, err
}

// handleGetMe は自分の情報を返すハンドラを返す。
func (s *Server) handleGetMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := s.currentUser(c)
		if err != nil {
			response.Fail(c, err)
			return
		}
		response.OK(c, http.StatusOK, toUserResponse(u))
	}
}

// handleUpdateMe は自分の名前を更新するハンドラを返す。
func (s *Server) handleUpdateMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateMeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, badRequest(err))
			return
		}

		u, err := s.currentUser(c)
		if err != nil {
			response.Fail(c, err)
			return
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				response.Fail(c, badRequest(errors.New("名前が空です")))
				return
			}
			userID := u.ID
			u, err = s.store.UpdateName(c.Request.Context(), userID, name)
			if err != nil {
				s.log.Error("ユーザー更新エラー", zap.String("user_id", userID), zap.Error(err))
				response.Fail(c, err)
				return
			}
		}
		response.OK(c, http.StatusOK, toUserResponse(u))
	}
}

// handleList はユーザー一覧を返すハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q listQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			response.Fail(c, badRequest(err))
			return
		}

		users, total, err := s.store.List(c.Request.Context(), ListParams{Page: q.Page, Size: q.Size, Query: q.Q})
		if err != nil {
			s.log.Error("ユーザー一覧取得エラー", zap.Error(err))
			response.Fail(c, err)
			return
		}

		items := make([]userResponse, 0, len(users))
		for _, u := range users {
			items = append(items, toUserResponse(u))
		}
		response.OK(c, http.StatusOK, usersPage{Items: items, Total: total, Page: q.Page, Size: q.Size})
	}
}
