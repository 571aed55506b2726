package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Dan203302/control-system-backend/pkg/apperr"
	"github.com/Dan203302/control-system-backend/pkg/authz"
	"github.com/Dan203302/control-system-backend/pkg/response"
	"github.com/Dan203302/control-system-backend/pkg/token"
)

// identityKey はGinコンテキストに認証済みIDを保存するキー。
const identityKey = "identity"

// SubjectResolver はトークンの主体がまだ存在するかを確認する。
// ユーザーストアを持つサービスが実装する。
type SubjectResolver interface {
	// SubjectExists は主体が存在する場合にtrueを返す。
	SubjectExists(ctx context.Context, subject string) (bool, error)
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// スキーム名の大文字小文字は区別しない。
func BearerToken(header string) (string, bool) {
	scheme, rest, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(rest)
	return tok, tok != ""
}

// RequireBearer はBearerトークンの存在だけを確認するGinミドルウェアを返す。
// トークンのデコードは行わない。gatewayサービスで使用する。
func RequireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := BearerToken(c.GetHeader("Authorization")); !ok {
			response.Fail(c, apperr.ErrMissingCredential)
			return
		}
		c.Next()
	}
}

// Authenticate はトークンを完全に検証するGinミドルウェアを返す。
// resolverがnilでなければ主体の存在も確認する。失敗の詳細はデバッグログにのみ出力し、
// 呼び出し元には一律でunauthenticatedを返す。
func Authenticate(codec *token.Codec, resolver SubjectResolver, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		id, err := authenticate(c, codec, resolver)
		if err != nil {
			log.Debug("認証に失敗",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			if !apperr.IsAuthFailure(err) {
				response.Fail(c, fmt.Errorf("%w: %w", apperr.ErrUnauthenticated, err))
				return
			}
			response.Fail(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func authenticate(c *gin.Context, codec *token.Codec, resolver SubjectResolver) (token.Identity, error) {
	raw, ok := BearerToken(c.GetHeader("Authorization"))
	if !ok {
		return token.Identity{}, apperr.ErrMissingCredential
	}
	id, err := codec.Verify(raw)
	if err != nil {
		return token.Identity{}, err
	}
	if resolver == nil {
		return id, nil
	}
	exists, err := resolver.SubjectExists(c.Request.Context(), id.Subject)
	if err != nil {
		return token.Identity{}, fmt.Errorf("主体の確認に失敗: %w", err)
	}
	if !exists {
		return token.Identity{}, fmt.Errorf("主体 %q が存在しません: %w", id.Subject, apperr.ErrUnauthenticated)
	}
	return id, nil
}

// IdentityFrom はGinコンテキストから認証済みIDを取得する。
// Authenticateミドルウェアが事前に適用されている必要がある。
func IdentityFrom(c *gin.Context) (token.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return token.Identity{}, false
	}
	id, ok := v.(token.Identity)
	return id, ok
}

// RequireRoles は認証済みIDがいずれかのロールを持つことを要求するGinミドルウェアを返す。
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			response.Fail(c, apperr.ErrUnauthenticated)
			return
		}
		if err := authz.Require(id, roles...); err != nil {
			response.Fail(c, err)
			return
		}
		c.Next()
	}
}
