package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Dan203302/control-system-backend/pkg/apperr"
)

// Claims はトークンのクレーム（ペイロード）を表す。
// sub / iat / exp は jwt.RegisteredClaims が保持する。
type Claims struct {
	jwt.RegisteredClaims
	// Roles はユーザーに付与されたロール名の一覧。
	Roles []string `json:"roles"`
}

// Identity は検証済みトークンから得られる利用者の情報。
// リクエスト単位で使用され、永続化されない。
type Identity struct {
	// Subject はユーザーの一意識別子。
	Subject string `json:"subject"`
	// Roles はユーザーのロール一覧。
	Roles []string `json:"roles"`
}

// Codec はトークンの発行と検証を行う。
// 生成後は不変であり、複数のgoroutineから同時に使用できる。
type Codec struct {
	// secret は署名用の共有秘密鍵。
	secret []byte
	// method は署名アルゴリズム。
	method *jwt.SigningMethodHMAC
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// Option はCodecの設定を変更する。
type Option func(*Codec)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec は新しいCodecを生成する。
// algorithmには HS256 / HS384 / HS512 のいずれかを指定する。
func NewCodec(secret, algorithm string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("署名用の秘密鍵が空です")
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("未対応の署名アルゴリズム: %q", algorithm)
	}

	c := &Codec{
		secret: []byte(secret),
		method: method,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Algorithm は署名アルゴリズム名を返す。
func (c *Codec) Algorithm() string {
	return c.method.Alg()
}

// Issue はサブジェクトとロールから署名付きトークンを発行する。
// 発行日時は現在時刻、有効期限は現在時刻+ttlとなる。
func (c *Codec) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("サブジェクトが空です")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("有効期間は正の値である必要があります: %v", ttl)
	}
	if roles == nil {
		roles = []string{}
	}

	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、利用者情報を返す。
// 形式不正は apperr.ErrMalformedToken、署名不一致は apperr.ErrBadSignature、
// 期限切れ（現在時刻 >= exp）は apperr.ErrExpired をラップして返す。
func (c *Codec) Verify(tokenString string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Identity{}, classify(err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: サブジェクトがありません", apperr.ErrMalformedToken)
	}

	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	return Identity{Subject: claims.Subject, Roles: roles}, nil
}

// classify はjwtライブラリのエラーをアプリケーションエラーに変換する。
// 署名の検証はクレームの検証より先に行われるため、期限切れと判定された
// トークンは署名が正しいことが保証されている。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", apperr.ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", apperr.ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", apperr.ErrMalformedToken, err)
	}
}
