package apperr

import (
	"errors"
	"net/http"
)

// Error はHTTPステータスとエラーコードを持つアプリケーションエラー。
type Error struct {
	// Status はレスポンスに使用するHTTPステータスコード。
	Status int
	// Code はクライアント向けの機械可読なエラーコード。
	Code string
	// Message はクライアント向けのメッセージ。
	Message string
	// kind はログ出力用の内部的な種別名。レスポンスには含めない。
	kind string
}

// Error はerrorインターフェースを実装する。内部種別名を返す。
func (e *Error) Error() string {
	return e.kind
}

// New は新しいアプリケーションエラーを生成する。
// kindはログ用の識別名で、クライアントには公開されない。
func New(status int, code, message, kind string) *Error {
	return &Error{Status: status, Code: code, Message: message, kind: kind}
}

const (
	codeUnauthenticated = "unauthenticated"
	msgUnauthenticated  = "認証が必要です"
)

var (
	// ErrMalformedToken はトークンの形式が不正であることを表す。
	ErrMalformedToken = New(http.StatusUnauthorized, codeUnauthenticated, msgUnauthenticated, "malformed token")
	// ErrBadSignature はトークンの署名検証に失敗したことを表す。
	ErrBadSignature = New(http.StatusUnauthorized, codeUnauthenticated, msgUnauthenticated, "bad signature")
	// ErrExpired はトークンの有効期限が切れていることを表す。
	ErrExpired = New(http.StatusUnauthorized, codeUnauthenticated, msgUnauthenticated, "token expired")
	// ErrMissingCredential はBearerトークンが提示されていないことを表す。
	ErrMissingCredential = New(http.StatusUnauthorized, codeUnauthenticated, msgUnauthenticated, "missing credential")
	// ErrUnauthenticated は認証失敗全般を表す。
	ErrUnauthenticated = New(http.StatusUnauthorized, codeUnauthenticated, msgUnauthenticated, "unauthenticated")
	// ErrForbidden は必要なロールを持たないことを表す。
	ErrForbidden = New(http.StatusForbidden, "forbidden", "この操作を行う権限がありません", "forbidden")
	// ErrRateLimited はリクエスト数の上限を超えたことを表す。
	ErrRateLimited = New(http.StatusTooManyRequests, "rate_limited", "リクエスト数が上限を超えました", "rate limited")
	// ErrRouteNotFound はパスに対応するルートが存在しないことを表す。
	ErrRouteNotFound = New(http.StatusNotFound, "route_not_found", "指定されたパスに対応するルートがありません", "route not found")
	// ErrBackendUnavailable はバックエンドサービスとの通信に失敗したことを表す。
	ErrBackendUnavailable = New(http.StatusBadGateway, "backend_unavailable", "内部サービスとの通信に失敗しました", "backend unavailable")
	// ErrBackendTimeout はバックエンドサービスの応答がタイムアウトしたことを表す。
	ErrBackendTimeout = New(http.StatusGatewayTimeout, "backend_timeout", "内部サービスの応答がタイムアウトしました", "backend timeout")
	// ErrNotFound はリソースが存在しないことを表す。
	ErrNotFound = New(http.StatusNotFound, "not_found", "リソースが見つかりません", "not found")
	// ErrBadRequest はリクエストの内容が不正であることを表す。
	ErrBadRequest = New(http.StatusBadRequest, "bad_request", "リクエストが不正です", "bad request")
	// ErrInternal は内部エラーを表す。
	ErrInternal = New(http.StatusInternalServerError, "internal_error", "内部サーバーエラーが発生しました", "internal error")
)

// From はerrからアプリケーションエラーを取り出す。
// アプリケーションエラーを含まない場合はErrInternalを返す。
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal
}

// IsAuthFailure はerrが認証失敗に分類されるかを返す。
func IsAuthFailure(err error) bool {
	return From(err).Code == codeUnauthenticated
}
