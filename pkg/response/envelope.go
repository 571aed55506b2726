// Package response は全サービス共通のJSONレスポンス形式を提供する。
//
// 成功時は {"success": true, "data": ...}、失敗時は
// {"success": false, "error": {"code": ..., "message": ...}} を返す。
package response

import (
	"github.com/gin-gonic/gin"

	"github.com/Dan203302/control-system-backend/pkg/apperr"
)

// Envelope はすべてのJSONレスポンスの外側の構造。
type Envelope struct {
	// Success は処理が成功したかどうか。
	Success bool `json:"success"`
	// Data は成功時のペイロード。
	Data any `json:"data,omitempty"`
	// Error は失敗時のエラー情報。
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody は失敗時のエラー情報。
type ErrorBody struct {
	// Code は機械可読なエラーコード。
	Code string `json:"code"`
	// Message は人間向けのメッセージ。
	Message string `json:"message"`
}

// OK は成功レスポンスを書き込む。
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

// Fail はerrに対応するステータスとエラーコードで失敗レスポンスを書き込み、
// 後続のハンドラを中断する。アプリケーションエラー以外は500として扱う。
func Fail(c *gin.Context, err error) {
	appErr := apperr.From(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(appErr.Status, Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}
