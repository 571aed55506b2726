package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID はリクエストの相関IDを運ぶヘッダー。
const HeaderRequestID = "X-Request-ID"

// requestIDKey はGinコンテキストに相関IDを保存するキー。
const requestIDKey = "request_id"

// maxRequestIDLength は受け入れる相関IDの最大長。
const maxRequestIDLength = 128

// RequestID は相関IDを引き継ぐか生成するGinミドルウェアを返す。
// 受信したヘッダーの値が空または長すぎる場合は新しいUUIDを採番する。
// 値はリクエストヘッダーとレスポンスヘッダーの両方に設定される。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Request.Header.Set(HeaderRequestID, id)
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestIDFrom はGinコンテキストから相関IDを取得する。
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return c.GetHeader(HeaderRequestID)
}
