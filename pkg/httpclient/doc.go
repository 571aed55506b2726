// Package httpclient はgatewayからバックエンドサービスへの転送を行うクライアントを提供する。
//
// リクエストのメソッド、パス、クエリ、ボディをそのまま送信し、レスポンスを
// 加工せずに返す。通信の失敗はタイムアウトと接続不能に分類される。
package httpclient
