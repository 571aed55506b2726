// Package gateway はAPI Gatewayサービスを提供する。
//
// 外部からのリクエストをパスの接頭辞でバックエンドサービスへ振り分ける。
// 転送前にルートごとのレート制限と認証情報の存在確認を行い、
// バックエンドのレスポンスはステータスとボディを変えずに中継する。
package gateway
