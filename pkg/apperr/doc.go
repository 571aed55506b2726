// Package apperr はサービス全体で共有するエラー種別を定義する。
//
// 各エラーはHTTPステータスとクライアント向けのエラーコードを持つ。
// 認証失敗の詳細な原因（形式不正、署名不一致、期限切れなど）は
// すべて同じコード "unauthenticated" に集約され、検証の内部事情を
// クライアントに明かさない。
package apperr
