// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンの存在確認と完全な検証、ロールによる認可、相関IDの付与、
// アクセスログ、パニックリカバリ、CORS設定など、全サービスで共通して使用する
// ミドルウェアを含む。
package middleware
