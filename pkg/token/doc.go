// Package token は署名付きBearerトークンの発行と検証を提供する。
//
// トークンはJWT形式で、サブジェクト（ユーザーID）、ロール一覧、
// 発行日時、有効期限を持つ。全サービスで共有する秘密鍵とHMAC系の
// 署名アルゴリズムで署名される。有効期限の判定に猶予（leeway）は設けない。
package token
