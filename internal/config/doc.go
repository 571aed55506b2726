// Package config は全サービス共通の設定を読み込む。
//
// 値は環境変数、YAMLファイル、既定値の順に優先される。環境変数名は設定キーの
// ドットをアンダースコアに置き換えた大文字（例: jwt.secret → JWT_SECRET）。
// 読み込み後の設定は不変であり、各コンポーネントへ注入して使用する。
package config
