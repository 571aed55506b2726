// Package orders は注文の作成、参照、状態管理を行うordersサービスを提供する。
//
// 注文の合計金額は明細の数量と単価から計算される。完了またはキャンセル済みの
// 注文はキャンセルできない。
package orders
