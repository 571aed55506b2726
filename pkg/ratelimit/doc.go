// Package ratelimit は固定ウィンドウ方式のリクエスト数制限を提供する。
//
// キー（クライアント識別子とルートIDの組）ごとに (count, window_start) を保持し、
// ウィンドウ経過でリセット、インクリメント、上限超過判定を1つの不可分な
// 手順として実行する。カウンタの保持先は Store インターフェースで抽象化され、
// プロセス内の MemoryStore と、複数のゲートウェイで共有する RedisStore がある。
//
// ウィンドウはスライドしないため、境界をまたいで最大 2×上限 のバーストが
// 起こり得る。
package ratelimit
