// Package database はSQLiteデータベースへの接続を提供する。
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// SQLiteドライバ（cgo不要）
	_ "modernc.org/sqlite"
)

// pragmas は接続ごとに設定するPRAGMA。
var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"foreign_keys(1)",
}

// DSN はファイルパスからSQLiteのDSNを組み立てる。
// ":memory:" の場合は共有キャッシュを使わないインメモリDBになる。
func DSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + strings.Join(params, "&")
}

// Open はSQLiteデータベースを開き、疎通を確認する。
// インメモリDBの場合は接続ごとに別のDBになるため、接続数を1に制限する。
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースの疎通確認に失敗: %w", err)
	}
	return db, nil
}
