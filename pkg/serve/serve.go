// Package serve はHTTPサーバーの起動とグレースフルシャットダウンを提供する。
package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout は処理中のリクエストの完了を待つ最大時間。
const ShutdownTimeout = 10 * time.Second

// ListenAndServe はaddrでリッスンし、ctxが終了するまでhandlerを提供する。
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s でのリッスンに失敗: %w", addr, err)
	}
	return Serve(ctx, ln, handler, log)
}

// Serve はlnでhandlerを提供する。ctxが終了すると新規接続の受け付けを止め、
// 処理中のリクエストをShutdownTimeoutまで待ってから戻る。
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTPサーバーを起動します", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーが異常終了: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("HTTPサーバーを停止します")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
		}
		return nil
	})
	return g.Wait()
}
