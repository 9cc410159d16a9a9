// Package app は各サービスのエントリポイントで共有する起動処理を提供する。
// 設定に従ったストアの生成と、HTTPサーバーの起動・グレースフルシャットダウンを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brgyportal/announce/internal/config"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/store"
	"github.com/brgyportal/announce/pkg/store/memstore"
	"github.com/brgyportal/announce/pkg/store/pgstore"
	"github.com/brgyportal/announce/pkg/store/remotestore"
	"github.com/brgyportal/announce/pkg/store/sqlitestore"
)

// ShutdownTimeout はシャットダウン時に処理中のリクエストを待つ時間。
const ShutdownTimeout = 10 * time.Second

// OpenStore はstore.driverに応じたストアを生成する。返すclose関数は必ず呼ぶこと。
func OpenStore(ctx context.Context, cfg config.Config, log logx.Logger) (store.Store, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Store.Driver {
	case "memory":
		return memstore.New(), nop, nil
	case "sqlite":
		st, err := sqlitestore.Open(ctx, cfg.Store.DSN, log)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "postgres":
		st, err := pgstore.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		return st, st.Close, nil
	case "remote":
		return remotestore.New(cfg.Store.URL, cfg.StoreTimeout()), nop, nil
	}
	return nil, nil, fmt.Errorf("未対応のstore.driverです: %q", cfg.Store.Driver)
}

// Serve はctxが終了するまでhandlerをaddrで公開し、終了後はグレースフルに停止する。
func Serve(ctx context.Context, log logx.Logger, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("リッスンに失敗: %w", err)
	}
	return ServeListener(ctx, log, ln, handler)
}

// ServeListener は既に開いたリスナーでServeと同じ処理を行う。
func ServeListener(ctx context.Context, log logx.Logger, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", logx.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		log.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
