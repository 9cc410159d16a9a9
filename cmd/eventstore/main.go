// イベントストアサービスのエントリポイント。
// ローカルのバックエンド（SQLiteまたはPostgreSQL）をHTTPで公開し、
// 他のサービスからremoteドライバで利用できるようにする。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/brgyportal/announce/internal/app"
	"github.com/brgyportal/announce/internal/config"
	"github.com/brgyportal/announce/internal/eventstore"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "イベントストアサービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"), "8084")
	if err != nil {
		return err
	}
	if cfg.Store.Driver == "remote" {
		return errors.New("イベントストアにはremote以外のstore.driverを指定してください")
	}
	log := logx.New(logx.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console}).
		With(logx.String("service", "eventstore"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	server, err := eventstore.NewServer(st, log, metrics.New("eventstore"))
	if err != nil {
		return fmt.Errorf("イベントストアサーバーの初期化に失敗: %w", err)
	}

	log.Info("イベントストアサービスを起動します", logx.String("port", cfg.Port), logx.String("store", cfg.Store.Driver))
	return app.Serve(ctx, log, ":"+cfg.Port, server.Handler())
}
