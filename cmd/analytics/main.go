// Analyticsサービスのエントリポイント。
// 掲示板とニュースの投稿数をグラフ用に集計し、ダッシュボードの件数、
// メンテナンス告知、パッチノートを返す。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/brgyportal/announce/internal/analytics"
	"github.com/brgyportal/announce/internal/app"
	"github.com/brgyportal/announce/internal/config"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Analyticsサービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"), "8087")
	if err != nil {
		return err
	}
	log := logx.New(logx.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console}).
		With(logx.String("service", "analytics"))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	server, err := analytics.NewServer(analytics.Config{
		Location:       loc,
		StoreTimeout:   cfg.StoreTimeout(),
		JWTSecret:      cfg.Admin.JWTSecret,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, st, log, metrics.New("analytics"))
	if err != nil {
		return fmt.Errorf("Analyticsサーバーの初期化に失敗: %w", err)
	}

	log.Info("Analyticsサービスを起動します",
		logx.String("port", cfg.Port),
		logx.String("timezone", loc.String()),
	)
	return app.Serve(ctx, log, ":"+cfg.Port, server.Handler())
}
