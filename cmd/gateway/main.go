// API Gatewayサービスのエントリポイント。
// 管理画面とWebhook送信元からのリクエストを受け付け、
// 通知サービスとAnalyticsサービスへ転送する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/brgyportal/announce/internal/app"
	"github.com/brgyportal/announce/internal/config"
	"github.com/brgyportal/announce/internal/gateway"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Gatewayサービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"), "8080")
	if err != nil {
		return err
	}
	log := logx.New(logx.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console}).
		With(logx.String("service", "gateway"))

	server, err := gateway.NewServer(gateway.Config{
		NotificationURL: cfg.Gateway.NotificationURL,
		AnalyticsURL:    cfg.Gateway.AnalyticsURL,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
	}, log, metrics.New("gateway"))
	if err != nil {
		return fmt.Errorf("Gatewayサーバーの初期化に失敗: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Gatewayサービスを起動します",
		logx.String("port", cfg.Port),
		logx.String("notification", cfg.Gateway.NotificationURL),
		logx.String("analytics", cfg.Gateway.AnalyticsURL),
	)
	return app.Serve(ctx, log, ":"+cfg.Port, server.Handler())
}
