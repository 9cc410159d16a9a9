// 通知サービスのエントリポイント。
// フォーム送信のWebhookを受け付けて未読通知として保存し、
// 管理画面へServer-Sent Eventsで配信する。既読管理のAPIも提供する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/brgyportal/announce/internal/app"
	"github.com/brgyportal/announce/internal/config"
	"github.com/brgyportal/announce/internal/notification"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "通知サービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"), "8086")
	if err != nil {
		return err
	}
	log := logx.New(logx.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console}).
		With(logx.String("service", "notification"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New("notification")
	hub := notification.NewHub(notification.HubConfig{
		QueueSize:        cfg.Broadcast.QueueSize,
		SubscriberBuffer: cfg.Broadcast.SubscriberBuffer,
	}, log, m)
	hub.Start(ctx)
	defer hub.Stop()

	server, err := notification.NewServer(notification.Config{
		Secret:         cfg.Webhook.Secret,
		StoreTimeout:   cfg.StoreTimeout(),
		KeepAlive:      cfg.KeepAlive(),
		RatePerSec:     cfg.Webhook.RatePerSec,
		Burst:          cfg.Webhook.Burst,
		JWTSecret:      cfg.Admin.JWTSecret,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, st, hub, log, m)
	if err != nil {
		return fmt.Errorf("通知サーバーの初期化に失敗: %w", err)
	}

	log.Info("通知サービスを起動します", logx.String("port", cfg.Port), logx.String("store", cfg.Store.Driver))
	return app.Serve(ctx, log, ":"+cfg.Port, server.Handler())
}
