package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Config はサービスの設定。Loadが返した後は読み取り専用として扱う。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `json:"port"`
	// Logging はログ出力の設定。
	Logging LoggingConfig `json:"logging"`
	// Store はEvent Storeの接続設定。
	Store StoreConfig `json:"store"`
	// Webhook はWebhook取り込みの設定。
	Webhook WebhookConfig `json:"webhook"`
	// Broadcast はリアルタイム配信の設定。
	Broadcast BroadcastConfig `json:"broadcast"`
	// Analytics は集計の設定。
	Analytics AnalyticsConfig `json:"analytics"`
	// Admin は管理者向けAPIの保護設定。
	Admin AdminConfig `json:"admin"`
	// CORS はクロスオリジン許可の設定。
	CORS CORSConfig `json:"cors"`
	// Gateway はAPI Gatewayの転送先の設定。
	Gateway GatewayConfig `json:"gateway"`
}

// LoggingConfig はログ出力の設定。
type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

// StoreConfig はEvent Storeバックエンドの設定。
type StoreConfig struct {
	// Driver は memory / sqlite / postgres / remote のいずれか。
	Driver string `json:"driver"`
	// DSN はsqliteのファイルパスまたはpostgresの接続文字列。
	DSN string `json:"dsn"`
	// URL はremoteドライバ使用時のEvent StoreサービスのベースURL。
	URL string `json:"url"`
	// Timeout はストア操作1回あたりのタイムアウト（Goのduration文字列）。
	Timeout string `json:"timeout"`
}

// WebhookConfig はWebhook取り込みの設定。
type WebhookConfig struct {
	// Secret はWebhook送信元と共有する秘密鍵。
	Secret string `json:"secret"`
	// RatePerSec は1秒あたりの受付上限。0以下で無制限。
	RatePerSec float64 `json:"rate_per_sec"`
	// Burst はトークンバケットのバースト数。
	Burst int `json:"burst"`
}

// BroadcastConfig はリアルタイム配信の設定。
type BroadcastConfig struct {
	// QueueSize は送信キューの容量。
	QueueSize int `json:"queue_size"`
	// SubscriberBuffer は購読者ごとのバッファ容量。
	SubscriberBuffer int `json:"subscriber_buffer"`
	// KeepAlive はSSEのキープアライブ間隔（Goのduration文字列）。
	KeepAlive string `json:"keep_alive"`
}

// AnalyticsConfig は集計の設定。
type AnalyticsConfig struct {
	// Timezone はバケット境界を計算するタイムゾーン（IANA名）。
	Timezone string `json:"timezone"`
}

// AdminConfig は管理者向けAPIの設定。
type AdminConfig struct {
	// JWTSecret が空でない場合、管理者向けAPIにJWT検証を適用する。
	JWTSecret string `json:"jwt_secret"`
}

// CORSConfig はクロスオリジン許可の設定。
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// GatewayConfig はAPI Gatewayの転送先。
type GatewayConfig struct {
	// NotificationURL は通知サービスのベースURL。
	NotificationURL string `json:"notification_url"`
	// AnalyticsURL はAnalyticsサービスのベースURL。
	AnalyticsURL string `json:"analytics_url"`
}

// デフォルト値。
const (
	DefaultTimezone         = "Asia/Manila"
	DefaultStoreDriver      = "sqlite"
	DefaultStoreTimeout     = 10 * time.Second
	DefaultQueueSize        = 256
	DefaultSubscriberBuffer = 16
	DefaultKeepAlive        = 25 * time.Second
	DefaultLogLevel         = "info"
	DefaultNotificationURL  = "http://localhost:8086"
	DefaultAnalyticsURL     = "http://localhost:8087"
)

// Load は設定ファイルを読み込み、環境変数の上書きとデフォルト値を適用する。
// pathが空の場合はファイルを読まず、環境変数とデフォルト値のみを使用する。
func Load(path, defaultPort string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		parsed, err := Parse(path, b)
		if err != nil {
			return Config{}, err
		}
		cfg = parsed
	}

	applyEnv(&cfg, os.LookupEnv)
	applyDefaults(&cfg, defaultPort)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse は設定ファイルの内容をパースする。拡張子が .yaml/.yml の場合はYAMLとして扱う。
// 未知のフィールドはエラーにする。
func Parse(path string, data []byte) (Config, error) {
	jb, err := coerceToJSONBytes(path, data)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	// 連結されたJSONなどの余分なデータは拒否する
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, errors.New("設定が不正です: 余分なデータがあります")
		}
		return Config{}, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	return cfg, nil
}

// coerceToJSONBytes はYAMLをJSONに変換し、JSONと同じ厳格なデコーダで扱えるようにする。
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("YAMLのパースに失敗: %w", err)
	}
	if v == nil {
		return []byte("{}"), nil
	}

	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("YAMLからJSONへの変換に失敗: %w", err)
	}
	return j, nil
}

// normalizeYAML はマップのキーをすべて文字列にする。
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

// applyEnv は環境変数で設定を上書きする。
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("STORE_DRIVER", &cfg.Store.Driver)
	str("STORE_DSN", &cfg.Store.DSN)
	str("EVENTSTORE_URL", &cfg.Store.URL)
	str("WEBHOOK_SECRET", &cfg.Webhook.Secret)
	str("JWT_SECRET", &cfg.Admin.JWTSecret)
	str("TIMEZONE", &cfg.Analytics.Timezone)
	str("NOTIFICATION_URL", &cfg.Gateway.NotificationURL)
	str("ANALYTICS_URL", &cfg.Gateway.AnalyticsURL)

	if v, ok := lookup("LOG_CONSOLE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.Console = b
		}
	}
	if v, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORS.AllowedOrigins = origins
	}
}

func applyDefaults(cfg *Config, defaultPort string) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DefaultStoreDriver
	}
	if cfg.Analytics.Timezone == "" {
		cfg.Analytics.Timezone = DefaultTimezone
	}
	if cfg.Gateway.NotificationURL == "" {
		cfg.Gateway.NotificationURL = DefaultNotificationURL
	}
	if cfg.Gateway.AnalyticsURL == "" {
		cfg.Gateway.AnalyticsURL = DefaultAnalyticsURL
	}
	if cfg.Broadcast.QueueSize <= 0 {
		cfg.Broadcast.QueueSize = DefaultQueueSize
	}
	if cfg.Broadcast.SubscriberBuffer <= 0 {
		cfg.Broadcast.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if cfg.Webhook.RatePerSec > 0 && cfg.Webhook.Burst <= 0 {
		cfg.Webhook.Burst = int(cfg.Webhook.RatePerSec)
		if cfg.Webhook.Burst < 1 {
			cfg.Webhook.Burst = 1
		}
	}
}

// Validate は設定値を検証する。
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "remote":
	default:
		return fmt.Errorf("store.driver が不正です: %q", c.Store.Driver)
	}
	if (c.Store.Driver == "sqlite" || c.Store.Driver == "postgres") && c.Store.DSN == "" {
		return fmt.Errorf("store.driver=%s には store.dsn が必要です", c.Store.Driver)
	}
	if c.Store.Driver == "remote" && c.Store.URL == "" {
		return errors.New("store.driver=remote には store.url が必要です")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := ParseDurationOrDefault("store.timeout", c.Store.Timeout, DefaultStoreTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationOrDefault("broadcast.keep_alive", c.Broadcast.KeepAlive, DefaultKeepAlive); err != nil {
		return err
	}
	if c.Webhook.RatePerSec < 0 {
		return errors.New("webhook.rate_per_sec は0以上である必要があります")
	}
	return nil
}

// Location は集計に使用するタイムゾーンを返す。
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Analytics.Timezone)
	if err != nil {
		return nil, fmt.Errorf("analytics.timezone が不正です: %w", err)
	}
	return loc, nil
}

// StoreTimeout はストア操作のタイムアウトを返す。
func (c Config) StoreTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("store.timeout", c.Store.Timeout, DefaultStoreTimeout)
	return d
}

// KeepAlive はSSEのキープアライブ間隔を返す。
func (c Config) KeepAlive() time.Duration {
	d, _ := ParseDurationOrDefault("broadcast.keep_alive", c.Broadcast.KeepAlive, DefaultKeepAlive)
	return d
}

// ParseDurationOrDefault はduration文字列を解釈する。空または0の場合はdefを返す。
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: duration が不正です %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration は0以上である必要があります", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
