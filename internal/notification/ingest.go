package notification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/brgyportal/announce/pkg/event"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
	"github.com/brgyportal/announce/pkg/store"
)

var (
	// ErrUnauthorized は共有シークレットが無いか一致しないことを表す。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMalformedPayload は必須項目が欠けたペイロードを表す。
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrStoreFailure は通知の保存に失敗したことを表す。
	ErrStoreFailure = errors.New("store failure")
)

// Publisher は保存済みの通知を購読者へ配信する。
type Publisher interface {
	Publish(n event.Notification) error
}

// maxFutureSkew を超えて未来の送信日時は送信元の時計の誤りとみなし、保存時刻を使う。
const maxFutureSkew = 24 * time.Hour

// IngestorConfig はIngestorの設定。
type IngestorConfig struct {
	// Secret はWebhook送信元と共有する秘密鍵。空の場合はすべて拒否する。
	Secret string
	// StoreTimeout は保存1回あたりのタイムアウト。0以下で無制限。
	StoreTimeout time.Duration
}

// Ingestor はWebhookのペイロードを検証して通知として保存し、配信する。
type Ingestor struct {
	secret    []byte
	timeout   time.Duration
	store     store.Store
	publisher Publisher
	log       logx.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewIngestor は新しいIngestorを生成する。publisherがnilの場合は配信しない。
func NewIngestor(cfg IngestorConfig, st store.Store, pub Publisher, log logx.Logger, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		secret:    []byte(cfg.Secret),
		timeout:   cfg.StoreTimeout,
		store:     st,
		publisher: pub,
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

// Ingest はペイロードを1件の未読通知として保存し、そのIDを返す。
// 保存に失敗した場合は配信しない。配信の失敗はログに残すだけで結果には影響しない。
func (i *Ingestor) Ingest(ctx context.Context, raw []byte, presentedSecret string) (string, error) {
	if !i.authorized(presentedSecret) {
		i.metrics.IncIngest("unauthorized")
		return "", ErrUnauthorized
	}

	p, err := ParsePayload(raw)
	if err != nil {
		i.metrics.IncIngest("malformed")
		return "", err
	}
	if p.SubmittedAt != nil && p.SubmittedAt.After(i.now().Add(maxFutureSkew)) {
		p.TimestampErr = fmt.Errorf("%w: %s is in the future", errTimestampOutOfRange, p.SubmittedAt.Format(time.RFC3339))
		p.SubmittedAt = nil
	}
	if p.TimestampErr != nil {
		i.log.Debug("submission_timestamp ignored",
			logx.String("form_type", string(p.FormType)),
			logx.Err(p.TimestampErr),
		)
	}

	rec := store.Record{
		"form_type": string(p.FormType),
		"data":      p.Data,
		"is_read":   false,
	}
	if p.SubmittedAt != nil {
		rec[store.ColumnCreatedAt] = *p.SubmittedAt
	}

	storeCtx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	saved, err := i.store.Insert(storeCtx, store.TableNotifications, rec)
	if err != nil {
		i.metrics.IncIngest("store_failure")
		i.log.Error("notification insert failed",
			logx.String("form_type", string(p.FormType)),
			logx.Err(err),
		)
		return "", fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	i.metrics.IncIngest("ok")
	n, err := event.NotificationFromRecord(saved)
	if err != nil {
		i.log.Warn("stored notification could not be decoded for broadcast", logx.Err(err))
		id, _ := saved[store.ColumnID].(string)
		return id, nil
	}

	if i.publisher != nil {
		if err := i.publisher.Publish(n); err != nil {
			i.log.Warn("notification broadcast failed",
				logx.String("id", n.ID),
				logx.Err(err),
			)
		}
	}
	return n.ID, nil
}

// authorized は共有シークレットを定数時間で比較する。
func (i *Ingestor) authorized(presented string) bool {
	if len(i.secret) == 0 || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), i.secret) == 1
}
