package notification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/brgyportal/announce/pkg/event"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
)

var (
	// ErrQueueFull は送信キューが満杯で通知を受け付けられないことを表す。
	ErrQueueFull = errors.New("broadcast queue is full")
	// ErrHubStopped は停止済みのHubに配信しようとしたことを表す。
	ErrHubStopped = errors.New("broadcast hub is stopped")
)

// HubConfig はHubの設定。
type HubConfig struct {
	// QueueSize は送信キューの容量。
	QueueSize int
	// SubscriberBuffer は購読者ごとのバッファ容量。
	SubscriberBuffer int
}

// Hub は通知を接続中の購読者へ配信する。
// Publishはキューに積むだけで待たない。配信は1つのゴルーチンが行い、
// バッファが満杯の購読者への送信は破棄する。未配信の通知は保持しない。
type Hub struct {
	queue   chan event.Notification
	bufSize int

	mu      sync.RWMutex
	subs    map[uint64]chan event.Notification
	nextID  uint64
	stopped bool

	started  atomic.Bool
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	log     logx.Logger
	metrics *metrics.Metrics
}

var _ Publisher = (*Hub)(nil)

// NewHub は新しいHubを生成する。配信を始めるにはStartを呼ぶ。
func NewHub(cfg HubConfig, log logx.Logger, m *metrics.Metrics) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 16
	}
	return &Hub{
		queue:   make(chan event.Notification, cfg.QueueSize),
		bufSize: cfg.SubscriberBuffer,
		subs:    make(map[uint64]chan event.Notification),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log,
		metrics: m,
	}
}

// Start は配信ゴルーチンを起動する。ctxが終了するかStopが呼ばれると停止する。
func (h *Hub) Start(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	go h.run(ctx)
}

// Stop は配信を停止し、すべての購読者のチャネルを閉じる。
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	if h.started.Load() {
		<-h.done
		return
	}
	h.shutdown()
}

// Publish は通知を送信キューに積む。キューが満杯の場合はErrQueueFullを返し、待たない。
func (h *Hub) Publish(n event.Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return ErrHubStopped
	}
	select {
	case h.queue <- n:
		return nil
	default:
		h.metrics.IncBroadcastDropped()
		return ErrQueueFull
	}
}

// Subscribe は購読を開始し、通知を受け取るチャネルと購読解除関数を返す。
// Hubが停止するとチャネルは閉じられる。
func (h *Hub) Subscribe() (<-chan event.Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan event.Notification, h.bufSize)
	if h.stopped {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.metrics.SetBroadcastSubscribers(len(h.subs))

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
				h.metrics.SetBroadcastSubscribers(len(h.subs))
			}
		})
	}
}

// Subscribers は接続中の購読者数を返す。
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-h.quit:
			h.shutdown()
			return
		case n := <-h.queue:
			h.fanout(n)
		}
	}
}

// fanout は全購読者へ待たずに送信する。
func (h *Hub) fanout(n event.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.metrics.IncBroadcastDropped()
			h.log.Debug("slow subscriber dropped notification",
				logx.Int64("subscriber", int64(id)),
				logx.String("id", n.ID),
			)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.metrics.SetBroadcastSubscribers(0)
}
