package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"hammer/models"
)

// Pusher 是即時推送端的能力介面
// Push 必須在訊息確實送達後才回傳 nil，推送可能很慢或失敗
type Pusher interface {
	Push(ctx context.Context, channel, event string, payload []byte) error
}

// Source 是發布器讀取 outbox 的介面
type Source interface {
	FetchUnpublished(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) error
}

// Envelope 是推送到即時頻道的事件外層
// 內含 outbox 事件的 ID，訂閱端可以用它去除重複推送
type Envelope struct {
	ID        int64           `json:"id"`
	Entity    string          `json:"entity"`
	EntityID  int64           `json:"entityId"`
	Action    string          `json:"action"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

type publisherOptions struct {
	logger       *slog.Logger
	batchSize    int
	pollInterval time.Duration
	maxBackoff   time.Duration
	pushTimeout  time.Duration
}

type PublisherOption func(*publisherOptions)

// WithPublisherLogger 設置日誌記錄器
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(o *publisherOptions) {
		o.logger = logger
	}
}

// WithPublisherBatchSize 設置每輪讀取的事件數量上限
func WithPublisherBatchSize(size int) PublisherOption {
	return func(o *publisherOptions) {
		o.batchSize = size
	}
}

// WithPublisherPollInterval 設置沒有事件時的輪詢間隔
func WithPublisherPollInterval(d time.Duration) PublisherOption {
	return func(o *publisherOptions) {
		o.pollInterval = d
	}
}

// WithPublisherMaxBackoff 設置推送失敗後的退避上限
func WithPublisherMaxBackoff(d time.Duration) PublisherOption {
	return func(o *publisherOptions) {
		o.maxBackoff = d
	}
}

// WithPublisherPushTimeout 設置單次推送的超時時間
// 這個超時獨立於任何呼叫端的 deadline，因為沒有外部呼叫端在等它
func WithPublisherPushTimeout(d time.Duration) PublisherOption {
	return func(o *publisherOptions) {
		o.pushTimeout = d
	}
}

// Publisher 在背景把未發布的 outbox 事件推送到即時頻道
// 只有推送成功才會標記已發布，因此交付保證是 at-least-once：
// 在推送和標記之間崩潰只會造成無害的重送，不會漏送。
// outbox 資料列本身就是重試佇列，失敗的事件留在原位，
// 下一輪以退避後的間隔重讀
type Publisher struct {
	source     Source
	pusher     Pusher
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    publisherOptions
}

func NewPublisher(source Source, pusher Pusher, opts ...PublisherOption) (*Publisher, error) {
	if source == nil {
		return nil, errors.New("source cannot be nil")
	}
	if pusher == nil {
		return nil, errors.New("pusher cannot be nil")
	}

	// 默認選項
	options := publisherOptions{
		logger:       slog.Default(),
		batchSize:    64,
		pollInterval: 200 * time.Millisecond,
		maxBackoff:   30 * time.Second,
		pushTimeout:  5 * time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Publisher{
		source:  source,
		pusher:  pusher,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "OutboxPublisher")),
		options: options,
	}, nil
}

func (p *Publisher) Start() {
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("starting outbox publisher")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("outbox publisher goroutine stopped")

		wait := p.options.pollInterval
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			published, err := p.drain(ctx)
			switch {
			case errors.Is(err, context.Canceled):
				return
			case err != nil:
				// 推送失敗只影響交付，不影響領域狀態，指數退避後重試
				wait = min(wait*2, p.options.maxBackoff)
				p.logger.Error("drain outbox error", slog.Any("error", err), slog.Duration("backoff", wait))
			case published > 0:
				wait = p.options.pollInterval
				p.logger.Debug("outbox events published", slog.Int("count", published))
			default:
				wait = p.options.pollInterval
			}
		}
	}()
}

func (p *Publisher) Close() {
	if p.closed {
		return
	}
	p.logger.Info("closing outbox publisher")
	p.closed = true
	p.cancelFunc()
	p.wg.Wait()
	p.logger.Info("outbox publisher closed")
}

// drain 依 ID 順序推送一批未發布事件，回傳成功推送的數量
// 一旦某個事件推送失敗就中止整批，不跳過也不重排，
// 單一拍賣內的事件才能維持建立順序送達
func (p *Publisher) drain(ctx context.Context) (int, error) {
	const op = "Publisher.drain"
	events, err := p.source.FetchUnpublished(ctx, p.options.batchSize)
	if err != nil {
		return 0, fmt.Errorf("[%s] Fail to fetch unpublished events, err=%w", op, err)
	}

	published := 0
	for _, event := range events {
		payload, err := json.Marshal(Envelope{
			ID:        event.ID,
			Entity:    event.Entity,
			EntityID:  event.EntityID,
			Action:    event.Action,
			CreatedAt: event.CreatedAt,
			Data:      json.RawMessage(event.Payload),
		})
		if err != nil {
			return published, fmt.Errorf("[%s] Fail to marshal envelope, id=%d, err=%w", op, event.ID, err)
		}

		pushCtx, cancel := context.WithTimeout(ctx, p.options.pushTimeout)
		err = p.pusher.Push(pushCtx, ChannelFor(event.Entity, event.EntityID), event.Action, payload)
		cancel()
		if err != nil {
			return published, fmt.Errorf("[%s] Fail to push event, id=%d, err=%w", op, event.ID, err)
		}

		// 推送已確認，標記失敗只會造成下一輪重送，屬於允許的重複交付
		if err := p.source.MarkPublished(ctx, event.ID); err != nil {
			p.logger.Warn("push confirmed but mark published failed, event will be re-sent",
				slog.Int64("eventId", event.ID), slog.Any("error", err))
		}
		published++
	}
	return published, nil
}
