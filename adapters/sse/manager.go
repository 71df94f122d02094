package sse

import (
	"context"
	"errors"
	"sync"

	"log/slog"
)

type managerOptions[T any] struct {
	logger     *slog.Logger
	subscriber Subscriber[T]
}

type ManagerOption[T any] func(*managerOptions[T])

// WithLogger 設置日誌記錄器
func WithLogger[T any](logger *slog.Logger) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.logger = logger
	}
}

// WithSubscriber 設置上游訊息來源
func WithSubscriber[T any](subscriber Subscriber[T]) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.subscriber = subscriber
	}
}

// connectionManager 管理多個 SSE 頻道的訂閱與廣播
// 訊息來源是跨節點的 stream 消費者，讓多個服務實例能夠協同運作
type connectionManager[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex
	wg     sync.WaitGroup
	active bool

	subscriber Subscriber[T]
	channels   map[string]IChannel[T]
}

func NewConnectionManager[T any](opts ...ManagerOption[T]) (IConnectionManager[T], error) {
	// 默認選項
	options := managerOptions[T]{
		logger: slog.Default(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	if options.subscriber == nil {
		return nil, errors.New("subscriber cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &connectionManager[T]{
		ctx:        ctx,
		cancel:     cancel,
		logger:     options.logger.With(slog.String("caller", "ConnectionManager")),
		subscriber: options.subscriber,
		channels:   make(map[string]IChannel[T]),
		active:     true,
	}, nil
}

// Start 啟動訊息的接收與廣播，應在呼叫其他方法前先呼叫
func (cm *connectionManager[T]) Start() {
	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		for {
			select {
			case <-cm.ctx.Done():
				return
			case msg, ok := <-cm.subscriber.Subscribe():
				if !ok {
					return
				}
				cm.mu.RLock()
				if channel, exists := cm.channels[msg.Channel]; exists {
					channel.Broadcast(msg.Message)
				}
				cm.mu.RUnlock()
			}
		}
	}()
}

// Done 停止連線管理器並釋放所有訂閱
func (cm *connectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	cm.cancel()
	cm.mu.Unlock()

	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
}

// Subscribe 訂閱指定頻道，回傳接收訊息的唯讀通道
func (cm *connectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.active {
		return nil, context.Canceled
	}
	channel, exists := cm.channels[channelName]
	if !exists {
		channel = NewChannel[T](cm.ctx)
		cm.channels[channelName] = channel
	}
	return channel.Subscribe(), nil
}

// Unsubscribe 取消訂閱指定頻道
func (cm *connectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	channel, exists := cm.channels[channelName]
	if !exists {
		return
	}
	channel.Unsubscribe(ch)
	if channel.IsIdle() {
		delete(cm.channels, channelName)
	}
}
