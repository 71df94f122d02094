package sse

import (
	"context"
	"sync"

	"github.com/smallnest/chanx"
)

// Channel 管理單一頻道的所有訂閱者，並把訊息廣播給他們
// 每個訂閱者有自己的無界緩衝，讀得慢的瀏覽器連線不會卡住
// 整個頻道的廣播
type Channel[T any] struct {
	ctx         context.Context
	subscribers map[<-chan T]*chanx.UnboundedChan[T]
	mu          sync.RWMutex
}

func NewChannel[T any](ctx context.Context) IChannel[T] {
	return &Channel[T]{
		ctx:         ctx,
		subscribers: make(map[<-chan T]*chanx.UnboundedChan[T]),
	}
}

// Subscribe 建立一個新的訂閱，回傳唯讀通道給呼叫者
func (c *Channel[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := chanx.NewUnboundedChan[T](c.ctx, 16)
	c.subscribers[ch.Out] = ch
	return ch.Out
}

// Unsubscribe 移除訂閱者並關閉其通道
func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if buffered, exists := c.subscribers[ch]; exists {
		delete(c.subscribers, ch)
		close(buffered.In)
	}
}

// UnsubscribeAll 關閉所有訂閱者的通道並清空訂閱清單
func (c *Channel[T]) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, buffered := range c.subscribers {
		close(buffered.In)
	}
	clear(c.subscribers)
}

// Broadcast 將訊息廣播給所有訂閱者，不會阻塞
func (c *Channel[T]) Broadcast(message T) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, buffered := range c.subscribers {
		buffered.In <- message
	}
}

// IsIdle 判斷是否沒有任何訂閱者
func (c *Channel[T]) IsIdle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers) == 0
}
