package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamEvent 是寫入即時推送 stream 的事件格式
// Payload 是發布器組好的 JSON，這裡不解讀內容
type StreamEvent struct {
	Channel string
	Event   string
	Payload []byte
}

// Pusher 將事件同步寫入 Redis Stream，作為即時推送的入口
// XADD 回覆成功才回傳 nil，outbox 發布器依賴這個「確認後才算送達」
// 的語義來決定何時標記事件已發布
type Pusher struct {
	client *redis.Client
	stream string
}

func NewPusher(client *redis.Client, stream string) (*Pusher, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}
	return &Pusher{client: client, stream: stream}, nil
}

// Push 推送一筆事件，送達確認前不會回傳
func (p *Pusher) Push(ctx context.Context, channel, event string, payload []byte) error {
	const op = "redis.Pusher.Push"
	values, err := EncodeMessage(StreamEvent{
		Channel: channel,
		Event:   event,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode event, err=%w", op, err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("[%s] Fail to push event to stream, err=%w", op, err)
	}
	return nil
}
