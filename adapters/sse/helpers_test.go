package sse_test

import (
	"io"
	"log"

	"hammer/adapters/sse"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// Message 表示一個 SSE 訊息，包含資料字段。
type Message struct {
	Data string `json:"data"`
}

// fakeSubscriber 模擬上游的 stream 消費者
type fakeSubscriber struct {
	ch chan sse.PublishRequest[Message]
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ch: make(chan sse.PublishRequest[Message], 16)}
}

func (s *fakeSubscriber) Subscribe() <-chan sse.PublishRequest[Message] {
	return s.ch
}

func (s *fakeSubscriber) publish(channel string, msg Message) {
	s.ch <- sse.PublishRequest[Message]{Channel: channel, Message: msg}
}
