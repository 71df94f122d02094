package redis

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrMissingDataField = errors.New("data field not found or invalid type")
)

// EncodeMessage 將事件編碼成可以寫入 Redis Stream 的欄位
// 先以 msgpack 序列化再做 base64，整包放在 data 欄位底下，
// stream 兩端必須使用同一組編解碼
func EncodeMessage[T any](event T) (map[string]any, error) {
	raw, err := msgpack.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}
	return map[string]any{
		"data": base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// DecodeMessage 還原 EncodeMessage 產生的 stream 欄位
func DecodeMessage[T any](values map[string]any) (T, error) {
	var event T
	if len(values) == 0 {
		return event, nil
	}

	encoded, ok := values["data"].(string)
	if !ok {
		return event, ErrMissingDataField
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return event, fmt.Errorf("base64 decode error: %w", err)
	}
	if err := msgpack.Unmarshal(raw, &event); err != nil {
		return event, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return event, nil
}
