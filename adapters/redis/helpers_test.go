package redis

import (
	"io"
	"log"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// 元件透過slog.Default輸出，測試期間全部丟棄
	log.SetOutput(io.Discard)
}

func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	client, mock := redismock.NewClientMock()
	return client, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		client.Close()
	}
}

// mustEncode 以stream的線上格式包裝測試訊息
func mustEncode(t *testing.T, message TestMessage) map[string]any {
	t.Helper()
	values, err := EncodeMessage(message)
	require.NoError(t, err)
	return values
}

type TestMessage struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}
