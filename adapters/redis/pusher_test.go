package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPusherValidation(t *testing.T) {
	client, _, cleanup := setupTest(t)
	defer cleanup()

	_, err := NewPusher(nil, "stream")
	assert.Error(t, err)
	_, err = NewPusher(client, "")
	assert.Error(t, err)
}

func TestPusherPush(t *testing.T) {
	event := StreamEvent{
		Channel: "auction.7",
		Event:   "created",
		Payload: []byte(`{"id":7}`),
	}
	values, err := EncodeMessage(event)
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		client, mock, cleanup := setupTest(t)
		defer cleanup()
		mock.ExpectXAdd(&redis.XAddArgs{
			Stream: "test-stream",
			Values: values,
		}).SetVal("1-1")

		pusher, err := NewPusher(client, "test-stream")
		require.NoError(t, err)
		assert.NoError(t, pusher.Push(context.Background(), event.Channel, event.Event, event.Payload))
	})

	t.Run("xadd error is returned", func(t *testing.T) {
		client, mock, cleanup := setupTest(t)
		defer cleanup()
		mock.ExpectXAdd(&redis.XAddArgs{
			Stream: "test-stream",
			Values: values,
		}).SetErr(errors.New("connection refused"))

		pusher, err := NewPusher(client, "test-stream")
		require.NoError(t, err)
		assert.Error(t, pusher.Push(context.Background(), event.Channel, event.Event, event.Payload))
	})
}
