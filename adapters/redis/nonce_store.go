package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NonceStore 保存錢包登入用的一次性挑戰字串
// 挑戰發出後有有效期限，驗證簽章時以 GETDEL 取出，
// 同一個挑戰不可能被使用兩次
type NonceStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewNonceStore(client *redis.Client, prefix string, ttl time.Duration) (*NonceStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &NonceStore{client: client, prefix: prefix, ttl: ttl}, nil
}

// Issue 為錢包地址發出一個新的挑戰字串，覆蓋舊的挑戰
func (s *NonceStore) Issue(ctx context.Context, walletAddress string) (string, error) {
	const op = "redis.NonceStore.Issue"
	nonce := uuid.NewString()
	key := s.prefix + "nonce:" + walletAddress
	if err := s.client.Set(ctx, key, nonce, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("[%s] Fail to store nonce, err=%w", op, err)
	}
	return nonce, nil
}

// Consume 取出並刪除挑戰字串，回傳是否與呼叫端提供的值相符
func (s *NonceStore) Consume(ctx context.Context, walletAddress, nonce string) (bool, error) {
	const op = "redis.NonceStore.Consume"
	key := s.prefix + "nonce:" + walletAddress
	stored, err := s.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("[%s] Fail to load nonce, err=%w", op, err)
	}
	return stored == nonce, nil
}
