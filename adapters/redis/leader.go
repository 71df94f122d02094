package redis

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

type leaderLockOptions struct {
	expiry     time.Duration
	retryDelay time.Duration
}

type LeaderLockOption func(*leaderLockOptions)

// WithLeaderLockExpiry 設置鎖的過期時間
func WithLeaderLockExpiry(d time.Duration) LeaderLockOption {
	return func(o *leaderLockOptions) {
		o.expiry = d
	}
}

// WithLeaderLockRetryDelay 設置搶鎖失敗後的重試延遲
func WithLeaderLockRetryDelay(d time.Duration) LeaderLockOption {
	return func(o *leaderLockOptions) {
		o.retryDelay = d
	}
}

// LeaderLock 是跨節點的長期鎖，拿到鎖的節點負責跑 outbox 發布器
// 多個發布器同時運作並不會破壞正確性(標記是冪等的，重複推送被允許)，
// 這把鎖只是避免多節點部署時的常態性重複推送。
// 持有期間會自動續期；續期失敗時取消回傳的 context，
// 讓持有者知道自己已經不是 leader
type LeaderLock struct {
	mutex    *redsync.Mutex
	cancel   context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
	renewing bool
	options  leaderLockOptions
}

func NewLeaderLock(client *redis.Client, key string, opts ...LeaderLockOption) *LeaderLock {
	// 默認選項
	options := leaderLockOptions{
		expiry:     8 * time.Second,
		retryDelay: 500 * time.Millisecond,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	rs := redsync.New(goredis.NewPool(client))
	mutex := rs.NewMutex(
		key,
		redsync.WithExpiry(options.expiry),
		redsync.WithTries(1),
		redsync.WithRetryDelay(options.retryDelay),
	)
	return &LeaderLock{
		mutex:   mutex,
		options: options,
	}
}

// Acquire 阻塞直到拿到鎖或 ctx 被取消
// 回傳的 context 會在失去 leader 身份時被取消
func (l *LeaderLock) Acquire(ctx context.Context) (context.Context, error) {
	timer := time.NewTimer(1)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			if err := l.mutex.LockContext(ctx); err != nil {
				// 搶鎖失敗代表別的節點是 leader，稍後再試
				timer.Reset(l.options.retryDelay)
				continue
			}
			lockCtx, cancel := context.WithCancel(ctx)
			l.cancel = cancel
			l.startRenew(lockCtx)
			return lockCtx, nil
		}
	}
}

// Release 停止續期並釋放鎖
func (l *LeaderLock) Release() (bool, error) {
	l.stopRenew()
	l.wg.Wait()
	return l.mutex.Unlock()
}

func (l *LeaderLock) startRenew(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.renewing {
		return
	}
	l.renewing = true
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.options.expiry / 3)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := l.mutex.Extend()
				if err != nil || !ok {
					l.stopRenew()
					return
				}
			}
		}
	}()
}

func (l *LeaderLock) stopRenew() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.renewing {
		return
	}
	l.renewing = false
	if l.cancel != nil {
		l.cancel()
	}
}
