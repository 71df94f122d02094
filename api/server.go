package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	redisAdapter "hammer/adapters/redis"
	"hammer/adapters/sse"
	"hammer/adapters/storage"
	"hammer/engine"
	"hammer/models"
	"hammer/outbox"
)

type ServerImpl struct {
	repo        *engine.Repository
	outboxStore *outbox.Store
	publisher   *outbox.Publisher
	leaderLock  *redisAdapter.LeaderLock
	sseManager  sse.IConnectionManager[outbox.Envelope]
	consumer    *redisAdapter.Consumer[sse.PublishRequest[outbox.Envelope]]
	mediaStore  *storage.MediaStore
	nonceStore  *redisAdapter.NonceStore
	htmlChecker *bluemonday.Policy
	redisClient *redis.Client
	wg          sync.WaitGroup
	cancelFunc  context.CancelFunc
	db          *gorm.DB

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化S3客戶端
	s3Cfg, err := awsCfg.LoadDefaultConfig(
		context.Background(),
		awsCfg.WithBaseEndpoint(config.S3.Endpoint),
		awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.S3.AccessKeyID, config.S3.SecretAccessKey, "")),
		awsCfg.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load AWS config, err=%w", op, err)
	}
	mediaStore, err := storage.NewMediaStore(s3.NewFromConfig(s3Cfg), config.S3.Bucket, config.S3.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create media store, err=%w", op, err)
	}

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.NFT{},
		&models.NFTLike{},
		&models.Auction{},
		&models.Bid{},
		&models.OutboxEvent{},
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate database schema, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	// 初始化SSE管理器
	// stream 上的事件是 outbox 發布器推送的 Envelope，
	// 這裡把它換算到瀏覽器訂閱的頻道：出價事件歸到所屬拍賣的頻道
	consumer, err := redisAdapter.NewConsumer(
		redisClient,
		config.Redis.StreamKeys.Events,
		redisAdapter.WithConsumerParseFunc(func(m map[string]any) (sse.PublishRequest[outbox.Envelope], error) {
			streamEvent, err := redisAdapter.DecodeMessage[redisAdapter.StreamEvent](m)
			if err != nil {
				return sse.PublishRequest[outbox.Envelope]{}, fmt.Errorf("fail to decode stream event, err=%w", err)
			}
			var envelope outbox.Envelope
			if err := json.Unmarshal(streamEvent.Payload, &envelope); err != nil {
				return sse.PublishRequest[outbox.Envelope]{}, fmt.Errorf("fail to unmarshal event envelope, err=%w", err)
			}
			channel, err := sseChannelFor(envelope)
			if err != nil {
				return sse.PublishRequest[outbox.Envelope]{}, err
			}
			return sse.PublishRequest[outbox.Envelope]{
				Channel: channel,
				Message: envelope,
			}, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
	}
	sseManager, err := sse.NewConnectionManager[outbox.Envelope](
		sse.WithLogger[outbox.Envelope](slog.Default()),
		sse.WithSubscriber(consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create sse connection manager, err=%w", op, err)
	}

	// 初始化outbox發布器
	outboxStore, err := outbox.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create outbox store, err=%w", op, err)
	}
	pusher, err := redisAdapter.NewPusher(redisClient, config.Redis.StreamKeys.Events)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create pusher, err=%w", op, err)
	}
	publisher, err := outbox.NewPublisher(
		outboxStore,
		pusher,
		outbox.WithPublisherLogger(slog.Default()),
		outbox.WithPublisherBatchSize(config.Outbox.BatchSize),
		outbox.WithPublisherPollInterval(config.Outbox.PollInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create outbox publisher, err=%w", op, err)
	}
	leaderLock := redisAdapter.NewLeaderLock(redisClient, config.Outbox.LeaderKey)

	// 初始化拍賣repository
	repo, err := engine.NewRepository(db, outboxStore, engine.WithRepositoryLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create auction repository, err=%w", op, err)
	}

	// 初始化錢包登入的挑戰字串儲存
	nonceStore, err := redisAdapter.NewNonceStore(redisClient, config.Redis.KeyPrefix, config.Auth.NonceTTL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create nonce store, err=%w", op, err)
	}

	return &ServerImpl{
		repo:        repo,
		outboxStore: outboxStore,
		publisher:   publisher,
		leaderLock:  leaderLock,
		sseManager:  sseManager,
		consumer:    consumer,
		mediaStore:  mediaStore,
		nonceStore:  nonceStore,
		htmlChecker: bluemonday.UGCPolicy(),
		redisClient: redisClient,
		db:          db,
		config:      config,
	}, nil
}

func (impl *ServerImpl) Start() {
	// 啟動consumer
	impl.consumer.Start()
	// 啟動sse connection manager
	impl.sseManager.Start()
	// 啟動一個worker，在成為leader的期間跑outbox發布器
	// 多個節點同時發布不影響正確性，選舉只是避免常態性重複推送
	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel
	slog.Info("Start outbox publisher worker")
	impl.wg.Add(1)
	go func() {
		logger := slog.Default().With(slog.String("caller", "PublisherLeader"))
		defer impl.wg.Done()
		defer slog.Info("Outbox publisher worker stopped")
		for ctx.Err() == nil {
			leaderCtx, err := impl.leaderLock.Acquire(ctx)
			if err != nil {
				return
			}
			logger.Info("Acquired publisher leadership")
			impl.publisher.Start()
			<-leaderCtx.Done()
			impl.publisher.Close()
			if _, err := impl.leaderLock.Release(); err != nil {
				logger.Warn("Fail to release publisher leadership", slog.Any("error", err))
			}
			logger.Info("Lost publisher leadership")
		}
	}()
}

func (impl *ServerImpl) Close() {
	// 關閉worker(連帶關閉發布器)
	impl.cancelFunc()
	impl.wg.Wait()
	// 關閉consumer
	impl.consumer.Close()
	// 關閉sse connection manager
	impl.sseManager.Done()
}

// sseChannelFor 決定事件歸屬的SSE頻道
// 出價事件對瀏覽器來說屬於拍賣頁面，所以歸到所屬拍賣的頻道
func sseChannelFor(envelope outbox.Envelope) (string, error) {
	if envelope.Entity == "Bid" {
		var bid engine.BidSnapshot
		if err := json.Unmarshal(envelope.Data, &bid); err != nil {
			return "", fmt.Errorf("fail to unmarshal bid snapshot, err=%w", err)
		}
		return outbox.ChannelFor("Auction", bid.AuctionID), nil
	}
	return outbox.ChannelFor(envelope.Entity, envelope.EntityID), nil
}
