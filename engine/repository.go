package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"hammer/clock"
	"hammer/models"
	"hammer/outbox"
)

type repositoryOptions struct {
	logger      *slog.Logger
	clock       clock.Clock
	maxRetries  int
	retryBase   time.Duration
	lockTimeout time.Duration
}

type RepositoryOption func(*repositoryOptions)

// WithRepositoryLogger 設置日誌記錄器
func WithRepositoryLogger(logger *slog.Logger) RepositoryOption {
	return func(o *repositoryOptions) {
		o.logger = logger
	}
}

// WithRepositoryClock 注入時鐘 (主要用於測試)
func WithRepositoryClock(c clock.Clock) RepositoryOption {
	return func(o *repositoryOptions) {
		o.clock = c
	}
}

// WithRepositoryMaxRetries 設置交易衝突的內部重試次數上限
func WithRepositoryMaxRetries(n int) RepositoryOption {
	return func(o *repositoryOptions) {
		o.maxRetries = n
	}
}

// WithRepositoryLockTimeout 設置等待拍賣資料列鎖的超時時間
func WithRepositoryLockTimeout(d time.Duration) RepositoryOption {
	return func(o *repositoryOptions) {
		o.lockTimeout = d
	}
}

// Repository 是 Auction 和 Bid 的唯一寫入路徑
// 所有會改動拍賣狀態的操作都在單一交易內完成，並在同一個交易
// 內寫入對應的 outbox 事件
type Repository struct {
	db      *gorm.DB
	outbox  *outbox.Store
	logger  *slog.Logger
	options repositoryOptions
}

func NewRepository(db *gorm.DB, outboxStore *outbox.Store, opts ...RepositoryOption) (*Repository, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if outboxStore == nil {
		return nil, errors.New("outbox store cannot be nil")
	}

	// 默認選項
	options := repositoryOptions{
		logger:      slog.Default(),
		clock:       clock.Real{},
		maxRetries:  3,
		retryBase:   20 * time.Millisecond,
		lockTimeout: time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Repository{
		db:      db,
		outbox:  outboxStore,
		logger:  options.logger.With(slog.String("caller", "AuctionRepository")),
		options: options,
	}, nil
}

type CreateAuctionParams struct {
	NFTID     int64
	SellerID  int64
	MinBid    decimal.Decimal
	StartTime time.Time
	EndTime   time.Time
}

// CreateAuction 建立一場新拍賣
// 呼叫端必須已經確認 NFT 在鏈上的授權事實，這裡不會呼叫鏈上 RPC
func (r *Repository) CreateAuction(ctx context.Context, params CreateAuctionParams) (*models.Auction, error) {
	const op = "Repository.CreateAuction"
	if !params.EndTime.After(params.StartTime) {
		return nil, &ValidationError{Reason: "end time must be after start time"}
	}
	if params.MinBid.IsNegative() {
		return nil, &ValidationError{Reason: "minimum bid cannot be negative"}
	}

	auction := models.Auction{
		NFTID:     params.NFTID,
		SellerID:  params.SellerID,
		MinBid:    params.MinBid,
		StartTime: params.StartTime,
		EndTime:   params.EndTime,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var nft models.NFT
		if result := tx.First(&nft, params.NFTID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return &ValidationError{Reason: "nft does not exist"}
			}
			return fmt.Errorf("[%s] Fail to find nft, err=%w", op, result.Error)
		}
		if result := tx.Create(&auction); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				return &ValidationError{Reason: "an auction already exists for this nft"}
			}
			return fmt.Errorf("[%s] Fail to create auction, err=%w", op, result.Error)
		}
		return r.outbox.Append(tx, "Auction", auction.ID, "created", auctionSnapshot(&auction))
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("auction created",
		slog.Int64("auctionId", auction.ID),
		slog.Int64("nftId", auction.NFTID),
		slog.Int64("sellerId", auction.SellerID))
	return &auction, nil
}

// GetAuctionByNFT 查詢某件 NFT 目前的拍賣，包含最高出價者
func (r *Repository) GetAuctionByNFT(ctx context.Context, nftID int64) (*models.Auction, error) {
	const op = "Repository.GetAuctionByNFT"
	var auction models.Auction
	result := r.db.WithContext(ctx).
		Preload("HighestBidder").
		Where("nft_id = ?", nftID).
		First(&auction)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAuctionNotFound
		}
		return nil, fmt.Errorf("[%s] Fail to find auction, err=%w", op, result.Error)
	}
	return &auction, nil
}

// ListActiveAuctions 列出進行中的拍賣，依開始時間由新到舊
// 「進行中」完全由時間推導，不依賴任何儲存的狀態旗標
func (r *Repository) ListActiveAuctions(ctx context.Context) ([]models.Auction, error) {
	const op = "Repository.ListActiveAuctions"
	now := r.options.clock.Now()
	var auctions []models.Auction
	result := r.db.WithContext(ctx).
		Where("start_time <= ? AND end_time > ? AND settled = false AND canceled_at IS NULL", now, now).
		Order("start_time DESC").
		Find(&auctions)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list active auctions, err=%w", op, result.Error)
	}
	return auctions, nil
}

// lockedTx 在單一交易內以資料列鎖執行 fn，並對暫時性的交易衝突
// (序列化失敗、死鎖、等鎖超時)做有上限的退避重試。
// 重試用盡後回傳 ErrBusy，讓呼叫端能區分「稍後再試」和「出價被拒」；
// 呼叫端 deadline 到期時交易會回滾並回傳 ErrTimeout
func (r *Repository) lockedTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.options.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.options.retryBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return r.ctxError(ctx)
			case <-time.After(backoff):
			}
			r.logger.Debug("retrying transaction", slog.Int("attempt", attempt))
		}

		lastErr = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if r.options.lockTimeout > 0 {
				timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.options.lockTimeout.Milliseconds())
				if result := tx.Exec(timeout); result.Error != nil {
					return fmt.Errorf("fail to set lock timeout, err=%w", result.Error)
				}
			}
			return fn(tx)
		})
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return r.ctxError(ctx)
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	r.logger.Warn("transaction retries exhausted", slog.Any("error", lastErr))
	return ErrBusy
}

func (r *Repository) ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

// isRetryable 判斷是否為值得重試的暫時性交易衝突
//   - 40001 serialization_failure
//   - 40P01 deadlock_detected
//   - 55P03 lock_not_available
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	default:
		return false
	}
}
