package engine

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"hammer/models"
)

// PlaceBid 是出價的唯一入口
// 多個出價者可能同時對同一場拍賣出價，所有的跨出價協調都交給
// 資料庫的資料列鎖：交易內先以 SELECT ... FOR UPDATE 鎖住拍賣列，
// 再重新讀取最高出價做驗證，避免兩個出價者同時讀到舊的最高價、
// 同時通過檢查的 lost update。驗證通過後在同一個交易內寫入 Bid、
// 更新拍賣的最高出價、寫入一筆 outbox 事件，三者同生共死
func (r *Repository) PlaceBid(ctx context.Context, auctionID, bidderID int64, amount decimal.Decimal) (*models.Bid, error) {
	const op = "Repository.PlaceBid"
	if !amount.IsPositive() {
		return nil, &ValidationError{Reason: "bid amount must be positive"}
	}

	var bid models.Bid
	err := r.lockedTx(ctx, func(tx *gorm.DB) error {
		auction, err := r.lockAuction(tx, auctionID)
		if err != nil {
			return err
		}

		// 前置條件都在鎖內重新驗證，鎖外的檢查都可能已經過期
		now := r.options.clock.Now()
		if StatusAt(auction, now) != StatusOpen {
			return ErrAuctionNotOpen
		}
		if bidderID == auction.SellerID {
			return ErrSelfBidForbidden
		}
		if auction.HighestBid.Valid {
			// 已有最高出價時必須嚴格高於它，同額出價一律被拒，
			// 所以不需要任何平手裁定規則
			if amount.LessThanOrEqual(auction.HighestBid.Decimal) {
				return &BidTooLowError{MustExceed: auction.HighestBid.Decimal}
			}
		} else if amount.LessThan(auction.MinBid) {
			return &BidTooLowError{MustExceed: auction.MinBid, OrEqual: true}
		}

		bid = models.Bid{
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
		}
		if result := tx.Create(&bid); result.Error != nil {
			return fmt.Errorf("[%s] Fail to create bid, err=%w", op, result.Error)
		}
		updates := map[string]any{
			"highest_bid":       amount,
			"highest_bidder_id": bidderID,
		}
		if result := tx.Model(&models.Auction{}).Where("id = ?", auctionID).Updates(updates); result.Error != nil {
			return fmt.Errorf("[%s] Fail to update highest bid, err=%w", op, result.Error)
		}
		return r.outbox.Append(tx, "Bid", bid.ID, "created", bidSnapshot(&bid))
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("higher bid admitted",
		slog.Int64("auctionId", auctionID),
		slog.Int64("bidderId", bidderID),
		slog.String("amount", amount.String()))
	return &bid, nil
}
