package engine

import (
	"context"
	"errors"
	"fmt"

	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hammer/models"
)

// Settle 記錄拍賣的鏈下結算已經完成
// 只有 Ended 狀態的拍賣可以結算，而且只能結算一次；這裡不會搬動
// 資金或轉移 NFT 所有權，鏈上轉移是呼叫端另外回報的事實
func (r *Repository) Settle(ctx context.Context, auctionID, callerID int64) (*models.Auction, error) {
	const op = "Repository.Settle"
	var settled models.Auction
	err := r.lockedTx(ctx, func(tx *gorm.DB) error {
		auction, err := r.lockAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if callerID != auction.SellerID {
			return ErrNotSeller
		}
		switch StatusAt(auction, r.options.clock.Now()) {
		case StatusSettled:
			return ErrAlreadySettled
		case StatusCancelled:
			return ErrAuctionCancelled
		case StatusPending, StatusOpen:
			return ErrNotEnded
		}

		if result := tx.Model(&models.Auction{}).Where("id = ?", auctionID).Update("settled", true); result.Error != nil {
			return fmt.Errorf("[%s] Fail to mark auction settled, err=%w", op, result.Error)
		}
		auction.Settled = true
		settled = *auction
		return r.outbox.Append(tx, "Auction", auction.ID, "settled", auctionSnapshot(auction))
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("auction settled", slog.Int64("auctionId", auctionID))
	return &settled, nil
}

// Cancel 取消一場還沒開始的拍賣
// 開賣後就可能有出價，不允許取消；結束的拍賣也不會重新開放，
// 賣家要新的拍賣時段只能建立新的拍賣
func (r *Repository) Cancel(ctx context.Context, auctionID, callerID int64) (*models.Auction, error) {
	const op = "Repository.Cancel"
	var cancelled models.Auction
	err := r.lockedTx(ctx, func(tx *gorm.DB) error {
		auction, err := r.lockAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if callerID != auction.SellerID {
			return ErrNotSeller
		}
		switch StatusAt(auction, r.options.clock.Now()) {
		case StatusSettled:
			return ErrAlreadySettled
		case StatusCancelled:
			return ErrAuctionCancelled
		case StatusOpen, StatusEnded:
			return ErrAlreadyStarted
		}

		now := r.options.clock.Now()
		if result := tx.Model(&models.Auction{}).Where("id = ?", auctionID).Update("canceled_at", now); result.Error != nil {
			return fmt.Errorf("[%s] Fail to cancel auction, err=%w", op, result.Error)
		}
		auction.CanceledAt = &now
		cancelled = *auction
		return r.outbox.Append(tx, "Auction", auction.ID, "cancelled", auctionSnapshot(auction))
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("auction cancelled", slog.Int64("auctionId", auctionID))
	return &cancelled, nil
}

func (r *Repository) lockAuction(tx *gorm.DB, auctionID int64) (*models.Auction, error) {
	var auction models.Auction
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&auction, auctionID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAuctionNotFound
		}
		return nil, fmt.Errorf("fail to lock auction, err=%w", result.Error)
	}
	return &auction, nil
}
