package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"hammer/models"
)

// outbox payload 用的實體快照
// 不直接序列化 gorm model，避免關聯欄位和軟刪除欄位混進事件內容

type AuctionSnapshot struct {
	ID              int64            `json:"id"`
	NFTID           int64            `json:"nftId"`
	SellerID        int64            `json:"sellerId"`
	MinBid          decimal.Decimal  `json:"minBid"`
	HighestBid      *decimal.Decimal `json:"highestBid"`
	HighestBidderID *int64           `json:"highestBidderId"`
	StartTime       time.Time        `json:"startTime"`
	EndTime         time.Time        `json:"endTime"`
	Settled         bool             `json:"settled"`
	CanceledAt      *time.Time       `json:"canceledAt"`
}

func auctionSnapshot(a *models.Auction) AuctionSnapshot {
	snapshot := AuctionSnapshot{
		ID:              a.ID,
		NFTID:           a.NFTID,
		SellerID:        a.SellerID,
		MinBid:          a.MinBid,
		HighestBidderID: a.HighestBidderID,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		Settled:         a.Settled,
		CanceledAt:      a.CanceledAt,
	}
	if a.HighestBid.Valid {
		snapshot.HighestBid = &a.HighestBid.Decimal
	}
	return snapshot
}

type BidSnapshot struct {
	ID        int64           `json:"id"`
	AuctionID int64           `json:"auctionId"`
	BidderID  int64           `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`
}

func bidSnapshot(b *models.Bid) BidSnapshot {
	return BidSnapshot{
		ID:        b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		CreatedAt: b.CreatedAt,
	}
}
