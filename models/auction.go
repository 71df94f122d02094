package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Auction 代表一場 NFT 拍賣
// 每件 NFT 同時只能有一場拍賣，最高出價由出價流程在同一交易內維護
type Auction struct {
	gorm.Model

	ID              int64               `gorm:"primaryKey;autoIncrement;<-:false"`
	NFTID           int64               `gorm:"uniqueIndex:idx_auctions_nft_id,where:deleted_at IS NULL;not null;<-:create"`
	SellerID        int64               `gorm:"not null;<-:create"`
	MinBid          decimal.Decimal     `gorm:"type:numeric(30,10);not null;<-:create"`
	HighestBid      decimal.NullDecimal `gorm:"type:numeric(30,10)"`
	HighestBidderID *int64
	StartTime       time.Time `gorm:"type:timestamp with time zone;not null;<-:create"`
	EndTime         time.Time `gorm:"type:timestamp with time zone;not null;<-:create"`
	Settled         bool      `gorm:"not null;default:false"`
	CanceledAt      *time.Time

	// 外鍵關聯
	NFT           NFT
	Seller        User  `gorm:"foreignKey:SellerID"`
	HighestBidder *User `gorm:"foreignKey:HighestBidderID"`
	Bids          []Bid
}
