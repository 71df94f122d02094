package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid 代表拍賣的出價紀錄
// 紀錄一旦寫入就不會被修改或刪除，拍賣的最高出價永遠等於
// 這張表中該拍賣金額最高的一筆
type Bid struct {
	ID        int64           `gorm:"primaryKey;autoIncrement;<-:false"`
	AuctionID int64           `gorm:"index;not null;<-:create"`
	BidderID  int64           `gorm:"not null;<-:create"`
	Amount    decimal.Decimal `gorm:"type:numeric(30,10);not null;<-:create"`
	CreatedAt time.Time

	// 外鍵關聯
	Auction Auction
	Bidder  User `gorm:"foreignKey:BidderID"`
}
