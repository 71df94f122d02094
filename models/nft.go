package models

import (
	"gorm.io/gorm"
)

// NFT 代表市場中的一件 NFT
// 僅記錄鏈下需要的欄位，鏈上事實(鑄造、轉移)由呼叫端回報
type NFT struct {
	gorm.Model

	ID          int64  `gorm:"primaryKey;autoIncrement;<-:false"`
	OwnerID     int64  `gorm:"not null"`
	TokenID     string `gorm:"type:varchar(128);not null;<-:create"`
	Name        string `gorm:"type:varchar(255);not null"`
	Description string `gorm:"type:text;not null"`
	MetadataURL string `gorm:"type:text;not null"`
	MediaURL    string `gorm:"type:text;not null"`

	// 外鍵關聯
	Owner User `gorm:"foreignKey:OwnerID"`
}

// NFTLike 代表使用者對 NFT 的收藏紀錄
// 同一個使用者對同一件 NFT 只會有一筆有效紀錄
type NFTLike struct {
	gorm.Model

	ID     int64 `gorm:"primaryKey;autoIncrement;<-:false"`
	NFTID  int64 `gorm:"uniqueIndex:idx_nft_like_nft_id_user_id,where:deleted_at IS NULL;not null;<-:create"`
	UserID int64 `gorm:"uniqueIndex:idx_nft_like_nft_id_user_id,where:deleted_at IS NULL;not null;<-:create"`

	// 外鍵關聯
	NFT  NFT
	User User
}
