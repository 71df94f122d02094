package models

import (
	"gorm.io/gorm"
)

// User 代表市場中的使用者
// 以錢包地址作為身份識別，使用者名稱僅供顯示
type User struct {
	gorm.Model

	ID            int64  `gorm:"primaryKey;autoIncrement;<-:false"`
	WalletAddress string `gorm:"type:varchar(128);uniqueIndex:idx_users_wallet_address,where:deleted_at IS NULL;not null;<-:create"`
	Username      string `gorm:"type:varchar(255);not null"`
}
