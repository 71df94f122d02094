package models

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxEvent 代表一筆待發布的領域事件
// 必須和產生它的領域寫入在同一個交易內寫入，ID 遞增，
// 發布器以 ID 順序讀取並在推送成功後回填 PublishedAt
type OutboxEvent struct {
	ID          int64          `gorm:"primaryKey;autoIncrement;<-:false"`
	Entity      string         `gorm:"type:varchar(64);not null;<-:create"`
	EntityID    int64          `gorm:"not null;<-:create"`
	Action      string         `gorm:"type:varchar(64);not null;<-:create"`
	Payload     datatypes.JSON `gorm:"type:jsonb;not null;<-:create"`
	CreatedAt   time.Time
	PublishedAt *time.Time `gorm:"index:idx_outbox_events_unpublished,where:published_at IS NULL"`
}
