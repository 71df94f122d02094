package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"hammer/models"
)

// Store 提供 outbox 事件的持久化操作
// Append 只能在呼叫端已開啟的交易內使用，讓事件與領域寫入
// 一起提交或一起回滾；FetchUnpublished 與 MarkPublished 則由
// 發布器使用
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// Append 在 tx 交易內寫入一筆事件
// tx 必須是產生這筆事件的領域寫入所在的交易，Append 本身不會提交
func (s *Store) Append(tx *gorm.DB, entity string, entityID int64, action string, payload any) error {
	const op = "outbox.Store.Append"
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("[%s] Fail to marshal payload, err=%w", op, err)
	}
	event := models.OutboxEvent{
		Entity:   entity,
		EntityID: entityID,
		Action:   action,
		Payload:  data,
	}
	if result := tx.Create(&event); result.Error != nil {
		return fmt.Errorf("[%s] Fail to append outbox event, err=%w", op, result.Error)
	}
	return nil
}

// FetchUnpublished 取出最舊的未發布事件，依 ID 遞增排序
// 發布器必須維持這個順序推送，才能保證單一拍賣內的事件順序
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	const op = "outbox.Store.FetchUnpublished"
	var events []models.OutboxEvent
	result := s.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to fetch unpublished events, err=%w", op, result.Error)
	}
	return events, nil
}

// MarkPublished 將事件標記為已發布
// 對已發布的事件重複呼叫是 no-op，不會改動原本的 PublishedAt，
// 發布器在推送和標記之間崩潰時才能安全地重送
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	const op = "outbox.Store.MarkPublished"
	result := s.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND published_at IS NULL", id).
		Update("published_at", time.Now())
	if result.Error != nil {
		return fmt.Errorf("[%s] Fail to mark event published, err=%w", op, result.Error)
	}
	return nil
}
