package engine

import (
	"time"

	"hammer/models"
)

// Status 是拍賣的生命週期狀態
// 狀態不儲存在資料庫，而是由儲存欄位加上牆上時鐘推導，
// 避免「儲存的狀態和時間不一致」這類問題
type Status string

const (
	StatusPending   Status = "pending"
	StatusOpen      Status = "open"
	StatusEnded     Status = "ended"
	StatusSettled   Status = "settled"
	StatusCancelled Status = "cancelled"
)

// StatusAt 推導拍賣在 now 這個時間點的狀態
// 出價、結算、查詢都必須透過這個函數取得狀態，確保所有人對
// 「拍賣是否進行中」的判斷一致
func StatusAt(auction *models.Auction, now time.Time) Status {
	switch {
	case auction.Settled:
		return StatusSettled
	case auction.CanceledAt != nil:
		return StatusCancelled
	case now.Before(auction.StartTime):
		return StatusPending
	case now.Before(auction.EndTime):
		return StatusOpen
	default:
		return StatusEnded
	}
}
