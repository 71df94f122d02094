package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// 業務規則錯誤，呼叫端收到後不應自動重試
var (
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrAuctionNotOpen   = errors.New("auction is not open for bidding")
	ErrSelfBidForbidden = errors.New("seller cannot bid on their own auction")
	ErrNotSeller        = errors.New("caller is not the auction seller")
	ErrNotEnded         = errors.New("auction has not ended yet")
	ErrAlreadySettled   = errors.New("auction is already settled")
	ErrAlreadyStarted   = errors.New("auction has already started")
	ErrAuctionCancelled = errors.New("auction is cancelled")
)

// 非業務錯誤
var (
	// ErrBusy 代表交易衝突重試次數用盡，呼叫端可以稍後重試
	ErrBusy = errors.New("auction is busy, try again later")
	// ErrTimeout 代表呼叫端的 deadline 已到，交易已回滾
	ErrTimeout = errors.New("operation timed out")
)

// ValidationError 代表請求本身不合法
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// BidTooLowError 代表出價金額不足
// MustExceed 告訴呼叫端要出多少才有機會成為最高出價；
// OrEqual 為 true 時代表出到 MustExceed 同額即可(還沒有人出價，
// 門檻是起標價)，否則必須嚴格高於 MustExceed
type BidTooLowError struct {
	MustExceed decimal.Decimal
	OrEqual    bool
}

func (e *BidTooLowError) Error() string {
	if e.OrEqual {
		return fmt.Sprintf("bid too low, must be at least %s", e.MustExceed)
	}
	return fmt.Sprintf("bid too low, must exceed %s", e.MustExceed)
}
