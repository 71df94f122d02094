package clock

import "time"

// Clock 抽象化系統時間，讓依賴牆上時鐘的邏輯可以被測試
type Clock interface {
	Now() time.Time
}

// Real 使用系統時鐘
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Mock 永遠回傳固定時間
type Mock struct {
	T time.Time
}

func (m Mock) Now() time.Time { return m.T }
