package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hammer/engine"
	"hammer/models"
)

func TestStatusAt(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	canceled := start.Add(-time.Minute)

	tests := []struct {
		name    string
		auction models.Auction
		now     time.Time
		want    engine.Status
	}{
		{
			name:    "before start",
			auction: models.Auction{StartTime: start, EndTime: end},
			now:     start.Add(-time.Second),
			want:    engine.StatusPending,
		},
		{
			name:    "exactly at start",
			auction: models.Auction{StartTime: start, EndTime: end},
			now:     start,
			want:    engine.StatusOpen,
		},
		{
			name:    "between start and end",
			auction: models.Auction{StartTime: start, EndTime: end},
			now:     start.Add(30 * time.Minute),
			want:    engine.StatusOpen,
		},
		{
			name:    "exactly at end",
			auction: models.Auction{StartTime: start, EndTime: end},
			now:     end,
			want:    engine.StatusEnded,
		},
		{
			name:    "after end",
			auction: models.Auction{StartTime: start, EndTime: end},
			now:     end.Add(time.Hour),
			want:    engine.StatusEnded,
		},
		{
			name:    "settled wins over time",
			auction: models.Auction{StartTime: start, EndTime: end, Settled: true},
			now:     start.Add(30 * time.Minute),
			want:    engine.StatusSettled,
		},
		{
			name:    "cancelled wins over pending",
			auction: models.Auction{StartTime: start, EndTime: end, CanceledAt: &canceled},
			now:     start.Add(-time.Second),
			want:    engine.StatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.StatusAt(&tt.auction, tt.now)
			assert.Equal(t, tt.want, got)
		})
	}
}
