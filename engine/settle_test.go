package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hammer/clock"
	"hammer/engine"
	"hammer/models"
)

func TestSettle(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seller := seedUser(t, db, "seller")
	stranger := seedUser(t, db, "stranger")

	t.Run("only the seller may settle", func(t *testing.T) {
		repo, _ := newTestRepository(t, db, clock.Mock{T: now})
		nft := seedNFT(t, db, seller.ID)
		auction := seedAuction(t, db, nft.ID, seller.ID, now.Add(-2*time.Hour), now.Add(-time.Hour))

		_, err := repo.Settle(context.Background(), auction.ID, stranger.ID)
		assert.ErrorIs(t, err, engine.ErrNotSeller)
	})

	t.Run("open auction cannot be settled", func(t *testing.T) {
		repo, _ := newTestRepository(t, db, clock.Mock{T: now})
		nft := seedNFT(t, db, seller.ID)
		auction := seedAuction(t, db, nft.ID, seller.ID, now.Add(-time.Hour), now.Add(time.Hour))

		_, err := repo.Settle(context.Background(), auction.ID, seller.ID)
		assert.ErrorIs(t, err, engine.ErrNotEnded)
	})

	t.Run("pending auction cannot be settled", func(t *testing.T) {
		repo, _ := newTestRepository(t, db, clock.Mock{T: now})
		nft := seedNFT(t, db, seller.ID)
		auction := seedAuction(t, db, nft.ID, seller.ID, now.Add(time.Hour), now.Add(2*time.Hour))

		_, err := repo.Settle(context.Background(), auction.ID, seller.ID)
		assert.ErrorIs(t, err, engine.ErrNotEnded)
	})

	t.Run("ended auction settles exactly once", func(t *testing.T) {
		repo, _ := newTestRepository(t, db, clock.Mock{T: now})
		nft := seedNFT(t, db, seller.ID)
		auction := seedAuction(t, db, nft.ID, seller.ID, now.Add(-2*time.Hour), now.Add(-time.Hour))

		settled, err := repo.Settle(context.Background(), auction.ID, seller.ID)
		require.NoError(t, err)
		assert.True(t, settled.Settled)
		assert.Equal(t, int64(1), countOutboxEvents(t, db, "Auction", "settled"))

		_, err = repo.Settle(context.Background(), auction.ID, seller.ID)
		assert.ErrorIs(t, err, engine.ErrAlreadySettled)
		assert.Equal(t, int64(1), countOutboxEvents(t, db, "Auction", "settled"))
	})

	t.Run("cancelled auction cannot be settled", func(t *testing.T) {
		repo, _ := newTestRepository(t, db, clock.Mock{T: now})
		nft := seedNFT(t, db, seller.ID)
		auction := seedAuction(t, db, nft.ID, seller.ID, now.Add(-2*time.Hour), now.Add(-time.Hour))
		canceledAt := now.Add(-3 * time.Hour)
		require.NoError(t, db.Model(&models.Auction{}).Where("id = ?", auction.ID).Update("canceled_at", canceledAt).Error)

		_, err := repo.Settle(context.Background(), auction.ID, seller.ID)
		assert.ErrorIs(t, err, engine.ErrAuctionCancelled)
	})
}

func TestCancel(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seller := seedUser(t, db, "seller")
	stranger := seedUser(t, db, "stranger")
	bidder := seedUser(t, db, "bidder")

	t.Run("pending auction can be cancelled by the seller", func(t *testing.T) {
		repo, _ := newTestRepository(t, db, clock.Mock{T: now})
		nft := seedNFT(t, db, seller.ID)
		auction := seedAuction(t, db, nft.ID, seller.ID, now.Add(time.Hour), now.Add(2*time.Hour))

		cancelled, err := repo.Cancel(context.Background(), auction.ID, seller.ID)
		require.NoError(t, err)
		require.NotNil(t, cancelled.CanceledAt)
		assert.Equal(t, int64(1), countOutboxEvents(t, db, "Auction", "cancelled"))

		// 取消後即使進入時間窗口也不接受出價
		lateClock := clock.Mock{T: now.Add(90 * time.Minute)}
		lateRepo, _ := newTestRepository(t, db, lateClock)
		_, err = lateRepo.PlaceBid(context.Background(), auction.ID, bidder.ID, decimal.NewFromInt(20))
		assert.ErrorIs(t, err, engine.ErrAuctionNotOpen)

		// 也不會出現在進行中清單
		auctions, err := lateRepo.ListActiveAuctions(context.Background())
		require.NoError(t, err)
		for _, active := range auctions {
			assert.NotEqual(t, auction.ID, active.ID)
		}
	})

	t.Run("only the seller may cancel", func(t *testing.T) {
		repo, _ := newTestRepository(t, db, clock.Mock{T: now})
		nft := seedNFT(t, db, seller.ID)
		auction := seedAuction(t, db, nft.ID, seller.ID, now.Add(time.Hour), now.Add(2*time.Hour))

		_, err := repo.Cancel(context.Background(), auction.ID, stranger.ID)
		assert.ErrorIs(t, err, engine.ErrNotSeller)
	})

	t.Run("open auction cannot be cancelled", func(t *testing.T) {
		repo, _ := newTestRepository(t, db, clock.Mock{T: now})
		nft := seedNFT(t, db, seller.ID)
		auction := seedAuction(t, db, nft.ID, seller.ID, now.Add(-time.Hour), now.Add(time.Hour))

		_, err := repo.Cancel(context.Background(), auction.ID, seller.ID)
		assert.ErrorIs(t, err, engine.ErrAlreadyStarted)
	})

	t.Run("ended auction cannot be cancelled", func(t *testing.T) {
		repo, _ := newTestRepository(t, db, clock.Mock{T: now})
		nft := seedNFT(t, db, seller.ID)
		auction := seedAuction(t, db, nft.ID, seller.ID, now.Add(-2*time.Hour), now.Add(-time.Hour))

		_, err := repo.Cancel(context.Background(), auction.ID, seller.ID)
		assert.ErrorIs(t, err, engine.ErrAlreadyStarted)
	})
}

// 完整跑一遍拍賣生命週期，檢查狀態轉移和事件的產生順序
func TestAuctionLifecycle(t *testing.T) {
	db := newTestDB(t)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	seller := seedUser(t, db, "seller")
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	nft := seedNFT(t, db, seller.ID)

	// 建立階段
	createRepo, _ := newTestRepository(t, db, clock.Mock{T: start.Add(-time.Hour)})
	auction, err := createRepo.CreateAuction(context.Background(), engine.CreateAuctionParams{
		NFTID:     nft.ID,
		SellerID:  seller.ID,
		MinBid:    decimal.NewFromInt(100),
		StartTime: start,
		EndTime:   end,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPending, engine.StatusAt(auction, start.Add(-time.Hour)))

	// 開賣前不能出價
	_, err = createRepo.PlaceBid(context.Background(), auction.ID, alice.ID, decimal.NewFromInt(100))
	require.ErrorIs(t, err, engine.ErrAuctionNotOpen)

	// 出價階段
	openRepo, _ := newTestRepository(t, db, clock.Mock{T: start.Add(time.Minute)})
	_, err = openRepo.PlaceBid(context.Background(), auction.ID, alice.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = openRepo.PlaceBid(context.Background(), auction.ID, bob.ID, decimal.NewFromInt(100))
	require.Error(t, err)
	_, err = openRepo.PlaceBid(context.Background(), auction.ID, bob.ID, decimal.NewFromInt(150))
	require.NoError(t, err)

	// 結束階段
	endedRepo, _ := newTestRepository(t, db, clock.Mock{T: end.Add(time.Minute)})
	_, err = endedRepo.PlaceBid(context.Background(), auction.ID, alice.ID, decimal.NewFromInt(200))
	require.ErrorIs(t, err, engine.ErrAuctionNotOpen)

	settled, err := endedRepo.Settle(context.Background(), auction.ID, seller.ID)
	require.NoError(t, err)
	require.True(t, settled.HighestBid.Valid)
	assert.True(t, settled.HighestBid.Decimal.Equal(decimal.NewFromInt(150)))
	require.NotNil(t, settled.HighestBidderID)
	assert.Equal(t, bob.ID, *settled.HighestBidderID)

	// 事件依發生順序累積在 outbox 中
	var events []models.OutboxEvent
	require.NoError(t, db.Order("id ASC").Find(&events).Error)
	require.Len(t, events, 4)
	assert.Equal(t, "created", events[0].Action)
	assert.Equal(t, "created", events[1].Action)
	assert.Equal(t, "Bid", events[1].Entity)
	assert.Equal(t, "created", events[2].Action)
	assert.Equal(t, "Bid", events[2].Entity)
	assert.Equal(t, "settled", events[3].Action)

	// 結算事件的內容是結算當下的快照
	var snapshot engine.AuctionSnapshot
	require.NoError(t, json.Unmarshal(events[3].Payload, &snapshot))
	assert.Equal(t, auction.ID, snapshot.ID)
	assert.True(t, snapshot.Settled)
	require.NotNil(t, snapshot.HighestBid)
	assert.True(t, snapshot.HighestBid.Equal(decimal.NewFromInt(150)))
}
