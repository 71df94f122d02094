package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hammer/clock"
	"hammer/engine"
	"hammer/models"
	"hammer/outbox"
)

// newTestDB 啟動一個 Postgres 容器並回傳完成建表的 *gorm.DB
// 容器在測試結束時自動回收
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("hammer_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	db, err := gorm.Open(postgres.Open(connStr), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.NFT{},
		&models.NFTLike{},
		&models.Auction{},
		&models.Bid{},
		&models.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrating schema: %v", err)
	}
	return db
}

func newTestRepository(t *testing.T, db *gorm.DB, clk clock.Clock, opts ...engine.RepositoryOption) (*engine.Repository, *outbox.Store) {
	t.Helper()
	store, err := outbox.NewStore(db)
	if err != nil {
		t.Fatalf("creating outbox store: %v", err)
	}
	opts = append([]engine.RepositoryOption{engine.WithRepositoryClock(clk)}, opts...)
	repo, err := engine.NewRepository(db, store, opts...)
	if err != nil {
		t.Fatalf("creating repository: %v", err)
	}
	return repo, store
}

func seedUser(t *testing.T, db *gorm.DB, wallet string) *models.User {
	t.Helper()
	user := models.User{WalletAddress: wallet, Username: wallet}
	if result := db.Create(&user); result.Error != nil {
		t.Fatalf("seeding user: %v", result.Error)
	}
	return &user
}

func seedNFT(t *testing.T, db *gorm.DB, ownerID int64) *models.NFT {
	t.Helper()
	nft := models.NFT{
		OwnerID:     ownerID,
		TokenID:     "token",
		Name:        "test nft",
		Description: "",
		MetadataURL: "https://example.com/meta.json",
		MediaURL:    "https://example.com/media.png",
	}
	if result := db.Create(&nft); result.Error != nil {
		t.Fatalf("seeding nft: %v", result.Error)
	}
	return &nft
}

// seedAuction 直接寫入一場拍賣，繞過 CreateAuction 以便控制時間欄位
func seedAuction(t *testing.T, db *gorm.DB, nftID, sellerID int64, start, end time.Time) *models.Auction {
	t.Helper()
	auction := models.Auction{
		NFTID:     nftID,
		SellerID:  sellerID,
		MinBid:    decimal.NewFromInt(10),
		StartTime: start,
		EndTime:   end,
	}
	if result := db.Create(&auction); result.Error != nil {
		t.Fatalf("seeding auction: %v", result.Error)
	}
	return &auction
}

func countOutboxEvents(t *testing.T, db *gorm.DB, entity, action string) int64 {
	t.Helper()
	var count int64
	result := db.Model(&models.OutboxEvent{}).
		Where("entity = ? AND action = ?", entity, action).
		Count(&count)
	if result.Error != nil {
		t.Fatalf("counting outbox events: %v", result.Error)
	}
	return count
}
