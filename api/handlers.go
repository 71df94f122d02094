package api

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"hammer/adapters/storage"
	"hammer/engine"
	"hammer/models"
	"hammer/outbox"
)

const accessTokenCookie = "access_token"

// RegisterRoutes 註冊所有HTTP路由
func (impl *ServerImpl) RegisterRoutes(router gin.IRouter) {
	router.POST("/auth/wallet/challenge", impl.PostWalletChallenge)
	router.POST("/auth/wallet/login", impl.PostWalletLogin)

	router.POST("/auctions", impl.PostAuction)
	router.GET("/auctions/active", impl.GetActiveAuctions)
	router.GET("/auctions/:auctionID/events", impl.GetAuctionEvents)
	router.POST("/auctions/:auctionID/bids", impl.PostBid)
	router.POST("/auctions/:auctionID/settle", impl.PostSettle)
	router.POST("/auctions/:auctionID/cancel", impl.PostCancel)

	router.POST("/nfts", impl.PostNFT)
	router.GET("/nfts/:nftID/auction", impl.GetNFTAuction)
	router.PUT("/nfts/:nftID/like", impl.PutNFTLike)
	router.DELETE("/nfts/:nftID/like", impl.DeleteNFTLike)

	router.POST("/media", impl.PostMedia)
}

// authenticate 從cookie解析並驗證access token，回傳登入的使用者ID
// 驗證失敗時已寫入401回應，呼叫端直接return即可
func (impl *ServerImpl) authenticate(c *gin.Context) (int64, *JWT, bool) {
	tokenString, err := c.Cookie(accessTokenCookie)
	if err != nil {
		c.Status(http.StatusUnauthorized)
		return 0, nil, false
	}
	token, err := ParseAndValidateJWT(tokenString, impl.config.Auth.PrivateKey)
	if err != nil {
		slog.Error("Fail to parse and validate JWT", slog.Any("error", err))
		c.Status(http.StatusUnauthorized)
		return 0, nil, false
	}
	userID, err := strconv.ParseInt(token.Subject, 10, 64)
	if err != nil {
		slog.Error("Invalid JWT subject", slog.String("subject", token.Subject))
		c.Status(http.StatusUnauthorized)
		return 0, nil, false
	}
	return userID, token, true
}

// Issue a wallet login challenge
// (POST /auth/wallet/challenge)
func (impl *ServerImpl) PostWalletChallenge(c *gin.Context) {
	const op = "PostWalletChallenge"
	var body struct {
		WalletAddress string `json:"walletAddress" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if _, err := decodeWalletAddress(body.WalletAddress); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid wallet address"})
		return
	}
	nonce, err := impl.nonceStore.Issue(c.Request.Context(), body.WalletAddress)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("[%s] Fail to issue nonce, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"nonce": nonce})
}

// Verify the signed challenge and issue an access token
// (POST /auth/wallet/login)
func (impl *ServerImpl) PostWalletLogin(c *gin.Context) {
	const op = "PostWalletLogin"
	var body struct {
		WalletAddress string `json:"walletAddress" binding:"required"`
		Nonce         string `json:"nonce" binding:"required"`
		Signature     string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	publicKey, err := decodeWalletAddress(body.WalletAddress)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid wallet address"})
		return
	}
	signature, err := base64.StdEncoding.DecodeString(body.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid signature encoding"})
		return
	}
	// 挑戰字串只能使用一次，驗證前先從儲存中取出並刪除
	valid, err := impl.nonceStore.Consume(c.Request.Context(), body.WalletAddress, body.Nonce)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("[%s] Fail to consume nonce, err=%w", op, err))
		return
	}
	if !valid || !ed25519.Verify(publicKey, []byte(body.Nonce), signature) {
		c.Status(http.StatusUnauthorized)
		return
	}
	// 第一次登入時建立使用者
	user := models.User{
		WalletAddress: body.WalletAddress,
		Username:      shortAddress(body.WalletAddress),
	}
	result := impl.db.Where(&models.User{WalletAddress: body.WalletAddress}).FirstOrCreate(&user)
	if result.Error != nil {
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("[%s] Fail to upsert user, err=%w", op, result.Error))
		return
	}
	// 建立token
	token := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, JWT{
		WalletAddress: user.WalletAddress,
		Username:      user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(impl.config.Auth.ExpireDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    impl.config.Auth.Issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			ID:        uuid.NewString(),
			Audience:  []string{impl.config.Auth.Audience},
		},
	})
	tokenString, err := token.SignedString(impl.config.Auth.PrivateKey)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("[%s] Fail to sign JWT, err=%w", op, err))
		return
	}
	c.SetCookie(accessTokenCookie, tokenString, int(impl.config.Auth.ExpireDuration.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"username": user.Username})
}

// Create an auction for an NFT
// (POST /auctions)
func (impl *ServerImpl) PostAuction(c *gin.Context) {
	userID, _, ok := impl.authenticate(c)
	if !ok {
		return
	}
	var body struct {
		NFTID     int64            `json:"nftId" binding:"required"`
		MinBid    *decimal.Decimal `json:"minBid"`
		StartTime *time.Time       `json:"startTime"`
		EndTime   time.Time        `json:"endTime" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	// 處理預設值
	if body.MinBid == nil {
		body.MinBid = lo.ToPtr(decimal.Zero)
	}
	if body.StartTime == nil {
		body.StartTime = lo.ToPtr(time.Now())
	}
	auction, err := impl.repo.CreateAuction(c.Request.Context(), engine.CreateAuctionParams{
		NFTID:     body.NFTID,
		SellerID:  userID,
		MinBid:    *body.MinBid,
		StartTime: *body.StartTime,
		EndTime:   body.EndTime,
	})
	if err != nil {
		impl.abortEngineError(c, err)
		return
	}
	c.Header("Location", fmt.Sprintf("/auctions/%d", auction.ID))
	c.JSON(http.StatusCreated, impl.auctionResponse(auction))
}

// List auctions currently open for bidding
// (GET /auctions/active)
func (impl *ServerImpl) GetActiveAuctions(c *gin.Context) {
	auctions, err := impl.repo.ListActiveAuctions(c.Request.Context())
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	output := make([]gin.H, len(auctions))
	for i := range auctions {
		output[i] = impl.auctionResponse(&auctions[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(output),
		"items": output,
	})
}

// Register an NFT
// (POST /nfts)
func (impl *ServerImpl) PostNFT(c *gin.Context) {
	const op = "PostNFT"
	userID, _, ok := impl.authenticate(c)
	if !ok {
		return
	}
	var body struct {
		TokenID     string `json:"tokenId" binding:"required"`
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
		MetadataURL string `json:"metadataUrl" binding:"required"`
		MediaURL    string `json:"mediaUrl" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	// 名稱和描述會被渲染到其他使用者的頁面上，先清除其中的HTML
	nft := models.NFT{
		OwnerID:     userID,
		TokenID:     body.TokenID,
		Name:        impl.htmlChecker.Sanitize(body.Name),
		Description: impl.htmlChecker.Sanitize(body.Description),
		MetadataURL: body.MetadataURL,
		MediaURL:    body.MediaURL,
	}
	if result := impl.db.WithContext(c.Request.Context()).Create(&nft); result.Error != nil {
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("[%s] Fail to create nft, err=%w", op, result.Error))
		return
	}
	c.Header("Location", fmt.Sprintf("/nfts/%d", nft.ID))
	c.JSON(http.StatusCreated, gin.H{
		"id":          nft.ID,
		"ownerId":     nft.OwnerID,
		"tokenId":     nft.TokenID,
		"name":        nft.Name,
		"description": nft.Description,
		"metadataUrl": nft.MetadataURL,
		"mediaUrl":    nft.MediaURL,
	})
}

// Get the auction attached to an NFT
// (GET /nfts/{nftID}/auction)
func (impl *ServerImpl) GetNFTAuction(c *gin.Context) {
	nftID, err := strconv.ParseInt(c.Param("nftID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid nft id"})
		return
	}
	auction, err := impl.repo.GetAuctionByNFT(c.Request.Context(), nftID)
	if err != nil {
		impl.abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, impl.auctionResponse(auction))
}

// Place a bid on an auction
// (POST /auctions/{auctionID}/bids)
func (impl *ServerImpl) PostBid(c *gin.Context) {
	userID, token, ok := impl.authenticate(c)
	if !ok {
		return
	}
	auctionID, err := strconv.ParseInt(c.Param("auctionID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid auction id"})
		return
	}
	var body struct {
		Amount decimal.Decimal `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	bid, err := impl.repo.PlaceBid(c.Request.Context(), auctionID, userID, body.Amount)
	if err != nil {
		impl.abortEngineError(c, err)
		return
	}
	slog.Info("Higher bid occurs",
		slog.String("user", token.Subject),
		slog.String("bid", bid.Amount.String()),
		slog.Int64("auctionID", auctionID))
	c.JSON(http.StatusCreated, gin.H{
		"id":        bid.ID,
		"auctionId": bid.AuctionID,
		"bidderId":  bid.BidderID,
		"amount":    bid.Amount,
		"createdAt": bid.CreatedAt,
	})
}

// Settle an ended auction
// (POST /auctions/{auctionID}/settle)
func (impl *ServerImpl) PostSettle(c *gin.Context) {
	userID, _, ok := impl.authenticate(c)
	if !ok {
		return
	}
	auctionID, err := strconv.ParseInt(c.Param("auctionID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid auction id"})
		return
	}
	auction, err := impl.repo.Settle(c.Request.Context(), auctionID, userID)
	if err != nil {
		impl.abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, impl.auctionResponse(auction))
}

// Cancel an auction that has not started
// (POST /auctions/{auctionID}/cancel)
func (impl *ServerImpl) PostCancel(c *gin.Context) {
	userID, _, ok := impl.authenticate(c)
	if !ok {
		return
	}
	auctionID, err := strconv.ParseInt(c.Param("auctionID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid auction id"})
		return
	}
	auction, err := impl.repo.Cancel(c.Request.Context(), auctionID, userID)
	if err != nil {
		impl.abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, impl.auctionResponse(auction))
}

// Like an NFT
// (PUT /nfts/{nftID}/like)
func (impl *ServerImpl) PutNFTLike(c *gin.Context) {
	const op = "PutNFTLike"
	userID, _, ok := impl.authenticate(c)
	if !ok {
		return
	}
	nftID, err := strconv.ParseInt(c.Param("nftID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid nft id"})
		return
	}
	// 收藏紀錄和對應事件在同一個交易中寫入
	err = impl.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var nft models.NFT
		if result := tx.First(&nft, nftID); result.Error != nil {
			return result.Error
		}
		like := models.NFTLike{NFTID: nftID, UserID: userID}
		if result := tx.Create(&like); result.Error != nil {
			return result.Error
		}
		return impl.outboxStore.Append(tx, "NFT", nftID, "like", likePayload{NFTID: nftID, UserID: userID})
	})
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// 已經收藏過，不重複發出事件
		c.Status(http.StatusOK)
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.Status(http.StatusNotFound)
	case err != nil:
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("[%s] Fail to like nft, err=%w", op, err))
	default:
		c.Status(http.StatusCreated)
	}
}

// Remove a like from an NFT
// (DELETE /nfts/{nftID}/like)
func (impl *ServerImpl) DeleteNFTLike(c *gin.Context) {
	const op = "DeleteNFTLike"
	userID, _, ok := impl.authenticate(c)
	if !ok {
		return
	}
	nftID, err := strconv.ParseInt(c.Param("nftID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid nft id"})
		return
	}
	err = impl.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("nft_id = ? AND user_id = ?", nftID, userID).Delete(&models.NFTLike{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return impl.outboxStore.Append(tx, "NFT", nftID, "unlike", likePayload{NFTID: nftID, UserID: userID})
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.Status(http.StatusNotFound)
	case err != nil:
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("[%s] Fail to unlike nft, err=%w", op, err))
	default:
		c.Status(http.StatusOK)
	}
}

// Upload NFT media
// (POST /media)
func (impl *ServerImpl) PostMedia(c *gin.Context) {
	const op = "PostMedia"
	if _, _, ok := impl.authenticate(c); !ok {
		return
	}
	// 限制媒體檔案
	// 	1. 小於設定的上限
	// 	2. MIME類型為不包含腳本的圖片檔案
	body := storage.NewMaxSizeReader(c.Request.Body, impl.config.S3.MaxUploadBytes)
	file, err := io.ReadAll(body)
	if errors.As(err, &storage.ErrReachLimitType) {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("[%s] Fail to read media, err=%w", op, err))
		return
	}
	mimeType := http.DetectContentType(file)
	secure, ext := storage.CheckSecureImageAndGetExtension(mimeType)
	if !secure {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("Invalid media type: %s", mimeType)})
		return
	}
	// 透過S3 API儲存媒體
	url, err := impl.mediaStore.Upload(c.Request.Context(), uuid.New().String()+"."+ext, mimeType, file)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("[%s] Fail to upload media, err=%w", op, err))
		return
	}
	c.Header("Location", url)
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

// Track auction events
// (GET /auctions/{auctionID}/events)
func (impl *ServerImpl) GetAuctionEvents(c *gin.Context) {
	const op = "GetAuctionEvents"
	auctionID, err := strconv.ParseInt(c.Param("auctionID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid auction id"})
		return
	}
	var auction models.Auction
	if result := impl.db.WithContext(c.Request.Context()).First(&auction, auctionID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("[%s] Fail to find auction, err=%w", op, result.Error))
		return
	}
	// 結束後的拍賣不再有新事件
	switch engine.StatusAt(&auction, time.Now()) {
	case engine.StatusSettled, engine.StatusCancelled:
		c.JSON(http.StatusGone, gin.H{"message": "Auction has ended"})
		return
	}
	// SSE請求合法，開始初始化串流
	impl.streamAuctionEvents(c, auctionID)
}

// streamAuctionEvents 持續把拍賣頻道的事件寫進SSE串流，
// 直到客戶端斷線或連線管理器關閉為止
func (impl *ServerImpl) streamAuctionEvents(c *gin.Context, auctionID int64) {
	const op = "streamAuctionEvents"
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")
	channelName := outbox.ChannelFor("Auction", auctionID)
	ch, err := impl.sseManager.Subscribe(channelName)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("[%s] Fail to subscribe to auction events, err=%w", op, err))
		return
	}
	for {
		select {
		case <-w.CloseNotify():
			impl.sseManager.Unsubscribe(channelName, ch)
			return
		case event, ok := <-ch:
			// 連線管理器關閉時會把訂閱通道關掉，此時結束串流
			if !ok {
				return
			}
			c.SSEvent(event.Action, event)
			w.Flush()
		// 30秒沒有事件就發送一個空行，確保瀏覽器和Cloudflare不會斷開連線
		case <-time.After(30 * time.Second):
			w.WriteString("\n\n")
			w.Flush()
		}
	}
}

type likePayload struct {
	NFTID  int64 `json:"nftId"`
	UserID int64 `json:"userId"`
}

// auctionResponse 組出拍賣的回應內容，狀態由時間欄位即時推導
func (impl *ServerImpl) auctionResponse(auction *models.Auction) gin.H {
	response := gin.H{
		"id":        auction.ID,
		"nftId":     auction.NFTID,
		"sellerId":  auction.SellerID,
		"minBid":    auction.MinBid,
		"startTime": auction.StartTime,
		"endTime":   auction.EndTime,
		"status":    engine.StatusAt(auction, time.Now()),
	}
	if auction.HighestBid.Valid {
		response["highestBid"] = auction.HighestBid.Decimal
		response["highestBidderId"] = auction.HighestBidderID
	}
	return response
}

// abortEngineError 將引擎的錯誤分類轉成HTTP狀態碼
func (impl *ServerImpl) abortEngineError(c *gin.Context, err error) {
	var validationErr *engine.ValidationError
	var bidTooLowErr *engine.BidTooLowError
	switch {
	case errors.Is(err, engine.ErrAuctionNotFound):
		c.Status(http.StatusNotFound)
	case errors.Is(err, engine.ErrAuctionNotOpen):
		c.JSON(http.StatusConflict, gin.H{"message": "Auction is not open for bidding"})
	case errors.Is(err, engine.ErrAuctionCancelled):
		c.JSON(http.StatusGone, gin.H{"message": "Auction has been cancelled"})
	case errors.Is(err, engine.ErrSelfBidForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": "Seller cannot bid on own auction"})
	case errors.Is(err, engine.ErrNotSeller):
		c.JSON(http.StatusForbidden, gin.H{"message": "Only the seller may perform this action"})
	case errors.Is(err, engine.ErrNotEnded):
		c.JSON(http.StatusConflict, gin.H{"message": "Auction has not ended yet"})
	case errors.Is(err, engine.ErrAlreadySettled):
		c.JSON(http.StatusConflict, gin.H{"message": "Auction is already settled"})
	case errors.Is(err, engine.ErrAlreadyStarted):
		c.JSON(http.StatusConflict, gin.H{"message": "Auction has already started"})
	case errors.Is(err, engine.ErrBusy):
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Auction is busy, retry later"})
	case errors.Is(err, engine.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"message": "Request timed out"})
	case errors.As(err, &bidTooLowErr):
		c.JSON(http.StatusBadRequest, gin.H{"message": bidTooLowErr.Error()})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"message": validationErr.Error()})
	default:
		c.AbortWithError(http.StatusInternalServerError, err)
	}
}

// decodeWalletAddress 解析十六進位的錢包地址，地址即ed25519公鑰
func decodeWalletAddress(address string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(address)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address encoding, err=%w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid wallet address length: %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func shortAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
