package api

import (
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hammer/models"
)

func TestPostNFT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	user := models.User{WalletAddress: "wallet", Username: "tester"}
	require.NoError(t, db.Create(&user).Error)

	impl := &ServerImpl{
		db:          db,
		htmlChecker: bluemonday.UGCPolicy(),
		config:      ServerConfig{Auth: AuthConfig{PrivateKey: key}},
	}
	router := gin.New()
	router.POST("/nfts", impl.PostNFT)

	t.Run("requires authentication", func(t *testing.T) {
		request := httptest.NewRequest(http.MethodPost, "/nfts", strings.NewReader(`{}`))
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	})

	t.Run("strips dangerous html from user content", func(t *testing.T) {
		body := `{
			"tokenId": "tok-1",
			"name": "shiny<script>alert(1)</script>",
			"description": "<b>bold</b><script>alert(2)</script>",
			"metadataUrl": "https://example.com/meta.json",
			"mediaUrl": "https://example.com/media.png"
		}`
		request := httptest.NewRequest(http.MethodPost, "/nfts", strings.NewReader(body))
		request.AddCookie(&http.Cookie{
			Name:  accessTokenCookie,
			Value: signTestToken(t, key, user.ID, time.Hour),
		})
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)
		require.Equal(t, http.StatusCreated, recorder.Code)

		var stored models.NFT
		require.NoError(t, db.Where("owner_id = ?", user.ID).First(&stored).Error)
		assert.Equal(t, "shiny", stored.Name)
		assert.Equal(t, "<b>bold</b>", stored.Description)
		assert.Equal(t, "tok-1", stored.TokenID)
	})
}
