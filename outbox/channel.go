package outbox

import (
	"fmt"
	"strings"
)

// ChannelFor 從事件的 entity 與 entity id 推導出即時頻道名稱
// 例如 ("Bid", 5) -> "bid.5"、("NFT", 9) -> "nft.9"
func ChannelFor(entity string, entityID int64) string {
	return fmt.Sprintf("%s.%d", strings.ToLower(entity), entityID)
}
