package dto

// MessageBatchRequest is what the RPA receiver posts after scraping a chat
// window.
type MessageBatchRequest struct {
	ShopName           string           `json:"shop_name" binding:"required"`
	Platform           string           `json:"platform"`
	AccountID          string           `json:"account_id"`
	MaxInactiveMinutes int              `json:"max_inactive_minutes"`
	Messages           []InboundMessage `json:"messages" binding:"required"`
}

type InboundMessage struct {
	ID      string `json:"id"`
	Nick    string `json:"nick"`
	Time    string `json:"time"`
	Content string `json:"content"`
}
