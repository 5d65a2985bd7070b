package model

import "time"

const (
	SourceAccount = "account"
	SourceShop    = "shop"
)

// Message is a persisted inbound chat record. MessageID is the platform's
// message identifier and is globally unique; re-ingesting one is a no-op.
type Message struct {
	MessageID  string    `json:"message_id"`
	SessionID  string    `json:"session_id"`
	Content    string    `json:"content"`
	SenderNick string    `json:"sender_nick"`
	FromSource string    `json:"from_source"`
	SentAt     time.Time `json:"sent_at"`
	CreatedAt  time.Time `json:"created_at"`
}
