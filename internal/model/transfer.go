package model

import "time"

type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferAccepted TransferStatus = "accepted"
	TransferRejected TransferStatus = "rejected"
)

type UrgencyLevel string

const (
	UrgencyLow    UrgencyLevel = "low"
	UrgencyMedium UrgencyLevel = "medium"
	UrgencyHigh   UrgencyLevel = "high"
	UrgencyUrgent UrgencyLevel = "urgent"
)

// TransferRecord is an immutable append-only event attesting a bot-to-human
// handover.
type TransferRecord struct {
	ID            int64          `json:"id"`
	SessionID     string         `json:"session_id"`
	FromType      string         `json:"from_type"`
	ToType        string         `json:"to_type"`
	Reason        string         `json:"reason"`
	Urgency       UrgencyLevel   `json:"urgency"`
	Status        TransferStatus `json:"status"`
	TransferredAt time.Time      `json:"transferred_at"`
	AcceptedAt    *time.Time     `json:"accepted_at,omitempty"`
}
