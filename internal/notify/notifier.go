// Package notify delivers user-facing notifications about offer activity.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Notification is one user-facing message about a change on an offer.
// Recipient is empty when the notification targets everyone on the offer
// whose role is in Audience.
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	OfferID   string    `json:"offer_id"`
	Table     string    `json:"table"`
	RecordID  string    `json:"record_id,omitempty"`
	Audience  []string  `json:"audience"`
	Recipient string    `json:"recipient,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Stamp fills in the id and creation time when missing.
func (n *Notification) Stamp() {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
}

// Notifier defines the interface for delivering notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier just logs notifications. Useful for development.
type LogNotifier struct{}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() Notifier {
	return &LogNotifier{}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	log.Printf("Notification [%s] offer %s to %v: %s - %s", n.Kind, n.OfferID, n.Audience, n.Title, n.Message)
	return nil
}
