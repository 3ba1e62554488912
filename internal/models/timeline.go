package models

import (
	"time"

	"greendrake/offers/internal/utils"
)

// OfferTimeline is one append-only audit record. Event types are an open
// vocabulary of "<entity>_<action>" names.
type OfferTimeline struct {
	ID            utils.SixID            `bson:"_id" json:"id"`
	OfferID       utils.SixID            `bson:"offer_id" json:"offer_id"`
	EventType     string                 `bson:"event_type" json:"event_type"`
	Title         string                 `bson:"title" json:"title"`
	Description   string                 `bson:"description,omitempty" json:"description,omitempty"`
	TriggeredBy   utils.SixID            `bson:"triggered_by" json:"triggered_by"`
	TriggeredRole Role                   `bson:"triggered_role" json:"triggered_role"`
	Payload       map[string]interface{} `bson:"payload,omitempty" json:"payload,omitempty"`
	CreatedAt     time.Time              `bson:"created_at" json:"created_at"`
}

// Private reports whether the entry records a private message.
func (t OfferTimeline) Private() bool {
	private, _ := t.Payload["is_private"].(bool)
	return private
}
