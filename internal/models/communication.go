package models

import (
	"time"

	"greendrake/offers/internal/utils"
)

// OfferCommunication is a chat message on an offer. Private messages are
// never shown to the buyer.
type OfferCommunication struct {
	ID          utils.SixID `bson:"_id" json:"id"`
	OfferID     utils.SixID `bson:"offer_id" json:"offer_id"`
	Body        string      `bson:"body" json:"body"`
	AuthorID    utils.SixID `bson:"author_id" json:"author_id"`
	AuthorRole  Role        `bson:"author_role" json:"author_role"`
	IsPrivate   bool        `bson:"is_private" json:"is_private"`
	Attachments []string    `bson:"attachments,omitempty" json:"attachments,omitempty"`
	CreatedAt   time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt   *time.Time  `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// VisibleToBuyer is the inverse of IsPrivate.
func (c OfferCommunication) VisibleToBuyer() bool {
	return !c.IsPrivate
}
