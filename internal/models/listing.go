package models

import (
	"time"

	"greendrake/offers/internal/utils"
)

// AskingPrice defines the structure for monetary values.
type AskingPrice struct {
	Value        float64 `bson:"value" json:"value"`
	CurrencyCode string  `bson:"currency_code" json:"currency_code"`
}

// Listing is the property an offer is made against. This service only reads
// listings; the owner decides who acts as seller on every offer.
type Listing struct {
	ID          utils.SixID  `bson:"_id,omitempty" json:"id,omitempty"`
	UserID      utils.SixID  `bson:"user_id" json:"user_id"`
	Title       string       `bson:"title" json:"title"`
	AskingPrice *AskingPrice `bson:"asking_price,omitempty" json:"asking_price,omitempty"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	Deleted     bool         `bson:"deleted" json:"-"`
}
