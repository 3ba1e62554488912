package models

import (
	"time"

	"greendrake/offers/internal/utils"
)

// OfferStatus is the lifecycle state of a sale offer.
type OfferStatus string

const (
	StatusPending       OfferStatus = "pendiente"
	StatusInReview      OfferStatus = "en_revision"
	StatusCounterOffer  OfferStatus = "contraoferta"
	StatusAccepted      OfferStatus = "aceptada"
	StatusTitleStudy    OfferStatus = "estudio_titulo"
	StatusFinalized     OfferStatus = "finalizada"
	StatusRejected      OfferStatus = "rechazada"
	StatusInfoRequested OfferStatus = "info_solicitada"
)

// OfferStatuses lists every valid status.
var OfferStatuses = []OfferStatus{
	StatusPending, StatusInReview, StatusCounterOffer, StatusAccepted,
	StatusTitleStudy, StatusFinalized, StatusRejected, StatusInfoRequested,
}

// Valid reports whether s is one of the defined statuses.
func (s OfferStatus) Valid() bool {
	for _, v := range OfferStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal statuses have no outbound transitions.
func (s OfferStatus) Terminal() bool {
	return s == StatusRejected || s == StatusFinalized
}

// SaleOffer is a buyer's proposal to purchase a listing. It is only mutated
// through state machine transitions and never hard-deleted. CounterOfferBy
// records which role proposed the standing counter-offer.
type SaleOffer struct {
	ID                 utils.SixID `bson:"_id" json:"id"`
	ListingID          utils.SixID `bson:"listing_id" json:"listing_id"`
	BuyerID            utils.SixID `bson:"buyer_id" json:"buyer_id"`
	OfferAmount        float64     `bson:"offer_amount" json:"offer_amount"`
	Currency           string      `bson:"currency" json:"currency"`
	Status             OfferStatus `bson:"status" json:"status"`
	CounterOfferAmount *float64    `bson:"counter_offer_amount,omitempty" json:"counter_offer_amount,omitempty"`
	CounterOfferTerms  string      `bson:"counter_offer_terms,omitempty" json:"counter_offer_terms,omitempty"`
	CounterOfferBy     Role        `bson:"counter_offer_by,omitempty" json:"counter_offer_by,omitempty"`
	Message            string      `bson:"message,omitempty" json:"message,omitempty"`
	SellerResponse     string      `bson:"seller_response,omitempty" json:"seller_response,omitempty"`
	RejectionReason    string      `bson:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`
	CancellationNote   string      `bson:"cancellation_note,omitempty" json:"cancellation_note,omitempty"`
	RequestTitleStudy  bool        `bson:"request_title_study" json:"request_title_study"`
	RequestInspection  bool        `bson:"request_inspection" json:"request_inspection"`
	CreatedAt          time.Time   `bson:"created_at" json:"created_at"`
	RespondedAt        *time.Time  `bson:"responded_at,omitempty" json:"responded_at,omitempty"`
	UpdatedAt          time.Time   `bson:"updated_at" json:"updated_at"`
}
