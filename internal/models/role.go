package models

import "greendrake/offers/internal/utils"

// Role is an identity's relationship to one offer. It is derived on every
// access and never stored on the offer.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Identity is the authenticated caller. IsAdmin comes from verified token
// claims only.
type Identity struct {
	ID      utils.SixID `json:"id"`
	IsAdmin bool        `json:"is_admin"`
}

// Tables of the record store.
const (
	TableListings       = "listings"
	TableOffers         = "sale_offers"
	TableTasks          = "offer_tasks"
	TableDocuments      = "offer_documents"
	TableFormalRequests = "offer_formal_requests"
	TableCommunications = "offer_communications"
	TableTimeline       = "offer_timeline"
)

// OfferTables are the tables tracked per offer by real-time subscriptions.
var OfferTables = []string{
	TableOffers,
	TableTasks,
	TableDocuments,
	TableTimeline,
	TableCommunications,
	TableFormalRequests,
}
