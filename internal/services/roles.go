package services

import (
	"context"

	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/utils"
)

// Capability is one entry of the fixed permission matrix.
type Capability string

const (
	CapView    Capability = "view"
	CapEdit    Capability = "edit"
	CapUpload  Capability = "upload"
	CapMessage Capability = "message"
	CapDelete  Capability = "delete"
)

// Capabilities is the permission matrix row of one role.
type Capabilities struct {
	View    bool `json:"can_view"`
	Edit    bool `json:"can_edit"`
	Upload  bool `json:"can_upload"`
	Message bool `json:"can_message"`
	Delete  bool `json:"can_delete"`
}

// CapabilitiesFor returns the fixed capabilities of role.
func CapabilitiesFor(role models.Role) Capabilities {
	switch role {
	case models.RoleAdmin:
		return Capabilities{View: true, Edit: true, Upload: true, Message: true, Delete: true}
	case models.RoleSeller:
		return Capabilities{View: true, Edit: true, Upload: true, Message: true}
	default:
		return Capabilities{View: true, Upload: true, Message: true}
	}
}

// Can reports whether role holds capability c.
func Can(role models.Role, c Capability) bool {
	caps := CapabilitiesFor(role)
	switch c {
	case CapView:
		return caps.View
	case CapEdit:
		return caps.Edit
	case CapUpload:
		return caps.Upload
	case CapMessage:
		return caps.Message
	case CapDelete:
		return caps.Delete
	}
	return false
}

// ResolveRole derives the caller's role on an offer. Admin comes only from
// verified claims; anyone who is neither the buyer nor the listing owner is
// treated as a buyer, never as seller or admin.
func ResolveRole(identity models.Identity, offer *models.SaleOffer, listing *models.Listing) models.Role {
	if identity.IsAdmin {
		return models.RoleAdmin
	}
	if offer == nil {
		return models.RoleBuyer
	}
	if identity.ID == offer.BuyerID {
		return models.RoleBuyer
	}
	if listing != nil && identity.ID == listing.UserID {
		return models.RoleSeller
	}
	return models.RoleBuyer
}

// Resolution is the outcome of resolving a caller against one offer, together
// with the records it was computed from.
type Resolution struct {
	Identity     models.Identity
	Role         models.Role
	IsParty      bool // the caller is the offer's buyer or the listing's owner
	Capabilities Capabilities
	Offer        *models.SaleOffer
	Listing      *models.Listing
}

// Can is the capability check for this caller.
func (r *Resolution) Can(c Capability) bool {
	return Can(r.Role, c)
}

// Is reports whether the resolved role is one of roles.
func (r *Resolution) Is(roles ...models.Role) bool {
	for _, role := range roles {
		if r.Role == role {
			return true
		}
	}
	return false
}

// resolution builds a Resolution from already-fetched records.
func resolution(identity models.Identity, offer *models.SaleOffer, listing *models.Listing) *Resolution {
	role := ResolveRole(identity, offer, listing)
	isParty := false
	if offer != nil {
		isParty = identity.ID == offer.BuyerID || (listing != nil && identity.ID == listing.UserID)
	}
	return &Resolution{
		Identity:     identity,
		Role:         role,
		IsParty:      isParty,
		Capabilities: CapabilitiesFor(role),
		Offer:        offer,
		Listing:      listing,
	}
}

// IRoleResolver resolves a caller against an offer.
type IRoleResolver interface {
	Resolve(ctx context.Context, identity models.Identity, offerID *utils.SixID) (*Resolution, error)
}

// roleResolver always reads the offer and listing from the store so the role
// reflects the latest buyer and owner binding.
type roleResolver struct {
	st       store.RecordStore
	listings IListingService
}

// NewRoleResolver creates a resolver backed by the record store.
func NewRoleResolver(st store.RecordStore, listings IListingService) IRoleResolver {
	return &roleResolver{st: st, listings: listings}
}

// Resolve fetches the offer and its listing. A nil offerID yields the default
// role for contexts without a specific offer.
func (r *roleResolver) Resolve(ctx context.Context, identity models.Identity, offerID *utils.SixID) (*Resolution, error) {
	if offerID == nil {
		return resolution(identity, nil, nil), nil
	}
	offer, err := fetchOffer(ctx, r.st, "roles.resolve", *offerID)
	if err != nil {
		return nil, err
	}
	return resolveAgainst(ctx, r.listings, identity, offer)
}

// resolveAgainst resolves against an offer that was already fetched. A
// listing that no longer exists leaves nobody in the seller role.
func resolveAgainst(ctx context.Context, listings IListingService, identity models.Identity, offer *models.SaleOffer) (*Resolution, error) {
	listing, err := listings.FindListingByID(ctx, offer.ListingID)
	if err != nil && KindOf(err) != KindNotFound {
		return nil, err
	}
	return resolution(identity, offer, listing), nil
}

// fetchOffer reads one offer straight from the store.
func fetchOffer(ctx context.Context, st store.RecordStore, op string, offerID utils.SixID) (*models.SaleOffer, error) {
	rows, err := st.Select(ctx, models.TableOffers, store.Filter{"_id": offerID})
	if err != nil {
		return nil, storeFailure(op, err)
	}
	if len(rows) == 0 {
		return nil, notFound(op, "Offer")
	}
	var offer models.SaleOffer
	if err := store.Decode(rows[0], &offer); err != nil {
		return nil, storeFailure(op, err)
	}
	return &offer, nil
}
