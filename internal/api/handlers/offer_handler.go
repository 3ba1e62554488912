package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/offers/internal/services"
)

// OfferHandler handles REST requests for offers and their state machine.
type OfferHandler struct {
	svc *services.Services
}

// NewOfferHandler creates a new OfferHandler.
func NewOfferHandler(svc *services.Services) *OfferHandler {
	return &OfferHandler{svc: svc}
}

// CreateOffer handles POST /v1/offers
func (h *OfferHandler) CreateOffer(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	var in services.CreateOfferInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid offer: listing_id and offer_amount are required")
		return
	}

	offer, err := h.svc.Offers.CreateOffer(c.Request.Context(), identity, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, offer)
}

// GetOffer handles GET /v1/offers/:id
func (h *OfferHandler) GetOffer(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	view, err := h.svc.Offers.GetOffer(c.Request.Context(), identity, offerID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, view)
}

// GetDetail handles GET /v1/offers/:id/detail
func (h *OfferHandler) GetDetail(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	detail, err := h.svc.LoadDetail(c.Request.Context(), identity, offerID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, detail)
}

// Transition handles POST /v1/offers/:id/transition
func (h *OfferHandler) Transition(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	var req services.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid transition: action is required")
		return
	}

	offer, err := h.svc.Offers.Transition(c.Request.Context(), identity, offerID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, offer)
}

// ListActions handles GET /v1/offers/actions
func (h *OfferHandler) ListActions(c *gin.Context) {
	respondData(c, http.StatusOK, services.Actions())
}

// GetTimeline handles GET /v1/offers/:id/timeline
func (h *OfferHandler) GetTimeline(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	// Reading the offer first applies its visibility rules.
	view, err := h.svc.Offers.GetOffer(c.Request.Context(), identity, offerID)
	if err != nil {
		respondError(c, err)
		return
	}
	entries, err := h.svc.Timeline.List(c.Request.Context(), offerID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, services.VisibleTimeline(entries, view.Role))
}
