package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/db"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/telemetry"
	"greendrake/offers/internal/utils"
)

// Action names a state machine transition.
type Action string

const (
	ActionPreAccept          Action = "pre_accept"
	ActionAccept             Action = "accept"
	ActionAcceptCounter      Action = "accept_counter"
	ActionReject             Action = "reject"
	ActionCounter            Action = "counter"
	ActionRequestInfo        Action = "request_info"
	ActionProvideInfo        Action = "provide_info"
	ActionEscalateTitleStudy Action = "escalate_title_study"
	ActionFinalize           Action = "finalize"
)

// TransitionRequest carries an action and the inputs some actions require.
type TransitionRequest struct {
	Action  Action   `json:"action" binding:"required"`
	Amount  *float64 `json:"amount,omitempty"`
	Terms   string   `json:"terms,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Message string   `json:"message,omitempty"`
	Note    string   `json:"note,omitempty"`
}

// CreateOfferInput is a buyer's proposal against a listing.
type CreateOfferInput struct {
	ListingID         utils.SixID `json:"listing_id" binding:"required"`
	Amount            float64     `json:"offer_amount"`
	Currency          string      `json:"currency"`
	Message           string      `json:"message"`
	RequestTitleStudy bool        `json:"request_title_study"`
	RequestInspection bool        `json:"request_inspection"`
}

// OfferView is an offer as seen by one caller.
type OfferView struct {
	Offer        models.SaleOffer `json:"offer"`
	Role         models.Role      `json:"role"`
	IsParty      bool             `json:"is_party"`
	Capabilities Capabilities     `json:"capabilities"`
}

// IOfferService owns the offer status and its transitions.
type IOfferService interface {
	CreateOffer(ctx context.Context, identity models.Identity, in CreateOfferInput) (*models.SaleOffer, error)
	GetOffer(ctx context.Context, identity models.Identity, offerID utils.SixID) (*OfferView, error)
	Transition(ctx context.Context, identity models.Identity, offerID utils.SixID, req TransitionRequest) (*models.SaleOffer, error)
}

const defaultCurrency = "CLP"

var nonTerminal = []models.OfferStatus{
	models.StatusPending,
	models.StatusInReview,
	models.StatusCounterOffer,
	models.StatusAccepted,
	models.StatusTitleStudy,
	models.StatusInfoRequested,
}

// transitionRule lists, per role, the statuses an action may start from.
type transitionRule struct {
	from  map[models.Role][]models.OfferStatus
	to    models.OfferStatus
	event string
	title string
}

func sellerSide(from ...models.OfferStatus) map[models.Role][]models.OfferStatus {
	return map[models.Role][]models.OfferStatus{models.RoleSeller: from, models.RoleAdmin: from}
}

func buyerSide(from ...models.OfferStatus) map[models.Role][]models.OfferStatus {
	return map[models.Role][]models.OfferStatus{models.RoleBuyer: from, models.RoleAdmin: from}
}

var transitionRules = map[Action]transitionRule{
	ActionPreAccept: {
		from:  sellerSide(models.StatusPending),
		to:    models.StatusInReview,
		event: EventOfferPreAccepted,
		title: "Oferta preaceptada",
	},
	ActionAccept: {
		from:  sellerSide(models.StatusPending, models.StatusInReview, models.StatusCounterOffer, models.StatusInfoRequested),
		to:    models.StatusAccepted,
		event: EventOfferAccepted,
		title: "Oferta aceptada",
	},
	ActionAcceptCounter: {
		from:  buyerSide(models.StatusCounterOffer),
		to:    models.StatusAccepted,
		event: EventCounterAccepted,
		title: "Contraoferta aceptada",
	},
	ActionReject: {
		from: map[models.Role][]models.OfferStatus{
			models.RoleSeller: nonTerminal,
			models.RoleAdmin:  nonTerminal,
			models.RoleBuyer:  {models.StatusCounterOffer},
		},
		to:    models.StatusRejected,
		event: EventOfferRejected,
		title: "Oferta rechazada",
	},
	ActionCounter: {
		from: map[models.Role][]models.OfferStatus{
			models.RoleSeller: {models.StatusPending, models.StatusInReview, models.StatusCounterOffer},
			models.RoleAdmin:  {models.StatusPending, models.StatusInReview, models.StatusCounterOffer},
			models.RoleBuyer:  {models.StatusCounterOffer},
		},
		to:    models.StatusCounterOffer,
		event: EventCounterSent,
		title: "Contraoferta enviada",
	},
	ActionRequestInfo: {
		from:  sellerSide(models.StatusPending, models.StatusInReview),
		to:    models.StatusInfoRequested,
		event: EventInfoRequested,
		title: "Información solicitada",
	},
	ActionProvideInfo: {
		from:  buyerSide(models.StatusInfoRequested),
		to:    models.StatusInReview,
		event: EventInfoProvided,
		title: "Información entregada",
	},
	ActionEscalateTitleStudy: {
		from:  sellerSide(models.StatusInReview),
		to:    models.StatusTitleStudy,
		event: EventTitleStudyStarted,
		title: "Estudio de títulos iniciado",
	},
	ActionFinalize: {
		from:  buyerSide(nonTerminal...),
		to:    models.StatusFinalized,
		event: EventOfferFinalized,
		title: "Oferta finalizada",
	},
}

// Actions lists every transition the state machine knows.
func Actions() []Action {
	return []Action{
		ActionPreAccept, ActionAccept, ActionAcceptCounter, ActionReject, ActionCounter,
		ActionRequestInfo, ActionProvideInfo, ActionEscalateTitleStudy, ActionFinalize,
	}
}

// offerService implements IOfferService.
type offerService struct {
	st       store.RecordStore
	listings IListingService
	timeline ITimelineService
	cache    *cache.TTLCache
	rec      *telemetry.Recorder
	now      func() time.Time
}

// NewOfferService creates a new OfferService. rec may be nil.
func NewOfferService(st store.RecordStore, listings IListingService, timeline ITimelineService, c *cache.TTLCache, rec *telemetry.Recorder) IOfferService {
	return &offerService{
		st:       st,
		listings: listings,
		timeline: timeline,
		cache:    c,
		rec:      rec,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOffer opens an offer in pendiente for the calling buyer. Creation is
// not a transition and is not written to the timeline.
func (s *offerService) CreateOffer(ctx context.Context, identity models.Identity, in CreateOfferInput) (*models.SaleOffer, error) {
	const op = "offers.create"
	if in.Amount < 0 {
		return nil, validationError(op, "The offer amount cannot be negative.")
	}
	listing, err := s.listings.FindListingByID(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID == identity.ID {
		return nil, permissionDenied(op, "You cannot make an offer on your own listing.")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" && listing.AskingPrice != nil {
		currency = listing.AskingPrice.CurrencyCode
	}
	if currency == "" {
		currency = defaultCurrency
	}

	var offer *models.SaleOffer
	attempts := 0
	operation := func() error {
		if attempts > 0 {
			s.rec.RecordRetry()
		}
		attempts++
		now := s.now()
		offer = &models.SaleOffer{
			ID:                utils.NewSixID(),
			ListingID:         listing.ID,
			BuyerID:           identity.ID,
			OfferAmount:       in.Amount,
			Currency:          currency,
			Status:            models.StatusPending,
			Message:           strings.TrimSpace(in.Message),
			RequestTitleStudy: in.RequestTitleStudy,
			RequestInspection: in.RequestInspection,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		row, err := store.Encode(offer)
		if err != nil {
			return err
		}
		_, err = s.st.Insert(ctx, models.TableOffers, row)
		return err
	}
	if err := db.Try(operation); err != nil {
		return nil, storeFailure(op, fmt.Errorf("failed to insert offer for listing %s: %w", listing.ID.String(), err))
	}
	s.cache.Set(cache.OfferKey(offer.ID.String()), *offer)
	return offer, nil
}

// GetOffer returns the offer, from cache when fresh, with the caller's role
// resolved against the current listing owner.
func (s *offerService) GetOffer(ctx context.Context, identity models.Identity, offerID utils.SixID) (*OfferView, error) {
	const op = "offers.get"
	key := cache.OfferKey(offerID.String())
	offer, ok := cache.GetAs[models.SaleOffer](s.cache, key)
	if !ok {
		fetched, err := fetchOffer(ctx, s.st, op, offerID)
		if err != nil {
			return nil, err
		}
		offer = *fetched
		s.cache.Set(key, offer)
	}
	res, err := resolveAgainst(ctx, s.listings, identity, &offer)
	if err != nil {
		return nil, err
	}
	if !res.IsParty && res.Role != models.RoleAdmin {
		return nil, permissionDenied(op, "")
	}
	return &OfferView{Offer: offer, Role: res.Role, IsParty: res.IsParty, Capabilities: res.Capabilities}, nil
}

// Transition validates the action against the caller's role and the offer's
// current status, then applies it as a conditional update on the expected
// prior status. Nothing is written when a gate fails; the timeline entry is
// only appended after the update matched.
func (s *offerService) Transition(ctx context.Context, identity models.Identity, offerID utils.SixID, req TransitionRequest) (*models.SaleOffer, error) {
	op := "offers." + string(req.Action)
	rule, ok := transitionRules[req.Action]
	if !ok {
		return nil, validationError(op, fmt.Sprintf("Unknown action %q.", req.Action))
	}

	offer, err := fetchOffer(ctx, s.st, op, offerID)
	if err != nil {
		return nil, err
	}
	res, err := resolveAgainst(ctx, s.listings, identity, offer)
	if err != nil {
		return nil, err
	}
	from, allowed := rule.from[res.Role]
	if !allowed || (res.Role == models.RoleBuyer && !res.IsParty) {
		return nil, permissionDenied(op, "")
	}
	if !containsStatus(from, offer.Status) {
		return nil, newError(KindStateTransition, op, "", fmt.Errorf("%s is not allowed from %s", req.Action, offer.Status))
	}

	now := s.now()
	patch, payload, err := s.buildPatch(op, req, offer, res, now)
	if err != nil {
		return nil, err
	}
	patch["status"] = rule.to
	patch["updated_at"] = now
	payload["old_status"] = string(offer.Status)
	payload["new_status"] = string(rule.to)

	if req.Action == ActionEscalateTitleStudy {
		if err := s.guardPromiseOfSale(ctx, op, offer.ID); err != nil {
			return nil, err
		}
	}

	rows, err := s.st.Update(ctx, models.TableOffers, store.Filter{"_id": offer.ID, "status": offer.Status}, patch)
	if err != nil {
		inner := storeFailure(op, err)
		return nil, &OfferError{Kind: KindStateTransition, Op: op, Message: UserMessage(inner), Err: inner}
	}
	if len(rows) == 0 {
		return nil, newError(KindConcurrentTransition, op, "", fmt.Errorf("offer %s is no longer %s", offer.ID.String(), offer.Status))
	}
	var updated models.SaleOffer
	if err := store.Decode(rows[0], &updated); err != nil {
		return nil, storeFailure(op, err)
	}

	if req.Action == ActionEscalateTitleStudy {
		if id, err := s.openPromiseOfSale(ctx, res, &updated, now); err != nil {
			log.Printf("WARNING: escalated offer %s without a promesa_compraventa request (table %s): %v",
				updated.ID.String(), models.TableFormalRequests, err)
		} else {
			payload["formal_request_id"] = id.String()
		}
	}

	s.timeline.Append(ctx, newEntry(res, updated.ID, rule.event, rule.title, describe(req), payload))
	s.cache.Set(cache.OfferKey(updated.ID.String()), updated)
	return &updated, nil
}

// buildPatch validates action inputs and returns the action specific fields
// plus the timeline payload.
func (s *offerService) buildPatch(op string, req TransitionRequest, offer *models.SaleOffer, res *Resolution, now time.Time) (store.Row, map[string]interface{}, error) {
	patch := store.Row{}
	payload := map[string]interface{}{}
	message := strings.TrimSpace(req.Message)

	switch req.Action {
	case ActionPreAccept:
		patch["responded_at"] = now
		if message != "" {
			patch["seller_response"] = message
		}

	case ActionAccept:
		patch["responded_at"] = now
		if offer.Status == models.StatusCounterOffer {
			if offer.CounterOfferBy == models.RoleSeller {
				return nil, nil, newError(KindStateTransition, op, "The buyer has to answer the seller's counter-offer.", nil)
			}
			if offer.CounterOfferAmount != nil {
				patch["offer_amount"] = *offer.CounterOfferAmount
				payload["old_amount"] = offer.OfferAmount
				payload["new_amount"] = *offer.CounterOfferAmount
			}
		}

	case ActionAcceptCounter:
		if offer.CounterOfferAmount == nil {
			return nil, nil, newError(KindStateTransition, op, "There is no counter-offer to accept.", nil)
		}
		if offer.CounterOfferBy == models.RoleBuyer {
			return nil, nil, newError(KindStateTransition, op, "The seller has to answer the buyer's counter-offer.", nil)
		}
		patch["offer_amount"] = *offer.CounterOfferAmount
		payload["old_amount"] = offer.OfferAmount
		payload["new_amount"] = *offer.CounterOfferAmount

	case ActionReject:
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			return nil, nil, validationError(op, "A reason is required to reject an offer.")
		}
		patch["rejection_reason"] = reason
		patch["responded_at"] = now
		payload["reason"] = reason

	case ActionCounter:
		if req.Amount == nil || *req.Amount <= 0 {
			return nil, nil, validationError(op, "A counter-offer needs an amount greater than zero.")
		}
		patch["counter_offer_amount"] = *req.Amount
		patch["counter_offer_terms"] = strings.TrimSpace(req.Terms)
		patch["counter_offer_by"] = res.Role
		patch["responded_at"] = now
		if res.Role != models.RoleBuyer && message != "" {
			patch["seller_response"] = message
		}
		if offer.CounterOfferAmount != nil {
			payload["old_counter_amount"] = *offer.CounterOfferAmount
		}
		payload["counter_amount"] = *req.Amount
		payload["counter_by"] = string(res.Role)

	case ActionRequestInfo:
		if message == "" {
			return nil, nil, validationError(op, "Describe the information you need.")
		}
		patch["seller_response"] = message
		patch["responded_at"] = now

	case ActionProvideInfo:
		if message == "" {
			return nil, nil, validationError(op, "Include the requested information.")
		}

	case ActionEscalateTitleStudy:
		patch["request_title_study"] = true

	case ActionFinalize:
		note := strings.TrimSpace(req.Note)
		patch["cancellation_note"] = note
		if note != "" {
			payload["note"] = note
		}
	}
	return patch, payload, nil
}

// guardPromiseOfSale refuses escalation while a promesa_compraventa request
// that was not rejected is already open.
func (s *offerService) guardPromiseOfSale(ctx context.Context, op string, offerID utils.SixID) error {
	rows, err := s.st.Select(ctx, models.TableFormalRequests, store.Filter{
		"offer_id":     offerID,
		"request_type": models.RequestPromiseOfSale,
	})
	if err != nil {
		if store.IsUndefinedRelation(err) {
			return nil
		}
		inner := storeFailure(op, err)
		return &OfferError{Kind: KindStateTransition, Op: op, Message: UserMessage(inner), Err: inner}
	}
	for _, row := range rows {
		if row["status"] != string(models.RequestDeclined) {
			return newError(KindStateTransition, op, "A promise of sale request is already open for this offer.", nil)
		}
	}
	return nil
}

// openPromiseOfSale creates the promesa_compraventa request addressed to the
// buyer. It is part of the escalation and gets no timeline entry of its own.
func (s *offerService) openPromiseOfSale(ctx context.Context, res *Resolution, offer *models.SaleOffer, now time.Time) (utils.SixID, error) {
	var req *models.OfferFormalRequest
	operation := func() error {
		req = &models.OfferFormalRequest{
			ID:                utils.NewSixID(),
			OfferID:           offer.ID,
			RequestType:       models.RequestPromiseOfSale,
			Title:             "Promesa de compraventa",
			RequiredDocuments: []string{},
			Status:            models.RequestRequested,
			RequestedBy:       res.Identity.ID,
			RequestedTo:       offer.BuyerID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		row, err := store.Encode(req)
		if err != nil {
			return err
		}
		_, err = s.st.Insert(ctx, models.TableFormalRequests, row)
		return err
	}
	if err := db.Try(operation); err != nil {
		return utils.SixID{}, err
	}
	return req.ID, nil
}

func describe(req TransitionRequest) string {
	for _, s := range []string{req.Reason, req.Message, req.Note, req.Terms} {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}

func containsStatus(list []models.OfferStatus, s models.OfferStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
