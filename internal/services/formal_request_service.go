package services

import (
	"context"
	"strings"
	"time"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/utils"
)

// FormalRequestInput opens a formal request. RequestedTo defaults to the
// offer's buyer.
type FormalRequestInput struct {
	Type              models.FormalRequestType `json:"request_type" binding:"required"`
	Title             string                   `json:"title" binding:"required"`
	Description       string                   `json:"description"`
	RequiredDocuments []string                 `json:"required_documents"`
	RequestedTo       *utils.SixID             `json:"requested_to,omitempty"`
	DueDate           *time.Time               `json:"due_date,omitempty"`
}

// FormalResponseInput answers a formal request.
type FormalResponseInput struct {
	Response  string   `json:"response" binding:"required"`
	Documents []string `json:"documents"`
}

// IFormalRequestService manages structured asks that expect a tracked response.
type IFormalRequestService interface {
	List(ctx context.Context, identity models.Identity, offerID utils.SixID) ([]models.OfferFormalRequest, error)
	Create(ctx context.Context, identity models.Identity, offerID utils.SixID, in FormalRequestInput) (*models.OfferFormalRequest, error)
	UpdateStatus(ctx context.Context, identity models.Identity, offerID, requestID utils.SixID, status models.FormalRequestStatus) (*models.OfferFormalRequest, error)
	Respond(ctx context.Context, identity models.Identity, offerID, requestID utils.SixID, in FormalResponseInput) (*models.OfferFormalRequest, error)
	Delete(ctx context.Context, identity models.Identity, offerID, requestID utils.SixID) error
}

var requestTransitions = map[models.FormalRequestStatus][]models.FormalRequestStatus{
	models.RequestRequested:  {models.RequestInProgress, models.RequestDeclined},
	models.RequestInProgress: {models.RequestCompleted, models.RequestDeclined},
}

var requestTypes = map[models.FormalRequestType]bool{
	models.RequestPromiseOfSale:  true,
	models.RequestInspection:     true,
	models.RequestTitleStudy:     true,
	models.RequestAdditionalDocs: true,
	models.RequestOther:          true,
}

type formalRequestService struct {
	satellite
}

// NewFormalRequestService creates a new FormalRequestService.
func NewFormalRequestService(st store.RecordStore, roles IRoleResolver, timeline ITimelineService, c *cache.TTLCache) IFormalRequestService {
	return &formalRequestService{satellite: newSatellite(st, roles, timeline, c)}
}

func (s *formalRequestService) List(ctx context.Context, identity models.Identity, offerID utils.SixID) ([]models.OfferFormalRequest, error) {
	const op = "formal_requests.list"
	if _, err := s.authorize(ctx, op, identity, offerID, models.RoleBuyer, models.RoleSeller, models.RoleAdmin); err != nil {
		return nil, err
	}
	rows, err := s.list(ctx, op, models.TableFormalRequests, offerID)
	if err != nil {
		return nil, err
	}
	reqs, err := store.DecodeAll[models.OfferFormalRequest](rows)
	return reqs, storeFailure(op, err)
}

func (s *formalRequestService) Create(ctx context.Context, identity models.Identity, offerID utils.SixID, in FormalRequestInput) (*models.OfferFormalRequest, error) {
	const op = "formal_requests.create"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if !requestTypes[in.Type] {
		return nil, validationError(op, "Unknown request type.")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, validationError(op, "A formal request needs a title.")
	}
	to := res.Offer.BuyerID
	if in.RequestedTo != nil {
		to = *in.RequestedTo
	}
	docs := in.RequiredDocuments
	if docs == nil {
		docs = []string{}
	}

	var req *models.OfferFormalRequest
	err = s.insert(ctx, op, models.TableFormalRequests, func(id utils.SixID) interface{} {
		now := s.now()
		req = &models.OfferFormalRequest{
			ID:                id,
			OfferID:           offerID,
			RequestType:       in.Type,
			Title:             strings.TrimSpace(in.Title),
			Description:       strings.TrimSpace(in.Description),
			RequiredDocuments: docs,
			Status:            models.RequestRequested,
			RequestedBy:       identity.ID,
			RequestedTo:       to,
			DueDate:           in.DueDate,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return req
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, res, offerID, EventRequestCreated, "Solicitud creada", req.Title, map[string]interface{}{
		"formal_request_id": req.ID.String(),
		"request_type":      string(req.RequestType),
		"status":            string(req.Status),
	})
	return req, nil
}

// UpdateStatus moves a request along its lifecycle. The addressee may only
// start working on it; any other change needs the seller side.
func (s *formalRequestService) UpdateStatus(ctx context.Context, identity models.Identity, offerID, requestID utils.SixID, status models.FormalRequestStatus) (*models.OfferFormalRequest, error) {
	const op = "formal_requests.update_status"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleBuyer, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	var req models.OfferFormalRequest
	if err := s.fetch(ctx, op, models.TableFormalRequests, "Formal request", offerID, requestID, &req); err != nil {
		return nil, err
	}
	addresseeStart := req.RequestedTo == identity.ID && status == models.RequestInProgress
	if !addresseeStart && !res.Is(models.RoleSeller, models.RoleAdmin) {
		return nil, permissionDenied(op, "")
	}
	if !canTransition(requestTransitions, req.Status, status) {
		return nil, newError(KindStateTransition, op, "This request cannot move to that status.", nil)
	}

	old := req.Status
	if err := s.conditionalUpdate(ctx, op, models.TableFormalRequests, requestID, string(old), store.Row{"status": status}, &req); err != nil {
		return nil, err
	}
	s.record(ctx, res, offerID, EventRequestUpdated, "Solicitud actualizada", req.Title, map[string]interface{}{
		"formal_request_id": req.ID.String(),
		"old_status":        string(old),
		"new_status":        string(status),
	})
	return &req, nil
}

// Respond completes a request with the addressee's answer.
func (s *formalRequestService) Respond(ctx context.Context, identity models.Identity, offerID, requestID utils.SixID, in FormalResponseInput) (*models.OfferFormalRequest, error) {
	const op = "formal_requests.respond"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleBuyer, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	var req models.OfferFormalRequest
	if err := s.fetch(ctx, op, models.TableFormalRequests, "Formal request", offerID, requestID, &req); err != nil {
		return nil, err
	}
	if req.RequestedTo != identity.ID && res.Role != models.RoleAdmin {
		return nil, permissionDenied(op, "Only the addressee can answer this request.")
	}
	if req.Status != models.RequestRequested && req.Status != models.RequestInProgress {
		return nil, newError(KindStateTransition, op, "This request is already closed.", nil)
	}
	response := strings.TrimSpace(in.Response)
	if response == "" {
		return nil, validationError(op, "The response cannot be empty.")
	}
	docs := in.Documents
	if docs == nil {
		docs = []string{}
	}

	old := req.Status
	patch := store.Row{
		"status":             models.RequestCompleted,
		"response":           response,
		"response_documents": docs,
		"responded_at":       s.now(),
	}
	if err := s.conditionalUpdate(ctx, op, models.TableFormalRequests, requestID, string(old), patch, &req); err != nil {
		return nil, err
	}
	s.record(ctx, res, offerID, EventRequestResponded, "Solicitud respondida", req.Title, map[string]interface{}{
		"formal_request_id": req.ID.String(),
		"old_status":        string(old),
		"new_status":        string(models.RequestCompleted),
		"documents":         len(docs),
	})
	return &req, nil
}

func (s *formalRequestService) Delete(ctx context.Context, identity models.Identity, offerID, requestID utils.SixID) error {
	const op = "formal_requests.delete"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, op, models.TableFormalRequests, "Formal request", offerID, requestID); err != nil {
		return err
	}
	s.record(ctx, res, offerID, EventRequestDeleted, "Solicitud eliminada", "", map[string]interface{}{
		"formal_request_id": requestID.String(),
	})
	return nil
}
