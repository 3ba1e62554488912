package services

import (
	"context"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/telemetry"
	"greendrake/offers/internal/utils"
)

// Detail is everything the offer detail view shows.
type Detail struct {
	OfferView
	Tasks          []models.OfferTask          `json:"tasks"`
	Documents      []models.OfferDocument      `json:"documents"`
	FormalRequests []models.OfferFormalRequest `json:"formal_requests"`
	Communications []models.OfferCommunication `json:"communications"`
	Timeline       []models.OfferTimeline      `json:"timeline"`
}

// Services bundles the offer workflow services.
type Services struct {
	Listings       IListingService
	Roles          IRoleResolver
	Timeline       ITimelineService
	Offers         IOfferService
	Tasks          ITaskService
	Documents      IDocumentService
	FormalRequests IFormalRequestService
	Communications ICommunicationService
	Telemetry      *telemetry.Recorder
}

// NewServices wires every service on one store and cache. files may be nil.
func NewServices(st store.RecordStore, c *cache.TTLCache, rec *telemetry.Recorder, files DocumentStorage, maxDocumentSize int64) *Services {
	listings := NewListingService(st)
	roles := NewRoleResolver(st, listings)
	timeline := NewTimelineService(st, rec)
	return &Services{
		Listings:       listings,
		Roles:          roles,
		Timeline:       timeline,
		Offers:         NewOfferService(st, listings, timeline, c, rec),
		Tasks:          NewTaskService(st, roles, timeline, c),
		Documents:      NewDocumentService(st, roles, timeline, c, files, maxDocumentSize),
		FormalRequests: NewFormalRequestService(st, roles, timeline, c),
		Communications: NewCommunicationService(st, roles, timeline, c),
		Telemetry:      rec,
	}
}

// LoadDetail reads the offer and all its satellites, timing each phase.
func (s *Services) LoadDetail(ctx context.Context, identity models.Identity, offerID utils.SixID) (*Detail, error) {
	defer s.Telemetry.Time("detail")()

	var d Detail
	done := s.Telemetry.Time("offer")
	view, err := s.Offers.GetOffer(ctx, identity, offerID)
	done()
	if err != nil {
		return nil, err
	}
	d.OfferView = *view

	phases := []struct {
		name string
		load func() error
	}{
		{"tasks", func() (err error) { d.Tasks, err = s.Tasks.List(ctx, identity, offerID); return }},
		{"documents", func() (err error) { d.Documents, err = s.Documents.List(ctx, identity, offerID); return }},
		{"formal_requests", func() (err error) { d.FormalRequests, err = s.FormalRequests.List(ctx, identity, offerID); return }},
		{"communications", func() (err error) { d.Communications, err = s.Communications.List(ctx, identity, offerID); return }},
		{"timeline", func() (err error) {
			entries, err := s.Timeline.List(ctx, offerID)
			d.Timeline = VisibleTimeline(entries, view.Role)
			return err
		}},
	}
	for _, p := range phases {
		done := s.Telemetry.Time(p.name)
		perr := p.load()
		done()
		if perr != nil {
			return nil, perr
		}
	}
	return &d, nil
}
