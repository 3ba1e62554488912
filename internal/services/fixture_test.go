package services

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/telemetry"
	"greendrake/offers/internal/utils"
)

// fixture is one listing with an offer on it, backed by an in-memory store.
type fixture struct {
	ctx      context.Context
	st       *store.MemoryStore
	cache    *cache.TTLCache
	rec      *telemetry.Recorder
	svc      *Services
	seller   models.Identity
	buyer    models.Identity
	stranger models.Identity
	admin    models.Identity
	listing  *models.Listing
	offer    *models.SaleOffer
}

func newFixture(t require.TestingT) *fixture {
	return newFixtureOn(t, store.NewMemoryStore())
}

func newFixtureOn(t require.TestingT, st *store.MemoryStore) *fixture {
	return newFixtureWith(t, st, st)
}

// newFixtureWith builds the services on rs, which usually wraps mem.
func newFixtureWith(t require.TestingT, mem *store.MemoryStore, rs store.RecordStore) *fixture {
	f := &fixture{
		ctx:      context.Background(),
		st:       mem,
		cache:    cache.New(cache.Options{}),
		rec:      telemetry.NewRecorder(),
		seller:   models.Identity{ID: utils.NewSixID()},
		buyer:    models.Identity{ID: utils.NewSixID()},
		stranger: models.Identity{ID: utils.NewSixID()},
		admin:    models.Identity{ID: utils.NewSixID(), IsAdmin: true},
	}
	f.svc = NewServices(rs, f.cache, f.rec, nil, 20*1024*1024)

	var err error
	f.listing, err = f.svc.Listings.CreateListing(f.ctx, f.seller.ID, "Casa en Ñuñoa", &models.AskingPrice{Value: 155000000, CurrencyCode: "CLP"})
	require.NoError(t, err)
	f.offer, err = f.svc.Offers.CreateOffer(f.ctx, f.buyer, CreateOfferInput{ListingID: f.listing.ID, Amount: 150000000})
	require.NoError(t, err)
	return f
}

func (f *fixture) transition(who models.Identity, action Action, mods ...func(*TransitionRequest)) (*models.SaleOffer, error) {
	req := TransitionRequest{Action: action}
	for _, m := range mods {
		m(&req)
	}
	return f.svc.Offers.Transition(f.ctx, who, f.offer.ID, req)
}

func withAmount(v float64) func(*TransitionRequest) {
	return func(r *TransitionRequest) { r.Amount = &v }
}

func withReason(s string) func(*TransitionRequest) {
	return func(r *TransitionRequest) { r.Reason = s }
}

func withMessage(s string) func(*TransitionRequest) {
	return func(r *TransitionRequest) { r.Message = s }
}

// stored reads the offer straight from the store.
func (f *fixture) stored(t require.TestingT) *models.SaleOffer {
	offer, err := fetchOffer(f.ctx, f.st, "test", f.offer.ID)
	require.NoError(t, err)
	return offer
}

func (f *fixture) timeline(t require.TestingT) []models.OfferTimeline {
	entries, err := f.svc.Timeline.List(f.ctx, f.offer.ID)
	require.NoError(t, err)
	return entries
}

func eventTypes(entries []models.OfferTimeline) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.EventType
	}
	return out
}

// mockEnqueuer is a testify mock of TimelineEnqueuer.
type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueTimelineAppend(ctx context.Context, entry *models.OfferTimeline) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
