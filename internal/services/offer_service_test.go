package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
)

func TestOfferService_CreateOffer(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, models.StatusPending, f.offer.Status)
	assert.Equal(t, 150000000.0, f.offer.OfferAmount)
	assert.Equal(t, "CLP", f.offer.Currency)
	assert.Equal(t, f.buyer.ID, f.offer.BuyerID)
	assert.Empty(t, f.timeline(t), "creating an offer is not a timeline event")

	_, err := f.svc.Offers.CreateOffer(f.ctx, f.seller, CreateOfferInput{ListingID: f.listing.ID, Amount: 1})
	assert.Equal(t, KindPermissionDenied, KindOf(err))

	_, err = f.svc.Offers.CreateOffer(f.ctx, f.buyer, CreateOfferInput{ListingID: f.listing.ID, Amount: -1})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.svc.Offers.CreateOffer(f.ctx, f.buyer, CreateOfferInput{ListingID: f.offer.ID, Amount: 1})
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestOfferService_ScenarioA_TitleStudyThenFinalize(t *testing.T) {
	f := newFixture(t)

	offer, err := f.transition(f.seller, ActionPreAccept)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInReview, offer.Status)

	offer, err = f.transition(f.seller, ActionEscalateTitleStudy)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTitleStudy, offer.Status)
	assert.True(t, offer.RequestTitleStudy)

	reqs, err := f.svc.FormalRequests.List(f.ctx, f.buyer, f.offer.ID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, models.RequestPromiseOfSale, reqs[0].RequestType)
	assert.Equal(t, f.buyer.ID, reqs[0].RequestedTo)

	offer, err = f.svc.Offers.Transition(f.ctx, f.buyer, f.offer.ID, TransitionRequest{Action: ActionFinalize, Note: "Compré otra propiedad"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinalized, offer.Status)
	assert.Equal(t, "Compré otra propiedad", offer.CancellationNote)

	entries := f.timeline(t)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{EventOfferPreAccepted, EventTitleStudyStarted, EventOfferFinalized}, eventTypes(entries))
	assert.Equal(t, models.RoleSeller, entries[0].TriggeredRole)
	assert.Equal(t, models.RoleSeller, entries[1].TriggeredRole)
	assert.Equal(t, models.RoleBuyer, entries[2].TriggeredRole)
	assert.Equal(t, f.buyer.ID, entries[2].TriggeredBy)
	assert.Equal(t, reqs[0].ID.String(), entries[1].Payload["formal_request_id"])
}

func TestOfferService_ScenarioB_BuyerAcceptsCounter(t *testing.T) {
	f := newFixture(t)

	offer, err := f.transition(f.seller, ActionCounter, withAmount(160000000), withMessage("Podemos cerrar en 160"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCounterOffer, offer.Status)
	require.NotNil(t, offer.CounterOfferAmount)
	assert.Equal(t, 160000000.0, *offer.CounterOfferAmount)
	assert.Equal(t, models.RoleSeller, offer.CounterOfferBy)

	// The seller cannot accept their own counter.
	_, err = f.transition(f.seller, ActionAccept)
	assert.ErrorIs(t, err, ErrStateTransition)

	offer, err = f.transition(f.buyer, ActionAcceptCounter)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, offer.Status)
	assert.Equal(t, 160000000.0, offer.OfferAmount)

	stored := f.stored(t)
	assert.Equal(t, 160000000.0, stored.OfferAmount)
	assert.Equal(t, models.StatusAccepted, stored.Status)
}

func TestOfferService_SellerAcceptsBuyerCounter(t *testing.T) {
	f := newFixture(t)

	_, err := f.transition(f.seller, ActionCounter, withAmount(160000000))
	require.NoError(t, err)
	_, err = f.transition(f.buyer, ActionCounter, withAmount(155000000))
	require.NoError(t, err)

	_, err = f.transition(f.buyer, ActionAcceptCounter)
	assert.ErrorIs(t, err, ErrStateTransition, "buyer cannot accept their own counter")

	offer, err := f.transition(f.seller, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, 155000000.0, offer.OfferAmount)
}

func TestOfferService_AcceptCounterCopiesAmount(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		x := rapid.Float64Range(1, 1e10).Draw(rt, "counter")

		_, err := f.transition(f.seller, ActionCounter, withAmount(x))
		require.NoError(rt, err)
		offer, err := f.transition(f.buyer, ActionAcceptCounter)
		require.NoError(rt, err)

		assert.Equal(rt, x, offer.OfferAmount)
		assert.Equal(rt, models.StatusAccepted, offer.Status)
	})
}

func TestOfferService_PermissionDeniedLeavesOfferUntouched(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		who    models.Identity
		action Action
	}{
		{f.buyer, ActionPreAccept},
		{f.buyer, ActionAccept},
		{f.buyer, ActionEscalateTitleStudy},
		{f.seller, ActionFinalize},
		{f.seller, ActionAcceptCounter},
		{f.stranger, ActionFinalize},
	}
	for _, tc := range cases {
		_, err := f.transition(tc.who, tc.action, withReason("x"), withAmount(1))
		assert.ErrorIs(t, err, ErrPermissionDenied, "%s", tc.action)
		assert.Equal(t, KindPermissionDenied, KindOf(err))
	}
	assert.Equal(t, models.StatusPending, f.stored(t).Status)
	assert.Empty(t, f.timeline(t))
}

func TestOfferService_AdminCanActForEitherSide(t *testing.T) {
	f := newFixture(t)

	_, err := f.transition(f.admin, ActionPreAccept)
	require.NoError(t, err)
	offer, err := f.transition(f.admin, ActionFinalize)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinalized, offer.Status)

	entries := f.timeline(t)
	require.Len(t, entries, 2)
	assert.Equal(t, models.RoleAdmin, entries[0].TriggeredRole)
}

func TestOfferService_RejectRequiresReason(t *testing.T) {
	f := newFixture(t)

	_, err := f.transition(f.seller, ActionReject, withReason("   "))
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, models.StatusPending, f.stored(t).Status)

	offer, err := f.transition(f.seller, ActionReject, withReason("Precio muy bajo"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, offer.Status)
	assert.Equal(t, "Precio muy bajo", offer.RejectionReason)

	entries := f.timeline(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "Precio muy bajo", entries[0].Payload["reason"])
}

func TestOfferService_BuyerRejectsOnlyAStandingCounter(t *testing.T) {
	f := newFixture(t)

	_, err := f.transition(f.buyer, ActionReject, withReason("no"))
	assert.ErrorIs(t, err, ErrStateTransition)

	_, err = f.transition(f.seller, ActionCounter, withAmount(170000000))
	require.NoError(t, err)
	offer, err := f.transition(f.buyer, ActionReject, withReason("Demasiado caro"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, offer.Status)
}

func TestOfferService_CounterNeedsPositiveAmount(t *testing.T) {
	f := newFixture(t)

	_, err := f.transition(f.seller, ActionCounter)
	assert.Equal(t, KindValidation, KindOf(err))
	_, err = f.transition(f.seller, ActionCounter, withAmount(0))
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestOfferService_InformationRoundTrip(t *testing.T) {
	f := newFixture(t)

	offer, err := f.transition(f.seller, ActionRequestInfo, withMessage("¿Tiene pre-aprobación bancaria?"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusInfoRequested, offer.Status)

	offer, err = f.transition(f.buyer, ActionProvideInfo, withMessage("Sí, adjunto carta"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusInReview, offer.Status)

	assert.Equal(t, []string{EventInfoRequested, EventInfoProvided}, eventTypes(f.timeline(t)))
}

func TestOfferService_EscalationGuard(t *testing.T) {
	f := newFixture(t)
	_, err := f.transition(f.seller, ActionPreAccept)
	require.NoError(t, err)

	_, err = f.svc.FormalRequests.Create(f.ctx, f.seller, f.offer.ID, FormalRequestInput{
		Type:  models.RequestPromiseOfSale,
		Title: "Promesa",
	})
	require.NoError(t, err)

	_, err = f.transition(f.seller, ActionEscalateTitleStudy)
	assert.ErrorIs(t, err, ErrStateTransition)
	assert.Equal(t, models.StatusInReview, f.stored(t).Status)
}

func TestOfferService_TerminalStatesAreFinal(t *testing.T) {
	actors := []string{"buyer", "seller", "admin", "stranger"}
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		who := map[string]models.Identity{"buyer": f.buyer, "seller": f.seller, "admin": f.admin, "stranger": f.stranger}

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			before := f.stored(rt).Status
			action := rapid.SampledFrom(Actions()).Draw(rt, "action")
			actor := rapid.SampledFrom(actors).Draw(rt, "actor")
			amount := rapid.Float64Range(1, 1e9).Draw(rt, "amount")

			_, err := f.transition(who[actor], action, withAmount(amount), withReason("motivo"), withMessage("detalle"))
			after := f.stored(rt).Status

			assert.True(rt, after.Valid(), "status %q out of enum", after)
			if err != nil {
				assert.Equal(rt, before, after, "failed transition changed status")
			}
			if before.Terminal() {
				assert.Error(rt, err)
				assert.Equal(rt, before, after)
				if (action == ActionReject || action == ActionCounter) && actor != "stranger" {
					assert.ErrorIs(rt, err, ErrStateTransition)
				}
			}
		}
	})
}

// racingStore lets a competing writer change the offer status right before
// the first conditional update lands.
type racingStore struct {
	*store.MemoryStore
	raced bool
}

func (r *racingStore) Update(ctx context.Context, table string, filter store.Filter, patch store.Row) ([]store.Row, error) {
	if table == models.TableOffers && !r.raced {
		r.raced = true
		if _, err := r.MemoryStore.Update(ctx, table, store.Filter{"_id": filter["_id"]}, store.Row{"status": models.StatusRejected}); err != nil {
			return nil, err
		}
	}
	return r.MemoryStore.Update(ctx, table, filter, patch)
}

func TestOfferService_ConcurrentTransitionIsDetected(t *testing.T) {
	mem := store.NewMemoryStore()
	racing := &racingStore{MemoryStore: mem}
	f := newFixtureWith(t, mem, racing)

	_, err := f.transition(f.seller, ActionPreAccept)
	require.Error(t, err)
	assert.Equal(t, KindConcurrentTransition, KindOf(err))
	assert.ErrorIs(t, err, ErrConcurrentTransition)
	assert.ErrorIs(t, err, ErrStateTransition)
	assert.NotErrorIs(t, err, ErrValidation)

	assert.Equal(t, models.StatusRejected, f.stored(t).Status)
	assert.Empty(t, f.timeline(t))
}

func TestOfferService_StoreFailureIsTyped(t *testing.T) {
	f := newFixture(t)
	// The read passes; the fault lands on the conditional update.
	f.st.FailNext(models.TableOffers, nil)
	f.st.FailNext(models.TableOffers, &store.Error{Code: store.CodeUnavailable, Table: models.TableOffers, Message: "connection reset"})

	_, err := f.transition(f.seller, ActionPreAccept)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStateTransition)
	assert.ErrorIs(t, err, ErrTransientStore)
	assert.NotContains(t, UserMessage(err), "connection reset")
	assert.Empty(t, f.timeline(t))
}

func TestOfferService_TimelineFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	q := new(mockEnqueuer)
	q.On("EnqueueTimelineAppend", mock.Anything, mock.MatchedBy(func(e *models.OfferTimeline) bool {
		return e.EventType == EventOfferPreAccepted && e.OfferID == f.offer.ID
	})).Return(nil).Once()
	f.svc.Timeline.SetEnqueuer(q)

	f.st.FailNext(models.TableTimeline, &store.Error{Code: store.CodeUnavailable, Table: models.TableTimeline})
	offer, err := f.transition(f.seller, ActionPreAccept)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInReview, offer.Status)

	assert.Empty(t, f.timeline(t))
	assert.Equal(t, int64(1), f.rec.Snapshot().Errors)
	q.AssertExpectations(t)
}

func TestOfferService_GetOfferUsesCacheAndResolvesRole(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Offers.GetOffer(f.ctx, f.seller, f.offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSeller, view.Role)
	assert.True(t, view.Capabilities.Edit)
	assert.False(t, view.Capabilities.Delete)

	cached, ok := cache.GetAs[models.SaleOffer](f.cache, cache.OfferKey(f.offer.ID.String()))
	require.True(t, ok)
	assert.Equal(t, f.offer.ID, cached.ID)

	view, err = f.svc.Offers.GetOffer(f.ctx, f.buyer, f.offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleBuyer, view.Role)
	assert.False(t, view.Capabilities.Edit)

	_, err = f.svc.Offers.GetOffer(f.ctx, f.stranger, f.offer.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// A transition refreshes the cached copy.
	_, err = f.transition(f.seller, ActionPreAccept)
	require.NoError(t, err)
	cached, _ = cache.GetAs[models.SaleOffer](f.cache, cache.OfferKey(f.offer.ID.String()))
	assert.Equal(t, models.StatusInReview, cached.Status)
}

func TestOfferService_UnknownAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.transition(f.seller, Action("teleport"))
	assert.True(t, errors.Is(err, ErrValidation))
}
