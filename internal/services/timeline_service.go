package services

import (
	"context"
	"log"
	"time"

	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/telemetry"
	"greendrake/offers/internal/utils"
)

// Timeline event types. Names are "<entity>_<action>".
const (
	EventOfferPreAccepted  = "oferta_preaceptada"
	EventOfferAccepted     = "oferta_aceptada"
	EventCounterAccepted   = "contraoferta_aceptada"
	EventOfferRejected     = "oferta_rechazada"
	EventCounterSent       = "contraoferta_enviada"
	EventInfoRequested     = "informacion_solicitada"
	EventInfoProvided      = "informacion_entregada"
	EventTitleStudyStarted = "estudio_titulo_iniciado"
	EventOfferFinalized    = "oferta_finalizada"
	EventTaskCreated       = "tarea_creada"
	EventTaskUpdated       = "tarea_actualizada"
	EventTaskAssigned      = "tarea_asignada"
	EventTaskDeleted       = "tarea_eliminada"
	EventDocumentRequested = "documento_solicitado"
	EventDocumentUploaded  = "documento_subido"
	EventDocumentValidated = "documento_validado"
	EventDocumentRejected  = "documento_rechazado"
	EventDocumentDeleted   = "documento_eliminado"
	EventRequestCreated    = "solicitud_creada"
	EventRequestUpdated    = "solicitud_actualizada"
	EventRequestResponded  = "solicitud_respondida"
	EventRequestDeleted    = "solicitud_eliminada"
	EventMessageSent       = "mensaje_enviado"
	EventMessageEdited     = "mensaje_editado"
	EventMessageDeleted    = "mensaje_eliminado"
)

// TimelineEnqueuer queues a failed audit entry for a later retry.
type TimelineEnqueuer interface {
	EnqueueTimelineAppend(ctx context.Context, entry *models.OfferTimeline) error
}

// ITimelineService is the append-only audit log of an offer.
type ITimelineService interface {
	// Append records entry without failing the caller. A failed write is
	// logged, counted and queued for retry when an enqueuer is set.
	Append(ctx context.Context, entry *models.OfferTimeline)
	// Persist writes entry and reports the failure. Writing an entry whose id
	// is already stored succeeds, so retries are idempotent.
	Persist(ctx context.Context, entry *models.OfferTimeline) error
	List(ctx context.Context, offerID utils.SixID) ([]models.OfferTimeline, error)
	SetEnqueuer(q TimelineEnqueuer)
}

type timelineService struct {
	st  store.RecordStore
	rec *telemetry.Recorder
	q   TimelineEnqueuer
	now func() time.Time
}

// NewTimelineService creates a timeline service. rec may be nil.
func NewTimelineService(st store.RecordStore, rec *telemetry.Recorder) ITimelineService {
	return &timelineService{st: st, rec: rec, now: func() time.Time { return time.Now().UTC() }}
}

func (s *timelineService) SetEnqueuer(q TimelineEnqueuer) {
	s.q = q
}

func (s *timelineService) Append(ctx context.Context, entry *models.OfferTimeline) {
	err := s.Persist(ctx, entry)
	if err == nil {
		return
	}
	log.Printf("WARNING: timeline append failed (offer %s, table %s, event %s): %v",
		entry.OfferID.String(), models.TableTimeline, entry.EventType, err)
	s.rec.RecordError()
	if s.q == nil {
		return
	}
	if qerr := s.q.EnqueueTimelineAppend(context.WithoutCancel(ctx), entry); qerr != nil {
		log.Printf("ERROR: could not queue timeline retry (offer %s, event %s): %v",
			entry.OfferID.String(), entry.EventType, qerr)
	}
}

func (s *timelineService) Persist(ctx context.Context, entry *models.OfferTimeline) error {
	const op = "timeline.persist"
	if entry.ID.IsZero() {
		entry.ID = utils.NewSixID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	row, err := store.Encode(entry)
	if err != nil {
		return storeFailure(op, err)
	}
	if _, err := s.st.Insert(ctx, models.TableTimeline, row); err != nil {
		if store.IsDuplicateKey(err) {
			return nil
		}
		return storeFailure(op, err)
	}
	return nil
}

// List returns the offer's entries oldest first. A timeline table that does
// not exist yet reads as empty.
func (s *timelineService) List(ctx context.Context, offerID utils.SixID) ([]models.OfferTimeline, error) {
	const op = "timeline.list"
	rows, err := s.st.Select(ctx, models.TableTimeline, store.Filter{"offer_id": offerID}, store.Asc("created_at"))
	if err != nil {
		if store.IsUndefinedRelation(err) {
			return []models.OfferTimeline{}, nil
		}
		return nil, storeFailure(op, err)
	}
	out, err := store.DecodeAll[models.OfferTimeline](rows)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	return out, nil
}

// VisibleTimeline drops the entries role may not see. Buyers never see that a
// private note was posted.
func VisibleTimeline(entries []models.OfferTimeline, role models.Role) []models.OfferTimeline {
	if role != models.RoleBuyer {
		return entries
	}
	out := make([]models.OfferTimeline, 0, len(entries))
	for _, e := range entries {
		if !e.Private() {
			out = append(out, e)
		}
	}
	return out
}

// newEntry builds an entry attributed to the resolved caller.
func newEntry(res *Resolution, offerID utils.SixID, eventType, title, description string, payload map[string]interface{}) *models.OfferTimeline {
	return &models.OfferTimeline{
		OfferID:       offerID,
		EventType:     eventType,
		Title:         title,
		Description:   description,
		TriggeredBy:   res.Identity.ID,
		TriggeredRole: res.Role,
		Payload:       payload,
	}
}
