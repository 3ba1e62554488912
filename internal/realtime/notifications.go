package realtime

import (
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/notify"
	"greendrake/offers/internal/store"
)

// rule describes the notification raised by one kind of change.
type rule struct {
	Kind     string
	Title    string
	Message  string
	Audience []models.Role
}

type ruleKey struct {
	table  string
	op     store.Op
	status string // "" matches any status
}

var (
	buyers  = []models.Role{models.RoleBuyer}
	sellers = []models.Role{models.RoleSeller}
	parties = []models.Role{models.RoleBuyer, models.RoleSeller}
)

var notificationRules = map[ruleKey]rule{
	{models.TableOffers, store.OpInsert, string(models.StatusPending)}: {
		Kind: "offer_received", Title: "Nueva oferta", Audience: sellers,
		Message: "Recibiste una nueva oferta.",
	},
	{models.TableOffers, store.OpUpdate, string(models.StatusInReview)}: {
		Kind: "offer_in_review", Title: "Oferta en revisión", Audience: buyers,
		Message: "El vendedor está revisando tu oferta.",
	},
	{models.TableOffers, store.OpUpdate, string(models.StatusCounterOffer)}: {
		Kind: "offer_countered", Title: "Nueva contraoferta", Audience: parties,
		Message: "Hay una nueva contraoferta.",
	},
	{models.TableOffers, store.OpUpdate, string(models.StatusAccepted)}: {
		Kind: "offer_accepted", Title: "Oferta aceptada", Audience: parties,
		Message: "La oferta fue aceptada.",
	},
	{models.TableOffers, store.OpUpdate, string(models.StatusRejected)}: {
		Kind: "offer_rejected", Title: "Oferta rechazada", Audience: parties,
		Message: "La oferta fue rechazada.",
	},
	{models.TableOffers, store.OpUpdate, string(models.StatusInfoRequested)}: {
		Kind: "offer_info_requested", Title: "Información solicitada", Audience: buyers,
		Message: "El vendedor necesita más información.",
	},
	{models.TableOffers, store.OpUpdate, string(models.StatusTitleStudy)}: {
		Kind: "offer_title_study", Title: "Estudio de títulos", Audience: buyers,
		Message: "La oferta pasó a estudio de títulos.",
	},
	{models.TableOffers, store.OpUpdate, string(models.StatusFinalized)}: {
		Kind: "offer_finalized", Title: "Oferta finalizada", Audience: sellers,
		Message: "El comprador finalizó la oferta.",
	},
	{models.TableDocuments, store.OpInsert, string(models.DocumentPending)}: {
		Kind: "document_requested", Title: "Documento solicitado", Audience: buyers,
		Message: "Se solicitó un nuevo documento.",
	},
	{models.TableDocuments, store.OpInsert, string(models.DocumentReceived)}: {
		Kind: "document_uploaded", Title: "Nuevo documento", Audience: sellers,
		Message: "Se subió un nuevo documento.",
	},
	{models.TableDocuments, store.OpUpdate, string(models.DocumentReceived)}: {
		Kind: "document_uploaded", Title: "Documento recibido", Audience: sellers,
		Message: "Se subió un documento solicitado.",
	},
	{models.TableDocuments, store.OpUpdate, string(models.DocumentValidated)}: {
		Kind: "document_validated", Title: "Documento validado", Audience: buyers,
		Message: "Un documento fue validado.",
	},
	{models.TableDocuments, store.OpUpdate, string(models.DocumentRejected)}: {
		Kind: "document_rejected", Title: "Documento rechazado", Audience: buyers,
		Message: "Un documento fue rechazado.",
	},
	{models.TableTasks, store.OpInsert, ""}: {
		Kind: "task_created", Title: "Nueva tarea", Audience: parties,
		Message: "Se creó una nueva tarea.",
	},
	{models.TableTasks, store.OpUpdate, string(models.TaskCompleted)}: {
		Kind: "task_completed", Title: "Tarea completada", Audience: parties,
		Message: "Una tarea fue completada.",
	},
	{models.TableFormalRequests, store.OpInsert, ""}: {
		Kind: "request_created", Title: "Nueva solicitud", Audience: buyers,
		Message: "Tienes una nueva solicitud formal.",
	},
	{models.TableFormalRequests, store.OpUpdate, string(models.RequestCompleted)}: {
		Kind: "request_answered", Title: "Solicitud respondida", Audience: sellers,
		Message: "Una solicitud formal fue respondida.",
	},
	{models.TableCommunications, store.OpInsert, ""}: {
		Kind: "message_received", Title: "Nuevo mensaje", Audience: parties,
		Message: "Tienes un nuevo mensaje.",
	},
}

// actorFields name the columns that identify who caused a change.
var actorFields = []string{"author_id", "created_by", "requested_by"}

// documentActors picks the actor column of a document by its new status.
var documentActors = map[string]string{
	string(models.DocumentPending):   "requested_by",
	string(models.DocumentReceived):  "uploaded_by",
	string(models.DocumentValidated): "validated_by",
	string(models.DocumentRejected):  "validated_by",
}

// lookup finds the rule for ev, preferring an exact status match.
func lookup(ev Event) (rule, bool) {
	if r, ok := notificationRules[ruleKey{ev.Table, ev.Op, ev.Status}]; ok {
		return r, true
	}
	r, ok := notificationRules[ruleKey{ev.Table, ev.Op, ""}]
	return r, ok
}

// NotificationFor builds the notification ev should raise for a viewer with
// role, or reports false when it should raise none. Admins hear about every
// notifying change; buyers never hear about private messages.
func NotificationFor(ev Event, role models.Role) (notify.Notification, bool) {
	if ev.Deleted() || !ev.StatusChanged() {
		return notify.Notification{}, false
	}
	r, ok := lookup(ev)
	if !ok {
		return notify.Notification{}, false
	}
	audience := r.Audience
	if ev.Table == models.TableCommunications {
		if private, _ := ev.Record["is_private"].(bool); private {
			audience = sellers
		}
	}
	if role != models.RoleAdmin && !hasRole(audience, role) {
		return notify.Notification{}, false
	}

	names := make([]string, len(audience))
	for i, a := range audience {
		names[i] = string(a)
	}
	return notify.Notification{
		Kind:     r.Kind,
		Title:    r.Title,
		Message:  r.Message,
		OfferID:  ev.OfferID,
		Table:    ev.Table,
		RecordID: ev.RecordID,
		Audience: names,
	}, true
}

// actor returns who caused ev, when the record says so.
func actor(ev Event) string {
	if ev.Table == models.TableDocuments {
		return str(ev.Record, documentActors[ev.Status])
	}
	for _, f := range actorFields {
		if v := str(ev.Record, f); v != "" {
			return v
		}
	}
	return ""
}

// selfCaused reports whether the viewer made the change themselves.
func selfCaused(ev Event, viewer Audience) bool {
	if id := actor(ev); id != "" {
		return id == viewer.UserID.String()
	}
	if ev.Table == models.TableOffers && ev.Status == string(models.StatusCounterOffer) {
		return str(ev.Record, "counter_offer_by") == string(viewer.Role)
	}
	return false
}

func hasRole(list []models.Role, role models.Role) bool {
	for _, r := range list {
		if r == role {
			return true
		}
	}
	return false
}
