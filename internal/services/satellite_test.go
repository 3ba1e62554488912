package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greendrake/offers/internal/models"
	"greendrake/offers/internal/utils"
)

func TestDocuments_ScenarioC_RequestUploadReject(t *testing.T) {
	f := newFixture(t)
	docs := f.svc.Documents

	requested, err := docs.Request(f.ctx, f.seller, f.offer.ID, DocumentRequestInput{Name: "Certificado de dominio", Type: "dominio_vigente", Required: true})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentPending, requested.Status)
	assert.Empty(t, requested.FileURL)

	uploaded, err := docs.Upload(f.ctx, f.buyer, f.offer.ID, DocumentUploadInput{
		RequestID: requested.ID.Ptr(),
		FileURL:   "https://files.example/dominio.pdf",
		FileSize:  2048,
		MimeType:  "application/pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, requested.ID, uploaded.ID)
	assert.Equal(t, models.DocumentReceived, uploaded.Status)
	assert.Equal(t, "https://files.example/dominio.pdf", uploaded.FileURL)

	rejected, err := docs.Reject(f.ctx, f.seller, f.offer.ID, requested.ID, "Documento vencido")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentRejected, rejected.Status)
	assert.Equal(t, "Documento vencido", rejected.Notes)
	require.NotNil(t, rejected.ValidatedBy)
	assert.Equal(t, f.seller.ID, *rejected.ValidatedBy)
	assert.NotNil(t, rejected.ValidatedAt)

	entries := f.timeline(t)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{EventDocumentRequested, EventDocumentUploaded, EventDocumentRejected}, eventTypes(entries))
	for _, e := range entries {
		assert.Equal(t, requested.ID.String(), e.Payload["document_id"])
	}
	assert.Equal(t, models.RoleBuyer, entries[1].TriggeredRole)
}

func TestDocuments_ReviewGates(t *testing.T) {
	f := newFixture(t)
	docs := f.svc.Documents

	doc, err := docs.Upload(f.ctx, f.buyer, f.offer.ID, DocumentUploadInput{Name: "Liquidación", Type: "renta", FileURL: "s3://k"})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentReceived, doc.Status)

	_, err = docs.Validate(f.ctx, f.buyer, f.offer.ID, doc.ID, "")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	validated, err := docs.Validate(f.ctx, f.seller, f.offer.ID, doc.ID, "OK")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentValidated, validated.Status)

	_, err = docs.Reject(f.ctx, f.seller, f.offer.ID, doc.ID, "tarde")
	assert.ErrorIs(t, err, ErrStateTransition)

	_, err = docs.Upload(f.ctx, f.stranger, f.offer.ID, DocumentUploadInput{Name: "x", Type: "y", FileURL: "s3://z"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = docs.Upload(f.ctx, f.buyer, f.offer.ID, DocumentUploadInput{Name: "x", Type: "y", FileURL: "s3://z", FileSize: 21 * 1024 * 1024})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestDocuments_DeleteIsSellerOrAdmin(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Documents.Request(f.ctx, f.seller, f.offer.ID, DocumentRequestInput{Name: "Avalúo", Type: "tasacion"})
	require.NoError(t, err)
	other, err := f.svc.Documents.Request(f.ctx, f.seller, f.offer.ID, DocumentRequestInput{Name: "Planos", Type: "planos"})
	require.NoError(t, err)

	err = f.svc.Documents.Delete(f.ctx, f.buyer, f.offer.ID, doc.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	err = f.svc.Documents.Delete(f.ctx, f.stranger, f.offer.ID, doc.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	require.NoError(t, f.svc.Documents.Delete(f.ctx, f.seller, f.offer.ID, doc.ID))
	require.NoError(t, f.svc.Documents.Delete(f.ctx, f.admin, f.offer.ID, other.ID))
	list, err := f.svc.Documents.List(f.ctx, f.seller, f.offer.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = f.svc.Documents.Delete(f.ctx, f.admin, f.offer.ID, doc.ID)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestDocuments_PrepareUploadWithoutStorage(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Documents.PrepareUpload(f.ctx, f.buyer, f.offer.ID, "a.pdf", "application/pdf", 10)
	assert.ErrorIs(t, err, ErrProvisioningGap)
}

func TestSatellites_ProvisioningGap(t *testing.T) {
	f := newFixture(t)
	for _, table := range []string{models.TableTasks, models.TableDocuments, models.TableFormalRequests, models.TableCommunications} {
		f.st.DropTable(table)
	}

	tasks, err := f.svc.Tasks.List(f.ctx, f.seller, f.offer.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.NotNil(t, tasks)

	docs, err := f.svc.Documents.List(f.ctx, f.seller, f.offer.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)

	reqs, err := f.svc.FormalRequests.List(f.ctx, f.seller, f.offer.ID)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	msgs, err := f.svc.Communications.List(f.ctx, f.buyer, f.offer.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = f.svc.Tasks.Create(f.ctx, f.seller, f.offer.ID, TaskInput{Type: "visita"})
	assert.ErrorIs(t, err, ErrProvisioningGap)
	assert.Equal(t, KindProvisioningGap, KindOf(err))

	_, err = f.svc.Documents.Request(f.ctx, f.seller, f.offer.ID, DocumentRequestInput{Name: "a", Type: "b"})
	assert.ErrorIs(t, err, ErrProvisioningGap)

	_, err = f.svc.Communications.Send(f.ctx, f.buyer, f.offer.ID, MessageInput{Body: "hola"})
	assert.ErrorIs(t, err, ErrProvisioningGap)

	assert.Empty(t, f.timeline(t), "failed writes leave no timeline entry")
}

func TestTasks_Lifecycle(t *testing.T) {
	f := newFixture(t)
	tasks := f.svc.Tasks

	_, err := tasks.Create(f.ctx, f.buyer, f.offer.ID, TaskInput{Type: "visita"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = tasks.Create(f.ctx, f.seller, f.offer.ID, TaskInput{Type: "visita", Priority: "altísima"})
	assert.Equal(t, KindValidation, KindOf(err))

	task, err := tasks.Create(f.ctx, f.seller, f.offer.ID, TaskInput{Type: "visita", Description: "Coordinar visita"})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityNormal, task.Priority)
	assert.Equal(t, models.TaskPending, task.Status)

	_, err = tasks.UpdateStatus(f.ctx, f.buyer, f.offer.ID, task.ID, models.TaskInProgress)
	assert.ErrorIs(t, err, ErrPermissionDenied, "buyer is not the assignee yet")

	task, err = tasks.Assign(f.ctx, f.seller, f.offer.ID, task.ID, f.buyer.ID.Ptr())
	require.NoError(t, err)
	require.NotNil(t, task.AssignedTo)
	assert.Equal(t, f.buyer.ID, *task.AssignedTo)

	task, err = tasks.UpdateStatus(f.ctx, f.buyer, f.offer.ID, task.ID, models.TaskInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.TaskInProgress, task.Status)

	_, err = tasks.UpdateStatus(f.ctx, f.buyer, f.offer.ID, task.ID, models.TaskPending)
	assert.ErrorIs(t, err, ErrStateTransition)

	task, err = tasks.UpdateStatus(f.ctx, f.buyer, f.offer.ID, task.ID, models.TaskCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, task.Status)

	err = tasks.Delete(f.ctx, f.buyer, f.offer.ID, task.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	require.NoError(t, tasks.Delete(f.ctx, f.seller, f.offer.ID, task.ID))

	assert.Equal(t, []string{
		EventTaskCreated, EventTaskAssigned, EventTaskUpdated, EventTaskUpdated, EventTaskDeleted,
	}, eventTypes(f.timeline(t)))
}

func TestFormalRequests_RespondByAddressee(t *testing.T) {
	f := newFixture(t)
	svc := f.svc.FormalRequests

	_, err := svc.Create(f.ctx, f.seller, f.offer.ID, FormalRequestInput{Type: "permuta", Title: "x"})
	assert.Equal(t, KindValidation, KindOf(err))

	req, err := svc.Create(f.ctx, f.seller, f.offer.ID, FormalRequestInput{
		Type:              models.RequestInspection,
		Title:             "Inspección técnica",
		RequiredDocuments: []string{"informe"},
	})
	require.NoError(t, err)
	assert.Equal(t, f.buyer.ID, req.RequestedTo)
	assert.Equal(t, models.RequestRequested, req.Status)

	_, err = svc.Respond(f.ctx, f.seller, f.offer.ID, req.ID, FormalResponseInput{Response: "listo"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	req, err = svc.UpdateStatus(f.ctx, f.buyer, f.offer.ID, req.ID, models.RequestInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.RequestInProgress, req.Status)

	_, err = svc.UpdateStatus(f.ctx, f.buyer, f.offer.ID, req.ID, models.RequestDeclined)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	req, err = svc.Respond(f.ctx, f.buyer, f.offer.ID, req.ID, FormalResponseInput{Response: "Inspección agendada", Documents: []string{"s3://informe.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, models.RequestCompleted, req.Status)
	assert.Equal(t, "Inspección agendada", req.Response)
	assert.Equal(t, []string{"s3://informe.pdf"}, req.ResponseDocuments)
	assert.NotNil(t, req.RespondedAt)

	_, err = svc.Respond(f.ctx, f.buyer, f.offer.ID, req.ID, FormalResponseInput{Response: "otra vez"})
	assert.ErrorIs(t, err, ErrStateTransition)

	assert.Equal(t, []string{EventRequestCreated, EventRequestUpdated, EventRequestResponded}, eventTypes(f.timeline(t)))
}

func TestCommunications_PrivateHiddenFromBuyer(t *testing.T) {
	f := newFixture(t)
	svc := f.svc.Communications

	_, err := svc.Send(f.ctx, f.buyer, f.offer.ID, MessageInput{Body: "secreto", IsPrivate: true})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	public, err := svc.Send(f.ctx, f.buyer, f.offer.ID, MessageInput{Body: "¿Aceptan crédito hipotecario?"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleBuyer, public.AuthorRole)

	_, err = svc.Send(f.ctx, f.seller, f.offer.ID, MessageInput{Body: "Nota interna: verificar preaprobación", IsPrivate: true})
	require.NoError(t, err)

	buyerView, err := svc.List(f.ctx, f.buyer, f.offer.ID)
	require.NoError(t, err)
	require.Len(t, buyerView, 1)
	assert.Equal(t, public.ID, buyerView[0].ID)

	sellerView, err := svc.List(f.ctx, f.seller, f.offer.ID)
	require.NoError(t, err)
	assert.Len(t, sellerView, 2)

	_, err = svc.Send(f.ctx, f.stranger, f.offer.ID, MessageInput{Body: "hola"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	entries := f.timeline(t)
	require.Len(t, entries, 2)
	assert.Len(t, VisibleTimeline(entries, models.RoleBuyer), 1)
	assert.Len(t, VisibleTimeline(entries, models.RoleSeller), 2)
	assert.Len(t, VisibleTimeline(entries, models.RoleAdmin), 2)

	detail, err := f.svc.LoadDetail(f.ctx, f.buyer, f.offer.ID)
	require.NoError(t, err)
	require.Len(t, detail.Timeline, 1)
	assert.False(t, detail.Timeline[0].Private())
}

func TestCommunications_EditAndDelete(t *testing.T) {
	f := newFixture(t)
	svc := f.svc.Communications

	msg, err := svc.Send(f.ctx, f.buyer, f.offer.ID, MessageInput{Body: "Hola"})
	require.NoError(t, err)

	_, err = svc.Edit(f.ctx, f.seller, f.offer.ID, msg.ID, "cambiado")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	edited, err := svc.Edit(f.ctx, f.buyer, f.offer.ID, msg.ID, "Hola, buenas tardes")
	require.NoError(t, err)
	assert.Equal(t, "Hola, buenas tardes", edited.Body)
	assert.NotNil(t, edited.UpdatedAt)

	list, err := svc.List(f.ctx, f.buyer, f.offer.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Hola, buenas tardes", list[0].Body)

	err = svc.Delete(f.ctx, f.buyer, f.offer.ID, msg.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	require.NoError(t, svc.Delete(f.ctx, f.seller, f.offer.ID, msg.ID))

	list, err = svc.List(f.ctx, f.seller, f.offer.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoadDetail(t *testing.T) {
	f := newFixture(t)
	_, err := f.transition(f.seller, ActionPreAccept)
	require.NoError(t, err)
	_, err = f.svc.Tasks.Create(f.ctx, f.seller, f.offer.ID, TaskInput{Type: "visita"})
	require.NoError(t, err)

	d, err := f.svc.LoadDetail(f.ctx, f.buyer, f.offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInReview, d.Offer.Status)
	assert.Equal(t, models.RoleBuyer, d.Role)
	assert.Len(t, d.Tasks, 1)
	assert.Len(t, d.Timeline, 2)

	snap := f.rec.Snapshot()
	for _, phase := range []string{"detail", "offer", "tasks", "documents", "formal_requests", "communications", "timeline"} {
		assert.Contains(t, snap.LoadDurations, phase)
	}

	_, err = f.svc.LoadDetail(f.ctx, f.stranger, f.offer.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSatellites_UnknownOffer(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Tasks.List(f.ctx, f.seller, utils.NewSixID())
	assert.Equal(t, KindNotFound, KindOf(err))
}
