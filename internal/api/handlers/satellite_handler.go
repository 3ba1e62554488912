package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/offers/internal/models"
	"greendrake/offers/internal/services"
	"greendrake/offers/internal/utils"
)

// SatelliteHandler handles the tasks, documents, formal requests and messages
// attached to an offer.
type SatelliteHandler struct {
	svc *services.Services
}

// NewSatelliteHandler creates a new SatelliteHandler.
func NewSatelliteHandler(svc *services.Services) *SatelliteHandler {
	return &SatelliteHandler{svc: svc}
}

type statusArgs struct {
	Status string `json:"status" binding:"required"`
}

type assignArgs struct {
	AssignedTo *utils.SixID `json:"assigned_to"`
}

type reviewArgs struct {
	Notes string `json:"notes"`
}

type editArgs struct {
	Body string `json:"body" binding:"required"`
}

type uploadURLArgs struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	FileSize    int64  `json:"file_size"`
}

// bind decodes the JSON body into v, answering 400 on failure.
func bind(c *gin.Context, v interface{}, msg string) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, msg)
		return false
	}
	return true
}

// --- Tasks ---

// ListTasks handles GET /v1/offers/:id/tasks
func (h *SatelliteHandler) ListTasks(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	tasks, err := h.svc.Tasks.List(c.Request.Context(), identity, offerID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, tasks)
}

// CreateTask handles POST /v1/offers/:id/tasks
func (h *SatelliteHandler) CreateTask(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	var in services.TaskInput
	if !bind(c, &in, "Invalid task: task_type is required") {
		return
	}
	task, err := h.svc.Tasks.Create(c.Request.Context(), identity, offerID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, task)
}

// UpdateTaskStatus handles PATCH /v1/offers/:id/tasks/:itemId/status
func (h *SatelliteHandler) UpdateTaskStatus(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	taskID, ok := pathID(c, "itemId", "task")
	if !ok {
		return
	}
	var args statusArgs
	if !bind(c, &args, "Invalid request: status is required") {
		return
	}
	task, err := h.svc.Tasks.UpdateStatus(c.Request.Context(), identity, offerID, taskID, models.TaskStatus(args.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, task)
}

// AssignTask handles PATCH /v1/offers/:id/tasks/:itemId/assignee
func (h *SatelliteHandler) AssignTask(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	taskID, ok := pathID(c, "itemId", "task")
	if !ok {
		return
	}
	var args assignArgs
	if !bind(c, &args, "Invalid request body") {
		return
	}
	task, err := h.svc.Tasks.Assign(c.Request.Context(), identity, offerID, taskID, args.AssignedTo)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, task)
}

// DeleteTask handles DELETE /v1/offers/:id/tasks/:itemId
func (h *SatelliteHandler) DeleteTask(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	taskID, ok := pathID(c, "itemId", "task")
	if !ok {
		return
	}
	if err := h.svc.Tasks.Delete(c.Request.Context(), identity, offerID, taskID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Documents ---

// ListDocuments handles GET /v1/offers/:id/documents
func (h *SatelliteHandler) ListDocuments(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	docs, err := h.svc.Documents.List(c.Request.Context(), identity, offerID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, docs)
}

// RequestDocument handles POST /v1/offers/:id/documents
func (h *SatelliteHandler) RequestDocument(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	var in services.DocumentRequestInput
	if !bind(c, &in, "Invalid document request: name and document_type are required") {
		return
	}
	doc, err := h.svc.Documents.Request(c.Request.Context(), identity, offerID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, doc)
}

// GetUploadURL handles POST /v1/offers/:id/documents/upload-url
func (h *SatelliteHandler) GetUploadURL(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	var args uploadURLArgs
	if !bind(c, &args, "Missing required arguments (file_name, content_type)") {
		return
	}
	target, err := h.svc.Documents.PrepareUpload(c.Request.Context(), identity, offerID, args.FileName, args.ContentType, args.FileSize)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, target)
}

// UploadDocument handles POST /v1/offers/:id/documents/upload
func (h *SatelliteHandler) UploadDocument(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	var in services.DocumentUploadInput
	if !bind(c, &in, "Invalid upload: file_url is required") {
		return
	}
	doc, err := h.svc.Documents.Upload(c.Request.Context(), identity, offerID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, doc)
}

// ValidateDocument handles POST /v1/offers/:id/documents/:itemId/validate
func (h *SatelliteHandler) ValidateDocument(c *gin.Context) {
	h.reviewDocument(c, h.svc.Documents.Validate)
}

// RejectDocument handles POST /v1/offers/:id/documents/:itemId/reject
func (h *SatelliteHandler) RejectDocument(c *gin.Context) {
	h.reviewDocument(c, h.svc.Documents.Reject)
}

type reviewFunc func(ctx context.Context, identity models.Identity, offerID, documentID utils.SixID, notes string) (*models.OfferDocument, error)

func (h *SatelliteHandler) reviewDocument(c *gin.Context, review reviewFunc) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	docID, ok := pathID(c, "itemId", "document")
	if !ok {
		return
	}
	var args reviewArgs
	// The body is optional.
	_ = c.ShouldBindJSON(&args)
	doc, err := review(c.Request.Context(), identity, offerID, docID, args.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /v1/offers/:id/documents/:itemId
func (h *SatelliteHandler) DeleteDocument(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	docID, ok := pathID(c, "itemId", "document")
	if !ok {
		return
	}
	if err := h.svc.Documents.Delete(c.Request.Context(), identity, offerID, docID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Formal requests ---

// ListFormalRequests handles GET /v1/offers/:id/requests
func (h *SatelliteHandler) ListFormalRequests(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	reqs, err := h.svc.FormalRequests.List(c.Request.Context(), identity, offerID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, reqs)
}

// CreateFormalRequest handles POST /v1/offers/:id/requests
func (h *SatelliteHandler) CreateFormalRequest(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	var in services.FormalRequestInput
	if !bind(c, &in, "Invalid formal request: request_type and title are required") {
		return
	}
	req, err := h.svc.FormalRequests.Create(c.Request.Context(), identity, offerID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, req)
}

// UpdateFormalRequestStatus handles PATCH /v1/offers/:id/requests/:itemId/status
func (h *SatelliteHandler) UpdateFormalRequestStatus(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	reqID, ok := pathID(c, "itemId", "request")
	if !ok {
		return
	}
	var args statusArgs
	if !bind(c, &args, "Invalid request: status is required") {
		return
	}
	req, err := h.svc.FormalRequests.UpdateStatus(c.Request.Context(), identity, offerID, reqID, models.FormalRequestStatus(args.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, req)
}

// RespondFormalRequest handles POST /v1/offers/:id/requests/:itemId/respond
func (h *SatelliteHandler) RespondFormalRequest(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	reqID, ok := pathID(c, "itemId", "request")
	if !ok {
		return
	}
	var in services.FormalResponseInput
	if !bind(c, &in, "Invalid response: response is required") {
		return
	}
	req, err := h.svc.FormalRequests.Respond(c.Request.Context(), identity, offerID, reqID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, req)
}

// DeleteFormalRequest handles DELETE /v1/offers/:id/requests/:itemId
func (h *SatelliteHandler) DeleteFormalRequest(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	reqID, ok := pathID(c, "itemId", "request")
	if !ok {
		return
	}
	if err := h.svc.FormalRequests.Delete(c.Request.Context(), identity, offerID, reqID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Communications ---

// ListMessages handles GET /v1/offers/:id/messages
func (h *SatelliteHandler) ListMessages(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	msgs, err := h.svc.Communications.List(c.Request.Context(), identity, offerID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, msgs)
}

// SendMessage handles POST /v1/offers/:id/messages
func (h *SatelliteHandler) SendMessage(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	var in services.MessageInput
	if !bind(c, &in, "Invalid message: body is required") {
		return
	}
	msg, err := h.svc.Communications.Send(c.Request.Context(), identity, offerID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, msg)
}

// EditMessage handles PATCH /v1/offers/:id/messages/:itemId
func (h *SatelliteHandler) EditMessage(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	msgID, ok := pathID(c, "itemId", "message")
	if !ok {
		return
	}
	var args editArgs
	if !bind(c, &args, "Invalid message: body is required") {
		return
	}
	msg, err := h.svc.Communications.Edit(c.Request.Context(), identity, offerID, msgID, args.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, msg)
}

// DeleteMessage handles DELETE /v1/offers/:id/messages/:itemId
func (h *SatelliteHandler) DeleteMessage(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	msgID, ok := pathID(c, "itemId", "message")
	if !ok {
		return
	}
	if err := h.svc.Communications.Delete(c.Request.Context(), identity, offerID, msgID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
