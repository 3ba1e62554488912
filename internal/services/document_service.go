package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/storage"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/utils"
)

// DocumentStorage issues upload targets for document files.
type DocumentStorage interface {
	PresignDocumentUpload(ctx context.Context, offerID, fileName, contentType string) (*storage.UploadTarget, error)
}

// DocumentRequestInput asks the other party for a document.
type DocumentRequestInput struct {
	Name      string     `json:"name" binding:"required"`
	Type      string     `json:"document_type" binding:"required"`
	Required  bool       `json:"required"`
	Notes     string     `json:"notes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// DocumentUploadInput registers an uploaded file, optionally fulfilling a
// pending request.
type DocumentUploadInput struct {
	RequestID *utils.SixID `json:"request_id,omitempty"`
	Name      string       `json:"name"`
	Type      string       `json:"document_type"`
	FileURL   string       `json:"file_url" binding:"required"`
	FileSize  int64        `json:"file_size"`
	MimeType  string       `json:"mime_type"`
}

// IDocumentService manages the documents of an offer.
type IDocumentService interface {
	List(ctx context.Context, identity models.Identity, offerID utils.SixID) ([]models.OfferDocument, error)
	Request(ctx context.Context, identity models.Identity, offerID utils.SixID, in DocumentRequestInput) (*models.OfferDocument, error)
	Upload(ctx context.Context, identity models.Identity, offerID utils.SixID, in DocumentUploadInput) (*models.OfferDocument, error)
	Validate(ctx context.Context, identity models.Identity, offerID, documentID utils.SixID, notes string) (*models.OfferDocument, error)
	Reject(ctx context.Context, identity models.Identity, offerID, documentID utils.SixID, notes string) (*models.OfferDocument, error)
	Delete(ctx context.Context, identity models.Identity, offerID, documentID utils.SixID) error
	PrepareUpload(ctx context.Context, identity models.Identity, offerID utils.SixID, fileName, contentType string, size int64) (*storage.UploadTarget, error)
}

type documentService struct {
	satellite
	storage DocumentStorage
	maxSize int64
}

// NewDocumentService creates a new DocumentService. files may be nil, in
// which case PrepareUpload reports that uploads are not available. maxSize
// bounds registered files in bytes; zero disables the check.
func NewDocumentService(st store.RecordStore, roles IRoleResolver, timeline ITimelineService, c *cache.TTLCache, files DocumentStorage, maxSize int64) IDocumentService {
	return &documentService{satellite: newSatellite(st, roles, timeline, c), storage: files, maxSize: maxSize}
}

// List returns the offer's documents, served from cache while fresh.
func (s *documentService) List(ctx context.Context, identity models.Identity, offerID utils.SixID) ([]models.OfferDocument, error) {
	const op = "documents.list"
	if _, err := s.authorize(ctx, op, identity, offerID, models.RoleBuyer, models.RoleSeller, models.RoleAdmin); err != nil {
		return nil, err
	}
	key := cache.DocumentsKey(offerID.String())
	if docs, ok := cache.GetAs[[]models.OfferDocument](s.cache, key); ok {
		return append([]models.OfferDocument(nil), docs...), nil
	}
	rows, err := s.list(ctx, op, models.TableDocuments, offerID)
	if err != nil {
		return nil, err
	}
	docs, err := store.DecodeAll[models.OfferDocument](rows)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	s.cache.Set(key, append([]models.OfferDocument(nil), docs...))
	return docs, nil
}

// Request creates a pendiente document with no file.
func (s *documentService) Request(ctx context.Context, identity models.Identity, offerID utils.SixID, in DocumentRequestInput) (*models.OfferDocument, error) {
	const op = "documents.request"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Type) == "" {
		return nil, validationError(op, "A document request needs a name and a type.")
	}

	var doc *models.OfferDocument
	err = s.insert(ctx, op, models.TableDocuments, func(id utils.SixID) interface{} {
		now := s.now()
		doc = &models.OfferDocument{
			ID:          id,
			OfferID:     offerID,
			Name:        strings.TrimSpace(in.Name),
			Type:        strings.TrimSpace(in.Type),
			Status:      models.DocumentPending,
			RequestedBy: identity.ID.Ptr(),
			Notes:       strings.TrimSpace(in.Notes),
			Required:    in.Required,
			ExpiresAt:   in.ExpiresAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return doc
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(offerID)
	s.record(ctx, res, offerID, EventDocumentRequested, "Documento solicitado", doc.Name, map[string]interface{}{
		"document_id": doc.ID.String(),
		"status":      string(doc.Status),
	})
	return doc, nil
}

// Upload registers a file. With a RequestID it fulfils that request, which
// must be pendiente (or rechazado, for a replacement); otherwise a new
// recibido document is created.
func (s *documentService) Upload(ctx context.Context, identity models.Identity, offerID utils.SixID, in DocumentUploadInput) (*models.OfferDocument, error) {
	const op = "documents.upload"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleBuyer, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.FileURL) == "" {
		return nil, validationError(op, "The uploaded file is missing.")
	}
	if in.FileSize < 0 || (s.maxSize > 0 && in.FileSize > s.maxSize) {
		return nil, validationError(op, fmt.Sprintf("Documents must be at most %d MB.", s.maxSize/(1024*1024)))
	}

	var doc models.OfferDocument
	var old models.DocumentStatus
	if in.RequestID != nil {
		if err := s.fetch(ctx, op, models.TableDocuments, "Document", offerID, *in.RequestID, &doc); err != nil {
			return nil, err
		}
		if doc.Status != models.DocumentPending && doc.Status != models.DocumentRejected {
			return nil, newError(KindStateTransition, op, "This document has already been received.", nil)
		}
		old = doc.Status
		patch := store.Row{
			"status":      models.DocumentReceived,
			"file_url":    in.FileURL,
			"file_size":   in.FileSize,
			"mime_type":   in.MimeType,
			"uploaded_by": identity.ID,
		}
		if err := s.conditionalUpdate(ctx, op, models.TableDocuments, doc.ID, string(old), patch, &doc); err != nil {
			return nil, err
		}
	} else {
		if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Type) == "" {
			return nil, validationError(op, "A document needs a name and a type.")
		}
		var created *models.OfferDocument
		err := s.insert(ctx, op, models.TableDocuments, func(id utils.SixID) interface{} {
			now := s.now()
			created = &models.OfferDocument{
				ID:         id,
				OfferID:    offerID,
				Name:       strings.TrimSpace(in.Name),
				Type:       strings.TrimSpace(in.Type),
				Status:     models.DocumentReceived,
				FileURL:    in.FileURL,
				FileSize:   in.FileSize,
				MimeType:   in.MimeType,
				UploadedBy: identity.ID.Ptr(),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			return created
		})
		if err != nil {
			return nil, err
		}
		doc = *created
	}

	s.invalidate(offerID)
	payload := map[string]interface{}{
		"document_id": doc.ID.String(),
		"new_status":  string(doc.Status),
	}
	if old != "" {
		payload["old_status"] = string(old)
	}
	s.record(ctx, res, offerID, EventDocumentUploaded, "Documento subido", doc.Name, payload)
	return &doc, nil
}

func (s *documentService) Validate(ctx context.Context, identity models.Identity, offerID, documentID utils.SixID, notes string) (*models.OfferDocument, error) {
	return s.review(ctx, "documents.validate", identity, offerID, documentID, models.DocumentValidated, notes)
}

func (s *documentService) Reject(ctx context.Context, identity models.Identity, offerID, documentID utils.SixID, notes string) (*models.OfferDocument, error) {
	return s.review(ctx, "documents.reject", identity, offerID, documentID, models.DocumentRejected, notes)
}

// review moves a recibido document to validado or rechazado.
func (s *documentService) review(ctx context.Context, op string, identity models.Identity, offerID, documentID utils.SixID, to models.DocumentStatus, notes string) (*models.OfferDocument, error) {
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	var doc models.OfferDocument
	if err := s.fetch(ctx, op, models.TableDocuments, "Document", offerID, documentID, &doc); err != nil {
		return nil, err
	}
	if doc.Status != models.DocumentReceived {
		return nil, newError(KindStateTransition, op, "Only received documents can be reviewed.", nil)
	}

	patch := store.Row{
		"status":       to,
		"validated_by": identity.ID,
		"validated_at": s.now(),
	}
	if n := strings.TrimSpace(notes); n != "" {
		patch["notes"] = n
	}
	if err := s.conditionalUpdate(ctx, op, models.TableDocuments, documentID, string(models.DocumentReceived), patch, &doc); err != nil {
		return nil, err
	}

	s.invalidate(offerID)
	event, title := EventDocumentValidated, "Documento validado"
	if to == models.DocumentRejected {
		event, title = EventDocumentRejected, "Documento rechazado"
	}
	s.record(ctx, res, offerID, event, title, doc.Notes, map[string]interface{}{
		"document_id": doc.ID.String(),
		"old_status":  string(models.DocumentReceived),
		"new_status":  string(to),
	})
	return &doc, nil
}

// Delete removes a document. Like every satellite, only the seller or an
// admin may delete.
func (s *documentService) Delete(ctx context.Context, identity models.Identity, offerID, documentID utils.SixID) error {
	const op = "documents.delete"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, op, models.TableDocuments, "Document", offerID, documentID); err != nil {
		return err
	}
	s.invalidate(offerID)
	s.record(ctx, res, offerID, EventDocumentDeleted, "Documento eliminado", "", map[string]interface{}{
		"document_id": documentID.String(),
	})
	return nil
}

// PrepareUpload returns a presigned target for a file the caller is about to
// upload.
func (s *documentService) PrepareUpload(ctx context.Context, identity models.Identity, offerID utils.SixID, fileName, contentType string, size int64) (*storage.UploadTarget, error) {
	const op = "documents.prepare_upload"
	if _, err := s.authorize(ctx, op, identity, offerID, models.RoleBuyer, models.RoleSeller, models.RoleAdmin); err != nil {
		return nil, err
	}
	if s.storage == nil {
		return nil, newError(KindProvisioningGap, op, "Document uploads are not available yet.", nil)
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, validationError(op, "A file name is required.")
	}
	if size < 0 || (s.maxSize > 0 && size > s.maxSize) {
		return nil, validationError(op, fmt.Sprintf("Documents must be at most %d MB.", s.maxSize/(1024*1024)))
	}
	target, err := s.storage.PresignDocumentUpload(ctx, offerID.String(), fileName, contentType)
	if err != nil {
		return nil, newError(KindTransientStore, op, "", err)
	}
	return target, nil
}

func (s *documentService) invalidate(offerID utils.SixID) {
	s.cache.Delete(cache.DocumentsKey(offerID.String()))
}
