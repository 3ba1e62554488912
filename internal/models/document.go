package models

import (
	"time"

	"greendrake/offers/internal/utils"
)

type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pendiente"
	DocumentReceived  DocumentStatus = "recibido"
	DocumentValidated DocumentStatus = "validado"
	DocumentRejected  DocumentStatus = "rechazado"
)

// OfferDocument is a file reference tied to an offer. A request has no file
// yet; an upload carries the storage reference.
type OfferDocument struct {
	ID          utils.SixID    `bson:"_id" json:"id"`
	OfferID     utils.SixID    `bson:"offer_id" json:"offer_id"`
	Name        string         `bson:"name" json:"name"`
	Type        string         `bson:"document_type" json:"document_type"`
	Status      DocumentStatus `bson:"status" json:"status"`
	FileURL     string         `bson:"file_url,omitempty" json:"file_url,omitempty"`
	FileSize    int64          `bson:"file_size,omitempty" json:"file_size,omitempty"`
	MimeType    string         `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	RequestedBy *utils.SixID   `bson:"requested_by,omitempty" json:"requested_by,omitempty"`
	UploadedBy  *utils.SixID   `bson:"uploaded_by,omitempty" json:"uploaded_by,omitempty"`
	ValidatedBy *utils.SixID   `bson:"validated_by,omitempty" json:"validated_by,omitempty"`
	ValidatedAt *time.Time     `bson:"validated_at,omitempty" json:"validated_at,omitempty"`
	Notes       string         `bson:"notes,omitempty" json:"notes,omitempty"`
	Required    bool           `bson:"required" json:"required"`
	ExpiresAt   *time.Time     `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	CreatedAt   time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `bson:"updated_at" json:"updated_at"`
}
