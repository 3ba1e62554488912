package models

import (
	"time"

	"greendrake/offers/internal/utils"
)

type FormalRequestType string

const (
	RequestPromiseOfSale  FormalRequestType = "promesa_compraventa"
	RequestInspection     FormalRequestType = "inspeccion"
	RequestTitleStudy     FormalRequestType = "estudio_titulos"
	RequestAdditionalDocs FormalRequestType = "documentacion_adicional"
	RequestOther          FormalRequestType = "otro"
)

type FormalRequestStatus string

const (
	RequestRequested  FormalRequestStatus = "solicitada"
	RequestInProgress FormalRequestStatus = "en_proceso"
	RequestDeclined   FormalRequestStatus = "rechazada"
	RequestCompleted  FormalRequestStatus = "completada"
)

// OfferFormalRequest is a structured ask that expects a tracked response.
type OfferFormalRequest struct {
	ID                utils.SixID         `bson:"_id" json:"id"`
	OfferID           utils.SixID         `bson:"offer_id" json:"offer_id"`
	RequestType       FormalRequestType   `bson:"request_type" json:"request_type"`
	Title             string              `bson:"title" json:"title"`
	Description       string              `bson:"description,omitempty" json:"description,omitempty"`
	RequiredDocuments []string            `bson:"required_documents" json:"required_documents"`
	Status            FormalRequestStatus `bson:"status" json:"status"`
	RequestedBy       utils.SixID         `bson:"requested_by" json:"requested_by"`
	RequestedTo       utils.SixID         `bson:"requested_to" json:"requested_to"`
	DueDate           *time.Time          `bson:"due_date,omitempty" json:"due_date,omitempty"`
	Response          string              `bson:"response,omitempty" json:"response,omitempty"`
	ResponseDocuments []string            `bson:"response_documents,omitempty" json:"response_documents,omitempty"`
	RespondedAt       *time.Time          `bson:"responded_at,omitempty" json:"responded_at,omitempty"`
	CreatedAt         time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `bson:"updated_at" json:"updated_at"`
}
