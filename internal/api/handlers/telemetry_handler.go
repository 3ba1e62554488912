package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/offers/internal/telemetry"
)

// TelemetryHandler exposes the process-wide counters.
type TelemetryHandler struct {
	rec *telemetry.Recorder
}

// NewTelemetryHandler creates a new TelemetryHandler.
func NewTelemetryHandler(rec *telemetry.Recorder) *TelemetryHandler {
	return &TelemetryHandler{rec: rec}
}

// GetSnapshot handles GET /v1/telemetry
func (h *TelemetryHandler) GetSnapshot(c *gin.Context) {
	respondData(c, http.StatusOK, h.rec.Snapshot())
}

// RecordTabSwitch handles POST /v1/telemetry/tab-switch
func (h *TelemetryHandler) RecordTabSwitch(c *gin.Context) {
	h.rec.RecordTabSwitch()
	c.Status(http.StatusNoContent)
}

// Reset handles POST /v1/admin/telemetry/reset
func (h *TelemetryHandler) Reset(c *gin.Context) {
	h.rec.Reset()
	respondData(c, http.StatusOK, h.rec.Snapshot())
}
