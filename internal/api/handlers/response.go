package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/offers/internal/api/middleware"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/services"
	"greendrake/offers/internal/utils"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindPermissionDenied:     http.StatusForbidden,
	services.KindStateTransition:      http.StatusConflict,
	services.KindConcurrentTransition: http.StatusConflict,
	services.KindProvisioningGap:      http.StatusServiceUnavailable,
	services.KindTransientStore:       http.StatusServiceUnavailable,
	services.KindSubscription:         http.StatusServiceUnavailable,
	services.KindNotFound:             http.StatusNotFound,
	services.KindValidation:           http.StatusBadRequest,
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	if status, ok := kindStatus[services.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes the user-facing message of err. Internal causes are
// logged, never returned.
func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		log.Printf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": services.UserMessage(err)})
}

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"data": data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// currentIdentity returns the caller stamped by the auth middleware.
func currentIdentity(c *gin.Context) (models.Identity, bool) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return models.Identity{}, false
	}
	return identity, true
}

// pathID parses the SixID in the named path parameter.
func pathID(c *gin.Context, param, what string) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param(param))
	if err != nil || id.IsZero() {
		badRequest(c, "Invalid "+what+" ID format")
		return utils.SixID{}, false
	}
	return id, true
}

// offerRequest extracts the caller and the :id offer of a request.
func offerRequest(c *gin.Context) (models.Identity, utils.SixID, bool) {
	identity, ok := currentIdentity(c)
	if !ok {
		return models.Identity{}, utils.SixID{}, false
	}
	offerID, ok := pathID(c, "id", "offer")
	return identity, offerID, ok
}
