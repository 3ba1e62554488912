package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"greendrake/offers/internal/notify"
)

// InboxReader reads stored notifications.
type InboxReader interface {
	Inbox(ctx context.Context, key string, limit int64) ([]notify.Notification, error)
}

// NotificationHandler serves the caller's notification inbox.
type NotificationHandler struct {
	inbox InboxReader
}

// NewNotificationHandler creates a NotificationHandler. inbox may be nil,
// in which case every inbox is empty.
func NewNotificationHandler(inbox InboxReader) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

// ListNotifications handles GET /v1/notifications?limit=N
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	if h.inbox == nil {
		respondData(c, http.StatusOK, []notify.Notification{})
		return
	}
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	if err != nil || limit <= 0 {
		badRequest(c, "Invalid limit")
		return
	}

	key := notify.InboxKey(notify.Notification{Recipient: identity.ID.String()})
	items, err := h.inbox.Inbox(c.Request.Context(), key, limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Notifications are temporarily unavailable. Please try again."})
		return
	}
	respondData(c, http.StatusOK, items)
}
