package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/offers/internal/api/handlers"
	"greendrake/offers/internal/api/middleware"
	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/config"
	"greendrake/offers/internal/notify"
	"greendrake/offers/internal/services"
	"greendrake/offers/internal/store"
)

// Deps are the collaborators the API routes are built on. Notifier and
// Inbox may be nil.
type Deps struct {
	Services   *services.Services
	Subscriber store.Subscriber
	Cache      *cache.TTLCache
	Notifier   notify.Notifier
	Inbox      handlers.InboxReader
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	svc := deps.Services

	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	r.Use(middleware.CORSMiddleware())

	offerHandler := handlers.NewOfferHandler(svc)
	satelliteHandler := handlers.NewSatelliteHandler(svc)
	liveHandler := handlers.NewLiveHandler(svc.Roles, deps.Subscriber, deps.Cache, deps.Notifier, svc.Telemetry, cfg.LiveOrigins)
	telemetryHandler := handlers.NewTelemetryHandler(svc.Telemetry)
	notificationHandler := handlers.NewNotificationHandler(deps.Inbox)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Authentication runs before rate limiting so callers are keyed by user.
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), rateLimiter.Limit())
		{
			authRequired.GET("/offers/actions", offerHandler.ListActions)
			authRequired.POST("/offers", offerHandler.CreateOffer)
			authRequired.GET("/offers/:id", offerHandler.GetOffer)
			authRequired.GET("/offers/:id/detail", offerHandler.GetDetail)
			authRequired.POST("/offers/:id/transition", offerHandler.Transition)
			authRequired.GET("/offers/:id/timeline", offerHandler.GetTimeline)
			authRequired.GET("/offers/:id/live", liveHandler.Stream)

			authRequired.GET("/offers/:id/tasks", satelliteHandler.ListTasks)
			authRequired.POST("/offers/:id/tasks", satelliteHandler.CreateTask)
			authRequired.PATCH("/offers/:id/tasks/:itemId/status", satelliteHandler.UpdateTaskStatus)
			authRequired.PATCH("/offers/:id/tasks/:itemId/assignee", satelliteHandler.AssignTask)
			authRequired.DELETE("/offers/:id/tasks/:itemId", satelliteHandler.DeleteTask)

			authRequired.GET("/offers/:id/documents", satelliteHandler.ListDocuments)
			authRequired.POST("/offers/:id/documents", satelliteHandler.RequestDocument)
			authRequired.POST("/offers/:id/documents/upload-url", satelliteHandler.GetUploadURL)
			authRequired.POST("/offers/:id/documents/upload", satelliteHandler.UploadDocument)
			authRequired.POST("/offers/:id/documents/:itemId/validate", satelliteHandler.ValidateDocument)
			authRequired.POST("/offers/:id/documents/:itemId/reject", satelliteHandler.RejectDocument)
			authRequired.DELETE("/offers/:id/documents/:itemId", satelliteHandler.DeleteDocument)

			authRequired.GET("/offers/:id/requests", satelliteHandler.ListFormalRequests)
			authRequired.POST("/offers/:id/requests", satelliteHandler.CreateFormalRequest)
			authRequired.PATCH("/offers/:id/requests/:itemId/status", satelliteHandler.UpdateFormalRequestStatus)
			authRequired.POST("/offers/:id/requests/:itemId/respond", satelliteHandler.RespondFormalRequest)
			authRequired.DELETE("/offers/:id/requests/:itemId", satelliteHandler.DeleteFormalRequest)

			authRequired.GET("/offers/:id/messages", satelliteHandler.ListMessages)
			authRequired.POST("/offers/:id/messages", satelliteHandler.SendMessage)
			authRequired.PATCH("/offers/:id/messages/:itemId", satelliteHandler.EditMessage)
			authRequired.DELETE("/offers/:id/messages/:itemId", satelliteHandler.DeleteMessage)

			authRequired.GET("/notifications", notificationHandler.ListNotifications)
			authRequired.GET("/telemetry", telemetryHandler.GetSnapshot)
			authRequired.POST("/telemetry/tab-switch", telemetryHandler.RecordTabSwitch)
		}

		adminRequired := v1.Group("/admin")
		adminRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AdminMiddleware(), rateLimiter.Limit())
		{
			adminRequired.POST("/telemetry/reset", telemetryHandler.Reset)
		}
	}

	return r
}

// SetupServiceRouter configures the internal service engine. It is bound to
// its own port and never exposed publicly.
func SetupServiceRouter(inbox handlers.InboxReader, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				log.Println("Shutdown channel already signaled.")
			}
		case "getInbox":
			// Arguments: ["notifications:user:<id>"]
			var args []string
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 1 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [inboxKey]"})
				return
			}
			if inbox == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "No notification inbox configured"})
				return
			}
			items, err := inbox.Inbox(c.Request.Context(), args[0], notify.InboxLength)
			if err != nil {
				log.Printf("Service API: Error reading inbox %s: %v", args[0], err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": items})
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
