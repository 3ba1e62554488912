package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/notify"
	"greendrake/offers/internal/realtime"
	"greendrake/offers/internal/services"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/telemetry"
)

const (
	liveWriteTimeout = 10 * time.Second
	liveBufferSize   = 128
)

// LiveEnvelope is one frame on the live stream.
type LiveEnvelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Frame types sent to and received from clients.
const (
	FrameSubscribed   = "subscribed"
	FrameEvent        = "event"
	FrameNotification = "notification"
	FrameDegraded     = "degraded"
	FrameTabSwitch    = "tab_switch"
)

// LiveHandler streams the changes of one offer over a websocket. Each
// connection owns a dispatcher that is detached when the connection ends.
type LiveHandler struct {
	roles    services.IRoleResolver
	sub      store.Subscriber
	cache    *cache.TTLCache
	notifier notify.Notifier
	rec      *telemetry.Recorder
	origins  []string
}

// NewLiveHandler creates a LiveHandler. notifier may be nil.
func NewLiveHandler(roles services.IRoleResolver, sub store.Subscriber, c *cache.TTLCache, notifier notify.Notifier, rec *telemetry.Recorder, origins []string) *LiveHandler {
	return &LiveHandler{roles: roles, sub: sub, cache: c, notifier: notifier, rec: rec, origins: origins}
}

// frameNotifier forwards notifications to the connection.
type frameNotifier struct {
	out chan<- LiveEnvelope
}

func (f frameNotifier) Notify(ctx context.Context, n notify.Notification) error {
	select {
	case f.out <- LiveEnvelope{Type: FrameNotification, Payload: n}:
		return nil
	default:
		return errors.New("live connection is not keeping up")
	}
}

// Stream handles GET /v1/offers/:id/live
func (h *LiveHandler) Stream(c *gin.Context) {
	identity, offerID, ok := offerRequest(c)
	if !ok {
		return
	}
	res, err := h.roles.Resolve(c.Request.Context(), identity, &offerID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !res.IsParty && res.Role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not allowed to view this offer."})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		log.Printf("WARNING: live upgrade for offer %s failed: %v", offerID, err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	out := make(chan LiveEnvelope, liveBufferSize)
	notifier := notify.NewCompositeNotifier(frameNotifier{out: out})
	notifier.AddNotifier(h.notifier)

	d := realtime.NewDispatcher(realtime.Options{
		Store:     h.sub,
		Cache:     h.cache,
		Notifier:  notifier,
		Telemetry: h.rec,
	})
	d.On(realtime.AllTables, func(ev realtime.Event) {
		if res.Role == models.RoleBuyer && hiddenFromBuyer(ev) {
			return
		}
		select {
		case out <- LiveEnvelope{Type: FrameEvent, Payload: ev}:
		default:
			log.Printf("WARNING: live stream for offer %s dropped %s event on %s", offerID, ev.Op, ev.Table)
		}
	})

	attachErr := d.Attach(ctx, offerID, realtime.Audience{UserID: identity.ID, Role: res.Role})
	defer d.Detach()

	if err := h.write(ctx, conn, LiveEnvelope{Type: FrameSubscribed, Payload: gin.H{"offer_id": offerID, "role": res.Role, "channels": d.Channels()}}); err != nil {
		return
	}
	if attachErr != nil {
		failed := make([]string, 0)
		for table := range d.Failed() {
			failed = append(failed, table)
		}
		if err := h.write(ctx, conn, LiveEnvelope{Type: FrameDegraded, Payload: gin.H{"failed": failed, "error": "Live updates are unavailable for some sections."}}); err != nil {
			return
		}
	}

	go h.readLoop(ctx, cancel, conn)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case env := <-out:
			if err := h.write(ctx, conn, env); err != nil {
				return
			}
		}
	}
}

func (h *LiveHandler) write(ctx context.Context, conn *websocket.Conn, env LiveEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("ERROR: encode live frame %s: %v", env.Type, err)
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// readLoop consumes client frames until the connection closes. Tab switches
// are counted; anything else is ignored.
func (h *LiveHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env LiveEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == FrameTabSwitch {
			h.rec.RecordTabSwitch()
		}
	}
}

// hiddenFromBuyer reports whether ev concerns a private note, either the
// message itself or its timeline entry.
func hiddenFromBuyer(ev realtime.Event) bool {
	switch ev.Table {
	case models.TableCommunications:
		private, _ := ev.Record["is_private"].(bool)
		return private
	case models.TableTimeline:
		var entry models.OfferTimeline
		if err := store.Decode(ev.Record, &entry); err != nil {
			return true
		}
		return entry.Private()
	}
	return false
}
