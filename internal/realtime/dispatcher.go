package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/notify"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/telemetry"
	"greendrake/offers/internal/utils"
)

// AllTables registers a handler for every tracked table.
const AllTables = "*"

const (
	defaultOutboxSize = 64
	notifyTimeout     = 5 * time.Second
)

// Handler receives normalized events. Handlers run on the delivering channel's
// goroutine and must not write to the store.
type Handler func(Event)

// Audience is the viewer a dispatcher works for.
type Audience struct {
	UserID utils.SixID
	Role   models.Role
}

// Options configures a Dispatcher. Only Store is required.
type Options struct {
	Store      store.Subscriber
	Cache      *cache.TTLCache
	Notifier   notify.Notifier
	Telemetry  *telemetry.Recorder
	Tables     []string
	OutboxSize int
}

// Dispatcher keeps one offer live: one subscription per tracked table while
// attached, none after Detach.
type Dispatcher struct {
	opts Options

	mu       sync.Mutex
	handlers map[string][]Handler
	subs     map[string]store.Unsubscribe
	failed   map[string]error
	offerID  string
	viewer   Audience
	gen      uint64
	state    *LiveState
	outbox   chan notify.Notification
	worker   sync.WaitGroup
}

// NewDispatcher creates a detached dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if len(opts.Tables) == 0 {
		opts.Tables = models.OfferTables
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = defaultOutboxSize
	}
	return &Dispatcher{
		opts:     opts,
		handlers: make(map[string][]Handler),
		subs:     make(map[string]store.Unsubscribe),
		failed:   make(map[string]error),
		state:    NewLiveState(),
	}
}

// On registers h for table, or for every table with AllTables.
func (d *Dispatcher) On(table string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[table] = append(d.handlers[table], h)
}

// Attach subscribes to every tracked table of offerID on behalf of viewer.
// Attaching again first tears the previous subscriptions down. Channels that
// fail to open are reported in the returned error; the others stay live.
func (d *Dispatcher) Attach(ctx context.Context, offerID utils.SixID, viewer Audience) error {
	d.Detach()

	id := offerID.String()
	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.offerID = id
	d.viewer = viewer
	d.state = NewLiveState()
	d.failed = make(map[string]error)
	if d.opts.Notifier != nil {
		d.outbox = make(chan notify.Notification, d.opts.OutboxSize)
		d.worker.Add(1)
		go d.deliver(d.outbox)
	}
	d.mu.Unlock()

	var errs []error
	for _, table := range d.opts.Tables {
		filter := store.Filter{"offer_id": offerID}
		if table == models.TableOffers {
			filter = store.Filter{"_id": offerID}
		}
		unsub, err := d.opts.Store.Subscribe(ctx, table, filter, d.receive(gen, table))
		if err != nil {
			serr := &SubscriptionError{OfferID: id, Table: table, Err: err}
			log.Printf("WARNING: %v", serr)
			d.opts.Telemetry.RecordError()
			errs = append(errs, serr)
			d.mu.Lock()
			d.failed[table] = serr
			d.mu.Unlock()
			continue
		}

		d.mu.Lock()
		if d.gen != gen {
			// Detached while subscribing.
			d.mu.Unlock()
			unsub()
			return errors.Join(append(errs, context.Canceled)...)
		}
		d.subs[table] = unsub
		d.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Detach tears down every subscription and stops notification delivery.
// Events still in flight for the old attachment are discarded.
func (d *Dispatcher) Detach() {
	d.mu.Lock()
	subs := d.subs
	d.subs = make(map[string]store.Unsubscribe)
	d.gen++
	d.offerID = ""
	if d.outbox != nil {
		close(d.outbox)
		d.outbox = nil
	}
	d.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	d.worker.Wait()
}

// OfferID returns the attached offer, or "" when detached.
func (d *Dispatcher) OfferID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offerID
}

// Channels lists the tables with a live subscription.
func (d *Dispatcher) Channels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.subs))
	for _, table := range d.opts.Tables {
		if _, ok := d.subs[table]; ok {
			out = append(out, table)
		}
	}
	return out
}

// Failed returns the subscription error of each disabled channel.
func (d *Dispatcher) Failed() map[string]error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]error, len(d.failed))
	for k, v := range d.failed {
		out[k] = v
	}
	return out
}

// State returns the live state of the current attachment.
func (d *Dispatcher) State() *LiveState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) receive(gen uint64, table string) store.ChangeFunc {
	return func(ch store.Change) {
		ev := Normalize(ch)

		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		handlers := make([]Handler, 0, len(d.handlers[table])+len(d.handlers[AllTables]))
		handlers = append(handlers, d.handlers[table]...)
		handlers = append(handlers, d.handlers[AllTables]...)
		state := d.state
		viewer := d.viewer
		d.mu.Unlock()

		if !state.Apply(ev) {
			return
		}
		patchCache(d.opts.Cache, ev)
		for _, h := range handlers {
			h(ev)
		}
		d.enqueue(gen, ev, viewer)
	}
}

func (d *Dispatcher) enqueue(gen uint64, ev Event, viewer Audience) {
	if d.opts.Notifier == nil || selfCaused(ev, viewer) {
		return
	}
	n, ok := NotificationFor(ev, viewer.Role)
	if !ok {
		return
	}
	n.Recipient = viewer.UserID.String()

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen || d.outbox == nil {
		return
	}
	select {
	case d.outbox <- n:
	default:
		log.Printf("WARNING: notification outbox full, dropping %s for offer %s (%s)", n.Kind, ev.OfferID, ev.Table)
	}
}

func (d *Dispatcher) deliver(outbox <-chan notify.Notification) {
	defer d.worker.Done()
	for n := range outbox {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		if err := d.opts.Notifier.Notify(ctx, n); err != nil {
			log.Printf("WARNING: notification %s for offer %s (%s) failed: %v", n.Kind, n.OfferID, n.Table, err)
			d.opts.Telemetry.RecordError()
		}
		cancel()
	}
}
