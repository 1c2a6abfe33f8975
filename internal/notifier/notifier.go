// Package notifier fans a single per-owner change feed out to every
// connected client stream for that owner.
package notifier

import (
	"context"
	"sync"

	"document-context-platform/internal/logger"
	"document-context-platform/internal/store"
	"document-context-platform/models"
)

// subscriber channels are buffered; a consumer that cannot keep up loses
// events rather than stalling the fan-out.
const subscriberBuffer = 16

// Feed is the change-feed primitive of the record store.
type Feed interface {
	Watch(ctx context.Context, ownerID string) (<-chan store.ChangeEvent, error)
}

// Notifier holds one refcounted feed per owner. The first subscriber opens
// the underlying change stream, later ones share it, and the last detach
// tears it down.
type Notifier struct {
	feed Feed

	mu     sync.Mutex
	owners map[string]*ownerFeed
}

type ownerFeed struct {
	mu     sync.Mutex
	subs   map[int]chan models.RecordEvent
	nextID int
	cancel context.CancelFunc
	active bool
}

func New(feed Feed) *Notifier {
	return &Notifier{
		feed:   feed,
		owners: make(map[string]*ownerFeed),
	}
}

// Subscribe registers a stream consumer for the owner and returns its event
// channel plus a detach func. If the change feed cannot be opened the
// subscription still succeeds and simply carries no data events; the HTTP
// layer keeps heartbeating so clients detect real failure by heartbeat loss
// only.
func (n *Notifier) Subscribe(ownerID string) (<-chan models.RecordEvent, func()) {
	n.mu.Lock()
	of, ok := n.owners[ownerID]
	if !ok {
		of = &ownerFeed{subs: make(map[int]chan models.RecordEvent)}
		n.owners[ownerID] = of
	}
	n.mu.Unlock()

	of.mu.Lock()
	id := of.nextID
	of.nextID++
	ch := make(chan models.RecordEvent, subscriberBuffer)
	of.subs[id] = ch
	needFeed := !of.active
	if needFeed {
		// Claim the open before releasing the lock: a concurrent first
		// subscriber must share this stream, not open a second one whose
		// cancel would be lost.
		of.active = true
	}
	of.mu.Unlock()

	if needFeed {
		n.openFeed(ownerID, of)
	}

	detach := func() {
		of.mu.Lock()
		if sub, ok := of.subs[id]; ok {
			delete(of.subs, id)
			close(sub)
		}
		last := len(of.subs) == 0
		if last && of.cancel != nil {
			of.cancel()
			of.cancel = nil
			of.active = false
		}
		of.mu.Unlock()

		if last {
			n.mu.Lock()
			if current, ok := n.owners[ownerID]; ok && current == of {
				delete(n.owners, ownerID)
			}
			n.mu.Unlock()
		}
	}

	return ch, detach
}

// openFeed opens the store change stream and starts the pump. The caller has
// already claimed of.active. Failure leaves the owner entry degraded:
// subscriptions stay open without data events, and the next subscriber
// retries the open.
func (n *Notifier) openFeed(ownerID string, of *ownerFeed) {
	ctx, cancel := context.WithCancel(context.Background())
	events, err := n.feed.Watch(ctx, ownerID)
	if err != nil {
		cancel()
		of.mu.Lock()
		of.active = false
		of.mu.Unlock()
		logger.Error("change feed setup failed, stream degraded to heartbeats",
			"owner_id", ownerID, "error", err)
		return
	}

	of.mu.Lock()
	if len(of.subs) == 0 {
		// Everyone detached while the stream was opening; there is nothing
		// left to feed.
		of.active = false
		of.mu.Unlock()
		cancel()
		return
	}
	if of.cancel != nil {
		// Release the context of a previous stream that ended on its own.
		of.cancel()
	}
	of.cancel = cancel
	of.mu.Unlock()

	go n.pump(ownerID, of, events)
}

func (n *Notifier) pump(ownerID string, of *ownerFeed, events <-chan store.ChangeEvent) {
	for change := range events {
		var ev models.RecordEvent
		switch change.Type {
		case store.ChangeUpsert:
			ev = models.NewUpdateEvent(change.Record)
		case store.ChangeDelete:
			ev = models.NewDeleteEvent(change.RecordID)
		default:
			continue
		}
		of.broadcast(ownerID, ev)
	}

	of.mu.Lock()
	wasActive := of.active
	of.active = false
	of.mu.Unlock()
	if wasActive {
		logger.Warn("change feed ended", "owner_id", ownerID)
	}
}

func (of *ownerFeed) broadcast(ownerID string, ev models.RecordEvent) {
	of.mu.Lock()
	defer of.mu.Unlock()
	for id, sub := range of.subs {
		select {
		case sub <- ev:
		default:
			logger.Warn("dropping event for slow stream consumer",
				"owner_id", ownerID, "subscriber", id, "event", ev.Type)
		}
	}
}

// Subscribers reports the current number of streams attached for an owner.
func (n *Notifier) Subscribers(ownerID string) int {
	n.mu.Lock()
	of, ok := n.owners[ownerID]
	n.mu.Unlock()
	if !ok {
		return 0
	}
	of.mu.Lock()
	defer of.mu.Unlock()
	return len(of.subs)
}
