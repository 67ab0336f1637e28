// Package alerts routes accepted alert events to notification channels,
// guaranteeing at most one forward per event ID even when the same
// event is re-submitted concurrently (e.g. a pipeline-level replay of a
// closed-candle batch after a crash).
package alerts

import (
	"context"
	"log"
	"sync"
	"time"

	"alert-systemv1/internal/model"
	"alert-systemv1/internal/notification"
)

// Router deduplicates candidate alert events and hands accepted ones to
// the configured notifiers. Delivery failure is the channel's concern:
// once an event is accepted the router never re-submits it.
type Router struct {
	mu sync.Mutex
	// forwarded maps event ID → forwarded-at for the redelivery window.
	forwarded map[string]time.Time
	// lastByRule records the most recent forward per rule, useful for
	// operator inspection; the rule engine's cooldown already bounds
	// the per-rule trigger rate.
	lastByRule map[string]time.Time

	ttl      time.Duration
	sizeHint int

	notifiers []notification.Notifier
	events    model.EventStore // optional, may be nil

	// Now is injectable for deterministic tests. Defaults to time.Now.
	Now func() time.Time

	// OnSuppressed is called when a duplicate event ID is dropped.
	OnSuppressed func()
	// OnForwarded is called after an event is handed to the notifiers.
	OnForwarded func()
	// OnDeliveryFailure is called with the channel name when a notifier
	// returns an error.
	OnDeliveryFailure func(notifier string)
}

// NewRouter creates a Router. ttl sizes the recently-forwarded set to
// the maximum plausible redelivery window; sizeHint bounds memory by
// triggering eviction sweeps, but an entry inside the TTL window is
// never evicted — correctness beats the hint.
func NewRouter(ttl time.Duration, sizeHint int, events model.EventStore, notifiers ...notification.Notifier) *Router {
	return &Router{
		forwarded:  make(map[string]time.Time),
		lastByRule: make(map[string]time.Time),
		ttl:        ttl,
		sizeHint:   sizeHint,
		notifiers:  notifiers,
		events:     events,
		Now:        time.Now,
	}
}

// Accept forwards the event to every notifier unless its ID has already
// been forwarded within the TTL window. Returns true when the event was
// forwarded, false when suppressed. Idempotent per event ID and safe
// for concurrent use.
func (r *Router) Accept(ctx context.Context, event model.AlertEvent) bool {
	now := r.Now()

	r.mu.Lock()
	if _, seen := r.forwarded[event.ID]; seen {
		r.mu.Unlock()
		if r.OnSuppressed != nil {
			r.OnSuppressed()
		}
		return false
	}
	// Claim the ID before releasing the lock so a concurrent replay of
	// the same event observes it as already forwarded.
	r.forwarded[event.ID] = now
	r.lastByRule[event.RuleID] = now
	if len(r.forwarded) > r.sizeHint {
		r.evictLocked(now)
	}
	r.mu.Unlock()

	if r.events != nil {
		if err := r.events.SaveEvent(ctx, event); err != nil {
			log.Printf("[alerts] persist event %s: %v", event.ID, err)
		}
	}

	for _, n := range r.notifiers {
		if err := n.Send(ctx, notification.FromEvent(event)); err != nil {
			// Delivery is deferred to the channel's own retry policy.
			log.Printf("[alerts] %s delivery failed for %s: %v", n.Name(), event.ID, err)
			if r.OnDeliveryFailure != nil {
				r.OnDeliveryFailure(n.Name())
			}
		}
	}

	if r.OnForwarded != nil {
		r.OnForwarded()
	}
	return true
}

// LastForward returns when the rule last had an event forwarded.
func (r *Router) LastForward(ruleID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lastByRule[ruleID]
	return t, ok
}

// Sweep evicts entries older than the TTL. The pipeline calls this on a
// housekeeping tick; Accept also sweeps when the set outgrows sizeHint.
func (r *Router) Sweep() {
	now := r.Now()
	r.mu.Lock()
	r.evictLocked(now)
	r.mu.Unlock()
}

// evictLocked removes only entries beyond the TTL; an event forwarded
// within the window can never be re-forwarded due to eviction.
func (r *Router) evictLocked(now time.Time) {
	for id, at := range r.forwarded {
		if now.Sub(at) > r.ttl {
			delete(r.forwarded, id)
		}
	}
}

// Size returns the current number of tracked event IDs.
func (r *Router) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forwarded)
}
