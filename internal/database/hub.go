package database

import (
	"context"
	"log/slog"
	"sync"

	"github.com/JonMunkholm/stockcount/internal/core"
)

// subscriberBuffer is how many undelivered changes a subscriber may hold
// before it is disconnected.
const subscriberBuffer = 256

// hub fans changes out to per-organization subscribers. A subscriber that
// falls behind is disconnected by closing its channel; the consumer then
// reloads from the store instead of missing changes silently.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan core.Change]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan core.Change]struct{})}
}

// subscribe registers a channel for orgID, removed and closed when ctx ends.
func (h *hub) subscribe(ctx context.Context, orgID string) <-chan core.Change {
	ch := make(chan core.Change, subscriberBuffer)

	h.mu.Lock()
	if h.subs[orgID] == nil {
		h.subs[orgID] = make(map[chan core.Change]struct{})
	}
	h.subs[orgID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		h.remove(orgID, ch)
		h.mu.Unlock()
	}()
	return ch
}

// remove closes ch if it is still registered. Callers hold h.mu.
func (h *hub) remove(orgID string, ch chan core.Change) {
	set := h.subs[orgID]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(h.subs, orgID)
	}
	close(ch)
}

// publish delivers c to every subscriber of its organization without blocking.
func (h *hub) publish(c core.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[c.OrganizationID] {
		select {
		case ch <- c:
		default:
			slog.Warn("subscriber too slow, disconnecting", "org_id", c.OrganizationID)
			h.remove(c.OrganizationID, ch)
		}
	}
}

// closeAll disconnects every subscriber.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for orgID, set := range h.subs {
		for ch := range set {
			h.remove(orgID, ch)
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
