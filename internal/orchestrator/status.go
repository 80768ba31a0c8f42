package orchestrator

import "sync"

// statusHub fans status updates out to subscribers. Each subscriber has a
// one-slot buffer that always holds the newest undelivered status.
type statusHub struct {
	mu   sync.Mutex
	subs map[chan Status]struct{}
}

func newStatusHub() *statusHub {
	return &statusHub{subs: make(map[chan Status]struct{})}
}

func (h *statusHub) subscribe(initial Status) (<-chan Status, func()) {
	ch := make(chan Status, 1)
	ch <- initial

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

func (h *statusHub) broadcast(st Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		// Replace the stale pending value.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
