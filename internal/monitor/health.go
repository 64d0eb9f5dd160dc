package monitor

import (
	"log"
)

// readHealth tracks consecutive log read failures per run. A run whose
// count reaches the warning threshold is logged as degraded once; the next
// clean read logs the recovery.
type readHealth struct {
	failures map[string]int
	degraded map[string]bool
}

func newReadHealth() *readHealth {
	return &readHealth{
		failures: make(map[string]int),
		degraded: make(map[string]bool),
	}
}

// recordFailure bumps the failure count of id and returns it. A threshold
// of 0 disables the degraded warning.
func (h *readHealth) recordFailure(id string, err error, threshold int) int {
	h.failures[id]++
	n := h.failures[id]
	if threshold > 0 && n >= threshold && !h.degraded[id] {
		h.degraded[id] = true
		log.Printf("[monitor] %s: degraded after %d consecutive read failures: %v", id, n, err)
	}
	return n
}

// recordSuccess clears the failure count of id. It reports whether there
// was anything to clear.
func (h *readHealth) recordSuccess(id string) bool {
	if _, ok := h.failures[id]; !ok {
		return false
	}
	if h.degraded[id] {
		log.Printf("[monitor] %s: recovered", id)
	}
	delete(h.failures, id)
	delete(h.degraded, id)
	return true
}

func (h *readHealth) isDegraded(id string) bool {
	return h.degraded[id]
}

// forget drops tracking for runs that are gone.
func (h *readHealth) forget(ids []string) {
	for _, id := range ids {
		delete(h.failures, id)
		delete(h.degraded, id)
	}
}
