// Package correlation matches asynchronous replies to the requests that
// produced them.
package correlation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrUnknownCorrelation is returned by Resolve when no request is pending
	// under the key (already resolved, expired, or never registered).
	ErrUnknownCorrelation = errors.New("unknown correlation id")
	// ErrDuplicateCorrelation is returned by AddPending when the key already
	// has an unresolved request. The earlier request keeps the slot.
	ErrDuplicateCorrelation = errors.New("duplicate correlation id")
)

type pending[H any] struct {
	handle  H
	addedAt time.Time
}

// Router holds handles for in-flight requests keyed by correlation id.
// Each key is resolved at most once. Entries do not expire unless Sweep is
// called.
type Router[K comparable, H any] struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[K]pending[H]
}

// New creates an empty router.
func New[K comparable, H any](logger *slog.Logger) *Router[K, H] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router[K, H]{
		logger:  logger,
		now:     time.Now,
		pending: make(map[K]pending[H]),
	}
}

// AddPending registers handle under key.
func (r *Router[K, H]) AddPending(key K, handle H) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[key]; exists {
		r.logger.Warn("correlation id already pending, ignoring request", "correlation_id", fmt.Sprint(key))
		return fmt.Errorf("%w: %v", ErrDuplicateCorrelation, key)
	}
	r.pending[key] = pending[H]{handle: handle, addedAt: r.now()}
	return nil
}

// Resolve removes and returns the handle for key.
func (r *Router[K, H]) Resolve(key K) (H, error) {
	r.mu.Lock()
	p, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()

	if !ok {
		var zero H
		r.logger.Warn("reply for unknown correlation id dropped", "correlation_id", fmt.Sprint(key))
		return zero, fmt.Errorf("%w: %v", ErrUnknownCorrelation, key)
	}
	return p.handle, nil
}

// Len reports the number of unresolved requests.
func (r *Router[K, H]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Sweep evicts entries older than ttl and returns their handles so the
// caller can fail them. A non-positive ttl evicts nothing.
func (r *Router[K, H]) Sweep(ttl time.Duration) map[K]H {
	if ttl <= 0 {
		return nil
	}
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired map[K]H
	for k, p := range r.pending {
		if p.addedAt.After(cutoff) {
			continue
		}
		if expired == nil {
			expired = make(map[K]H)
		}
		expired[k] = p.handle
		delete(r.pending, k)
	}
	if len(expired) > 0 {
		r.logger.Info("expired pending requests", "count", len(expired), "ttl", ttl.String())
	}
	return expired
}
