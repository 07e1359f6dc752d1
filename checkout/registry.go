package checkout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/slashbinslashnoname/hire-checkout/apperr"
)

type entry struct {
	sess    *Session
	touched time.Time
}

// Registry holds the open sessions of a surface, keyed by the surface's own
// handle: the session id over HTTP, the chat over Telegram. A proposal has at
// most one open session per registry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
}

// NewRegistry keeps sessions until they are closed or, with a positive ttl,
// until they sit unused for ttl and a sweep closes them.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put registers s under key. The session already under key and any other
// session for the same proposal are closed first. Put fails and leaves s
// unregistered when one of them is processing, or holds funded escrow under an
// idempotency key other than s's.
func (r *Registry) Put(key string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var replaced []string
	for k, e := range r.entries {
		if e.sess == s || (k != key && e.sess.Proposal().ID != s.Proposal().ID) {
			continue
		}
		if e.sess.Phase() == PhaseProcessing {
			return apperr.ErrSessionProcessing
		}
		if e.sess.awaitingContract() && e.sess.ID() != s.ID() {
			return apperr.ErrSessionFunded
		}
		replaced = append(replaced, k)
	}
	for _, k := range replaced {
		if err := r.entries[k].sess.Close(); err != nil {
			return err
		}
		delete(r.entries, k)
	}

	r.entries[key] = &entry{sess: s, touched: r.now()}
	return nil
}

// Get returns the session under key and marks it as used
func (r *Registry) Get(key string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "checkout session %s", key)
	}
	e.touched = r.now()
	return e.sess, nil
}

// Close closes and forgets the session under key. Unknown keys are a no-op.
func (r *Registry) Close(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	if err := e.sess.Close(); err != nil {
		return err
	}
	delete(r.entries, key)
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep closes sessions unused for longer than the ttl, wiping their card
// data, and returns how many it closed. Processing sessions are skipped.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	closed := 0
	for k, e := range r.entries {
		if e.touched.After(cutoff) {
			continue
		}
		if err := e.sess.Close(); err != nil {
			continue
		}
		delete(r.entries, k)
		closed++
	}
	return closed
}

// Run sweeps every interval until ctx is done. It returns at once when the
// registry has no ttl.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = r.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Info("expired idle checkout sessions", "count", n)
			}
		}
	}
}
