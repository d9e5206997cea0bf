package push

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/earmark/internal/model"
	"github.com/dukerupert/earmark/internal/store"
)

var ErrSubscriptionNotFound = errors.New("push subscription not found")

// Persister is the durable storage the registry mirrors to.
type Persister interface {
	Load(key string, v any) (bool, error)
	Save(key string, v any) error
}

// Registry holds push subscriptions keyed by endpoint. An endpoint belongs to
// at most one user; re-subscribing moves it.
type Registry struct {
	mu     sync.Mutex
	subs   []model.PushSubscription
	kv     Persister
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates an empty registry. kv may be nil for an in-memory registry.
func NewRegistry(kv Persister, logger *slog.Logger) *Registry {
	return &Registry{kv: kv, now: time.Now, logger: logger}
}

func (r *Registry) Load() error {
	if r.kv == nil {
		return nil
	}
	var subs []model.PushSubscription
	if _, err := r.kv.Load(store.KeyPush, &subs); err != nil {
		return fmt.Errorf("load push subscriptions: %w", err)
	}
	r.mu.Lock()
	r.subs = subs
	r.mu.Unlock()
	return nil
}

// persist caller holds r.mu.
func (r *Registry) persist() {
	if r.kv == nil {
		return
	}
	subs := r.subs
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	if err := r.kv.Save(store.KeyPush, subs); err != nil {
		r.logger.Error("persist push subscriptions", "error", err)
	}
}

// Subscribe registers sub for userID, replacing any subscription with the same
// endpoint.
func (r *Registry) Subscribe(userID string, sub model.PushSubscription) model.PushSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub.UserID = userID
	for i, existing := range r.subs {
		if existing.Endpoint == sub.Endpoint {
			sub.ID = existing.ID
			sub.CreatedAt = existing.CreatedAt
			r.subs[i] = sub
			r.persist()
			return sub
		}
	}
	sub.ID = uuid.NewString()
	sub.CreatedAt = r.now().UTC()
	r.subs = append(r.subs, sub)
	r.persist()
	return sub
}

// Unsubscribe removes one of userID's subscriptions by id.
func (r *Registry) Unsubscribe(userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s.ID == id && s.UserID == userID {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			r.persist()
			return nil
		}
	}
	return ErrSubscriptionNotFound
}

// RemoveEndpoint drops a subscription the push service reported as gone.
func (r *Registry) RemoveEndpoint(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s.Endpoint == endpoint {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			r.persist()
			return
		}
	}
}

// ListByUser returns userID's subscriptions, oldest first.
func (r *Registry) ListByUser(userID string) []model.PushSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []model.PushSubscription{}
	for _, s := range r.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) All() []model.PushSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.PushSubscription(nil), r.subs...)
}
