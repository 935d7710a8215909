// Package channel maps source identifiers to persistent channel ids,
// creating channels on first sight exactly once under concurrent load.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"secwatch/models"
)

// Store is the slice of the persistent store the resolver needs.
type Store interface {
	FindChannelByIdentifier(ctx context.Context, identifier string) (*models.Channel, error)
	CreateChannelIfAbsent(ctx context.Context, identifier string) (*models.Channel, error)
}

// Resolver resolves source identifiers to channel ids. It owns the only
// cross-request mutable state in the pipeline: an identifier-to-id cache
// and the in-flight table deduplicating concurrent first-time resolutions.
// Both are process-local; the store stays authoritative and the cache must
// be correct even if cleared at any moment.
type Resolver struct {
	store Store

	mu    sync.RWMutex
	cache map[string]uint

	flight singleflight.Group
}

func NewResolver(store Store) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[string]uint),
	}
}

// Resolve returns the channel id for a source identifier, creating the
// channel if it has never been seen. Concurrent calls for the same
// identifier share a single store round trip and all observe the same id.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (uint, error) {
	if identifier == "" {
		return 0, errors.New("empty source identifier")
	}

	r.mu.RLock()
	id, ok := r.cache[identifier]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	// The singleflight group is the in-flight table: late arrivals join the
	// running resolution instead of racing to create a duplicate row, and
	// the entry is dropped once the call completes so failures can be
	// retried. The lookup runs detached from any single caller's context
	// because every waiter shares its outcome.
	v, err, _ := r.flight.Do(identifier, func() (any, error) {
		return r.resolveSlow(context.WithoutCancel(ctx), identifier)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint), nil
}

func (r *Resolver) resolveSlow(ctx context.Context, identifier string) (uint, error) {
	// A racing call may have populated the cache between our miss and the
	// flight starting.
	r.mu.RLock()
	id, ok := r.cache[identifier]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	ch, err := r.store.FindChannelByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("find channel %s: %w", identifier, err)
		}
		ch, err = r.store.CreateChannelIfAbsent(ctx, identifier)
		if err != nil {
			return 0, err
		}
		logrus.WithFields(logrus.Fields{
			"channel":          ch.ID,
			"sourceIdentifier": identifier,
		}).Info("Created channel for new source")
	}

	r.mu.Lock()
	r.cache[identifier] = ch.ID
	r.mu.Unlock()
	return ch.ID, nil
}

// Invalidate drops a cached identifier so the next Resolve goes back to the
// store. Called when a persist fails on a channel id that no longer exists.
func (r *Resolver) Invalidate(identifier string) {
	r.mu.Lock()
	delete(r.cache, identifier)
	r.mu.Unlock()

	logrus.WithField("sourceIdentifier", identifier).
		Warn("Invalidated cached channel; will re-resolve")
}
