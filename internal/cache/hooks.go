package cache

import (
	"context"

	"vouch/pkg/logging"
)

// EventDetails describes one cache access to the persistence
// collaborator. The collaborator owns durable storage; it never reaches
// into the store beyond the Marshal/Unmarshal surface.
type EventDetails struct {
	// IsAppCache distinguishes the application (client-credential) cache
	// from the user cache.
	IsAppCache bool

	// HasTokens reports whether the in-memory cache holds any credential
	// at notification time.
	HasTokens bool

	// SuggestedKey is a partitioning hint for the durable store, usually
	// the home account id or client id driving the operation.
	SuggestedKey string

	// HomeAccountFilter scopes the access to one account, when known.
	HomeAccountFilter string
}

// Notifier is the persisted-cache extension surface. BeforeAccess runs
// before any read or write (the collaborator typically loads durable
// state into the store), BeforeWrite before a mutation, and AfterAccess
// after the operation (the collaborator typically exports when the cache
// changed).
type Notifier interface {
	BeforeAccess(ctx context.Context, store *Store, details EventDetails) error
	AfterAccess(ctx context.Context, store *Store, details EventDetails) error
	BeforeWrite(ctx context.Context, store *Store, details EventDetails) error
}

// NotifyBeforeAccess runs the before-access hook, when one is attached.
func (s *Store) NotifyBeforeAccess(ctx context.Context, details EventDetails) error {
	if s.notifier == nil {
		return nil
	}
	details.HasTokens = s.HasTokens()
	return s.notifier.BeforeAccess(ctx, s, details)
}

// NotifyAfterAccess runs the after-access hook, when one is attached.
func (s *Store) NotifyAfterAccess(ctx context.Context, details EventDetails) error {
	if s.notifier == nil {
		return nil
	}
	details.HasTokens = s.HasTokens()
	return s.notifier.AfterAccess(ctx, s, details)
}

// NotifyBeforeWrite runs the before-write hook, when one is attached.
// Hook failures are surfaced to the orchestrator, which treats them as
// fatal for the write: a durable store that cannot accept the write must
// not silently diverge from memory.
func (s *Store) NotifyBeforeWrite(ctx context.Context, details EventDetails) error {
	if s.notifier == nil {
		return nil
	}
	details.HasTokens = s.HasTokens()
	if err := s.notifier.BeforeWrite(ctx, s, details); err != nil {
		logging.Warn("TokenCache", "before-write notification failed: %v", err)
		return err
	}
	return nil
}
