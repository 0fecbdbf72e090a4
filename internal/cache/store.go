package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"vouch/internal/identity"
	"vouch/pkg/logging"
)

// FamilyResult is the tri-state answer to "is this client in a family of
// client ids". Unknown means no metadata has been seen for the client yet,
// so a family refresh token may still be worth probing.
type FamilyResult int

const (
	FamilyUnknown FamilyResult = iota
	FamilyMember
	FamilyNonMember
)

func (r FamilyResult) String() string {
	switch r {
	case FamilyMember:
		return "member"
	case FamilyNonMember:
		return "not-member"
	default:
		return "unknown"
	}
}

// Store is the in-memory authoritative token cache. Access tokens are
// partitioned by tenant so multi-tenant enumeration and eviction stay
// cheap; refresh/ID tokens and accounts have lower cardinality and live
// in flat maps.
//
// All individual operations are safe for concurrent use. Sequences that
// must be observed as atomic (lookup-then-write) additionally take the
// store guard via Lock/Unlock; see Lock for the externally-serialized
// mode that elides the guard.
type Store struct {
	// sem guards lookup-then-write sequences. Nil when the store was
	// constructed as externally serialized.
	sem *semaphore.Weighted

	mu            sync.RWMutex
	accessTokens  map[string]map[string]AccessTokenItem // tenant -> key -> item
	refreshTokens map[string]RefreshTokenItem
	idTokens      map[string]IDTokenItem
	accounts      map[string]accountRecord // home account id -> record
	appMetadata   map[string]AppMetadata

	notifier Notifier
}

// StoreOption customizes Store construction.
type StoreOption func(*Store)

// WithExternalSerialization elides the store guard for caches only ever
// touched by one logical caller. The choice is made once at construction.
func WithExternalSerialization() StoreOption {
	return func(s *Store) { s.sem = nil }
}

// WithNotifier attaches the persistence collaborator notified around
// cache access; see Notifier.
func WithNotifier(n Notifier) StoreOption {
	return func(s *Store) { s.notifier = n }
}

// NewStore creates an empty cache store with the guard enabled.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sem:           semaphore.NewWeighted(1),
		accessTokens:  make(map[string]map[string]AccessTokenItem),
		refreshTokens: make(map[string]RefreshTokenItem),
		idTokens:      make(map[string]IDTokenItem),
		accounts:      make(map[string]accountRecord),
		appMetadata:   make(map[string]AppMetadata),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lock acquires the store guard, waiting in a cancellation-aware way.
// Callers must pair it with Unlock on every exit path:
//
//	if err := store.Lock(ctx); err != nil { return err }
//	defer store.Unlock()
//
// Externally-serialized stores return immediately.
func (s *Store) Lock(ctx context.Context) error {
	if s.sem == nil {
		return nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("cache guard acquisition cancelled: %w", err)
	}
	return nil
}

// Unlock releases the store guard.
func (s *Store) Unlock() {
	if s.sem == nil {
		return
	}
	s.sem.Release(1)
}

// SaveAccessToken upserts by key within the item's tenant partition;
// on collision the newer item wins. Items already past their hard expiry
// are rejected.
func (s *Store) SaveAccessToken(item AccessTokenItem) error {
	if !item.ExpiresOn.After(time.Now()) {
		return fmt.Errorf("refusing to cache an access token that expired at %v", item.ExpiresOn)
	}
	if item.CachedAt.IsZero() {
		item.CachedAt = time.Now().UTC()
	}

	key := item.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	partition, ok := s.accessTokens[key.TenantID()]
	if !ok {
		partition = make(map[string]AccessTokenItem)
		s.accessTokens[key.TenantID()] = partition
	}
	partition[key.String()] = item

	logging.Debug("TokenCache", "Stored access token for client=%s tenant=%s (expires=%v)",
		item.ClientID, key.TenantID(), item.ExpiresOn)
	return nil
}

// GetAccessToken returns the item for the key, or false when absent.
// The store does not filter by expiry; callers own the expiry check.
func (s *Store) GetAccessToken(key AccessTokenKey) (AccessTokenItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	partition, ok := s.accessTokens[key.TenantID()]
	if !ok {
		return AccessTokenItem{}, false
	}
	item, ok := partition[key.String()]
	return item, ok
}

// MatchAccessToken resolves a lookup key to a cached item. An exact key
// match wins; otherwise any item in the same partition for the same
// account, client and token binding whose scope set covers the requested
// scopes serves the lookup.
func (s *Store) MatchAccessToken(key AccessTokenKey) (AccessTokenItem, bool) {
	if item, ok := s.GetAccessToken(key); ok {
		return item, true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.accessTokens[key.TenantID()] {
		if !strings.EqualFold(item.HomeAccountID, key.HomeAccountID) ||
			!strings.EqualFold(item.Environment, key.Environment) ||
			!strings.EqualFold(item.ClientID, key.ClientID) ||
			!strings.EqualFold(item.Discriminator, key.Discriminator) {
			continue
		}
		if identity.ScopesSubset(key.Scopes, item.Scopes) {
			return item, true
		}
	}
	return AccessTokenItem{}, false
}

// DeleteAccessToken removes the item from its partition. Deleting an
// absent key is logged, not an error.
func (s *Store) DeleteAccessToken(key AccessTokenKey) {
	s.mu.Lock()

	partition := s.accessTokens[key.TenantID()]
	deleted := false
	var home string
	if partition != nil {
		if item, ok := partition[key.String()]; ok {
			home = item.HomeAccountID
			delete(partition, key.String())
			deleted = true
		}
		if len(partition) == 0 {
			delete(s.accessTokens, key.TenantID())
		}
	}
	s.mu.Unlock()

	if !deleted {
		logging.Info("TokenCache", "Cannot delete an access token because it was already deleted (tenant=%s)", key.TenantID())
		return
	}
	s.evictAccountIfOrphaned(home)
}

// GetAllAccessTokens enumerates access tokens. With an empty filter the
// union across all partitions is returned in no particular order; with a
// tenant filter only that partition's items.
func (s *Store) GetAllAccessTokens(tenantFilter string) []AccessTokenItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AccessTokenItem
	if tenantFilter != "" {
		for _, item := range s.accessTokens[tenantFilter] {
			out = append(out, item)
		}
		return out
	}
	for _, partition := range s.accessTokens {
		for _, item := range partition {
			out = append(out, item)
		}
	}
	return out
}

// SaveRefreshToken upserts a refresh token.
func (s *Store) SaveRefreshToken(item RefreshTokenItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[item.Key().String()] = item
}

// GetRefreshToken returns the token for the key, or false when absent.
func (s *Store) GetRefreshToken(key RefreshTokenKey) (RefreshTokenItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.refreshTokens[key.String()]
	return item, ok
}

// DeleteRefreshToken removes a refresh token; absent keys are logged.
func (s *Store) DeleteRefreshToken(key RefreshTokenKey) {
	s.mu.Lock()
	item, ok := s.refreshTokens[key.String()]
	if ok {
		delete(s.refreshTokens, key.String())
	}
	s.mu.Unlock()

	if !ok {
		logging.Info("TokenCache", "Cannot delete a refresh token because it was already deleted")
		return
	}
	s.evictAccountIfOrphaned(item.HomeAccountID)
}

// SaveIDToken upserts an ID token.
func (s *Store) SaveIDToken(item IDTokenItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idTokens[item.Key().String()] = item
}

// GetIDToken returns the token for the key, or false when absent.
func (s *Store) GetIDToken(key IDTokenKey) (IDTokenItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.idTokens[key.String()]
	return item, ok
}

// DeleteIDToken removes an ID token; absent keys are logged.
func (s *Store) DeleteIDToken(key IDTokenKey) {
	s.mu.Lock()
	item, ok := s.idTokens[key.String()]
	if ok {
		delete(s.idTokens, key.String())
	}
	s.mu.Unlock()

	if !ok {
		logging.Info("TokenCache", "Cannot delete an ID token because it was already deleted")
		return
	}
	s.evictAccountIfOrphaned(item.HomeAccountID)
}

// SaveAccount upserts an account record. outOfBand marks accounts added
// outside a token flow; they are retained even with no credentials
// referencing them.
func (s *Store) SaveAccount(account identity.Account, realm string, outOfBand bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.accounts[account.HomeAccountID]
	record := accountRecord{Account: account, Realm: realm, OutOfBand: outOfBand}
	if existed && prev.OutOfBand {
		record.OutOfBand = true
	}
	s.accounts[account.HomeAccountID] = record
}

// Account returns the record for the home account id, or false.
func (s *Store) Account(homeAccountID string) (identity.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.accounts[homeAccountID]
	return record.Account, ok
}

// Accounts enumerates all account records.
func (s *Store) Accounts() []identity.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]identity.Account, 0, len(s.accounts))
	for _, record := range s.accounts {
		out = append(out, record.Account)
	}
	return out
}

// RemoveAccount implements sign-out: it drops every credential referencing
// the home account id, then the account record itself.
func (s *Store) RemoveAccount(homeAccountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tenant, partition := range s.accessTokens {
		for key, item := range partition {
			if item.HomeAccountID == homeAccountID {
				delete(partition, key)
			}
		}
		if len(partition) == 0 {
			delete(s.accessTokens, tenant)
		}
	}
	for key, item := range s.refreshTokens {
		if item.HomeAccountID == homeAccountID {
			delete(s.refreshTokens, key)
		}
	}
	for key, item := range s.idTokens {
		if item.HomeAccountID == homeAccountID {
			delete(s.idTokens, key)
		}
	}
	delete(s.accounts, homeAccountID)

	logging.Debug("TokenCache", "Removed account %s and its credentials", logging.TruncateID(homeAccountID))
}

// SaveAppMetadata upserts family-membership metadata for a client.
func (s *Store) SaveAppMetadata(meta AppMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appMetadata[meta.Key().String()] = meta
}

// FamilyMembership answers the tri-state family question for the client
// and, for members, the family id.
func (s *Store) FamilyMembership(environment, clientID string) (FamilyResult, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.appMetadata[AppMetadataKey{Environment: environment, ClientID: clientID}.String()]
	if !ok {
		return FamilyUnknown, ""
	}
	if meta.FamilyID == "" {
		return FamilyNonMember, ""
	}
	return FamilyMember, meta.FamilyID
}

// FindRefreshToken locates a usable refresh token for the client and
// account: the client's own token first, then the family token when the
// client is a known or possible family member.
func (s *Store) FindRefreshToken(homeAccountID, environment, clientID string) (RefreshTokenItem, bool) {
	own := RefreshTokenKey{HomeAccountID: homeAccountID, Environment: environment, ClientID: clientID}
	if item, ok := s.GetRefreshToken(own); ok {
		return item, true
	}

	membership, familyID := s.FamilyMembership(environment, clientID)
	switch membership {
	case FamilyNonMember:
		return RefreshTokenItem{}, false
	case FamilyMember:
		key := RefreshTokenKey{HomeAccountID: homeAccountID, Environment: environment, FamilyID: familyID}
		return s.GetRefreshToken(key)
	default:
		// Unknown membership: probe the default family.
		key := RefreshTokenKey{HomeAccountID: homeAccountID, Environment: environment, FamilyID: "1"}
		return s.GetRefreshToken(key)
	}
}

// HasTokens reports whether any credential is cached.
func (s *Store) HasTokens() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accessTokens) > 0 || len(s.refreshTokens) > 0 || len(s.idTokens) > 0
}

// Clear drops all partitions and stores. The swap happens under the write
// lock, so no reader observes a partially-cleared cache. Clearing an
// already-empty store succeeds.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessTokens = make(map[string]map[string]AccessTokenItem)
	s.refreshTokens = make(map[string]RefreshTokenItem)
	s.idTokens = make(map[string]IDTokenItem)
	s.accounts = make(map[string]accountRecord)
	s.appMetadata = make(map[string]AppMetadata)

	logging.Debug("TokenCache", "Cleared all cache partitions")
}

// evictAccountIfOrphaned removes an account record once the last
// credential referencing it is gone, unless the account was added
// out-of-band.
func (s *Store) evictAccountIfOrphaned(homeAccountID string) {
	if homeAccountID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.accounts[homeAccountID]
	if !ok || record.OutOfBand {
		return
	}

	for _, partition := range s.accessTokens {
		for _, item := range partition {
			if item.HomeAccountID == homeAccountID {
				return
			}
		}
	}
	for _, item := range s.refreshTokens {
		if item.HomeAccountID == homeAccountID {
			return
		}
	}
	for _, item := range s.idTokens {
		if item.HomeAccountID == homeAccountID {
			return
		}
	}

	delete(s.accounts, homeAccountID)
	logging.Debug("TokenCache", "Evicted orphaned account %s", logging.TruncateID(homeAccountID))
}

// snapshot is the serialized form exchanged with the persistence
// collaborator. Opaque to collaborators.
type snapshot struct {
	AccessTokens  map[string]map[string]AccessTokenItem `json:"access_tokens"`
	RefreshTokens map[string]RefreshTokenItem           `json:"refresh_tokens"`
	IDTokens      map[string]IDTokenItem                `json:"id_tokens"`
	Accounts      map[string]accountRecord              `json:"accounts"`
	AppMetadata   map[string]AppMetadata                `json:"app_metadata"`
}

// Marshal serializes the full cache contents.
func (s *Store) Marshal() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return json.Marshal(snapshot{
		AccessTokens:  s.accessTokens,
		RefreshTokens: s.refreshTokens,
		IDTokens:      s.idTokens,
		Accounts:      s.accounts,
		AppMetadata:   s.appMetadata,
	})
}

// Unmarshal replaces the cache contents with the serialized form.
func (s *Store) Unmarshal(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to deserialize cache snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessTokens = snap.AccessTokens
	s.refreshTokens = snap.RefreshTokens
	s.idTokens = snap.IDTokens
	s.accounts = snap.Accounts
	s.appMetadata = snap.AppMetadata

	if s.accessTokens == nil {
		s.accessTokens = make(map[string]map[string]AccessTokenItem)
	}
	if s.refreshTokens == nil {
		s.refreshTokens = make(map[string]RefreshTokenItem)
	}
	if s.idTokens == nil {
		s.idTokens = make(map[string]IDTokenItem)
	}
	if s.accounts == nil {
		s.accounts = make(map[string]accountRecord)
	}
	if s.appMetadata == nil {
		s.appMetadata = make(map[string]AppMetadata)
	}
	return nil
}
