package cache

import (
	"time"

	"vouch/internal/identity"
)

// AccessTokenItem is one cached access token.
type AccessTokenItem struct {
	HomeAccountID string    `json:"home_account_id"`
	Environment   string    `json:"environment"`
	ClientID      string    `json:"client_id"`
	Realm         string    `json:"realm"`
	Scopes        []string  `json:"target"`
	Secret        string    `json:"secret"`
	TokenType     string    `json:"token_type"`
	Discriminator string    `json:"token_binding,omitempty"`
	CachedAt      time.Time `json:"cached_at"`

	// ExpiresOn is the hard expiry; items past it are never served.
	ExpiresOn time.Time `json:"expires_on"`

	// RefreshOn is the optional soft-refresh hint, strictly earlier than
	// ExpiresOn when set.
	RefreshOn time.Time `json:"refresh_on,omitempty"`
}

// Key derives the item's cache key.
func (i AccessTokenItem) Key() AccessTokenKey {
	return AccessTokenKey{
		HomeAccountID: i.HomeAccountID,
		Environment:   i.Environment,
		ClientID:      i.ClientID,
		Realm:         i.Realm,
		Scopes:        i.Scopes,
		Discriminator: i.Discriminator,
	}
}

// IsExpired reports whether the hard expiry has passed, with margin.
func (i AccessTokenItem) IsExpired(margin time.Duration) bool {
	return time.Now().Add(margin).After(i.ExpiresOn)
}

// NeedsRefresh reports whether the soft-refresh hint has elapsed.
func (i AccessTokenItem) NeedsRefresh() bool {
	return !i.RefreshOn.IsZero() && time.Now().After(i.RefreshOn)
}

// RefreshTokenItem is one cached refresh token. FamilyID marks family
// refresh tokens usable by every client in the family.
type RefreshTokenItem struct {
	HomeAccountID string `json:"home_account_id"`
	Environment   string `json:"environment"`
	ClientID      string `json:"client_id"`
	FamilyID      string `json:"family_id,omitempty"`
	Secret        string `json:"secret"`
}

// Key derives the item's cache key.
func (i RefreshTokenItem) Key() RefreshTokenKey {
	return RefreshTokenKey{
		HomeAccountID: i.HomeAccountID,
		Environment:   i.Environment,
		ClientID:      i.ClientID,
		FamilyID:      i.FamilyID,
	}
}

// IDTokenItem is one cached ID token.
type IDTokenItem struct {
	HomeAccountID string `json:"home_account_id"`
	Environment   string `json:"environment"`
	ClientID      string `json:"client_id"`
	Realm         string `json:"realm"`
	Secret        string `json:"secret"`
}

// Key derives the item's cache key.
func (i IDTokenItem) Key() IDTokenKey {
	return IDTokenKey{
		HomeAccountID: i.HomeAccountID,
		Environment:   i.Environment,
		ClientID:      i.ClientID,
		Realm:         i.Realm,
	}
}

// AppMetadata records per-application facts, today only family-of-client-
// ids membership.
type AppMetadata struct {
	Environment string `json:"environment"`
	ClientID    string `json:"client_id"`
	FamilyID    string `json:"family_id,omitempty"`
}

// Key derives the record's cache key.
func (m AppMetadata) Key() AppMetadataKey {
	return AppMetadataKey{Environment: m.Environment, ClientID: m.ClientID}
}

// accountRecord wraps an account with its retention marker. Out-of-band
// accounts survive credential eviction.
type accountRecord struct {
	Account   identity.Account `json:"account"`
	Realm     string           `json:"realm"`
	OutOfBand bool             `json:"out_of_band,omitempty"`
}
