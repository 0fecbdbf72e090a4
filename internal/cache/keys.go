package cache

import (
	"strings"

	"vouch/internal/identity"
)

// keySeparator joins cache key components. Keys are contract: the same
// logical credential must serialize to the same key string across
// processes, so every component is lowercased and scope sets are
// normalized before joining.
const keySeparator = "-"

const (
	credentialAccessToken  = "accesstoken"
	credentialRefreshToken = "refreshtoken"
	credentialIDToken      = "idtoken"
	appMetadataPrefix      = "appmetadata"
)

func joinKey(components ...string) string {
	for i, c := range components {
		components[i] = strings.ToLower(c)
	}
	return strings.Join(components, keySeparator)
}

// AccessTokenKey identifies one access token. Realm is the tenant the
// token was issued for and doubles as the partition id. Discriminator
// separates token-binding schemes so a bearer lookup never returns a
// proof-of-possession token.
type AccessTokenKey struct {
	HomeAccountID string
	Environment   string
	ClientID      string
	Realm         string
	Scopes        []string
	Discriminator string
}

// String renders the stable key form.
func (k AccessTokenKey) String() string {
	components := []string{
		k.HomeAccountID,
		k.Environment,
		credentialAccessToken,
		k.ClientID,
		k.Realm,
		identity.JoinScopes(identity.NormalizeScopes(k.Scopes)),
	}
	if k.Discriminator != "" {
		components = append(components, k.Discriminator)
	}
	return joinKey(components...)
}

// TenantID is the partition this key belongs to.
func (k AccessTokenKey) TenantID() string {
	return strings.ToLower(k.Realm)
}

// RefreshTokenKey identifies one refresh token. Family refresh tokens are
// keyed by family id instead of client id, so every member of the family
// addresses the same credential.
type RefreshTokenKey struct {
	HomeAccountID string
	Environment   string
	ClientID      string
	FamilyID      string
}

// String renders the stable key form.
func (k RefreshTokenKey) String() string {
	clientOrFamily := k.ClientID
	if k.FamilyID != "" {
		clientOrFamily = k.FamilyID
	}
	return joinKey(k.HomeAccountID, k.Environment, credentialRefreshToken, clientOrFamily, "")
}

// IDTokenKey identifies one ID token.
type IDTokenKey struct {
	HomeAccountID string
	Environment   string
	ClientID      string
	Realm         string
}

// String renders the stable key form.
func (k IDTokenKey) String() string {
	return joinKey(k.HomeAccountID, k.Environment, credentialIDToken, k.ClientID, k.Realm)
}

// AccountKey identifies one account record.
type AccountKey struct {
	HomeAccountID string
	Environment   string
	Realm         string
}

// String renders the stable key form.
func (k AccountKey) String() string {
	return joinKey(k.HomeAccountID, k.Environment, k.Realm)
}

// AppMetadataKey identifies one application-metadata record.
type AppMetadataKey struct {
	Environment string
	ClientID    string
}

// String renders the stable key form.
func (k AppMetadataKey) String() string {
	return joinKey(appMetadataPrefix, k.Environment, k.ClientID)
}
