package identity

import "strings"

// PoPDescriptor binds a requested token to one HTTP request shape.
// A zero descriptor means plain bearer tokens.
type PoPDescriptor struct {
	// HTTPMethod is the method of the request the token will sign.
	HTTPMethod string

	// Host is the URI host (u-claim) of the protected resource.
	Host string

	// Path is the URI path (p-claim) of the protected resource.
	Path string

	// Nonce is the server-provided nonce, when the resource issued one.
	Nonce string

	// KeyID discriminates cache entries for tokens bound to different
	// keys. Empty for bearer tokens.
	KeyID string
}

// IsZero reports whether no proof-of-possession was requested.
func (p PoPDescriptor) IsZero() bool {
	return p == PoPDescriptor{}
}

// CacheDiscriminator is the token-binding component of access-token cache
// keys: bearer tokens contribute nothing, PoP tokens contribute their
// scheme and key id so a bearer lookup never returns a bound token.
func (p PoPDescriptor) CacheDiscriminator() string {
	if p.IsZero() {
		return ""
	}
	return strings.ToLower("pop-" + p.KeyID)
}
