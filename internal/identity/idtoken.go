package identity

import (
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// IDTokenClaims holds the identity claims extracted from an ID token.
// The token is parsed without signature verification: it arrives over the
// provider's TLS channel in direct exchange for credentials, and this
// library only uses the claims to label cache records, never to authorize.
type IDTokenClaims struct {
	Subject           string
	PreferredUsername string
	TenantID          string
	ObjectID          string
	Issuer            string
}

// ParseIDTokenClaims extracts account-labelling claims from a raw ID token.
func ParseIDTokenClaims(raw string) (IDTokenClaims, error) {
	if raw == "" {
		return IDTokenClaims{}, fmt.Errorf("id token is empty")
	}

	tok, err := jwt.ParseInsecure([]byte(raw))
	if err != nil {
		return IDTokenClaims{}, fmt.Errorf("failed to parse id token: %w", err)
	}

	claims := IDTokenClaims{
		Subject: tok.Subject(),
		Issuer:  tok.Issuer(),
	}
	if v, ok := tok.Get("preferred_username"); ok {
		claims.PreferredUsername, _ = v.(string)
	}
	if claims.PreferredUsername == "" {
		if v, ok := tok.Get("upn"); ok {
			claims.PreferredUsername, _ = v.(string)
		}
	}
	if v, ok := tok.Get("tid"); ok {
		claims.TenantID, _ = v.(string)
	}
	if v, ok := tok.Get("oid"); ok {
		claims.ObjectID, _ = v.(string)
	}
	return claims, nil
}
