package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ClientInfo is the provider's uid/utid envelope, sent base64url-encoded
// alongside token responses. uid identifies the user object, utid the
// home tenant; together they form the home account id.
type ClientInfo struct {
	UID  string `json:"uid"`
	UTID string `json:"utid"`
}

// ParseClientInfo decodes the base64url JSON envelope.
func ParseClientInfo(raw string) (ClientInfo, error) {
	if raw == "" {
		return ClientInfo{}, fmt.Errorf("client_info is empty")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		// Some providers pad; retry with standard URL encoding.
		decoded, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			return ClientInfo{}, fmt.Errorf("failed to decode client_info: %w", err)
		}
	}
	var ci ClientInfo
	if err := json.Unmarshal(decoded, &ci); err != nil {
		return ClientInfo{}, fmt.Errorf("failed to parse client_info: %w", err)
	}
	return ci, nil
}

// HomeAccountID renders the canonical "uid.utid" identifier.
// Returns the empty string when either half is missing.
func (c ClientInfo) HomeAccountID() string {
	if c.UID == "" || c.UTID == "" {
		return ""
	}
	return c.UID + "." + c.UTID
}
