package identity

// Account identifies a signed-in user across applications.
// Accounts are immutable once constructed; updates replace the record.
type Account struct {
	// HomeAccountID is the durable cross-tenant identifier in
	// "uid.utid" form.
	HomeAccountID string `json:"home_account_id"`

	// Username is the displayable login name (UPN or email).
	Username string `json:"username"`

	// Environment is the authority host the account was issued against,
	// e.g. "login.microsoftonline.com".
	Environment string `json:"environment"`

	// LocalAccountIDs maps a client id to the broker-specific local
	// account identifier for that application. Brokers share one account
	// across apps, each app addressing it through its own local id.
	LocalAccountIDs map[string]string `json:"local_account_ids,omitempty"`
}

// LocalAccountID returns the broker-local account id for the given client,
// or the empty string if none is recorded.
func (a Account) LocalAccountID(clientID string) string {
	return a.LocalAccountIDs[clientID]
}

// IsZero reports whether the account carries no identity at all.
func (a Account) IsZero() bool {
	return a.HomeAccountID == "" && a.Username == ""
}
