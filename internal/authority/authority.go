package authority

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind discriminates the trust-boundary flavours this library understands.
type Kind string

const (
	// KindAAD is a public-cloud tenant authority,
	// e.g. https://login.microsoftonline.com/{tenant}.
	KindAAD Kind = "AAD"

	// KindADFS is an on-premises federation authority. ADFS endpoints can
	// differ per federated UPN domain, so cached resolutions are scoped by
	// the domains they were validated for.
	KindADFS Kind = "ADFS"

	// KindDSTS is a datacenter STS authority.
	KindDSTS Kind = "DSTS"

	// KindB2C is a business-to-consumer authority with policy segments.
	KindB2C Kind = "B2C"
)

// consumerTenantID is the reserved tenant sentinel for personal accounts.
const consumerTenantID = "9188040d-6c67-4c5b-b112-36a304b66dad"

// Info identifies one authority. Immutable once constructed.
type Info struct {
	// CanonicalURL is the normalized authority URL without trailing slash.
	CanonicalURL string

	// Host is the authority's host, e.g. "login.microsoftonline.com".
	Host string

	// Tenant is the tenant path segment: a GUID, "common", "organizations",
	// "consumers", or the ADFS "adfs" segment.
	Tenant string

	// Kind is the authority flavour.
	Kind Kind
}

// NewInfo canonicalizes an authority URL and classifies its kind.
func NewInfo(rawURL string) (Info, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Info{}, fmt.Errorf("invalid authority URL %q: %w", rawURL, err)
	}
	if u.Scheme != "https" {
		return Info{}, fmt.Errorf("authority must use https, got %q", rawURL)
	}
	if u.Host == "" {
		return Info{}, fmt.Errorf("authority URL %q has no host", rawURL)
	}

	segments := splitPath(u.Path)
	if len(segments) == 0 {
		return Info{}, fmt.Errorf("authority URL %q is missing the tenant segment", rawURL)
	}

	kind := classify(u.Host, segments)

	// Canonical form: scheme://host/first-segment[/policy...] for B2C,
	// scheme://host/first-segment otherwise.
	keep := 1
	if kind == KindB2C && len(segments) >= 3 {
		keep = 3
	}
	canonical := "https://" + strings.ToLower(u.Host) + "/" + strings.Join(lower(segments[:keep]), "/")

	tenant := strings.ToLower(segments[0])
	if kind == KindB2C && len(segments) >= 2 {
		tenant = strings.ToLower(segments[1])
	}

	return Info{
		CanonicalURL: canonical,
		Host:         strings.ToLower(u.Host),
		Tenant:       tenant,
		Kind:         kind,
	}, nil
}

// IsConsumerTenant reports whether the given tenant id is the reserved
// personal-account tenant.
func IsConsumerTenant(tenantID string) bool {
	return strings.EqualFold(tenantID, consumerTenantID)
}

// DomainFromUPN extracts the domain part of a user principal name,
// lowercased. Returns empty for names without an @.
func DomainFromUPN(upn string) string {
	at := strings.LastIndex(upn, "@")
	if at < 0 || at == len(upn)-1 {
		return ""
	}
	return strings.ToLower(upn[at+1:])
}

func classify(host string, segments []string) Kind {
	switch {
	case strings.EqualFold(segments[0], "adfs"):
		return KindADFS
	case strings.HasPrefix(strings.ToLower(host), "dsts."):
		return KindDSTS
	case strings.Contains(strings.ToLower(host), "b2clogin"),
		len(segments) > 1 && strings.EqualFold(segments[0], "tfp"):
		return KindB2C
	default:
		return KindAAD
	}
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
