package scanner

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"imagewatch/internal/domain"
)

// normalizeRegistry trims rawurl and derives the registrable domain of its
// host (eTLD+1). Registry references are often written without a scheme, as
// in "ghcr.io/org/app", so one is assumed for parsing. An empty input yields
// nil for both.
func normalizeRegistry(rawurl string) (*string, *string, error) {
	rawurl = strings.TrimSpace(rawurl)
	if rawurl == "" {
		return nil, nil, nil
	}
	parse := rawurl
	if !strings.Contains(parse, "://") {
		parse = "https://" + parse
	}
	u, err := url.Parse(parse)
	if err != nil {
		return nil, nil, fmt.Errorf("%w %q: %v", domain.ErrInvalidURL, rawurl, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, nil, fmt.Errorf("%w %q: missing host", domain.ErrInvalidURL, rawurl)
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// localhost, bare IPs and single-label hosts have no public suffix
		registrable = host
	}
	return &rawurl, &registrable, nil
}
