// Package trackability decides which URLs enter the navigation graph and
// reduces every trackable URL to a single canonical identity.
package trackability

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/runnerr0/trailgraph/internal/config"
)

// Filter screens URLs before any graph mutation and canonicalizes the ones
// that pass. Zero value is not usable; construct with New.
type Filter struct {
	denyDomains   map[string]struct{}
	denyRegex     []*regexp.Regexp
	searchDomains map[string]struct{}
	stripParams   map[string]struct{}
}

// New builds a Filter from tracking configuration. Invalid denylist regex
// entries are skipped rather than failing the whole filter.
func New(cfg config.TrackingConfig) *Filter {
	f := &Filter{
		denyDomains:   make(map[string]struct{}, len(cfg.DenylistDomains)),
		searchDomains: make(map[string]struct{}, len(cfg.SearchResultDomains)),
		stripParams:   make(map[string]struct{}, len(cfg.StripQueryParams)),
	}
	for _, d := range cfg.DenylistDomains {
		f.denyDomains[strings.ToLower(d)] = struct{}{}
	}
	for _, pattern := range cfg.DenylistRegex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue // skip invalid regex
		}
		f.denyRegex = append(f.denyRegex, re)
	}
	for _, d := range cfg.SearchResultDomains {
		f.searchDomains[strings.ToLower(d)] = struct{}{}
	}
	for _, p := range cfg.StripQueryParams {
		f.stripParams[p] = struct{}{}
	}
	return f
}

// errorTitles mark browser-generated error and interstitial pages.
var errorTitles = []string{
	"404",
	"not found",
	"access denied",
	"problem loading page",
	"this site can’t be reached",
	"your connection is not private",
}

// IsTrackable reports whether a URL should be recorded. Non-web schemes,
// denylisted domains, auth/error pages, and generic search-result listings
// are all rejected before any storage mutation happens.
func (f *Filter) IsTrackable(rawURL, title string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" || host == "localhost" || host == "127.0.0.1" {
		return false
	}

	if f.isDenied(host) {
		return false
	}

	if f.isSearchResults(host, u) {
		return false
	}

	if looksLikeAuthPath(u.Path) {
		return false
	}

	lowTitle := strings.ToLower(title)
	for _, marker := range errorTitles {
		if strings.Contains(lowTitle, marker) {
			return false
		}
	}

	return true
}

// isDenied matches the host against the domain denylist, including parent
// domains, and against the regex denylist.
func (f *Filter) isDenied(host string) bool {
	for h := host; h != ""; {
		if _, ok := f.denyDomains[h]; ok {
			return true
		}
		idx := strings.Index(h, ".")
		if idx < 0 {
			break
		}
		h = h[idx+1:]
	}
	for _, re := range f.denyRegex {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// isSearchResults reports whether the URL is a generic search listing: a
// configured search host carrying a query term. Search engine home pages
// without a query remain trackable.
func (f *Filter) isSearchResults(host string, u *url.URL) bool {
	if _, ok := f.searchDomains[host]; !ok {
		return false
	}
	q := u.Query()
	return q.Get("q") != "" || q.Get("query") != "" || q.Get("p") != ""
}

// looksLikeAuthPath flags login, logout, and OAuth-flow paths.
func looksLikeAuthPath(path string) bool {
	p := strings.ToLower(path)
	for _, seg := range []string{"/login", "/signin", "/sign-in", "/logout", "/signout", "/oauth", "/auth/callback", "/sso/"} {
		if strings.Contains(p, seg) {
			return true
		}
	}
	return false
}

// Canonicalize reduces a URL to its canonical form: lowercased scheme and
// host, default port and fragment removed, tracking parameters stripped,
// remaining query sorted, trailing slash trimmed from non-root paths.
// Returns an error for URLs that cannot be parsed.
func (f *Filter) Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(u.Scheme, port) {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}

	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if _, strip := f.stripParams[param]; strip {
			q.Del(param)
		}
	}
	// Values.Encode sorts keys, so the query order is deterministic.
	u.RawQuery = q.Encode()

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// Domain extracts the hostname from a URL string, empty on parse failure.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
