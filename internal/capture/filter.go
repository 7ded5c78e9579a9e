// internal/capture/filter.go
package capture

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var scriptMIMETypes = map[string]struct{}{
	"application/javascript":   {},
	"application/x-javascript": {},
	"application/ecmascript":   {},
	"text/javascript":          {},
	"text/ecmascript":          {},
}

// FilterOptions configures the hard gates applied before the content heuristic.
type FilterOptions struct {
	SameOrigin bool
	SameSite   bool
	Include    string
	Exclude    string
}

// Filter decides whether a response is worth keeping.
type Filter interface {
	ShouldKeep(rawURL, contentType string) bool
}

// FilterPolicy is the script resource filter for one session target.
type FilterPolicy struct {
	opts    FilterOptions
	origin  string
	site    string
	include *regexp.Regexp
	exclude *regexp.Regexp
}

// NewFilterPolicy compiles the policy for target. Only the regular
// expressions can fail.
func NewFilterPolicy(target *url.URL, opts FilterOptions) (*FilterPolicy, error) {
	f := &FilterPolicy{
		opts:   opts,
		origin: originOf(target),
		site:   siteOf(target),
	}
	var err error
	if opts.Include != "" {
		if f.include, err = regexp.Compile(opts.Include); err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", opts.Include, err)
		}
	}
	if opts.Exclude != "" {
		if f.exclude, err = regexp.Compile(opts.Exclude); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", opts.Exclude, err)
		}
	}
	return f, nil
}

// ShouldKeep applies the origin, site, include and exclude gates in that
// order, then accepts on a script content type or, failing that, a script
// file extension. A URL that does not parse is never kept.
func (f *FilterPolicy) ShouldKeep(rawURL, contentType string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if f.opts.SameOrigin && originOf(u) != f.origin {
		return false
	}
	if f.opts.SameSite && siteOf(u) != f.site {
		return false
	}
	if f.include != nil && !f.include.MatchString(rawURL) {
		return false
	}
	if f.exclude != nil && f.exclude.MatchString(rawURL) {
		return false
	}
	if IsScriptContentType(contentType) {
		return true
	}
	_, ok := scriptExts[strings.ToLower(path.Ext(u.Path))]
	return ok
}

// IsScriptContentType reports whether ct names a JavaScript MIME type,
// ignoring case and parameters.
func IsScriptContentType(ct string) bool {
	mediaType, _, _ := strings.Cut(ct, ";")
	_, ok := scriptMIMETypes[strings.ToLower(strings.TrimSpace(mediaType))]
	return ok
}

func originOf(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + net.JoinHostPort(strings.ToLower(u.Hostname()), port)
}

// siteOf returns the registrable domain. Hosts without one (IP addresses,
// localhost, bare public suffixes) are their own site.
func siteOf(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if net.ParseIP(host) != nil {
		return host
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}
