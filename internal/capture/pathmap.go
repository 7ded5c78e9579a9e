// internal/capture/pathmap.go
package capture

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/net/idna"

	"github.com/xkilldash9x/grab/api/schemas"
)

const (
	indexFile    = "index.js"
	defaultExt   = ".js"
	queryMarker  = "__q_"
	uniqueMarker = "__u_"
	// maxSegmentLen keeps generated names under the 255 byte limit common to
	// most filesystems, leaving room for the disambiguation suffixes.
	maxSegmentLen = 180
)

var scriptExts = map[string]struct{}{
	".js":  {},
	".mjs": {},
	".cjs": {},
}

// StoragePath is where a captured URL lives on disk.
type StoragePath struct {
	// Host is the sanitized top-level directory.
	Host string
	// Relative is slash separated and rooted at the output directory.
	Relative string
	// Absolute is Relative joined onto the output directory.
	Absolute string
}

// PathMapper maps URLs onto a collision safe layout under a fixed root.
// It performs no I/O and is safe for concurrent use.
type PathMapper struct {
	root string
}

// NewPathMapper creates a mapper rooted at outDir.
func NewPathMapper(outDir string) *PathMapper {
	return &PathMapper{root: outDir}
}

// Root returns the output directory the mapper resolves against.
func (m *PathMapper) Root() string {
	return m.root
}

// ParseTarget parses an absolute http(s) URL, the only kind the mapper accepts.
func ParseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", schemas.ErrInvalidURL, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q: scheme must be http or https", schemas.ErrInvalidURL, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q: missing host", schemas.ErrInvalidURL, raw)
	}
	return u, nil
}

// Map derives the storage path for u. The same URL always yields the same path.
func (m *PathMapper) Map(u *url.URL) StoragePath {
	host := mapHost(u)

	p := u.EscapedPath()
	switch {
	case p == "" || p == "/":
		p = "/" + indexFile
	case strings.HasSuffix(p, "/"):
		p += indexFile
	}

	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	file := segments[len(segments)-1]
	dirs := segments[:len(segments)-1]

	base, ext := splitScriptExt(file)
	base = sanitizeSegment(base)
	if u.RawQuery != "" {
		base += queryMarker + shortHash("?"+u.RawQuery)
	}
	base = clampSegment(base)

	parts := make([]string, 0, len(dirs)+2)
	parts = append(parts, host)
	for _, d := range dirs {
		parts = append(parts, clampSegment(sanitizeSegment(d)))
	}
	parts = append(parts, base+ext)

	return m.storagePath(host, strings.Join(parts, "/"))
}

// Disambiguate derives an alternative path for sourceURL when p is already
// claimed by a different URL. The suffix is a hash of the full URL, so the
// result is still deterministic. A non-zero attempt salts the hash; callers
// increment it while the candidate is itself taken.
func (m *PathMapper) Disambiguate(p StoragePath, sourceURL string, attempt int) StoragePath {
	key := sourceURL
	if attempt > 0 {
		key = fmt.Sprintf("%s#%d", sourceURL, attempt)
	}
	dir, file := path.Split(p.Relative)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	rel := dir + base + uniqueMarker + shortHash(key) + ext
	return m.storagePath(p.Host, rel)
}

func (m *PathMapper) storagePath(host, rel string) StoragePath {
	return StoragePath{
		Host:     host,
		Relative: rel,
		Absolute: filepath.Join(m.root, filepath.FromSlash(rel)),
	}
}

func mapHost(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != "" {
		host = ascii
	}
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	host = sanitizeSegment(host)
	if host == "" {
		return "_"
	}
	return host
}

// splitScriptExt keeps a recognised script extension and otherwise forces .js.
func splitScriptExt(file string) (base, ext string) {
	e := path.Ext(file)
	if _, ok := scriptExts[strings.ToLower(e)]; ok && len(e) < len(file) {
		return strings.TrimSuffix(file, e), e
	}
	return file, defaultExt
}

// sanitizeSegment replaces characters that are illegal in file names on
// common platforms and neutralizes dot segments.
func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return '_'
		}
		switch r {
		case '<', '>', ':', '"', '|', '?', '*', '\\', '/':
			return '_'
		}
		return r
	}, s)
	if s == "." || s == ".." {
		return "_"
	}
	return strings.ReplaceAll(s, "..", "_")
}

func clampSegment(s string) string {
	if len(s) <= maxSegmentLen {
		return s
	}
	return s[:maxSegmentLen-len(uniqueMarker)-8] + uniqueMarker + shortHash(s)
}

func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}
