package capture_test

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/grab/api/schemas"
	"github.com/xkilldash9x/grab/internal/capture"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func queryHash(q string) string {
	sum := sha1.Sum([]byte(q))
	return hex.EncodeToString(sum[:])[:8]
}

func TestPathMapper_Map(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		url      string
		expected string
	}{
		{"root with slash", "https://example.com/", "example.com/index.js"},
		{"root without slash", "https://example.com", "example.com/index.js"},
		{"no extension", "https://example.com/app", "example.com/app.js"},
		{"mjs kept", "https://example.com/app.mjs", "example.com/app.mjs"},
		{"cjs kept", "https://example.com/lib/app.cjs", "example.com/lib/app.cjs"},
		{"upper case ext kept", "https://example.com/App.JS", "example.com/App.JS"},
		{"non script ext coerced", "https://example.com/data.json", "example.com/data.json.js"},
		{"nested dirs", "https://example.com/static/js/main.js", "example.com/static/js/main.js"},
		{"trailing slash", "https://example.com/lib/", "example.com/lib/index.js"},
		{"duplicate slashes", "https://example.com//a///b.js", "example.com/a/b.js"},
		{"port", "http://localhost:8080/a.js", "localhost_8080/a.js"},
		{"host lower cased", "https://CDN.Example.COM/a.js", "cdn.example.com/a.js"},
		{"illegal chars", "https://example.com/a:b/c*d.js", "example.com/a_b/c_d.js"},
		{"idn host", "https://bücher.example/x.js", "xn--bcher-kva.example/x.js"},
		{"query", "https://example.com/app.js?v=1", "example.com/app__q_" + queryHash("?v=1") + ".js"},
		{"query on root", "https://example.com/?a=b", "example.com/index__q_" + queryHash("?a=b") + ".js"},
	}

	m := capture.NewPathMapper("/out")
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := m.Map(mustParse(t, tt.url))
			assert.Equal(t, tt.expected, got.Relative)
			assert.Equal(t, filepath.Join("/out", filepath.FromSlash(tt.expected)), got.Absolute)
			assert.Equal(t, strings.SplitN(tt.expected, "/", 2)[0], got.Host)
		})
	}
}

func TestPathMapper_Idempotent(t *testing.T) {
	t.Parallel()
	m := capture.NewPathMapper(t.TempDir())
	for _, raw := range []string{
		"https://example.com/a/b/c.js?x=1&y=2",
		"https://example.com/",
		"https://example.com/../x",
	} {
		u := mustParse(t, raw)
		assert.Equal(t, m.Map(u), m.Map(u), raw)
	}
}

func TestPathMapper_QueryDisambiguation(t *testing.T) {
	t.Parallel()
	m := capture.NewPathMapper("/out")
	a := m.Map(mustParse(t, "https://example.com/static/app.js?v=1"))
	b := m.Map(mustParse(t, "https://example.com/static/app.js?v=2"))

	assert.NotEqual(t, a.Relative, b.Relative)
	for _, p := range []string{a.Relative, b.Relative} {
		assert.True(t, strings.HasPrefix(p, "example.com/static/app__q_"), p)
		assert.True(t, strings.HasSuffix(p, ".js"), p)
	}
}

func TestPathMapper_TraversalSafety(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	m := capture.NewPathMapper(root)
	for _, raw := range []string{
		"https://example.com/../../etc/passwd",
		"https://example.com/a/../../../../b.js",
		"https://example.com/%2e%2e/%2e%2e/x.js",
		"https://example.com/..%2f..%2fx.js",
		"https://example.com/./../.",
	} {
		p := m.Map(mustParse(t, raw))
		rel, err := filepath.Rel(root, p.Absolute)
		require.NoError(t, err)
		assert.False(t, strings.HasPrefix(rel, ".."), "%s escaped the root: %s", raw, p.Absolute)
		assert.True(t, strings.HasPrefix(p.Relative, "example.com/"), p.Relative)
		for _, seg := range strings.Split(p.Relative, "/") {
			assert.NotEqual(t, "..", seg)
			assert.NotEqual(t, ".", seg)
		}
	}
	assert.Equal(t, "example.com/_/_/etc/passwd.js", m.Map(mustParse(t, "https://example.com/../../etc/passwd")).Relative)
}

func TestPathMapper_LongSegmentsAreClamped(t *testing.T) {
	t.Parallel()
	m := capture.NewPathMapper("/out")
	long := strings.Repeat("a", 400)
	p := m.Map(mustParse(t, "https://example.com/"+long+"/"+long+".js"))
	for _, seg := range strings.Split(p.Relative, "/") {
		assert.LessOrEqual(t, len(seg), 255)
	}
	other := m.Map(mustParse(t, "https://example.com/"+long+"/"+long+"b.js"))
	assert.NotEqual(t, p.Relative, other.Relative)
}

func TestPathMapper_Disambiguate(t *testing.T) {
	t.Parallel()
	m := capture.NewPathMapper("/out")
	base := m.Map(mustParse(t, "https://example.com/app"))
	alt := m.Disambiguate(base, "https://example.com/app", 0)

	assert.NotEqual(t, base.Relative, alt.Relative)
	assert.Equal(t, "example.com/app__u_"+queryHash("https://example.com/app")+".js", alt.Relative)
	assert.Equal(t, base.Host, alt.Host)
	assert.Equal(t, alt, m.Disambiguate(base, "https://example.com/app", 0))

	retry := m.Disambiguate(base, "https://example.com/app", 1)
	assert.Equal(t, "example.com/app__u_"+queryHash("https://example.com/app#1")+".js", retry.Relative)
	assert.NotEqual(t, alt.Relative, retry.Relative)
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	u, err := capture.ParseTarget("  https://example.com/path  ")
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.Host)

	for _, raw := range []string{"", "example.com", "ftp://example.com/", "https://", "http://[::1"} {
		_, err := capture.ParseTarget(raw)
		assert.ErrorIs(t, err, schemas.ErrInvalidURL, raw)
	}
}
