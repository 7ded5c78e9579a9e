package capture_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/grab/internal/capture"
)

func TestFilterPolicy_ShouldKeep(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name        string
		target      string
		opts        capture.FilterOptions
		url         string
		contentType string
		expected    bool
	}{
		{"script mime", "https://example.com/", capture.FilterOptions{}, "https://cdn.net/x", "text/javascript", true},
		{"mime with params and case", "https://example.com/", capture.FilterOptions{}, "https://example.com/x", "Application/JavaScript; charset=utf-8", true},
		{"all recognised mimes", "https://example.com/", capture.FilterOptions{}, "https://example.com/x", "application/ecmascript", true},
		{"x-javascript", "https://example.com/", capture.FilterOptions{}, "https://example.com/x", "application/x-javascript", true},
		{"text/ecmascript", "https://example.com/", capture.FilterOptions{}, "https://example.com/x", "text/ecmascript", true},
		{"png path with js mime", "https://example.com/", capture.FilterOptions{}, "https://example.com/foo.png", "text/javascript", true},
		{"js path with css mime", "https://example.com/", capture.FilterOptions{}, "https://example.com/foo.js", "text/css", true},
		{"extension fallback no mime", "https://example.com/", capture.FilterOptions{}, "https://example.com/foo.MJS", "", true},
		{"extension fallback cjs", "https://example.com/", capture.FilterOptions{}, "https://example.com/foo.cjs?x=1", "", true},
		{"html rejected", "https://example.com/", capture.FilterOptions{}, "https://example.com/page", "text/html", false},
		{"json rejected", "https://example.com/", capture.FilterOptions{}, "https://example.com/data.json", "application/json", false},
		{"extension in query only", "https://example.com/", capture.FilterOptions{}, "https://example.com/load?f=a.js", "", false},

		{"same origin cross origin js", "https://example.com/", capture.FilterOptions{SameOrigin: true}, "https://cdn.other.com/app.js", "text/javascript", false},
		{"same origin default port", "https://example.com/", capture.FilterOptions{SameOrigin: true}, "https://example.com:443/app.js", "", true},
		{"same origin scheme differs", "https://example.com/", capture.FilterOptions{SameOrigin: true}, "http://example.com/app.js", "", false},
		{"same origin subdomain differs", "https://example.com/", capture.FilterOptions{SameOrigin: true}, "https://www.example.com/app.js", "", false},

		{"same site subdomain", "https://www.example.com/", capture.FilterOptions{SameSite: true}, "https://static.example.com/a.js", "", true},
		{"same site other domain", "https://www.example.com/", capture.FilterOptions{SameSite: true}, "https://example.org/a.js", "", false},
		{"same site public suffix", "https://a.example.co.uk/", capture.FilterOptions{SameSite: true}, "https://b.example.co.uk/a.js", "", true},
		{"same site ip", "http://127.0.0.1:8080/", capture.FilterOptions{SameSite: true}, "http://127.0.0.1:9090/a.js", "", true},

		{"include match", "https://example.com/", capture.FilterOptions{Include: `\.min\.js$`}, "https://example.com/a.min.js", "", true},
		{"include miss", "https://example.com/", capture.FilterOptions{Include: `\.min\.js$`}, "https://example.com/a.js", "text/javascript", false},
		{"exclude match", "https://example.com/", capture.FilterOptions{Exclude: `analytics`}, "https://example.com/analytics.js", "text/javascript", false},
		{"exclude miss", "https://example.com/", capture.FilterOptions{Exclude: `analytics`}, "https://example.com/app.js", "", true},
		{"exclude wins over include", "https://example.com/", capture.FilterOptions{Include: `\.js`, Exclude: `vendor`}, "https://example.com/vendor.js", "", false},

		{"unparseable url", "https://example.com/", capture.FilterOptions{}, "http://[::1", "text/javascript", false},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := capture.NewFilterPolicy(mustParse(t, tt.target), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f.ShouldKeep(tt.url, tt.contentType))
		})
	}
}

func TestNewFilterPolicy_InvalidPatterns(t *testing.T) {
	t.Parallel()
	target := mustParse(t, "https://example.com/")

	_, err := capture.NewFilterPolicy(target, capture.FilterOptions{Include: "("})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid include pattern")

	_, err = capture.NewFilterPolicy(target, capture.FilterOptions{Exclude: "[a-"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid exclude pattern")
}

func TestIsScriptContentType(t *testing.T) {
	t.Parallel()
	assert.True(t, capture.IsScriptContentType(" text/javascript ;charset=UTF-8"))
	assert.False(t, capture.IsScriptContentType(""))
	assert.False(t, capture.IsScriptContentType("text/javascript-ish"))
}
