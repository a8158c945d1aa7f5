package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHTMLStripsScriptAndStyle(t *testing.T) {
	body := []byte(`<html><head><style>.a{color:red}</style></head>
		<body><script>alert(1)</script><p>P0301 cylinder misfire detected.</p></body></html>`)
	text, err := extractText(body, "text/html; charset=utf-8")
	require.NoError(t, err)
	assert.Contains(t, text, "P0301 cylinder misfire detected.")
	assert.NotContains(t, text, "alert(1)")
	assert.NotContains(t, text, "color:red")
}

func TestExtractHTMLEmptyBodyErrors(t *testing.T) {
	_, err := extractText([]byte(`<html><body></body></html>`), "text/html; charset=utf-8")
	assert.Error(t, err)
}

func TestExtractPlainText(t *testing.T) {
	text, err := extractText([]byte("raw diagnostic notes"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "raw diagnostic notes", text)
}

func TestExtractUnsupportedMIMEIsPermanent(t *testing.T) {
	_, err := extractText([]byte{0xff, 0xd8, 0xff}, "image/jpeg")
	assert.Error(t, err)
}

func TestExtractTitlePrefersTitleTag(t *testing.T) {
	body := []byte(`<html><head><title> P0301 Diagnostic Guide </title></head><body>text</body></html>`)
	title := extractTitle(body, "text/html; charset=utf-8", "fallback line")
	assert.Equal(t, "P0301 Diagnostic Guide", title)
}

func TestExtractTitleFallsBackToFirstLine(t *testing.T) {
	title := extractTitle([]byte("raw text"), "text/plain", "  \nFirst real line\nsecond")
	assert.Equal(t, "First real line", title)
}

func TestDiscoverLinksFiltersToSameHost(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/p0301">relative</a>
		<a href="https://example.test/p0420">same host absolute</a>
		<a href="https://other.test/page">off host</a>
		<a href="mailto:a@b.com">not http</a>
	</body></html>`)
	links, err := discoverLinks(body, "https://example.test/index.html")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"https://example.test/p0301",
		"https://example.test/p0420",
	}, links)
}

func TestDiscoverLinksIgnoresWWWAndCase(t *testing.T) {
	body := []byte(`<html><body>
		<a href="https://WWW.Example.test/p0301">upper-case www</a>
		<a href="https://other.test/page">off host</a>
	</body></html>`)
	links, err := discoverLinks(body, "https://example.test/index.html")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://WWW.Example.test/p0301"}, links)
}

func TestDiscoverLinksDedupes(t *testing.T) {
	body := []byte(`<html><body><a href="/a">x</a><a href="/a">y</a></body></html>`)
	links, err := discoverLinks(body, "https://example.test/")
	require.NoError(t, err)
	assert.Len(t, links, 1)
}
