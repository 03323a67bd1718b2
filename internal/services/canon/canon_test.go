package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrsafe/internal/domain"
)

func TestCanonicalizeWeb(t *testing.T) {
	cases := []struct {
		raw, want, domain string
	}{
		{"https://example.com/a?b=1", "https://example.com/a?b=1", "example.com"},
		{"  HTTPS://Example.COM/Path \n", "https://example.com/Path", "example.com"},
		{"http://example.com", "http://example.com/", "example.com"},
		{"http://example.com:80/x", "http://example.com/x", "example.com"},
		{"https://example.com:443", "https://example.com/", "example.com"},
		{"https://example.com:8443/x", "https://example.com:8443/x", "example.com"},
		{"https://shop.example.co.uk?q=1", "https://shop.example.co.uk/?q=1", "example.co.uk"},
		{"https://user@Example.com/", "https://user@example.com/", "example.com"},
		{"https://bücher.de/", "https://xn--bcher-kva.de/", "xn--bcher-kva.de"},
		{"https://exa\u200bmple.com/", "https://example.com/", "example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			id, err := Canonicalize(tc.raw)
			require.NoError(t, err)
			assert.True(t, id.Web)
			assert.Equal(t, tc.want, id.Canonical)
			assert.Equal(t, tc.domain, id.Domain)
			assert.Equal(t, Hash(tc.want), id.Hash)
			assert.Len(t, id.Hash, 16)
		})
	}
}

func TestCanonicalizeNonWeb(t *testing.T) {
	id, err := Canonicalize("WIFI:S:home;T:WPA;P:secret;;")
	require.NoError(t, err)
	assert.False(t, id.Web)
	assert.Equal(t, "WIFI:S:home;T:WPA;P:secret;;", id.Canonical)
	assert.Empty(t, id.Domain)
	assert.NotEmpty(t, id.Hash)

	id, err = Canonicalize("ftp://example.com/file")
	require.NoError(t, err)
	assert.False(t, id.Web)
}

func TestCanonicalizeEmpty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\r\n", "\x00\x01", "\xff\xfe", "\u200b"} {
		_, err := Canonicalize(raw)
		assert.ErrorIs(t, err, domain.ErrEmptyInput, "input %q", raw)
	}
}

func TestEquivalentPayloadsShareHash(t *testing.T) {
	a, err := Canonicalize("https://EXAMPLE.com")
	require.NoError(t, err)
	b, err := Canonicalize(" https://example.com/ ")
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"https://Example.com", "HTTP://a.b.c:80", "http://[::1]:8080/x", "http://[::1]:80",
		"https://host:", "https://", "http://a@b@c/d", "hello world", "https://bücher.de?x#y",
		"\xff https://x.org", "https://xn--bcher-kva.de", "https://under_score.example/",
		"https://example.com:abc/", "mailto:someone@example.com", "https://?#",
	}
	for _, in := range inputs {
		first, err := Canonicalize(in)
		if err != nil {
			continue
		}
		second, err := Canonicalize(first.Canonical)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, first.Canonical, second.Canonical, "input %q", in)
		assert.Equal(t, first.Hash, second.Hash, "input %q", in)
		assert.Equal(t, first.Web, second.Web, "input %q", in)
	}
}

func TestHashIsDeterministic(t *testing.T) {
	assert.Equal(t, Hash("abc"), Hash("abc"))
	assert.NotEqual(t, Hash("abc"), Hash("abd"))
}
