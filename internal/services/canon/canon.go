// Package canon turns raw scanned text into a comparable identifier.
//
// Canonicalization is idempotent: feeding a canonical string back in yields
// the same string and hash.
package canon

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"qrsafe/internal/domain"
)

var webSchemes = []string{"https", "http"}

// Canonicalize normalizes raw into an Identifier. Payloads that are not
// http(s) URLs come back with Web == false; they are still hashed so they can
// be rated. Empty input (after stripping) returns domain.ErrEmptyInput.
func Canonicalize(raw string) (domain.Identifier, error) {
	id := domain.Identifier{Raw: raw}
	s := strip(raw)
	if s == "" {
		return id, domain.ErrEmptyInput
	}
	if scheme, rest, ok := splitWebScheme(s); ok {
		host, canonical := normalizeWeb(scheme, rest)
		id.Canonical = canonical
		id.Web = true
		id.Domain = registrable(host)
	} else {
		id.Canonical = s
	}
	id.Hash = Hash(id.Canonical)
	return id, nil
}

// Hash is the aggregation key for a canonical identifier.
func Hash(canonical string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(canonical))
}

// strip drops whitespace, control and format characters along with any
// invalid UTF-8.
func strip(raw string) string {
	raw = strings.ToValidUTF8(raw, "")
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, raw)
}

func splitWebScheme(s string) (scheme, rest string, ok bool) {
	for _, sc := range webSchemes {
		prefix := sc + "://"
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			return sc, s[len(prefix):], true
		}
	}
	return "", "", false
}

// normalizeWeb lower-cases the scheme and host, applies IDNA, drops default
// ports and gives an empty path a "/". Path, query and fragment are kept as-is.
func normalizeWeb(scheme, rest string) (host, canonical string) {
	authority, tail := rest, ""
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		authority, tail = rest[:i], rest[i:]
	}
	if !strings.HasPrefix(tail, "/") {
		tail = "/" + tail
	}

	userinfo := ""
	if i := strings.LastIndex(authority, "@"); i >= 0 {
		userinfo, authority = authority[:i+1], authority[i+1:]
	}

	host, port := splitHostPort(authority)
	if !strings.HasPrefix(host, "[") {
		host = strings.ToLower(host)
		if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != "" {
			host = ascii
		}
	} else {
		host = strings.ToLower(host)
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	hostport := host
	if port != "" {
		hostport += ":" + port
	}
	return strings.Trim(host, "[]"), scheme + "://" + userinfo + hostport + tail
}

// splitHostPort separates a numeric port; anything else stays in host.
func splitHostPort(authority string) (host, port string) {
	i := strings.LastIndex(authority, ":")
	if i < 0 {
		return authority, ""
	}
	if strings.HasPrefix(authority, "[") && !strings.HasSuffix(authority[:i], "]") {
		return authority, "" // colon inside an IPv6 literal
	}
	p := authority[i+1:]
	for _, r := range p {
		if r < '0' || r > '9' {
			return authority, ""
		}
	}
	return authority[:i], p
}

func registrable(host string) string {
	if host == "" {
		return ""
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
