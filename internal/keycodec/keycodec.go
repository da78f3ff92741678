// Package keycodec maps cache keys to filesystem-safe file identifiers.
//
// An identifier is a short readable prefix taken from the key followed by the
// SHA256 digest of the full key:
//
//	user_avatar-3a7bd3e2360a3d29eea436fcfb7e44c735d117c42d1c1835420b6b9942dd4f1b
//
// The prefix only aids debugging; the digest carries identity. Identifiers
// are lowercase, contain no path separators and are at most MaxLen bytes.
package keycodec

import (
	"strings"

	"github.com/opencontainers/go-digest"
)

const (
	// PrefixLen is the maximum number of readable key characters kept.
	PrefixLen = 16

	// HashLen is the length of the hex digest portion.
	HashLen = 64

	// MaxLen is the maximum length of an encoded identifier.
	MaxLen = PrefixLen + 1 + HashLen

	sep = '-'
)

// Encode returns the file identifier for key.
func Encode(key string) string {
	hash := digest.FromString(key).Encoded()
	prefix := readablePrefix(key)
	if prefix == "" {
		return hash
	}
	return prefix + string(sep) + hash
}

// Hash returns the digest portion of id.
// It reports false if id is not an identifier produced by Encode.
func Hash(id string) (string, bool) {
	if len(id) < HashLen || len(id) > MaxLen {
		return "", false
	}
	hash := id[len(id)-HashLen:]
	if digest.NewDigestFromEncoded(digest.SHA256, hash).Validate() != nil {
		return "", false
	}
	if len(id) == HashLen {
		return hash, true
	}
	rest := id[:len(id)-HashLen]
	if rest[len(rest)-1] != sep {
		return "", false
	}
	prefix := rest[:len(rest)-1]
	if prefix == "" || prefix != readablePrefix(prefix) {
		return "", false
	}
	return hash, true
}

// Valid reports whether id is a well-formed identifier.
func Valid(id string) bool {
	_, ok := Hash(id)
	return ok
}

// readablePrefix keeps lowercase alphanumerics and underscores, folding
// uppercase letters and mapping common separators to underscores.
func readablePrefix(key string) string {
	var b strings.Builder
	lastUnderscore := false
	for i := 0; i < len(key) && b.Len() < PrefixLen; i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
			lastUnderscore = false
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + ('a' - 'A'))
			lastUnderscore = false
		case c == '_' || c == '/' || c == '.' || c == ':' || c == ' ' || c == '-':
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}
