package keycodec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	a := Encode("images/avatar.png")
	b := Encode("images/avatar.png")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "images_avatar_pn-"), "got %q", a)
	assert.NotEqual(t, a, Encode("images/avatar.jpg"))
}

func TestEncodeSafeForFilesystems(t *testing.T) {
	t.Parallel()

	keys := []string{
		"",
		"plain",
		"UPPER/lower",
		"../../etc/passwd",
		`C:\Windows\system32`,
		"with space and ünïcödé",
		strings.Repeat("x", 4096),
		"///",
		"\x00\x01\x02",
	}
	for _, key := range keys {
		id := Encode(key)
		assert.LessOrEqual(t, len(id), MaxLen, "key %q", key)
		assert.Equal(t, strings.ToLower(id), id, "key %q", key)
		assert.NotContains(t, id, "/")
		assert.NotContains(t, id, `\`)
		assert.NotContains(t, id, "..")
		assert.True(t, Valid(id), "Encode(%q) = %q not valid", key, id)
	}
}

func TestEncodeCaseSensitiveKeys(t *testing.T) {
	t.Parallel()

	// Keys differing only in case share a prefix but never an identifier.
	upper := Encode("Key")
	lower := Encode("key")
	assert.NotEqual(t, upper, lower)
	assert.NotEqual(t, strings.ToLower(upper), strings.ToLower(lower))
}

func TestHash(t *testing.T) {
	t.Parallel()

	id := Encode("hello")
	hash, ok := Hash(id)
	require.True(t, ok)
	assert.Len(t, hash, HashLen)
	assert.True(t, strings.HasSuffix(id, hash))

	bare := Encode("///")
	hash, ok = Hash(bare)
	require.True(t, ok)
	assert.Equal(t, bare, hash)
}

func TestHashRejectsForeignNames(t *testing.T) {
	t.Parallel()

	good := Encode("k")
	hash, _ := Hash(good)

	names := []string{
		"",
		".tmp-123456",
		"README.md",
		hash[:HashLen-1],
		"-" + hash,
		"Upper-" + hash,
		"a__b-" + hash,
		"x" + hash,
		strings.Repeat("a", PrefixLen+1) + "-" + hash,
		strings.ToUpper(hash),
	}
	for _, name := range names {
		assert.False(t, Valid(name), "Valid(%q) = true", name)
	}
}
