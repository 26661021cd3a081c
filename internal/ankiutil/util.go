// Package ankiutil holds the small pieces of Anki wire-format logic that
// are shared between schema seeding and the collection repo: the sort-field
// checksum and guid generation described in spec.md §3.1.
package ankiutil

import (
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"strconv"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// FieldChecksum computes notes.csum: the first 8 hex digits of the SHA-1
// hash of the first field, parsed back as decimal. Grounded on the
// documented Anki semantics (first field's first 8 digit's SHA1 sum's
// integer representation).
func FieldChecksum(firstField string) int64 {
	sum := sha1.Sum([]byte(firstField))
	hexDigits := fmt.Sprintf("%x", sum)[:8]
	v, err := strconv.ParseInt(hexDigits, 16, 64)
	if err != nil {
		return 0
	}
	return v
}

// NewGUID returns a 10-character random identifier, stable and
// astronomically unlikely to collide, per spec.md §4.4.2.
func NewGUID() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 10)
	for i, b := range buf {
		out[i] = base62Alphabet[int(b)%len(base62Alphabet)]
	}
	return string(out), nil
}
