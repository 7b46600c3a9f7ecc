// Package hash defines the content hash that identifies every object in a
// media archive. Objects are keyed by the BLAKE3-256 digest of their
// contents, rendered as 64 lowercase hexadecimal characters.
package hash

import (
	"fmt"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// Size is the digest size in bytes.
const Size = 32

// HexLen is the length of the hexadecimal string form.
const HexLen = Size * 2

// Hash is a normalized (lowercase) 64-character hex digest.
// The zero value is not a valid hash; construct via Parse, Sum or SumFile.
type Hash struct {
	hex string
}

// ErrInvalid is returned by Parse for malformed input.
type ErrInvalid struct {
	Value string
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("%q is not a %d character hexadecimal string", e.Value, HexLen)
}

// Parse validates and normalizes a hex digest string.
// Uppercase hex digits are accepted and lowered.
func Parse(value string) (Hash, error) {
	if len(value) != HexLen {
		return Hash{}, &ErrInvalid{Value: value}
	}
	for i := 0; i < len(value); i++ {
		if !isHexDigit(value[i]) {
			return Hash{}, &ErrInvalid{Value: value}
		}
	}
	return Hash{hex: strings.ToLower(value)}, nil
}

func isHexDigit(ch byte) bool {
	switch {
	case ch >= '0' && ch <= '9':
		return true
	case ch >= 'a' && ch <= 'f':
		return true
	case ch >= 'A' && ch <= 'F':
		return true
	}
	return false
}

// Sum hashes everything read from r.
func Sum(r io.Reader) (Hash, error) {
	h := blake3.New(Size, nil)
	if _, err := io.Copy(h, r); err != nil {
		return Hash{}, fmt.Errorf("failed to read while hashing: %w", err)
	}
	return Hash{hex: fmt.Sprintf("%x", h.Sum(nil))}, nil
}

// SumFile hashes the contents of the file at path.
func SumFile(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()
	return Sum(f)
}

// IsZero reports whether h is the zero value (no hash).
func (h Hash) IsZero() bool {
	return h.hex == ""
}

// Prefix returns the first two hex characters, used as the store
// fan-out directory name.
func (h Hash) Prefix() string {
	return h.hex[:2]
}

func (h Hash) String() string {
	return h.hex
}
