package hash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUppercaseNormalized(t *testing.T) {
	h, err := Parse("0011223344556677889900AABBCCDDEEFF0011223344556677889900aabbccdd")
	require.NoError(t, err)
	assert.Equal(t, "0011223344556677889900aabbccddeeff0011223344556677889900aabbccdd", h.String())
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"too short", "001122"},
		{"too long", "0011223344556677889900AABBCCDDEEFF0011223344556677889900aabbccddeeff"},
		{"non-hex", "0011223344556677889900aabbccddeeffgg0011223344556677889900aabbcc"},
		{"unicode", "あxyz3344556677889900AABBCCDDEEFF0011223344556677889900aabbccdd"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.value)
			var invalid *ErrInvalid
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.value, invalid.Value)
		})
	}
}

func TestSumDeterministic(t *testing.T) {
	a, err := Sum(strings.NewReader("hello world"))
	require.NoError(t, err)
	b, err := Sum(strings.NewReader("hello world"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a.String(), HexLen)
	assert.False(t, a.IsZero())

	// Round-trips through Parse.
	parsed, err := Parse(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestSumDistinguishesContent(t *testing.T) {
	a, err := Sum(strings.NewReader("one"))
	require.NoError(t, err)
	b, err := Sum(strings.NewReader("two"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPrefix(t *testing.T) {
	h, err := Parse("ff11223344556677889900aabbccddeeff0011223344556677889900aabbccdd")
	require.NoError(t, err)
	assert.Equal(t, "ff", h.Prefix())
}

func TestZeroValue(t *testing.T) {
	var h Hash
	assert.True(t, h.IsZero())
}
