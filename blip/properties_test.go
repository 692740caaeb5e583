package blip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePropertiesRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		props Properties
	}{
		{"empty", Properties{}},
		{"single abbreviated key and value", Properties{"Profile": "application/json"}},
		{"mixed abbreviated and literal", Properties{"Profile": "echo", "Content-Type": "application/octet-stream"}},
		{"all literal", Properties{"X-Custom-1": "foo", "X-Custom-2": "bar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := encodeProperties(tt.props)
			decoded, consumed, complete, err := decodeProperties(encoded)
			require.NoError(t, err)
			assert.True(t, complete)
			assert.Equal(t, len(encoded), consumed)
			assert.Equal(t, tt.props, decoded)
		})
	}
}

func TestDecodePropertiesIncompleteBuffer(t *testing.T) {
	encoded := encodeProperties(Properties{"Profile": "echo"})

	// Missing even the length varint.
	_, _, complete, err := decodeProperties(nil)
	require.NoError(t, err)
	assert.False(t, complete)

	// Length varint present but body truncated.
	_, _, complete, err = decodeProperties(encoded[:len(encoded)-1])
	require.NoError(t, err)
	assert.False(t, complete)
}

func TestDecodePropertiesRejectsBadAbbreviationIndex(t *testing.T) {
	// A single-byte token using an abbreviation index that doesn't exist.
	body := []byte{byte(len(abbreviations) + 10), 0, 0}
	var length [1]byte
	length[0] = byte(len(body))
	buf := append(length[:], body...)

	_, _, _, err := decodeProperties(buf)
	assert.ErrorIs(t, err, ErrBadData)
}

func TestDecodeTokenRejectsMissingTerminator(t *testing.T) {
	_, _, err := decodeToken([]byte("no terminator"))
	assert.ErrorIs(t, err, ErrBadData)
}

func TestEncodeTokenUsesAbbreviationForExactMatch(t *testing.T) {
	for i, entry := range abbreviations {
		dst := encodeToken(nil, entry)
		require.Len(t, dst, 2)
		assert.Equal(t, byte(i+1), dst[0])
		assert.Equal(t, byte(0), dst[1])
	}
}

func TestPropertiesClone(t *testing.T) {
	p := Properties{"a": "1"}
	clone := p.Clone()
	clone["a"] = "2"
	assert.Equal(t, "1", p["a"])

	var nilProps Properties
	assert.Nil(t, nilProps.Clone())
}
