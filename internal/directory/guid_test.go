package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// adGUIDBytes is the mixed-endian directory encoding of
// 12345678-9abc-def0-1234-56789abcdef0.
var adGUIDBytes = []byte{
	0x78, 0x56, 0x34, 0x12,
	0xbc, 0x9a,
	0xf0, 0xde,
	0x12, 0x34,
	0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0,
}

const canonicalGUID = "12345678-9abc-def0-1234-56789abcdef0"

func TestDecodeGUID(t *testing.T) {
	guid, err := DecodeGUID(adGUIDBytes)
	require.NoError(t, err)
	assert.Equal(t, canonicalGUID, guid)
}

func TestDecodeGUIDInvalidLength(t *testing.T) {
	_, err := DecodeGUID([]byte{0x01, 0x02})
	assert.Error(t, err)

	_, err = DecodeGUID(nil)
	assert.Error(t, err)
}

func TestEncodeGUIDRoundTrip(t *testing.T) {
	raw, err := EncodeGUID(canonicalGUID)
	require.NoError(t, err)
	assert.Equal(t, adGUIDBytes, raw)

	back, err := DecodeGUID(raw)
	require.NoError(t, err)
	assert.Equal(t, canonicalGUID, back)
}

func TestEncodeGUIDInvalid(t *testing.T) {
	_, err := EncodeGUID("not-a-guid")
	assert.Error(t, err)
}

func TestGUIDFilter(t *testing.T) {
	filter, err := GUIDFilter(canonicalGUID)
	require.NoError(t, err)

	assert.Equal(t,
		`(objectGUID=\78\56\34\12\bc\9a\f0\de\12\34\56\78\9a\bc\de\f0)`,
		filter)
}

func TestIsGUID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"hyphenated", "12345678-9abc-def0-1234-56789abcdef0", true},
		{"compact", "123456789abcdef0123456789abcdef0", true},
		{"uppercase", "12345678-9ABC-DEF0-1234-56789ABCDEF0", true},
		{"padded", "  12345678-9abc-def0-1234-56789abcdef0  ", true},
		{"empty", "", false},
		{"dn", "CN=Alice,DC=example,DC=com", false},
		{"short", "1234", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsGUID(tt.input))
		})
	}
}
