package directory

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Active Directory stores object GUIDs in a mixed-endian byte layout:
// the first three fields are little-endian, the final eight bytes are
// big-endian. DecodeGUID and EncodeGUID translate between that layout
// and the canonical hyphenated string form.

const guidBytesLength = 16

// DecodeGUID converts a raw objectGUID attribute value to its
// canonical lower-case hyphenated string representation.
func DecodeGUID(raw []byte) (string, error) {
	if len(raw) != guidBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", guidBytesLength, len(raw))
	}

	standard := make([]byte, guidBytesLength)

	// Data1 (bytes 0-3): little-endian
	standard[0] = raw[3]
	standard[1] = raw[2]
	standard[2] = raw[1]
	standard[3] = raw[0]

	// Data2 (bytes 4-5): little-endian
	standard[4] = raw[5]
	standard[5] = raw[4]

	// Data3 (bytes 6-7): little-endian
	standard[6] = raw[7]
	standard[7] = raw[6]

	// Data4 (bytes 8-15): big-endian
	copy(standard[8:], raw[8:])

	id, err := uuid.FromBytes(standard)
	if err != nil {
		return "", fmt.Errorf("failed to decode GUID: %w", err)
	}

	return id.String(), nil
}

// EncodeGUID converts a canonical GUID string to the directory's
// mixed-endian byte layout, suitable for binary search filters.
func EncodeGUID(guid string) ([]byte, error) {
	id, err := uuid.Parse(strings.TrimSpace(guid))
	if err != nil {
		return nil, fmt.Errorf("invalid GUID %q: %w", guid, err)
	}

	standard := id[:]
	raw := make([]byte, guidBytesLength)

	raw[0] = standard[3]
	raw[1] = standard[2]
	raw[2] = standard[1]
	raw[3] = standard[0]

	raw[4] = standard[5]
	raw[5] = standard[4]

	raw[6] = standard[7]
	raw[7] = standard[6]

	copy(raw[8:], standard[8:])

	return raw, nil
}

// GUIDFilter builds a search filter matching an object by GUID, using
// the per-byte hex escaping the directory requires for binary values.
func GUIDFilter(guid string) (string, error) {
	raw, err := EncodeGUID(guid)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("(objectGUID=")
	for _, octet := range raw {
		fmt.Fprintf(&b, "\\%02x", octet)
	}
	b.WriteString(")")

	return b.String(), nil
}

// IsGUID reports whether s parses as a GUID in any accepted textual
// form.
func IsGUID(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}
