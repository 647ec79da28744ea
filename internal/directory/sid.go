package directory

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
)

// DecodeSID converts a raw objectSid attribute value to its
// S-1-5-21-... string representation.
func DecodeSID(raw []byte) (string, error) {
	// objectsid.Decode indexes into the buffer without bounds checks;
	// reject anything shorter than the fixed header plus one
	// sub-authority.
	if len(raw) < 12 {
		return "", fmt.Errorf("invalid SID byte length: %d", len(raw))
	}

	sid := objectsid.Decode(raw)
	return sid.String(), nil
}

// ValidSIDString reports whether s looks like a textual security
// identifier.
func ValidSIDString(s string) bool {
	return strings.HasPrefix(s, "S-") && len(s) >= 5
}
