package sync

import "github.com/dirstack/adsync/internal/directory"

// ExpiryPolicy decides whether a directory record represents a
// disabled account. The bit semantics of account-control attributes
// differ between server implementations, so both the attribute and
// the mask are policy, not constants.
type ExpiryPolicy struct {
	// Attribute is the numeric account-control attribute, lower-cased.
	Attribute string
	// Mask is ANDed against the attribute value; a non-zero result
	// marks the account expired.
	Mask int64
}

// DefaultExpiryPolicy matches the ACCOUNTDISABLE bit of
// userAccountControl.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{Attribute: "useraccountcontrol", Mask: 0x2}
}

// Expired evaluates the policy against rec. A record without the
// attribute is treated as active.
func (p ExpiryPolicy) Expired(rec directory.Record) bool {
	if p.Attribute == "" || p.Mask == 0 {
		return false
	}
	return rec.Int64(p.Attribute)&p.Mask != 0
}
