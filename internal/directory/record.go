package directory

import (
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Record is an immutable snapshot of a directory entry at query time:
// a mapping from lower-cased attribute name to either a single string
// value or an ordered sequence of values. Every record carries "dn";
// user and group records additionally carry "objectguid" (and
// "objectsid" where applicable) decoded to their canonical string
// forms.
type Record map[string]any

// Attribute names that hold binary identifiers and are decoded during
// normalization rather than copied verbatim.
const (
	AttrGUID = "objectguid"
	AttrSID  = "objectsid"
)

// NormalizeEntry converts a raw LDAP entry into a Record: attribute
// names are lower-cased, single-element value sequences collapse to
// scalars, and the binary object identifiers are decoded.
func NormalizeEntry(entry *ldap.Entry) Record {
	rec := make(Record, len(entry.Attributes)+1)
	rec["dn"] = entry.DN

	for _, attr := range entry.Attributes {
		name := strings.ToLower(attr.Name)

		switch name {
		case AttrGUID:
			if guid, err := DecodeGUID(entry.GetRawAttributeValue(attr.Name)); err == nil {
				rec[name] = guid
			}
		case AttrSID:
			if sid, err := DecodeSID(entry.GetRawAttributeValue(attr.Name)); err == nil {
				rec[name] = sid
			}
		default:
			rec[name] = collapse(attr.Values)
		}
	}

	return rec
}

// collapse reduces a one-element sequence to a scalar and leaves longer
// sequences intact.
func collapse(values []string) any {
	if len(values) == 1 {
		return values[0]
	}
	// Copy to detach the record from the wire buffers.
	out := make([]string, len(values))
	copy(out, values)
	return out
}

// DN returns the record's distinguished name.
func (r Record) DN() string {
	return r.Str("dn")
}

// GUID returns the record's decoded object GUID, empty when absent.
func (r Record) GUID() string {
	return r.Str(AttrGUID)
}

// Has reports whether the attribute is present on the record.
func (r Record) Has(name string) bool {
	_, ok := r[strings.ToLower(name)]
	return ok
}

// Str returns the attribute as a scalar string. Multi-valued
// attributes yield their first value; absent attributes yield "".
func (r Record) Str(name string) string {
	switch v := r[strings.ToLower(name)].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// List returns the attribute as a value sequence, normalizing a scalar
// to a one-element sequence. Absent attributes yield nil.
func (r Record) List(name string) []string {
	switch v := r[strings.ToLower(name)].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	}
	return nil
}

// Int64 parses the attribute as a decimal integer, returning 0 when
// the attribute is absent or malformed.
func (r Record) Int64(name string) int64 {
	n, _ := strconv.ParseInt(r.Str(name), 10, 64)
	return n
}

// NormalizeEntries normalizes a result set, preserving server order.
func NormalizeEntries(entries []*ldap.Entry) []Record {
	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		records = append(records, NormalizeEntry(entry))
	}
	return records
}
