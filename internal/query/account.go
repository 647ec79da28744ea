package query

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/dirstack/adsync/internal/directory"
)

// AccountForm selects the username syntax the directory is queried
// with.
type AccountForm int

const (
	// FormPrincipal matches userPrincipalName ("alice@example.com").
	// This is the default when no form is configured.
	FormPrincipal AccountForm = iota
	// FormSamStyle matches sAMAccountName ("alice").
	FormSamStyle
	// FormBackslash is the legacy DOMAIN\alice syntax. Not supported
	// for lookup.
	FormBackslash
	// FormDistinguishedName addresses the account by DN. Not supported
	// for lookup.
	FormDistinguishedName
)

func (f AccountForm) String() string {
	switch f {
	case FormPrincipal:
		return "principal"
	case FormSamStyle:
		return "sam"
	case FormBackslash:
		return "backslash"
	case FormDistinguishedName:
		return "dn"
	default:
		return "unknown"
	}
}

// ParseAccountForm maps a configuration string onto an AccountForm.
// The empty string selects the default.
func ParseAccountForm(s string) (AccountForm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "principal", "userprincipalname", "upn":
		return FormPrincipal, nil
	case "sam", "samstyle", "samaccountname":
		return FormSamStyle, nil
	case "backslash":
		return FormBackslash, nil
	case "dn", "distinguishedname":
		return FormDistinguishedName, nil
	default:
		return FormPrincipal, directory.NewConfigError("parse_account_form",
			"unknown account form %q", s)
	}
}

// usernameAttribute returns the directory attribute the form matches
// on. Backslash and DN forms have no single lookup attribute and are
// rejected.
func usernameAttribute(form AccountForm) (string, error) {
	switch form {
	case FormSamStyle:
		return "sAMAccountName", nil
	case FormPrincipal:
		return "userPrincipalName", nil
	default:
		return "", directory.NewConfigError("resolve_username",
			"account form %q is not supported for lookup", form)
	}
}

// UsernameFilter builds the user lookup filter for username under the
// configured form.
func UsernameFilter(form AccountForm, username string) (string, error) {
	attribute, err := usernameAttribute(form)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(&%s(%s=%s))", usersFilter, attribute, ldap.EscapeFilter(username)), nil
}

// CanonicalUsername extracts the canonical account name from a user
// record per the configured form: sAMAccountName for SamStyle,
// userPrincipalName for Principal.
func CanonicalUsername(form AccountForm, rec directory.Record) (string, error) {
	attribute, err := usernameAttribute(form)
	if err != nil {
		return "", err
	}

	if value := rec.Str(attribute); value != "" {
		return value, nil
	}
	return "", directory.NewDataError("canonical_username",
		"record %s has no %s attribute", rec.DN(), attribute)
}
