package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirstack/adsync/internal/directory"
)

func TestParseAccountForm(t *testing.T) {
	tests := []struct {
		input string
		want  AccountForm
	}{
		{"", FormPrincipal},
		{"principal", FormPrincipal},
		{"UPN", FormPrincipal},
		{"sam", FormSamStyle},
		{"sAMAccountName", FormSamStyle},
		{"backslash", FormBackslash},
		{"dn", FormDistinguishedName},
	}

	for _, tt := range tests {
		got, err := ParseAccountForm(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}

	_, err := ParseAccountForm("bogus")
	require.Error(t, err)
	assert.Equal(t, directory.KindConfig, directory.KindOf(err))
}

func TestUsernameFilter(t *testing.T) {
	filter, err := UsernameFilter(FormSamStyle, "alice")
	require.NoError(t, err)
	assert.Contains(t, filter, "(sAMAccountName=alice)")

	filter, err = UsernameFilter(FormPrincipal, "alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, filter, "(userPrincipalName=alice@example.com)")

	for _, form := range []AccountForm{FormBackslash, FormDistinguishedName} {
		_, err = UsernameFilter(form, "alice")
		require.Error(t, err, form.String())
		assert.Equal(t, directory.KindConfig, directory.KindOf(err))
	}
}

func TestCanonicalUsernameRoundTrip(t *testing.T) {
	principal := directory.Record{
		"dn":                "CN=Alice,DC=example,DC=com",
		"userprincipalname": "alice@example.com",
	}
	sam := directory.Record{
		"dn":             "CN=Alice,DC=example,DC=com",
		"samaccountname": "alice",
	}

	got, err := CanonicalUsername(FormPrincipal, principal)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got)

	got, err = CanonicalUsername(FormSamStyle, sam)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
}

func TestCanonicalUsernameMissingAttribute(t *testing.T) {
	empty := directory.Record{"dn": "CN=Alice,DC=example,DC=com"}

	_, err := CanonicalUsername(FormPrincipal, empty)
	require.Error(t, err)
	assert.Equal(t, directory.KindData, directory.KindOf(err))

	_, err = CanonicalUsername(FormSamStyle, empty)
	require.Error(t, err)
	assert.Equal(t, directory.KindData, directory.KindOf(err))
}
