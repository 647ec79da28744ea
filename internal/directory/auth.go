package directory

import (
	"context"
	"errors"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Active Directory encodes the precise reason for a failed bind in a
// "data NNN" token inside the invalid-credentials diagnostic. The
// token is not meant for end users but is the only way to distinguish
// a lockout from a typo.
var bindDiagnostics = []struct {
	token   string
	status  AuthStatus
	message string
}{
	{"data 775", AuthAccountLocked, "This account has been locked."},
	{"data 533", AuthAccountDisabled, "This account has been disabled."},
	{"data 532", AuthPasswordExpired, "The password for this account has expired."},
	{"data 773", AuthPasswordMustChange, "The password for this account must be changed before signing in."},
	{"data 701", AuthAccountExpired, "This account has expired."},
	{"data 530", AuthInvalidCredentials, "Signing in is not permitted at this time."},
	{"data 531", AuthInvalidCredentials, "Signing in from this workstation is not permitted."},
	{"data 525", AuthInvalidCredentials, "Wrong username or password."},
	{"data 52e", AuthInvalidCredentials, "Wrong username or password."},
}

const invalidCredentialsMessage = "Wrong username or password."

// Authenticate verifies end-user credentials with a bind on a
// dedicated connection, leaving the service-account session
// untouched. Failures are never returned as errors: the result's
// status carries the outcome and Messages[0], when present, is
// suitable for display to the user. Finer-grained statuses are
// derived from the server's secondary diagnostic message.
func (g *gateway) Authenticate(ctx context.Context, username, password string) *AuthResult {
	result := &AuthResult{Identity: username}
	defer func() {
		authAttempts.WithLabelValues(result.Status.String()).Inc()
	}()

	if username == "" || password == "" {
		// An empty password would downgrade the bind to anonymous and
		// succeed vacuously.
		result.Status = AuthInvalidCredentials
		result.Messages = []string{invalidCredentialsMessage}
		return result
	}

	conn, err := g.dial(ctx)
	if err != nil {
		result.Status = AuthUnavailable
		result.Messages = []string{"The directory service is currently unavailable.", err.Error()}
		return result
	}
	defer conn.Close()

	if err := conn.Bind(username, password); err != nil {
		g.classifyBindFailure(result, err)
		g.log.Debug().
			Str("username", username).
			Str("status", result.Status.String()).
			Msg("authentication rejected")
		return result
	}

	result.Status = AuthOK
	return result
}

// classifyBindFailure maps a bind error onto an AuthResult status and
// message pair: a presentable message first, the raw server diagnostic
// second.
func (g *gateway) classifyBindFailure(result *AuthResult, err error) {
	var ldapErr *ldap.Error
	if !errors.As(err, &ldapErr) {
		result.Status = AuthUnavailable
		result.Messages = []string{"The directory service is currently unavailable.", err.Error()}
		return
	}

	serverMsg := ""
	if ldapErr.Err != nil {
		serverMsg = ldapErr.Err.Error()
	}

	switch ldapErr.ResultCode {
	case ldap.LDAPResultInvalidCredentials:
		result.Status = AuthInvalidCredentials
		result.Messages = []string{invalidCredentialsMessage, serverMsg}
		for _, diag := range bindDiagnostics {
			if strings.Contains(serverMsg, diag.token) {
				result.Status = diag.status
				result.Messages[0] = diag.message
				break
			}
		}
	case ldap.LDAPResultInappropriateAuthentication, ldap.LDAPResultStrongAuthRequired:
		result.Status = AuthInvalidCredentials
		result.Messages = []string{invalidCredentialsMessage, serverMsg}
	default:
		result.Status = AuthUnavailable
		result.Messages = []string{"The directory service is currently unavailable.", serverMsg}
	}
}
