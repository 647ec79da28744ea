package directory

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"
	textunicode "golang.org/x/text/encoding/unicode"
)

// passwordAttribute is the directory's native password attribute. Its
// values must be the new password surrounded by double quotes and
// encoded as UTF-16LE.
const passwordAttribute = "unicodePwd"

// genericPasswordError is shown when the server provides no usable
// diagnostic for a failed password operation.
const genericPasswordError = "Unable to update the password. Check the server log for details."

// PasswordHook observes password operations. Implementations can
// veto a change by returning an error from Before.
type PasswordHook interface {
	Before(ctx context.Context, dn string) error
	// After is invoked on success; usedReset reports that the change
	// was downgraded to an administrative reset.
	After(ctx context.Context, dn string, usedReset bool)
}

// WithPasswordHook installs a hook around password operations.
func WithPasswordHook(hook PasswordHook) Option {
	return func(g *gateway) {
		g.passwordHook = hook
	}
}

// encodePassword produces the quote-delimited UTF-16LE value the
// password attribute requires.
func encodePassword(password string) (string, error) {
	encoder := textunicode.UTF16(textunicode.LittleEndian, textunicode.IgnoreBOM).NewEncoder()
	return encoder.String(`"` + password + `"`)
}

// ChangePassword performs a user-initiated password change: one atomic
// batch modification removing the old password value and adding the
// new one, which lets the server enforce its password-history policy.
// When the server rejects the batch form and the configuration allows
// it, the change falls back to an administrative reset.
func (g *gateway) ChangePassword(ctx context.Context, dn, newPassword, oldPassword string) error {
	if dn == "" {
		return NewValidationError("change_password", "DN cannot be empty")
	}

	if g.passwordHook != nil {
		if err := g.passwordHook.Before(ctx, dn); err != nil {
			return err
		}
	}

	ops, err := passwordChangeOps(oldPassword, newPassword)
	if err != nil {
		return err
	}

	err = g.ModifyBatch(ctx, dn, ops)
	if err == nil {
		if g.passwordHook != nil {
			g.passwordHook.After(ctx, dn, false)
		}
		return nil
	}

	if g.cfg.AllowResetFallback && batchModifyUnsupported(err) {
		g.log.Warn().
			Str("dn", dn).
			Msg("batch password modify unsupported, falling back to administrative reset")
		if resetErr := g.resetPassword(ctx, dn, newPassword); resetErr != nil {
			return resetErr
		}
		if g.passwordHook != nil {
			g.passwordHook.After(ctx, dn, true)
		}
		return nil
	}

	return err
}

// passwordChangeOps builds the modification pair of a user-initiated
// password change: exactly one delete of the old encoded value followed
// by one add of the new encoded value. The order is load-bearing; the
// server only treats the batch as a user change when the delete comes
// first.
func passwordChangeOps(oldPassword, newPassword string) ([]BatchOp, error) {
	oldValue, err := encodePassword(oldPassword)
	if err != nil {
		return nil, NewValidationError("change_password", "old password is not encodable: %v", err)
	}
	newValue, err := encodePassword(newPassword)
	if err != nil {
		return nil, NewValidationError("change_password", "new password is not encodable: %v", err)
	}

	return []BatchOp{
		{Type: BatchDelete, Attribute: passwordAttribute, Values: []string{oldValue}},
		{Type: BatchAdd, Attribute: passwordAttribute, Values: []string{newValue}},
	}, nil
}

// ResetPassword overwrites the password attribute administratively.
// The server does not apply its password-history policy on this path.
func (g *gateway) ResetPassword(ctx context.Context, dn, newPassword string) error {
	if dn == "" {
		return NewValidationError("reset_password", "DN cannot be empty")
	}

	if g.passwordHook != nil {
		if err := g.passwordHook.Before(ctx, dn); err != nil {
			return err
		}
	}

	if err := g.resetPassword(ctx, dn, newPassword); err != nil {
		return err
	}

	if g.passwordHook != nil {
		g.passwordHook.After(ctx, dn, true)
	}
	return nil
}

func (g *gateway) resetPassword(ctx context.Context, dn, newPassword string) error {
	value, err := encodePassword(newPassword)
	if err != nil {
		return NewValidationError("reset_password", "password is not encodable: %v", err)
	}

	err = g.Update(ctx, dn, map[string][]string{
		passwordAttribute: {value},
	})
	if err == nil {
		return nil
	}

	// Surface the tail of the server's diagnostic, which carries the
	// policy reason (complexity, length, history) in readable form.
	var dirErr *Error
	if errors.As(err, &dirErr) {
		dirErr.Op = "reset_password"
		dirErr.Message = ExtractDiagnostic(dirErr.ServerMsg)
		return dirErr
	}
	return err
}

// batchModifyUnsupported reports whether the server rejected the
// delete+add password modification outright rather than for a policy
// reason.
func batchModifyUnsupported(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultUnwillingToPerform) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailableCriticalExtension) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultNotSupported)
}

// ExtractDiagnostic reduces a server error string to its
// user-presentable tail: everything up to and including the final
// colon is stripped, the remainder trimmed and given a leading
// capital. A generic message is returned when nothing usable remains.
func ExtractDiagnostic(serverMsg string) string {
	msg := serverMsg
	if idx := strings.LastIndex(msg, ":"); idx >= 0 {
		msg = msg[idx+1:]
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return genericPasswordError
	}

	r, size := utf8.DecodeRuneInString(msg)
	return string(unicode.ToUpper(r)) + msg[size:]
}
