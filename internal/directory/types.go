package directory

import (
	"context"
	"crypto/tls"
	"time"
)

// Config holds connection and behavior settings for a Gateway instance.
type Config struct {
	// Connection settings
	URLs    []string      `yaml:"urls"`    // ldap:// or ldaps:// URLs, tried in order
	BaseDN  string        `yaml:"baseDn"`  // Default search base; discovered from the root DSE when empty
	Timeout time.Duration `yaml:"timeout" default:"30s"`

	// Service account authentication
	Username string `yaml:"username"` // Bind DN, UPN, or DOMAIN\sam
	Password string `yaml:"password"`

	// Kerberos settings (GSSAPI bind is used when Realm is set)
	KerberosRealm  string `yaml:"kerberosRealm"`
	KerberosKeytab string `yaml:"kerberosKeytab"`
	KerberosConfig string `yaml:"kerberosConfig"`
	KerberosSPN    string `yaml:"kerberosSpn"`

	// TLS settings
	StartTLS  bool        `yaml:"startTls"`
	TLSConfig *tls.Config `yaml:"-"`

	// Retry settings
	MaxRetries     int           `yaml:"maxRetries" default:"3"`
	InitialBackoff time.Duration `yaml:"initialBackoff" default:"500ms"`
	MaxBackoff     time.Duration `yaml:"maxBackoff" default:"10s"`

	// AllowResetFallback permits ChangePassword to fall back to an
	// administrative reset when the server rejects the atomic
	// delete+add modification. The reset path bypasses the server's
	// password-history policy.
	AllowResetFallback bool `yaml:"allowResetFallback"`
}

// pageSize is the fixed page size used by SearchPaged. It is kept
// strictly below the common server-side default limit of 1000 entries
// per response.
const pageSize = 500

// Scope governs how far below a base DN a search descends.
type Scope int

const (
	ScopeBase Scope = iota
	ScopeOneLevel
	ScopeSubtree
)

// String returns the string representation of the search scope.
func (s Scope) String() string {
	switch s {
	case ScopeBase:
		return "base"
	case ScopeOneLevel:
		return "onelevel"
	case ScopeSubtree:
		return "subtree"
	default:
		return "unknown"
	}
}

// SortKey describes one attribute of a server-side sort control.
type SortKey struct {
	Attribute string
	Reverse   bool
}

// SearchRequest encapsulates the parameters of an unpaged search.
type SearchRequest struct {
	BaseDN     string
	Scope      Scope
	Filter     string
	Attributes []string
	SizeLimit  int
	Sort       []SortKey
}

// BatchOpType selects the modification applied by a BatchOp.
type BatchOpType int

const (
	BatchAdd BatchOpType = iota
	BatchDelete
	BatchReplace
)

// BatchOp is a single step of an atomic multi-operation modify request.
// The server applies all operations of a batch or none of them.
type BatchOp struct {
	Type      BatchOpType
	Attribute string
	Values    []string
}

// AuthStatus classifies the outcome of an Authenticate call.
type AuthStatus int

const (
	AuthOK AuthStatus = iota
	AuthInvalidCredentials
	AuthAccountLocked
	AuthAccountDisabled
	AuthAccountExpired
	AuthPasswordExpired
	AuthPasswordMustChange
	AuthUnavailable
)

// String returns the string representation of the authentication status.
func (s AuthStatus) String() string {
	switch s {
	case AuthOK:
		return "ok"
	case AuthInvalidCredentials:
		return "invalid_credentials"
	case AuthAccountLocked:
		return "account_locked"
	case AuthAccountDisabled:
		return "account_disabled"
	case AuthAccountExpired:
		return "account_expired"
	case AuthPasswordExpired:
		return "password_expired"
	case AuthPasswordMustChange:
		return "password_must_change"
	case AuthUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// AuthResult is the structured outcome of a bind authentication attempt.
// Authentication failures are encoded in Status, never as an error.
// Messages holds zero or more diagnostics; the first one, when present,
// is suitable for display to the end user.
type AuthResult struct {
	Status   AuthStatus
	Identity string
	Messages []string
}

// OK reports whether the authentication succeeded.
func (r *AuthResult) OK() bool {
	return r.Status == AuthOK
}

// Gateway provides the protocol-level directory operations. All methods
// except Authenticate report failures as *Error values; Authenticate
// encodes failures in the returned AuthResult.
type Gateway interface {
	// Bind establishes the service-account session on the underlying
	// connection using the configured authentication method.
	Bind(ctx context.Context) error
	Close() error

	// Search performs a single bounded search.
	Search(ctx context.Context, req *SearchRequest) ([]Record, error)

	// SearchPaged retrieves an arbitrarily large result set through the
	// paged-results control, driving the cursor to completion. The
	// pager is restored to the server default before the call returns,
	// regardless of success or failure.
	SearchPaged(ctx context.Context, filter, baseDN string, attributes []string) ([]Record, error)

	// Authenticate verifies end-user credentials via a bind on a
	// dedicated connection. It never returns an error.
	Authenticate(ctx context.Context, username, password string) *AuthResult

	Add(ctx context.Context, dn string, attributes map[string][]string) error
	Update(ctx context.Context, dn string, attributes map[string][]string) error
	ModifyBatch(ctx context.Context, dn string, ops []BatchOp) error
	Delete(ctx context.Context, dn string, recursive bool) error
	Move(ctx context.Context, fromDN, toDN string, recursive bool) error

	ChangePassword(ctx context.Context, dn, newPassword, oldPassword string) error
	ResetPassword(ctx context.Context, dn, newPassword string) error

	// DefaultBaseDN returns the configured base DN, falling back to the
	// defaultNamingContext advertised by the root DSE.
	DefaultBaseDN(ctx context.Context) (string, error)
}
