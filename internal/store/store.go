// Package store defines the contracts for the local identity platform
// the synchronizer reads from and writes to. The directory core only
// touches the local side through these interfaces; persistence lives
// with the embedding application.
package store

import (
	"context"
	"time"
)

// LocalIdentity is the local record linked to a directory user. GUID
// is the durable cross-reference key: it is set once when the link is
// established and never reassigned.
type LocalIdentity struct {
	GUID         string
	Username     string
	Email        string
	DN           string
	LastSyncedAt time.Time
	Expired      bool
	// PhotoHash is the content hash of the last profile photo written
	// to the blob store, empty when none was ever synchronized.
	PhotoHash string
	// Fields carries mapped profile attributes keyed by local field
	// name.
	Fields map[string]string
}

// LocalGroup is the local counterpart of a directory group, keyed by a
// stable code. GUID links it to the directory object when provisioned
// or matched.
type LocalGroup struct {
	Code  string
	Title string
	GUID  string
}

// MappingScope governs how a GroupMapping matches directory DNs.
type MappingScope int

const (
	// ScopeSingle matches exactly the mapping's DN.
	ScopeSingle MappingScope = iota
	// ScopeSubtree matches the mapping's DN and every group nested
	// transitively beneath it.
	ScopeSubtree
)

func (s MappingScope) String() string {
	switch s {
	case ScopeSingle:
		return "single"
	case ScopeSubtree:
		return "subtree"
	default:
		return "unknown"
	}
}

// GroupMapping relates one local group to one directory DN. Mappings
// are administered outside the synchronizer and are read-only to the
// reconciler.
type GroupMapping struct {
	GroupCode string
	DN        string
	Scope     MappingScope
}

// Membership is one identity-to-group assignment. Imported marks
// directory provenance; the reconciler never removes a membership
// without it.
type Membership struct {
	GroupCode string
	Imported  bool
}

// IdentityStore persists local identities and their group memberships.
type IdentityStore interface {
	IdentityByGUID(ctx context.Context, guid string) (*LocalIdentity, error)
	IdentityByUsername(ctx context.Context, username string) (*LocalIdentity, error)
	SaveIdentity(ctx context.Context, identity *LocalIdentity) error

	Memberships(ctx context.Context, identity *LocalIdentity) ([]Membership, error)
	// AddMembership is a no-op when the membership already exists; it
	// must not downgrade an existing membership's provenance flag.
	AddMembership(ctx context.Context, identity *LocalIdentity, groupCode string, imported bool) error
	RemoveMembership(ctx context.Context, identity *LocalIdentity, groupCode string) error
}

// GroupStore persists local groups and their directory mappings.
type GroupStore interface {
	GroupByCode(ctx context.Context, code string) (*LocalGroup, error)
	SaveGroup(ctx context.Context, group *LocalGroup) error

	Mappings(ctx context.Context) ([]GroupMapping, error)
	// GroupForDN resolves the local group mapped to exactly dn, or nil
	// when the DN is unmapped. The outbound reconciler uses this as its
	// removal guard.
	GroupForDN(ctx context.Context, dn string) (*LocalGroup, error)
	// ReplaceMappings drops every mapping for the group and installs a
	// single mapping to dn, so the group's mapping set converges to one
	// correct DN.
	ReplaceMappings(ctx context.Context, groupCode, dn string, scope MappingScope) error
}

// BlobOptions control how a blob write resolves conflicts and who may
// read the result.
type BlobOptions struct {
	Overwrite bool
	Public    bool
}

// BlobStore writes binary payloads, returning a content hash used for
// idempotence checks on subsequent passes.
type BlobStore interface {
	Put(ctx context.Context, path string, payload []byte, opts BlobOptions) (hash string, err error)
}
