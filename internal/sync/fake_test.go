package sync

import (
	"context"
	"strings"

	"github.com/dirstack/adsync/internal/directory"
	"github.com/dirstack/adsync/internal/store"
)

// fakeGateway implements directory.Gateway for tests. Searches are
// routed through a per-test function; batch modifies are recorded.
type fakeGateway struct {
	searchFn func(req *directory.SearchRequest) ([]directory.Record, error)

	batchFn func(dn string, ops []directory.BatchOp) error
	batches []recordedBatch
	adds    []recordedAdd
}

type recordedBatch struct {
	dn  string
	ops []directory.BatchOp
}

type recordedAdd struct {
	dn         string
	attributes map[string][]string
}

func (f *fakeGateway) Bind(context.Context) error { return nil }
func (f *fakeGateway) Close() error               { return nil }

func (f *fakeGateway) Search(_ context.Context, req *directory.SearchRequest) ([]directory.Record, error) {
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(req)
}

func (f *fakeGateway) SearchPaged(ctx context.Context, filter, baseDN string, attributes []string) ([]directory.Record, error) {
	return f.Search(ctx, &directory.SearchRequest{
		BaseDN:     baseDN,
		Scope:      directory.ScopeSubtree,
		Filter:     filter,
		Attributes: attributes,
	})
}

func (f *fakeGateway) Authenticate(context.Context, string, string) *directory.AuthResult {
	return &directory.AuthResult{Status: directory.AuthOK}
}

func (f *fakeGateway) Add(_ context.Context, dn string, attributes map[string][]string) error {
	f.adds = append(f.adds, recordedAdd{dn: dn, attributes: attributes})
	return nil
}

func (f *fakeGateway) Update(context.Context, string, map[string][]string) error { return nil }

func (f *fakeGateway) ModifyBatch(_ context.Context, dn string, ops []directory.BatchOp) error {
	f.batches = append(f.batches, recordedBatch{dn: dn, ops: ops})
	if f.batchFn == nil {
		return nil
	}
	return f.batchFn(dn, ops)
}

func (f *fakeGateway) Delete(context.Context, string, bool) error       { return nil }
func (f *fakeGateway) Move(context.Context, string, string, bool) error { return nil }
func (f *fakeGateway) ChangePassword(context.Context, string, string, string) error {
	return nil
}
func (f *fakeGateway) ResetPassword(context.Context, string, string) error { return nil }
func (f *fakeGateway) DefaultBaseDN(context.Context) (string, error) {
	return "DC=example,DC=com", nil
}

// fakeIdentityStore keeps memberships in memory and counts effective
// changes so idempotence is observable.
type fakeIdentityStore struct {
	identities  map[string]*store.LocalIdentity
	memberships map[string][]store.Membership

	added   int
	removed int
	saved   int
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{
		identities:  make(map[string]*store.LocalIdentity),
		memberships: make(map[string][]store.Membership),
	}
}

func (f *fakeIdentityStore) IdentityByGUID(_ context.Context, guid string) (*store.LocalIdentity, error) {
	for _, identity := range f.identities {
		if identity.GUID == guid {
			return identity, nil
		}
	}
	return nil, nil
}

func (f *fakeIdentityStore) IdentityByUsername(_ context.Context, username string) (*store.LocalIdentity, error) {
	return f.identities[username], nil
}

func (f *fakeIdentityStore) SaveIdentity(_ context.Context, identity *store.LocalIdentity) error {
	f.identities[identity.Username] = identity
	f.saved++
	return nil
}

func (f *fakeIdentityStore) Memberships(_ context.Context, identity *store.LocalIdentity) ([]store.Membership, error) {
	return append([]store.Membership(nil), f.memberships[identity.Username]...), nil
}

func (f *fakeIdentityStore) AddMembership(_ context.Context, identity *store.LocalIdentity, groupCode string, imported bool) error {
	for _, m := range f.memberships[identity.Username] {
		if m.GroupCode == groupCode {
			return nil
		}
	}
	f.memberships[identity.Username] = append(f.memberships[identity.Username],
		store.Membership{GroupCode: groupCode, Imported: imported})
	f.added++
	return nil
}

func (f *fakeIdentityStore) RemoveMembership(_ context.Context, identity *store.LocalIdentity, groupCode string) error {
	current := f.memberships[identity.Username]
	kept := current[:0]
	for _, m := range current {
		if m.GroupCode != groupCode {
			kept = append(kept, m)
		} else {
			f.removed++
		}
	}
	f.memberships[identity.Username] = kept
	return nil
}

// fakeGroupStore serves groups, mappings and the DN guard from maps.
type fakeGroupStore struct {
	groups   map[string]*store.LocalGroup
	mappings []store.GroupMapping
	byDN     map[string]*store.LocalGroup

	replaced []store.GroupMapping
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{
		groups: make(map[string]*store.LocalGroup),
		byDN:   make(map[string]*store.LocalGroup),
	}
}

func (f *fakeGroupStore) GroupByCode(_ context.Context, code string) (*store.LocalGroup, error) {
	return f.groups[code], nil
}

func (f *fakeGroupStore) SaveGroup(_ context.Context, group *store.LocalGroup) error {
	f.groups[group.Code] = group
	return nil
}

func (f *fakeGroupStore) Mappings(context.Context) ([]store.GroupMapping, error) {
	return f.mappings, nil
}

func (f *fakeGroupStore) GroupForDN(_ context.Context, dn string) (*store.LocalGroup, error) {
	return f.byDN[strings.ToLower(dn)], nil
}

func (f *fakeGroupStore) ReplaceMappings(_ context.Context, groupCode, dn string, scope store.MappingScope) error {
	kept := f.mappings[:0]
	for _, m := range f.mappings {
		if m.GroupCode != groupCode {
			kept = append(kept, m)
		}
	}
	mapping := store.GroupMapping{GroupCode: groupCode, DN: dn, Scope: scope}
	f.mappings = append(kept, mapping)
	f.replaced = append(f.replaced, mapping)
	return nil
}

// fakeBlobStore records writes and returns a fixed hash.
type fakeBlobStore struct {
	hash string
	puts []string
	opts []store.BlobOptions
}

func (f *fakeBlobStore) Put(_ context.Context, path string, _ []byte, opts store.BlobOptions) (string, error) {
	f.puts = append(f.puts, path)
	f.opts = append(f.opts, opts)
	return f.hash, nil
}

func rec(dn string, pairs ...any) directory.Record {
	r := directory.Record{"dn": dn}
	for i := 0; i+1 < len(pairs); i += 2 {
		r[pairs[i].(string)] = pairs[i+1]
	}
	return r
}
