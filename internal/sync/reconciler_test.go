package sync

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirstack/adsync/internal/directory"
	"github.com/dirstack/adsync/internal/query"
	"github.com/dirstack/adsync/internal/store"
)

func newTestService(t *testing.T, gw directory.Gateway) *query.Service {
	t.Helper()
	s, err := query.NewService(gw, query.Config{BaseDN: "DC=example,DC=com"})
	require.NoError(t, err)
	return s
}

func membershipCodes(memberships []store.Membership) []string {
	codes := make([]string, 0, len(memberships))
	for _, m := range memberships {
		codes = append(codes, m.GroupCode)
	}
	return codes
}

func TestInboundAddsMappedMembership(t *testing.T) {
	gw := &fakeGateway{}
	ids := newFakeIdentityStore()
	groups := newFakeGroupStore()
	groups.mappings = []store.GroupMapping{
		{GroupCode: "staff", DN: "CN=Staff,DC=example,DC=com", Scope: store.ScopeSingle},
	}

	r := NewReconciler(gw, newTestService(t, gw), ids, groups)
	alice := &store.LocalIdentity{Username: "alice", GUID: "g1"}
	userRec := rec("CN=Alice,DC=example,DC=com",
		"memberof", []string{"CN=Staff,DC=example,DC=com", "CN=Unmapped,DC=example,DC=com"})

	require.NoError(t, r.ReconcileInbound(context.Background(), NewPass(), alice, userRec))

	memberships, _ := ids.Memberships(context.Background(), alice)
	assert.Equal(t, []string{"staff"}, membershipCodes(memberships))
	assert.True(t, memberships[0].Imported)
}

func TestInboundIdempotent(t *testing.T) {
	gw := &fakeGateway{}
	ids := newFakeIdentityStore()
	groups := newFakeGroupStore()
	groups.mappings = []store.GroupMapping{
		{GroupCode: "staff", DN: "CN=Staff,DC=example,DC=com", Scope: store.ScopeSingle},
	}

	r := NewReconciler(gw, newTestService(t, gw), ids, groups)
	alice := &store.LocalIdentity{Username: "alice", GUID: "g1"}
	userRec := rec("CN=Alice,DC=example,DC=com",
		"memberof", "CN=Staff,DC=example,DC=com")

	require.NoError(t, r.ReconcileInbound(context.Background(), NewPass(), alice, userRec))
	require.Equal(t, 1, ids.added)

	// Unchanged directory data: no deltas on the second run.
	require.NoError(t, r.ReconcileInbound(context.Background(), NewPass(), alice, userRec))
	assert.Equal(t, 1, ids.added)
	assert.Equal(t, 0, ids.removed)
}

func TestInboundScalarMemberOf(t *testing.T) {
	gw := &fakeGateway{}
	ids := newFakeIdentityStore()
	groups := newFakeGroupStore()
	groups.mappings = []store.GroupMapping{
		{GroupCode: "staff", DN: "CN=Staff,DC=example,DC=com", Scope: store.ScopeSingle},
	}

	r := NewReconciler(gw, newTestService(t, gw), ids, groups)
	alice := &store.LocalIdentity{Username: "alice"}

	// A single memberOf value normalizes to a scalar; the reconciler
	// must treat it as a one-element set.
	userRec := rec("CN=Alice,DC=example,DC=com", "memberof", "CN=Staff,DC=example,DC=com")
	require.NoError(t, r.ReconcileInbound(context.Background(), NewPass(), alice, userRec))
	assert.Equal(t, 1, ids.added)
}

func TestInboundProvenanceSafety(t *testing.T) {
	gw := &fakeGateway{}
	ids := newFakeIdentityStore()
	ids.memberships["alice"] = []store.Membership{
		{GroupCode: "manual", Imported: false},
		{GroupCode: "stale", Imported: true},
	}
	groups := newFakeGroupStore()

	r := NewReconciler(gw, newTestService(t, gw), ids, groups)
	alice := &store.LocalIdentity{Username: "alice"}

	// Directory says the user belongs to nothing: the stale imported
	// membership goes, the manual one stays.
	require.NoError(t, r.ReconcileInbound(context.Background(), NewPass(), alice,
		rec("CN=Alice,DC=example,DC=com")))

	memberships, _ := ids.Memberships(context.Background(), alice)
	assert.Equal(t, []string{"manual"}, membershipCodes(memberships))
	assert.Equal(t, 1, ids.removed)
}

func TestInboundSubtreeChain(t *testing.T) {
	chainSearches := 0
	gw := &fakeGateway{}
	gw.searchFn = func(req *directory.SearchRequest) ([]directory.Record, error) {
		require.Contains(t, req.Filter, "1.2.840.113556.1.4.1941")
		chainSearches++
		// Closure beneath M: B directly, A through B.
		return []directory.Record{
			rec("CN=B,DC=example,DC=com"),
			rec("CN=A,DC=example,DC=com"),
		}, nil
	}

	ids := newFakeIdentityStore()
	groups := newFakeGroupStore()
	groups.mappings = []store.GroupMapping{
		{GroupCode: "mgrp", DN: "CN=M,DC=example,DC=com", Scope: store.ScopeSubtree},
	}

	r := NewReconciler(gw, newTestService(t, gw), ids, groups)
	pass := NewPass()

	// Direct member of A only; A is transitively nested beneath M.
	alice := &store.LocalIdentity{Username: "alice"}
	require.NoError(t, r.ReconcileInbound(context.Background(), pass, alice,
		rec("CN=Alice,DC=example,DC=com", "memberof", "CN=A,DC=example,DC=com")))

	memberships, _ := ids.Memberships(context.Background(), alice)
	assert.Equal(t, []string{"mgrp"}, membershipCodes(memberships))

	// Same pass, second identity: the closure is memoized.
	bob := &store.LocalIdentity{Username: "bob"}
	require.NoError(t, r.ReconcileInbound(context.Background(), pass, bob,
		rec("CN=Bob,DC=example,DC=com", "memberof", "CN=B,DC=example,DC=com")))
	assert.Equal(t, 1, chainSearches)
}

func TestInboundDefaultGroup(t *testing.T) {
	gw := &fakeGateway{}
	ids := newFakeIdentityStore()
	groups := newFakeGroupStore()

	r := NewReconciler(gw, newTestService(t, gw), ids, groups, WithDefaultGroup("everyone"))
	alice := &store.LocalIdentity{Username: "alice"}

	require.NoError(t, r.ReconcileInbound(context.Background(), NewPass(), alice,
		rec("CN=Alice,DC=example,DC=com")))

	memberships, _ := ids.Memberships(context.Background(), alice)
	assert.Equal(t, []string{"everyone"}, membershipCodes(memberships))
}

func TestInboundRefreshesIdentity(t *testing.T) {
	gw := &fakeGateway{}
	ids := newFakeIdentityStore()
	groups := newFakeGroupStore()

	r := NewReconciler(gw, newTestService(t, gw), ids, groups)
	pass := NewPass()
	alice := &store.LocalIdentity{Username: "alice"}

	// ACCOUNTDISABLE bit set.
	require.NoError(t, r.ReconcileInbound(context.Background(), pass, alice,
		rec("CN=Alice,DC=example,DC=com", "useraccountcontrol", "514")))

	assert.True(t, alice.Expired)
	assert.Equal(t, pass.StartedAt(), alice.LastSyncedAt)
	assert.Equal(t, 1, ids.saved)
}

func outboundFixture(t *testing.T) (*fakeGateway, *fakeIdentityStore, *fakeGroupStore, *Reconciler) {
	t.Helper()

	gw := &fakeGateway{}
	gw.searchFn = func(req *directory.SearchRequest) ([]directory.Record, error) {
		switch {
		case strings.Contains(req.Filter, "(objectClass=group)"):
			return []directory.Record{rec("CN=Eng,DC=example,DC=com")}, nil
		default:
			return []directory.Record{
				rec("CN=Alice,DC=example,DC=com",
					"memberof", []string{
						"CN=Legacy,DC=example,DC=com",
						"CN=Domain Users,DC=example,DC=com",
					}),
			}, nil
		}
	}

	ids := newFakeIdentityStore()
	ids.memberships["alice"] = []store.Membership{
		{GroupCode: "eng", Imported: false},
		{GroupCode: "unlinked", Imported: false},
	}

	groups := newFakeGroupStore()
	groups.groups["eng"] = &store.LocalGroup{Code: "eng", GUID: "11111111-2222-3333-4444-555555555555"}
	groups.groups["unlinked"] = &store.LocalGroup{Code: "unlinked"}
	groups.byDN["cn=legacy,dc=example,dc=com"] = &store.LocalGroup{Code: "legacy"}

	return gw, ids, groups, NewReconciler(gw, newTestService(t, gw), ids, groups)
}

func TestOutboundAddsAndRemoves(t *testing.T) {
	gw, _, _, r := outboundFixture(t)

	alice := &store.LocalIdentity{Username: "alice", GUID: "12345678-9abc-def0-1234-56789abcdef0"}
	require.NoError(t, r.ReconcileOutbound(context.Background(), alice))

	require.Len(t, gw.batches, 2)

	byGroup := map[string]recordedBatch{}
	for _, b := range gw.batches {
		byGroup[b.dn] = b
	}

	add := byGroup["CN=Eng,DC=example,DC=com"]
	require.Len(t, add.ops, 1)
	assert.Equal(t, directory.BatchAdd, add.ops[0].Type)
	assert.Equal(t, "member", add.ops[0].Attribute)
	assert.Equal(t, []string{"CN=Alice,DC=example,DC=com"}, add.ops[0].Values)

	remove := byGroup["CN=Legacy,DC=example,DC=com"]
	require.Len(t, remove.ops, 1)
	assert.Equal(t, directory.BatchDelete, remove.ops[0].Type)

	// Domain Users is unmapped and must never be touched.
	assert.NotContains(t, byGroup, "CN=Domain Users,DC=example,DC=com")
}

func TestOutboundToleratesAlreadyApplied(t *testing.T) {
	gw, _, _, r := outboundFixture(t)
	gw.batchFn = func(dn string, ops []directory.BatchOp) error {
		if ops[0].Type == directory.BatchAdd {
			return directory.NewProtocolError("modify", &ldap.Error{
				ResultCode: ldap.LDAPResultAttributeOrValueExists,
			})
		}
		return directory.NewProtocolError("modify", &ldap.Error{
			ResultCode: ldap.LDAPResultNoSuchAttribute,
		})
	}

	alice := &store.LocalIdentity{Username: "alice", GUID: "12345678-9abc-def0-1234-56789abcdef0"}
	assert.NoError(t, r.ReconcileOutbound(context.Background(), alice))
}

func TestOutboundAggregatesFailures(t *testing.T) {
	gw, _, _, r := outboundFixture(t)
	gw.batchFn = func(string, []directory.BatchOp) error {
		return directory.NewProtocolError("modify", errors.New("insufficient access"))
	}

	alice := &store.LocalIdentity{Username: "alice", GUID: "12345678-9abc-def0-1234-56789abcdef0"}
	err := r.ReconcileOutbound(context.Background(), alice)

	require.Error(t, err)
	// Both writes were attempted despite the failures.
	assert.Len(t, gw.batches, 2)
}

func TestOutboundRequiresLinkage(t *testing.T) {
	_, _, _, r := outboundFixture(t)

	err := r.ReconcileOutbound(context.Background(), &store.LocalIdentity{Username: "alice"})
	require.Error(t, err)
	assert.Equal(t, directory.KindValidation, directory.KindOf(err))
}

func TestExpiryPolicy(t *testing.T) {
	policy := DefaultExpiryPolicy()

	assert.False(t, policy.Expired(rec("CN=A,DC=example,DC=com", "useraccountcontrol", "512")))
	assert.True(t, policy.Expired(rec("CN=A,DC=example,DC=com", "useraccountcontrol", "514")))
	assert.False(t, policy.Expired(rec("CN=A,DC=example,DC=com")))

	custom := ExpiryPolicy{Attribute: "accountflags", Mask: 0x10}
	assert.True(t, custom.Expired(rec("CN=A,DC=example,DC=com", "accountflags", "48")))
	assert.False(t, custom.Expired(rec("CN=A,DC=example,DC=com", "accountflags", "32")))
}
