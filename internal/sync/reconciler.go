package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/dirstack/adsync/internal/directory"
	"github.com/dirstack/adsync/internal/query"
	"github.com/dirstack/adsync/internal/store"
)

// Reconciler keeps local group assignments consistent with directory
// group membership and vice versa.
type Reconciler struct {
	gw         directory.Gateway
	queries    *query.Service
	identities store.IdentityStore
	groups     store.GroupStore
	log        zerolog.Logger

	// defaultGroup, when set, is a local group code every synchronized
	// identity is unconditionally assigned to.
	defaultGroup string
	expiry       ExpiryPolicy
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

func WithReconcilerLogger(log zerolog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.log = log
	}
}

// WithDefaultGroup assigns every synchronized identity to the local
// group with the given code.
func WithDefaultGroup(code string) ReconcilerOption {
	return func(r *Reconciler) {
		r.defaultGroup = code
	}
}

func WithExpiryPolicy(policy ExpiryPolicy) ReconcilerOption {
	return func(r *Reconciler) {
		r.expiry = policy
	}
}

func NewReconciler(gw directory.Gateway, queries *query.Service, identities store.IdentityStore, groups store.GroupStore, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		gw:         gw,
		queries:    queries,
		identities: identities,
		groups:     groups,
		log:        zerolog.Nop(),
		expiry:     DefaultExpiryPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcileInbound applies directory group membership to the local
// identity. Memberships created here carry the imported provenance
// flag; memberships without that flag are never removed, whatever the
// directory says. Re-running on unchanged directory data is a no-op.
func (r *Reconciler) ReconcileInbound(ctx context.Context, pass *Pass, identity *store.LocalIdentity, rec directory.Record) error {
	retain := make(map[string]bool)
	var failures []error

	if r.defaultGroup != "" {
		retain[r.defaultGroup] = true
		if err := r.identities.AddMembership(ctx, identity, r.defaultGroup, true); err != nil {
			failures = append(failures, fmt.Errorf("default group %s: %w", r.defaultGroup, err))
		}
	}

	mappings, err := r.groups.Mappings(ctx)
	if err != nil {
		return fmt.Errorf("load group mappings: %w", err)
	}

	for _, memberDN := range rec.List("memberof") {
		for _, mapping := range mappings {
			matched, err := r.mappingMatches(ctx, pass, mapping, memberDN)
			if err != nil {
				failures = append(failures, fmt.Errorf("mapping %s: %w", mapping.GroupCode, err))
				continue
			}
			if !matched || retain[mapping.GroupCode] {
				continue
			}

			retain[mapping.GroupCode] = true
			if err := r.identities.AddMembership(ctx, identity, mapping.GroupCode, true); err != nil {
				failures = append(failures, fmt.Errorf("add membership %s: %w", mapping.GroupCode, err))
			}
		}
	}

	memberships, err := r.identities.Memberships(ctx, identity)
	if err != nil {
		return errors.Join(append(failures, fmt.Errorf("load memberships: %w", err))...)
	}
	for _, membership := range memberships {
		if !membership.Imported || retain[membership.GroupCode] {
			continue
		}
		r.log.Debug().
			Str("identity", identity.Username).
			Str("group", membership.GroupCode).
			Msg("removing stale imported membership")
		if err := r.identities.RemoveMembership(ctx, identity, membership.GroupCode); err != nil {
			failures = append(failures, fmt.Errorf("remove membership %s: %w", membership.GroupCode, err))
		}
	}

	identity.LastSyncedAt = pass.StartedAt()
	identity.Expired = r.expiry.Expired(rec)
	if err := r.identities.SaveIdentity(ctx, identity); err != nil {
		failures = append(failures, fmt.Errorf("save identity: %w", err))
	}

	return errors.Join(failures...)
}

// mappingMatches reports whether memberDN falls under the mapping:
// exact DN match for single scope, membership of the transitive
// closure beneath the mapping DN for subtree scope.
func (r *Reconciler) mappingMatches(ctx context.Context, pass *Pass, mapping store.GroupMapping, memberDN string) (bool, error) {
	if strings.EqualFold(mapping.DN, memberDN) {
		return true, nil
	}
	if mapping.Scope != store.ScopeSubtree {
		return false, nil
	}

	nested, err := r.queries.GetNestedGroups(ctx, mapping.DN, pass.Memo)
	if err != nil {
		return false, err
	}
	for _, dn := range nested {
		if strings.EqualFold(dn, memberDN) {
			return true, nil
		}
	}
	return false, nil
}

// ReconcileOutbound pushes the identity's local group memberships to
// the directory. Only groups linked to a directory GUID are pushed;
// a directory membership is removed only when its DN maps to a known
// local group, so unmapped built-in groups are never touched. Each
// group write is independent and failures are aggregated.
func (r *Reconciler) ReconcileOutbound(ctx context.Context, identity *store.LocalIdentity) error {
	if identity.GUID == "" {
		return directory.NewValidationError("reconcile_outbound",
			"identity %q has no directory linkage", identity.Username)
	}

	memberships, err := r.identities.Memberships(ctx, identity)
	if err != nil {
		return fmt.Errorf("load memberships: %w", err)
	}

	addSet := make(map[string]bool)
	var failures []error
	for _, membership := range memberships {
		group, err := r.groups.GroupByCode(ctx, membership.GroupCode)
		if err != nil {
			failures = append(failures, fmt.Errorf("group %s: %w", membership.GroupCode, err))
			continue
		}
		if group == nil || group.GUID == "" {
			continue
		}

		rec, err := r.queries.GetGroupByGUID(ctx, group.GUID)
		if err != nil {
			if directory.IsNotFound(err) {
				r.log.Warn().
					Str("group", group.Code).
					Str("guid", group.GUID).
					Msg("linked directory group no longer exists")
				continue
			}
			failures = append(failures, fmt.Errorf("group %s: %w", group.Code, err))
			continue
		}
		addSet[strings.ToLower(rec.DN())] = true
	}

	userRec, err := r.queries.GetUserByGUID(ctx, identity.GUID)
	if err != nil {
		return errors.Join(append(failures, fmt.Errorf("fetch user %s: %w", identity.GUID, err))...)
	}
	userDN := userRec.DN()

	current := make(map[string]bool)
	for _, dn := range userRec.List("memberof") {
		current[strings.ToLower(dn)] = true
	}

	for dn := range addSet {
		if current[dn] {
			continue
		}
		if err := r.addMember(ctx, dn, userDN); err != nil {
			failures = append(failures, fmt.Errorf("add %s to %s: %w", userDN, dn, err))
		}
	}

	for dn := range current {
		if addSet[dn] {
			continue
		}
		group, err := r.groups.GroupForDN(ctx, dn)
		if err != nil {
			failures = append(failures, fmt.Errorf("resolve %s: %w", dn, err))
			continue
		}
		if group == nil {
			// Unmapped directory group, not ours to manage.
			continue
		}
		if err := r.removeMember(ctx, dn, userDN); err != nil {
			failures = append(failures, fmt.Errorf("remove %s from %s: %w", userDN, dn, err))
		}
	}

	return errors.Join(failures...)
}

// addMember adds userDN to the group's member attribute with an
// incremental modify, so concurrent reconcilers cannot clobber each
// other's writes. An already-present value counts as success.
func (r *Reconciler) addMember(ctx context.Context, groupDN, userDN string) error {
	err := r.gw.ModifyBatch(ctx, groupDN, []directory.BatchOp{
		{Type: directory.BatchAdd, Attribute: "member", Values: []string{userDN}},
	})
	if err != nil && directory.IsConflict(err) {
		return nil
	}
	return err
}

// removeMember removes userDN from the group's member attribute. An
// already-absent value counts as success.
func (r *Reconciler) removeMember(ctx context.Context, groupDN, userDN string) error {
	err := r.gw.ModifyBatch(ctx, groupDN, []directory.BatchOp{
		{Type: directory.BatchDelete, Attribute: "member", Values: []string{userDN}},
	})
	if err != nil && ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchAttribute) {
		return nil
	}
	return err
}
