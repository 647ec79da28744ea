package sync

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/dirstack/adsync/internal/directory"
	"github.com/dirstack/adsync/internal/query"
	"github.com/dirstack/adsync/internal/store"
)

// normalAccountControl is a normal user account with a non-expiring
// password (NORMAL_ACCOUNT | DONT_EXPIRE_PASSWORD).
const normalAccountControl = 66048

// ProvisionConfig locates newly created objects in the directory tree.
type ProvisionConfig struct {
	// UserBaseDN is the container new user objects are created under.
	UserBaseDN string
	// GroupBaseDN is the container new group objects are created under.
	GroupBaseDN string
	// UPNSuffix completes the userPrincipalName of new users
	// ("<username>@<suffix>").
	UPNSuffix string
}

// Provisioner creates directory objects for local records and
// back-fills the server-assigned identifiers.
type Provisioner struct {
	gw         directory.Gateway
	queries    *query.Service
	identities store.IdentityStore
	groups     store.GroupStore
	cfg        ProvisionConfig
	log        zerolog.Logger
}

func NewProvisioner(gw directory.Gateway, queries *query.Service, identities store.IdentityStore, groups store.GroupStore, cfg ProvisionConfig, log zerolog.Logger) *Provisioner {
	return &Provisioner{
		gw:         gw,
		queries:    queries,
		identities: identities,
		groups:     groups,
		cfg:        cfg,
		log:        log,
	}
}

// CreateUser creates a directory user for the local identity and links
// it by the server-assigned GUID. The username is lower-cased before
// use. A created object whose GUID cannot be read back is a data
// error: the object exists but the link could not be established, and
// the operator must intervene or the driver must retry.
func (p *Provisioner) CreateUser(ctx context.Context, identity *store.LocalIdentity) error {
	username := strings.ToLower(strings.TrimSpace(identity.Username))
	if username == "" {
		return directory.NewValidationError("create_user", "identity has no username")
	}
	if p.cfg.UserBaseDN == "" {
		return directory.NewConfigError("create_user", "no creation base DN configured for users")
	}

	dn := "CN=" + ldap.EscapeDN(username) + "," + p.cfg.UserBaseDN

	attributes := map[string][]string{
		"objectClass":        {"top", "person", "organizationalPerson", "user"},
		"cn":                 {username},
		"sAMAccountName":     {username},
		"userAccountControl": {strconv.Itoa(normalAccountControl)},
	}
	principal := username
	if p.cfg.UPNSuffix != "" {
		principal = username + "@" + p.cfg.UPNSuffix
		attributes["userPrincipalName"] = []string{principal}
	}
	if identity.Email != "" {
		attributes["mail"] = []string{identity.Email}
	}

	if err := p.gw.Add(ctx, dn, attributes); err != nil {
		return err
	}
	p.log.Info().Str("dn", dn).Msg("created directory user")

	// Read the object back for its server-assigned GUID.
	rec, err := p.queries.GetUserByDN(ctx, dn)
	if err != nil {
		return directory.NewDataError("create_user",
			"created %s but cannot read it back: %v", dn, err)
	}
	guid := rec.GUID()
	if guid == "" {
		return directory.NewDataError("create_user",
			"created %s but the record carries no GUID", dn)
	}

	identity.Username = username
	identity.GUID = guid
	identity.DN = rec.DN()
	return p.identities.SaveIdentity(ctx, identity)
}

// CreateGroup creates a directory group for the local group, links it
// by GUID and converges the group's mapping set to exactly the new DN,
// discarding any stale mapping left from an earlier location.
func (p *Provisioner) CreateGroup(ctx context.Context, group *store.LocalGroup) error {
	title := strings.TrimSpace(group.Title)
	if title == "" {
		return directory.NewValidationError("create_group", "group %q has no title", group.Code)
	}
	if p.cfg.GroupBaseDN == "" {
		return directory.NewConfigError("create_group", "no creation base DN configured for groups")
	}

	dn := "CN=" + ldap.EscapeDN(title) + "," + p.cfg.GroupBaseDN

	err := p.gw.Add(ctx, dn, map[string][]string{
		"objectClass":    {"top", "group"},
		"cn":             {title},
		"sAMAccountName": {title},
	})
	if err != nil {
		return err
	}
	p.log.Info().Str("dn", dn).Msg("created directory group")

	rec, err := p.queries.GetGroupByDN(ctx, dn)
	if err != nil {
		return directory.NewDataError("create_group",
			"created %s but cannot read it back: %v", dn, err)
	}
	guid := rec.GUID()
	if guid == "" {
		return directory.NewDataError("create_group",
			"created %s but the record carries no GUID", dn)
	}

	group.GUID = guid
	if err := p.groups.SaveGroup(ctx, group); err != nil {
		return err
	}
	return p.groups.ReplaceMappings(ctx, group.Code, rec.DN(), store.ScopeSingle)
}
