// Package query builds directory filters, fans searches out across
// configured locations and merges the results into deduplicated
// record sets. It also resolves usernames between the directory's
// naming conventions and computes nested-group closures.
package query

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dirstack/adsync/internal/cache"
	"github.com/dirstack/adsync/internal/directory"
)

// Default attribute sets per entity. thumbnailPhoto is requested for
// users so profile-photo synchronization can hash it without a second
// round trip.
var (
	nodeAttributes = []string{
		"name", "ou", "description", "distinguishedName", "objectGUID",
	}
	groupAttributes = []string{
		"cn", "sAMAccountName", "description", "member", "memberOf",
		"distinguishedName", "objectGUID", "objectSid",
	}
	userAttributes = []string{
		"sAMAccountName", "userPrincipalName", "mail", "displayName",
		"givenName", "sn", "memberOf", "userAccountControl",
		"thumbnailPhoto", "distinguishedName", "objectGUID", "objectSid",
	}
)

// Config carries the query-service settings. An empty location list
// for an entity means "search from the directory's default base".
type Config struct {
	// BaseDN is the fallback search base, usually the defaultNamingContext.
	BaseDN string

	UserLocations  []string
	GroupLocations []string
	NodeLocations  []string

	AccountForm AccountForm
}

// Service answers entity queries against the directory, caching
// enumeration results and merging records across locations.
type Service struct {
	gw        directory.Gateway
	cfg       Config
	baseDN    string
	cache     cache.Provider
	log       zerolog.Logger
	decorator FilterDecorator
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache installs a result cache for enumeration queries.
// By-identifier lookups always hit the directory so reconciliation
// sees fresh records.
func WithCache(provider cache.Provider) ServiceOption {
	return func(s *Service) {
		s.cache = provider
	}
}

func WithServiceLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// WithFilterDecorator installs a hook that rewrites entity filters
// before execution.
func WithFilterDecorator(decorator FilterDecorator) ServiceOption {
	return func(s *Service) {
		s.decorator = decorator
	}
}

// NewService builds a query service over gw.
func NewService(gw directory.Gateway, cfg Config, opts ...ServiceOption) (*Service, error) {
	if cfg.BaseDN == "" {
		return nil, directory.NewConfigError("new_service", "base DN is required")
	}

	s := &Service{
		gw:     gw,
		cfg:    cfg,
		baseDN: cfg.BaseDN,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) decorate(entity Entity, filter string) string {
	if s.decorator == nil {
		return filter
	}
	return s.decorator.Decorate(entity, filter)
}

// locations returns the configured search bases for an entity,
// defaulting to the directory base.
func (s *Service) locations(entity Entity) []string {
	var configured []string
	switch entity {
	case EntityUser:
		configured = s.cfg.UserLocations
	case EntityGroup:
		configured = s.cfg.GroupLocations
	case EntityNode:
		configured = s.cfg.NodeLocations
	}
	if len(configured) == 0 {
		return []string{s.baseDN}
	}
	return configured
}

// GetNodes enumerates organizational units and containers across the
// node locations, keyed by DN.
func (s *Service) GetNodes(ctx context.Context) ([]directory.Record, error) {
	return s.enumerate(ctx, EntityNode, s.decorate(EntityNode, nodesFilter), nodeAttributes, "dn", false)
}

// GetGroups enumerates groups across the group locations, keyed by DN.
func (s *Service) GetGroups(ctx context.Context) ([]directory.Record, error) {
	return s.enumerate(ctx, EntityGroup, s.decorate(EntityGroup, groupsFilter), groupAttributes, "dn", false)
}

// GetUsers enumerates users across the user locations, keyed by GUID.
// User populations routinely exceed the server's single-response cap,
// so this always takes the paged path.
func (s *Service) GetUsers(ctx context.Context) ([]directory.Record, error) {
	return s.enumerate(ctx, EntityUser, s.decorate(EntityUser, usersFilter), userAttributes, directory.AttrGUID, true)
}

// enumerate fans filter out across the entity's locations and merges
// the results keyed by key. Duplicate keys across locations collapse
// to one record, last location wins. A failing location is logged and
// skipped so the remaining locations still contribute.
func (s *Service) enumerate(ctx context.Context, entity Entity, filter string, attributes []string, key string, paged bool) ([]directory.Record, error) {
	locations := s.locations(entity)

	cacheKey := ""
	if s.cache != nil {
		parts := append([]string{"enumerate", string(entity), filter, key}, locations...)
		cacheKey = cache.Fingerprint(parts...)
		if cached, ok := s.cache.Get(cacheKey); ok {
			if records, ok := cached.([]directory.Record); ok {
				return records, nil
			}
		}
	}

	merged := make(map[string]int)
	var records []directory.Record
	var failures []error

	for _, location := range locations {
		var (
			found []directory.Record
			err   error
		)
		if paged {
			found, err = s.gw.SearchPaged(ctx, filter, location, attributes)
		} else {
			found, err = s.gw.Search(ctx, &directory.SearchRequest{
				BaseDN:     location,
				Scope:      directory.ScopeSubtree,
				Filter:     filter,
				Attributes: attributes,
			})
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			failures = append(failures, err)
			s.log.Warn().
				Err(err).
				Str("entity", string(entity)).
				Str("location", location).
				Msg("search location failed, continuing with remaining locations")
			continue
		}

		for _, rec := range found {
			k := strings.ToLower(rec.Str(key))
			if k == "" {
				k = strings.ToLower(rec.DN())
			}
			if idx, ok := merged[k]; ok {
				records[idx] = rec
				continue
			}
			merged[k] = len(records)
			records = append(records, rec)
		}
	}

	if len(failures) == len(locations) {
		return nil, errors.Join(failures...)
	}

	// A partial merge from a degraded pass must not be served for a
	// full TTL; only complete enumerations are cached.
	if s.cache != nil && len(failures) == 0 {
		s.cache.Set(cacheKey, records)
	}
	return records, nil
}

// firstMatch tries filter in each location in order and returns the
// first matching record. Locations that fail with not-found are
// skipped; ErrNotFound is returned when no location yields a match.
func (s *Service) firstMatch(ctx context.Context, entity Entity, filter string, attributes []string) (directory.Record, error) {
	for _, location := range s.locations(entity) {
		records, err := s.gw.Search(ctx, &directory.SearchRequest{
			BaseDN:     location,
			Scope:      directory.ScopeSubtree,
			Filter:     filter,
			Attributes: attributes,
			SizeLimit:  1,
		})
		if err != nil {
			if directory.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if len(records) > 0 {
			return records[0], nil
		}
	}
	return nil, directory.ErrNotFound
}

// byDN fetches one object directly at dn, constrained by the entity
// filter.
func (s *Service) byDN(ctx context.Context, dn, filter string, attributes []string) (directory.Record, error) {
	records, err := s.gw.Search(ctx, &directory.SearchRequest{
		BaseDN:     dn,
		Scope:      directory.ScopeBase,
		Filter:     filter,
		Attributes: attributes,
	})
	if err != nil {
		if directory.IsNotFound(err) {
			return nil, directory.ErrNotFound
		}
		return nil, err
	}
	if len(records) == 0 {
		return nil, directory.ErrNotFound
	}
	return records[0], nil
}

// GetGroupByGUID looks a group up by its canonical GUID string.
func (s *Service) GetGroupByGUID(ctx context.Context, guid string) (directory.Record, error) {
	guidFilter, err := directory.GUIDFilter(guid)
	if err != nil {
		return nil, directory.NewValidationError("group_by_guid", "%v", err)
	}
	return s.firstMatch(ctx, EntityGroup, s.decorate(EntityGroup, groupGUIDFilter(guidFilter)), groupAttributes)
}

// GetGroupByDN fetches the group at exactly dn.
func (s *Service) GetGroupByDN(ctx context.Context, dn string) (directory.Record, error) {
	return s.byDN(ctx, dn, s.decorate(EntityGroup, groupsFilter), groupAttributes)
}

// GetUserByGUID looks a user up by its canonical GUID string.
func (s *Service) GetUserByGUID(ctx context.Context, guid string) (directory.Record, error) {
	guidFilter, err := directory.GUIDFilter(guid)
	if err != nil {
		return nil, directory.NewValidationError("user_by_guid", "%v", err)
	}
	return s.firstMatch(ctx, EntityUser, s.decorate(EntityUser, userGUIDFilter(guidFilter)), userAttributes)
}

// GetUserByDN fetches the user at exactly dn.
func (s *Service) GetUserByDN(ctx context.Context, dn string) (directory.Record, error) {
	return s.byDN(ctx, dn, s.decorate(EntityUser, usersFilter), userAttributes)
}

// GetUserByEmail looks a user up by mail address.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (directory.Record, error) {
	return s.firstMatch(ctx, EntityUser, s.decorate(EntityUser, emailFilter(email)), userAttributes)
}

// GetUserByUsername looks a user up under the configured account form.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (directory.Record, error) {
	filter, err := UsernameFilter(s.cfg.AccountForm, username)
	if err != nil {
		return nil, err
	}
	return s.firstMatch(ctx, EntityUser, s.decorate(EntityUser, filter), userAttributes)
}

// GetUsernameByEmail resolves an email address to the canonical
// account name under the configured account form.
func (s *Service) GetUsernameByEmail(ctx context.Context, email string) (string, error) {
	rec, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return CanonicalUsername(s.cfg.AccountForm, rec)
}
