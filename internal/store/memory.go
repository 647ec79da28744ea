package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process IdentityStore and GroupStore. It backs
// the daemon when no external persistence is wired in and serves as
// the reference implementation of the store contracts.
type MemoryStore struct {
	mu          sync.RWMutex
	identities  map[string]*LocalIdentity // keyed by lower-cased username
	groups      map[string]*LocalGroup    // keyed by code
	memberships map[string][]Membership   // keyed by lower-cased username
	mappings    []GroupMapping
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities:  make(map[string]*LocalIdentity),
		groups:      make(map[string]*LocalGroup),
		memberships: make(map[string][]Membership),
	}
}

func (s *MemoryStore) IdentityByGUID(_ context.Context, guid string) (*LocalIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, identity := range s.identities {
		if strings.EqualFold(identity.GUID, guid) {
			clone := *identity
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) IdentityByUsername(_ context.Context, username string) (*LocalIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[strings.ToLower(username)]
	if !ok {
		return nil, nil
	}
	clone := *identity
	return &clone, nil
}

func (s *MemoryStore) SaveIdentity(_ context.Context, identity *LocalIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *identity
	s.identities[strings.ToLower(identity.Username)] = &clone
	return nil
}

func (s *MemoryStore) Memberships(_ context.Context, identity *LocalIdentity) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Membership(nil), s.memberships[strings.ToLower(identity.Username)]...), nil
}

func (s *MemoryStore) AddMembership(_ context.Context, identity *LocalIdentity, groupCode string, imported bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(identity.Username)
	for _, m := range s.memberships[key] {
		if m.GroupCode == groupCode {
			return nil
		}
	}
	s.memberships[key] = append(s.memberships[key], Membership{
		GroupCode: groupCode,
		Imported:  imported,
	})
	return nil
}

func (s *MemoryStore) RemoveMembership(_ context.Context, identity *LocalIdentity, groupCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(identity.Username)
	current := s.memberships[key]
	kept := make([]Membership, 0, len(current))
	for _, m := range current {
		if m.GroupCode != groupCode {
			kept = append(kept, m)
		}
	}
	s.memberships[key] = kept
	return nil
}

func (s *MemoryStore) GroupByCode(_ context.Context, code string) (*LocalGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[code]
	if !ok {
		return nil, nil
	}
	clone := *group
	return &clone, nil
}

func (s *MemoryStore) SaveGroup(_ context.Context, group *LocalGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *group
	s.groups[group.Code] = &clone
	return nil
}

func (s *MemoryStore) Mappings(context.Context) ([]GroupMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]GroupMapping(nil), s.mappings...), nil
}

// AddMapping installs a mapping administratively.
func (s *MemoryStore) AddMapping(mapping GroupMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = append(s.mappings, mapping)
}

func (s *MemoryStore) GroupForDN(_ context.Context, dn string) (*LocalGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, mapping := range s.mappings {
		if !strings.EqualFold(mapping.DN, dn) {
			continue
		}
		if group, ok := s.groups[mapping.GroupCode]; ok {
			clone := *group
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ReplaceMappings(_ context.Context, groupCode, dn string, scope MappingScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]GroupMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		if m.GroupCode != groupCode {
			kept = append(kept, m)
		}
	}
	s.mappings = append(kept, GroupMapping{GroupCode: groupCode, DN: dn, Scope: scope})
	return nil
}
