package query

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"

	"github.com/dirstack/adsync/internal/directory"
)

// matchingRuleInChain is the server-side transitive-closure matching
// rule (LDAP_MATCHING_RULE_IN_CHAIN). A memberOf filter using it makes
// the server walk group nesting to arbitrary depth.
const matchingRuleInChain = "1.2.840.113556.1.4.1941"

// maxNestingDepth bounds the BFS fallback against membership cycles
// that survive deduplication.
const maxNestingDepth = 100

// Memo caches transitive group closures by DN for the duration of one
// synchronization pass. It never expires; create a fresh Memo per pass
// so closures cannot go stale across passes.
type Memo struct {
	mu sync.Mutex
	m  map[string][]string
}

func NewMemo() *Memo {
	return &Memo{m: make(map[string][]string)}
}

func (m *Memo) get(dn string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[strings.ToLower(dn)]
	return v, ok
}

func (m *Memo) put(dn string, members []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[strings.ToLower(dn)] = members
}

// GetNestedGroups returns the DNs of every group nested transitively
// beneath dn, preferring the server-computed closure and falling back
// to an iterative breadth-first traversal when the server lacks the
// chain matching rule. Results are memoized in memo when non-nil.
func (s *Service) GetNestedGroups(ctx context.Context, dn string, memo *Memo) ([]string, error) {
	if memo != nil {
		if cached, ok := memo.get(dn); ok {
			return cached, nil
		}
	}

	members, err := s.nestedGroupsChain(ctx, dn)
	if err != nil {
		if !chainRuleUnsupported(err) {
			return nil, err
		}
		s.log.Debug().
			Str("dn", dn).
			Msg("server does not support transitive matching, using iterative traversal")
		members, err = s.nestedGroupsBFS(ctx, dn)
		if err != nil {
			return nil, err
		}
	}

	if memo != nil {
		memo.put(dn, members)
	}
	return members, nil
}

// nestedGroupsChain asks the server for the full closure in one
// search.
func (s *Service) nestedGroupsChain(ctx context.Context, dn string) ([]string, error) {
	filter := fmt.Sprintf("(&%s(memberOf:%s:=%s))",
		groupsFilter, matchingRuleInChain, ldap.EscapeFilter(dn))

	records, err := s.gw.Search(ctx, &directory.SearchRequest{
		BaseDN:     s.baseDN,
		Scope:      directory.ScopeSubtree,
		Filter:     filter,
		Attributes: []string{"distinguishedName"},
	})
	if err != nil {
		return nil, err
	}

	members := make([]string, 0, len(records))
	for _, rec := range records {
		members = append(members, rec.DN())
	}
	return members, nil
}

// nestedGroupsBFS walks direct members level by level, deduplicating
// by DN.
func (s *Service) nestedGroupsBFS(ctx context.Context, dn string) ([]string, error) {
	seen := map[string]bool{strings.ToLower(dn): true}
	var members []string

	frontier := []string{dn}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxNestingDepth {
			return nil, directory.NewDataError("nested_groups",
				"group nesting beneath %s exceeds depth %d", dn, maxNestingDepth)
		}

		var next []string
		for _, parent := range frontier {
			filter := fmt.Sprintf("(&%s(memberOf=%s))", groupsFilter, ldap.EscapeFilter(parent))
			records, err := s.gw.Search(ctx, &directory.SearchRequest{
				BaseDN:     s.baseDN,
				Scope:      directory.ScopeSubtree,
				Filter:     filter,
				Attributes: []string{"distinguishedName"},
			})
			if err != nil {
				return nil, err
			}

			for _, rec := range records {
				child := rec.DN()
				key := strings.ToLower(child)
				if seen[key] {
					continue
				}
				seen[key] = true
				members = append(members, child)
				next = append(next, child)
			}
		}
		frontier = next
	}

	return members, nil
}

// chainRuleUnsupported reports whether the chain-rule search failed
// because the server does not implement the extension, as opposed to
// an ordinary search failure.
func chainRuleUnsupported(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultInappropriateMatching) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnwillingToPerform) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailableCriticalExtension) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultNotSupported) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultProtocolError)
}
