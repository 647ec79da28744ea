package query

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// Entity identifies the object class a filter targets.
type Entity string

const (
	EntityNode  Entity = "node"
	EntityGroup Entity = "group"
	EntityUser  Entity = "user"
)

// FilterDecorator customizes an entity filter before execution.
// Implementations receive the built-in filter and return the one that
// is actually sent to the server.
type FilterDecorator interface {
	Decorate(entity Entity, filter string) string
}

const (
	nodesFilter  = "(|(objectClass=organizationalUnit)(objectClass=container))"
	groupsFilter = "(objectClass=group)"

	// usersFilter excludes computer accounts and the built-in guest,
	// administrator and Kerberos service accounts.
	usersFilter = "(&(objectCategory=person)(objectClass=user)" +
		"(!(objectClass=computer))" +
		"(!(sAMAccountName=guest))" +
		"(!(sAMAccountName=administrator))" +
		"(!(sAMAccountName=krbtgt)))"
)

func emailFilter(email string) string {
	return fmt.Sprintf("(&%s(mail=%s))", usersFilter, ldap.EscapeFilter(email))
}

func userAttributeFilter(attribute, value string) string {
	return fmt.Sprintf("(&%s(%s=%s))", usersFilter, attribute, ldap.EscapeFilter(value))
}

// userGUIDFilter narrows the user filter to a single object GUID. The
// GUID is matched on its directory byte encoding.
func userGUIDFilter(guidFilter string) string {
	return fmt.Sprintf("(&%s%s)", usersFilter, guidFilter)
}

func groupGUIDFilter(guidFilter string) string {
	return fmt.Sprintf("(&%s%s)", groupsFilter, guidFilter)
}
