// Package directory implements the low-level gateway to an Active
// Directory style LDAP service: searches (paged and unpaged), entry
// mutation, bind authentication, the password-change protocol and the
// decoding of binary identifier attributes into canonical string forms.
//
// Higher layers (query, sync) talk to the directory exclusively through
// the Gateway interface and the normalized Record type defined here.
package directory
