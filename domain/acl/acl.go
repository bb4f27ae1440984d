// Package acl provides access-control entities pulled from the content
// repository: ACLs and the authority lists governing read access.
package acl

import "strings"

// Acl carries the reader and denied authority lists for one access
// control list. One index document is written per Acl.
type Acl struct {
	id          int64
	changeSetID int64
	readers     []string
	denied      []string
}

// NewAcl creates an Acl from repository data.
func NewAcl(id, changeSetID int64, readers, denied []string) Acl {
	return Acl{
		id:          id,
		changeSetID: changeSetID,
		readers:     append([]string(nil), readers...),
		denied:      append([]string(nil), denied...),
	}
}

// ID returns the ACL id.
func (a Acl) ID() int64 { return a.id }

// ChangeSetID returns the owning change-set id.
func (a Acl) ChangeSetID() int64 { return a.changeSetID }

// Readers returns the reader authorities.
func (a Acl) Readers() []string {
	return append([]string(nil), a.readers...)
}

// Denied returns the denied authorities.
func (a Acl) Denied() []string {
	return append([]string(nil), a.denied...)
}

// AuthorityClass classifies an authority string.
type AuthorityClass int

// AuthorityClass values.
const (
	AuthorityUser AuthorityClass = iota
	AuthorityGroup
	AuthorityGuest
	AuthorityEveryone
)

const (
	groupPrefix       = "GROUP_"
	guestAuthority    = "guest"
	everyoneAuthority = "GROUP_EVERYONE"
)

// ClassifyAuthority determines the class of an authority string.
func ClassifyAuthority(authority string) AuthorityClass {
	switch {
	case authority == everyoneAuthority:
		return AuthorityEveryone
	case strings.HasPrefix(authority, groupPrefix):
		return AuthorityGroup
	case strings.EqualFold(authority, guestAuthority):
		return AuthorityGuest
	default:
		return AuthorityUser
	}
}

// QualifyAuthority tenant-qualifies an authority as "authority@tenant".
// Only group, guest, and everyone authorities are qualified: user
// authorities already embed their tenant upstream, and double-qualifying
// them would break reader filtering.
func QualifyAuthority(authority, tenant string) string {
	if tenant == "" {
		return authority
	}
	switch ClassifyAuthority(authority) {
	case AuthorityGroup, AuthorityGuest, AuthorityEveryone:
		return authority + "@" + tenant
	default:
		return authority
	}
}

// QualifyAll tenant-qualifies every authority in the list.
func QualifyAll(authorities []string, tenant string) []string {
	out := make([]string, len(authorities))
	for i, a := range authorities {
		out[i] = QualifyAuthority(a, tenant)
	}
	return out
}

// Readers is the repository response for one ACL's authority lists.
type Readers struct {
	aclID       int64
	changeSetID int64
	readers     []string
	denied      []string
}

// NewReaders creates a Readers response value.
func NewReaders(aclID, changeSetID int64, readers, denied []string) Readers {
	return Readers{
		aclID:       aclID,
		changeSetID: changeSetID,
		readers:     append([]string(nil), readers...),
		denied:      append([]string(nil), denied...),
	}
}

// AclID returns the ACL id the lists belong to.
func (r Readers) AclID() int64 { return r.aclID }

// ChangeSetID returns the owning change-set id.
func (r Readers) ChangeSetID() int64 { return r.changeSetID }

// Readers returns the reader authorities.
func (r Readers) Readers() []string {
	return append([]string(nil), r.readers...)
}

// Denied returns the denied authorities.
func (r Readers) Denied() []string {
	return append([]string(nil), r.denied...)
}
