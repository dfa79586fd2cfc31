package model

// Reserved principal ids as stored on disk. They are translated to the
// repository's configured runtime identifiers before an ACL leaves the
// engine.
const (
	PrincipalAnonymousOnDisk = "system:anonymous"
	PrincipalAnyoneOnDisk    = "system:anyone"
	PrincipalSystem          = "system"
)

// Permission names.
const (
	PermissionRead  = "cmis:read"
	PermissionWrite = "cmis:write"
	PermissionAll   = "cmis:all"
)

// Ace grants a principal a set of permission names. Direct is true when the
// ace is authored on the object itself, false when it was computed from an
// ancestor.
type Ace struct {
	PrincipalID string   `json:"principalId"`
	Permissions []string `json:"permissions"`
	Direct      bool     `json:"direct"`
}

// ACL holds the aces authored on an object (persisted) and the aces
// computed through inheritance (transient, never stored).
type ACL struct {
	LocalAces     []Ace `json:"localAces,omitempty"`
	InheritedAces []Ace `json:"-"`
}

// AllAces returns local and inherited aces as one list.
func (a *ACL) AllAces() []Ace {
	all := make([]Ace, 0, len(a.LocalAces)+len(a.InheritedAces))
	all = append(all, a.LocalAces...)
	all = append(all, a.InheritedAces...)
	return all
}

// Clone deep-copies the ACL so cached results cannot be mutated by callers.
func (a *ACL) Clone() *ACL {
	out := &ACL{}
	for _, ace := range a.LocalAces {
		out.LocalAces = append(out.LocalAces, ace.Clone())
	}
	for _, ace := range a.InheritedAces {
		out.InheritedAces = append(out.InheritedAces, ace.Clone())
	}
	return out
}

// Clone deep-copies the ace including its permission list.
func (a Ace) Clone() Ace {
	permissions := make([]string, len(a.Permissions))
	copy(permissions, a.Permissions)
	return Ace{PrincipalID: a.PrincipalID, Permissions: permissions, Direct: a.Direct}
}
