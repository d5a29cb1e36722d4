package access

import "fmt"

// IdentityKind distinguishes authenticated end users from internal components.
type IdentityKind string

const (
	// KindUser is an authenticated end user acting through an API surface.
	KindUser IdentityKind = "user"
	// KindSystem is an internal component (CLI bridge, desktop bridge,
	// the daemon itself) acting on its own behalf.
	KindSystem IdentityKind = "system"
)

// IdentityContext carries facts about the subject established by the
// authenticating layer. The core never populates it itself.
type IdentityContext struct {
	// Owner marks a system identity as the node owner. Owner system
	// identities are granted Manage on every system-namespace object;
	// this is the only privilege escalation path in the policy.
	Owner bool
	// NodeID identifies the node the subject was authenticated against.
	NodeID string
}

// Identity is the subject of every permission check. It is constructed by a
// calling layer after that layer's own authentication and is never persisted.
type Identity struct {
	Kind    IdentityKind
	ID      string
	Context IdentityContext
}

// User returns an end-user identity.
func User(id string, ctx IdentityContext) Identity {
	return Identity{Kind: KindUser, ID: id, Context: ctx}
}

// System returns an internal-component identity.
func System(component string, ctx IdentityContext) Identity {
	return Identity{Kind: KindSystem, ID: component, Context: ctx}
}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return i.Kind == "" && i.ID == ""
}

func (i Identity) String() string {
	if i.Context.Owner {
		return fmt.Sprintf("%s:%s (owner)", i.Kind, i.ID)
	}
	return fmt.Sprintf("%s:%s", i.Kind, i.ID)
}
