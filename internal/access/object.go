package access

import "fmt"

// Namespace partitions the objects a permission check can target.
type Namespace string

const (
	// NamespaceSystem covers node-wide objects: configuration, the daemon
	// itself, the TLS-forward tunnel.
	NamespaceSystem Namespace = "system"
	// NamespaceUser covers objects scoped to a single user account.
	NamespaceUser Namespace = "user"
)

// ObjectKind classifies the target of an authorization decision.
type ObjectKind string

const (
	KindConfig     ObjectKind = "config"
	KindDaemon     ObjectKind = "daemon"
	KindTLSForward ObjectKind = "tlsforward"
	KindAccount    ObjectKind = "account"
)

// Singleton is the object ID used for node-wide objects that exist exactly once.
const Singleton = "*"

// ObjectIdentity names the target of an authorization decision.
type ObjectIdentity struct {
	Namespace Namespace
	Kind      ObjectKind
	ID        string
}

// SystemObject returns the singleton system-namespace object of the given kind.
func SystemObject(kind ObjectKind) ObjectIdentity {
	return ObjectIdentity{Namespace: NamespaceSystem, Kind: kind, ID: Singleton}
}

// UserObject returns a user-namespace object.
func UserObject(kind ObjectKind, id string) ObjectIdentity {
	return ObjectIdentity{Namespace: NamespaceUser, Kind: kind, ID: id}
}

func (o ObjectIdentity) String() string {
	return fmt.Sprintf("%s/%s/%s", o.Namespace, o.Kind, o.ID)
}

// Action is the operation class a permission check evaluates.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
)

// covers reports whether holding a grants the capability b. Manage implies
// Write implies Read.
func (a Action) covers(b Action) bool {
	switch a {
	case ActionManage:
		return true
	case ActionWrite:
		return b == ActionWrite || b == ActionRead
	case ActionRead:
		return b == ActionRead
	default:
		return false
	}
}
