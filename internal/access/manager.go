package access

import (
	"errors"
	"fmt"
	"sync"
)

// PermissionDenied is returned when no allow rule matches a check. It carries
// the full decision context so callers can surface a precise failure.
type PermissionDenied struct {
	Identity Identity
	Action   Action
	Object   ObjectIdentity
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("access: %s denied %s on %s", e.Identity, e.Action, e.Object)
}

// Rule grants an action on a set of objects to a single subject.
type Rule struct {
	// SubjectKind and SubjectID select the identity the rule applies to.
	// An empty SubjectID matches any subject of the kind.
	SubjectKind IdentityKind
	SubjectID   string

	Action Action

	// Namespace and Kind select the objects. An empty ObjectID matches any
	// object of the kind, including the singleton.
	Namespace Namespace
	Kind      ObjectKind
	ObjectID  string
}

func (r Rule) matches(id Identity, action Action, obj ObjectIdentity) bool {
	if r.SubjectKind != id.Kind {
		return false
	}
	if r.SubjectID != "" && r.SubjectID != id.ID {
		return false
	}
	if r.Namespace != obj.Namespace || r.Kind != obj.Kind {
		return false
	}
	if r.ObjectID != "" && r.ObjectID != obj.ID {
		return false
	}
	return r.Action.covers(action)
}

// Manager evaluates whether an identity may perform an action on an object.
// Evaluation is pure over the loaded rule set: identical inputs yield the
// same decision within a configuration epoch. Replace swaps the whole rule
// set atomically to begin a new epoch.
type Manager struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewManager creates a manager over the given rule set.
func NewManager(rules []Rule) *Manager {
	m := &Manager{}
	m.Replace(rules)
	return m
}

// Replace installs a new rule set, starting a new configuration epoch.
func (m *Manager) Replace(rules []Rule) {
	copied := make([]Rule, len(rules))
	copy(copied, rules)
	m.mu.Lock()
	m.rules = copied
	m.mu.Unlock()
}

// Grant appends a rule to the active set.
func (m *Manager) Grant(rule Rule) {
	m.mu.Lock()
	m.rules = append(m.rules, rule)
	m.mu.Unlock()
}

// Check returns nil when the identity may perform the action on the object,
// and *PermissionDenied otherwise. It performs no I/O.
func (m *Manager) Check(id Identity, action Action, obj ObjectIdentity) error {
	// Owner system identities hold Manage on every system-namespace object.
	// The escalation is explicit here so it can never be reintroduced by a
	// missing check elsewhere.
	if id.Kind == KindSystem && id.Context.Owner && obj.Namespace == NamespaceSystem {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rules {
		if r.matches(id, action, obj) {
			return nil
		}
	}
	return &PermissionDenied{Identity: id, Action: action, Object: obj}
}

// IsPermissionDenied reports whether err is (or wraps) a PermissionDenied.
func IsPermissionDenied(err error) bool {
	var target *PermissionDenied
	return errors.As(err, &target)
}
