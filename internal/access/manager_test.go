package access

import (
	"errors"
	"testing"
)

func TestOwnerSystemIdentityManagesSystemObjects(t *testing.T) {
	m := NewManager(nil)

	owner := System("daemon", IdentityContext{Owner: true, NodeID: "local"})

	for _, kind := range []ObjectKind{KindConfig, KindDaemon, KindTLSForward} {
		for _, action := range []Action{ActionRead, ActionWrite, ActionManage} {
			if err := m.Check(owner, action, SystemObject(kind)); err != nil {
				t.Fatalf("owner %s on %s: %v", action, kind, err)
			}
		}
	}

	// The escalation does not reach user-namespace objects.
	if err := m.Check(owner, ActionWrite, UserObject(KindAccount, "u1")); err == nil {
		t.Fatalf("owner write on user object should be denied without a rule")
	}
}

func TestNonOwnerSystemIdentityDenied(t *testing.T) {
	m := NewManager(nil)

	sys := System("bridge", IdentityContext{NodeID: "local"})
	err := m.Check(sys, ActionWrite, SystemObject(KindConfig))
	if err == nil {
		t.Fatalf("expected denial")
	}

	var denied *PermissionDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected *PermissionDenied, got %T", err)
	}
	if denied.Action != ActionWrite || denied.Object.Kind != KindConfig {
		t.Fatalf("denial context mismatch: %+v", denied)
	}
	if !IsPermissionDenied(err) {
		t.Fatalf("IsPermissionDenied returned false")
	}
}

func TestRuleMatching(t *testing.T) {
	m := NewManager([]Rule{
		{SubjectKind: KindUser, SubjectID: "alice", Action: ActionWrite, Namespace: NamespaceSystem, Kind: KindConfig},
		{SubjectKind: KindUser, Action: ActionRead, Namespace: NamespaceSystem, Kind: KindDaemon},
	})

	alice := User("alice", IdentityContext{NodeID: "local"})
	bob := User("bob", IdentityContext{NodeID: "local"})

	cases := []struct {
		name    string
		id      Identity
		action  Action
		obj     ObjectIdentity
		allowed bool
	}{
		{"alice writes config", alice, ActionWrite, SystemObject(KindConfig), true},
		{"write implies read", alice, ActionRead, SystemObject(KindConfig), true},
		{"write does not imply manage", alice, ActionManage, SystemObject(KindConfig), false},
		{"bob cannot write config", bob, ActionWrite, SystemObject(KindConfig), false},
		{"any user reads daemon", bob, ActionRead, SystemObject(KindDaemon), true},
		{"read does not imply write", bob, ActionWrite, SystemObject(KindDaemon), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := m.Check(tc.id, tc.action, tc.obj)
			if tc.allowed && err != nil {
				t.Fatalf("expected allow, got %v", err)
			}
			if !tc.allowed && err == nil {
				t.Fatalf("expected denial")
			}
		})
	}
}

func TestCheckIsDeterministic(t *testing.T) {
	m := NewManager([]Rule{
		{SubjectKind: KindUser, SubjectID: "alice", Action: ActionManage, Namespace: NamespaceSystem, Kind: KindDaemon},
	})
	alice := User("alice", IdentityContext{})

	for i := 0; i < 100; i++ {
		if err := m.Check(alice, ActionManage, SystemObject(KindDaemon)); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
}

func TestReplaceStartsNewEpoch(t *testing.T) {
	m := NewManager([]Rule{
		{SubjectKind: KindUser, SubjectID: "alice", Action: ActionWrite, Namespace: NamespaceSystem, Kind: KindConfig},
	})
	alice := User("alice", IdentityContext{})

	if err := m.Check(alice, ActionWrite, SystemObject(KindConfig)); err != nil {
		t.Fatalf("pre-replace: %v", err)
	}

	m.Replace(nil)

	if err := m.Check(alice, ActionWrite, SystemObject(KindConfig)); err == nil {
		t.Fatalf("expected denial after rule set replacement")
	}
}
