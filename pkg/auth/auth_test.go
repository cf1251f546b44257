package auth

import (
	"testing"

	"github.com/vectorkv/vectorkv/pkg/schema"
)

func TestAuthenticateSuccessAndFailure(t *testing.T) {
	a := New()
	if err := a.AddUser("alice", "secret-key"); err != nil {
		t.Fatal(err)
	}

	if err := a.Authenticate("alice:secret-key", "127.0.0.1"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	err := a.Authenticate("alice:wrong-key", "127.0.0.1")
	e, ok := schema.AsError(err)
	if !ok || e.Tag != schema.TagUnauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestAuthenticateUnknownUser(t *testing.T) {
	a := New()
	err := a.Authenticate("bob:whatever", "127.0.0.1")
	e, ok := schema.AsError(err)
	if !ok || e.Tag != schema.TagUnauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestAuthenticateMalformedToken(t *testing.T) {
	a := New()
	err := a.Authenticate("no-colon-here", "127.0.0.1")
	e, ok := schema.AsError(err)
	if !ok || e.Tag != schema.TagUnauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestAddUserDuplicateFails(t *testing.T) {
	a := New()
	if err := a.AddUser("alice", "k1"); err != nil {
		t.Fatal(err)
	}
	if err := a.AddUser("alice", "k2"); err != ErrUserExists {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuditLogInvoked(t *testing.T) {
	a := New()
	a.AddUser("alice", "secret")
	var events []AuditEvent
	a.SetAuditLog(func(e AuditEvent) { events = append(events, e) })

	a.Authenticate("alice:secret", "10.0.0.1")
	a.Authenticate("alice:bad", "10.0.0.1")

	if len(events) != 2 {
		t.Fatalf("got %d audit events, want 2", len(events))
	}
	if !events[0].Success || events[1].Success {
		t.Fatalf("audit events = %+v, want [success, failure]", events)
	}
}
