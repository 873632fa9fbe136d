package core

import "testing"

func TestRegistryLaterRegistrationSupersedes(t *testing.T) {
	r := NewRegistry()
	c1 := NewClient("c1", 1, "alice")
	c2 := NewClient("c2", 1, "alice")

	r.Register(1, c1)
	r.Register(1, c2)

	got, ok := r.Lookup(1)
	if !ok || got != c2 {
		t.Fatalf("lookup should return the latest handle, got %v ok=%v", got, ok)
	}

	// The superseded handle no longer owns any registration.
	if _, ok := r.Unregister(c1); ok {
		t.Fatalf("unregister of superseded handle should return no user")
	}

	userID, ok := r.Unregister(c2)
	if !ok || userID != 1 {
		t.Fatalf("unregister of live handle should free user 1, got %d ok=%v", userID, ok)
	}
	if _, ok := r.Lookup(1); ok {
		t.Fatalf("user should be gone after unregister")
	}
}

func TestRegistryUnregisterUnknownHandle(t *testing.T) {
	r := NewRegistry()
	c := NewClient("c", 1, "alice")

	if _, ok := r.Unregister(c); ok {
		t.Fatalf("unregister of never-registered handle should be a no-op")
	}
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := NewClient("c", 1, "alice")

	r.Register(1, c)
	r.Register(1, c)

	if r.Len() != 1 {
		t.Fatalf("expected a single registration, got %d", r.Len())
	}
	if got, ok := r.Lookup(1); !ok || got != c {
		t.Fatalf("lookup mismatch after repeated register")
	}
}

func TestRegistryClearsStaleCrossMapping(t *testing.T) {
	r := NewRegistry()
	c := NewClient("c", 1, "alice")

	r.Register(1, c)
	// The same handle re-authenticates as another user.
	r.Register(2, c)

	if _, ok := r.Lookup(1); ok {
		t.Fatalf("old user should no longer resolve to the handle")
	}
	if got, ok := r.Lookup(2); !ok || got != c {
		t.Fatalf("new user should resolve to the handle")
	}

	userID, ok := r.Unregister(c)
	if !ok || userID != 2 {
		t.Fatalf("handle should free user 2, got %d ok=%v", userID, ok)
	}
}

func TestBroadcastAllExcludesAffected(t *testing.T) {
	a := NewClient("a", 1, "alice")
	b := NewClient("b", 2, "bob")
	c := NewClient("c", 3, "carol")

	got := BroadcastAll{}.Recipients(a, []*Client{a, b, c})
	if len(got) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(got))
	}
	for _, r := range got {
		if r == a {
			t.Fatalf("affected client must not receive its own presence change")
		}
	}
}

func TestSharedRoomsScope(t *testing.T) {
	a := NewClient("a", 1, "alice")
	b := NewClient("b", 2, "bob")
	c := NewClient("c", 3, "carol")

	a.Rooms["general"] = struct{}{}
	b.Rooms["general"] = struct{}{}
	c.Rooms["random"] = struct{}{}

	got := SharedRooms{}.Recipients(a, []*Client{a, b, c})
	if len(got) != 1 || got[0] != b {
		t.Fatalf("expected only the room mate, got %v", got)
	}
}

func TestScopePolicyFromName(t *testing.T) {
	if _, ok := ScopePolicyFromName("rooms").(SharedRooms); !ok {
		t.Fatalf("rooms should map to SharedRooms")
	}
	if _, ok := ScopePolicyFromName("all").(BroadcastAll); !ok {
		t.Fatalf("all should map to BroadcastAll")
	}
	if _, ok := ScopePolicyFromName("").(BroadcastAll); !ok {
		t.Fatalf("unknown scope should default to BroadcastAll")
	}
}
