package policy

import (
	"context"
	"errors"
	"testing"
)

// fixtureDirectory keys active mentorships as mentorID -> menteeID set.
type fixtureDirectory struct {
	links map[string]map[string]bool
	err   error
}

func (d *fixtureDirectory) HasActiveMentorship(_ context.Context, mentorID, menteeID string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.links[mentorID][menteeID], nil
}

func (d *fixtureDirectory) link(mentorID, menteeID string) {
	if d.links == nil {
		d.links = map[string]map[string]bool{}
	}
	if d.links[mentorID] == nil {
		d.links[mentorID] = map[string]bool{}
	}
	d.links[mentorID][menteeID] = true
}

func (d *fixtureDirectory) unlink(mentorID, menteeID string) {
	delete(d.links[mentorID], menteeID)
}

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"admin":   RoleAdmin,
		"mentor":  RoleMentor,
		"mentee":  RoleMentee,
		"":        RoleUnknown,
		"Admin":   RoleUnknown,
		"teacher": RoleUnknown,
	}
	for input, expect := range cases {
		if got := ParseRole(input); got != expect {
			t.Fatalf("ParseRole(%q) = %s, expected %s", input, got, expect)
		}
	}
}

func TestSelfAccess(t *testing.T) {
	engine := NewEngine(&fixtureDirectory{})
	own := Resource{Kind: "sadhana_log", OwnerID: "user-1"}

	for _, role := range []Role{RoleMentee, RoleMentor, RoleAdmin, RoleUnknown} {
		p := Principal{ID: "user-1", Role: role}
		for _, action := range []Action{ActionRead, ActionWrite} {
			decision, err := engine.Authorize(context.Background(), p, action, own)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decision != Allow {
				t.Fatalf("expected allow for role %s on own row", role)
			}
		}
	}
}

func TestDefaultDeny(t *testing.T) {
	engine := NewEngine(&fixtureDirectory{})
	other := Resource{Kind: "sadhana_log", OwnerID: "user-2"}

	for _, role := range []Role{RoleMentee, RoleMentor, RoleUnknown} {
		p := Principal{ID: "user-1", Role: role}
		for _, action := range []Action{ActionRead, ActionWrite} {
			decision, err := engine.Authorize(context.Background(), p, action, other)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decision != Deny {
				t.Fatalf("expected deny for role %s, action %d on foreign row", role, action)
			}
		}
	}
}

func TestAdminOverride(t *testing.T) {
	engine := NewEngine(&fixtureDirectory{})
	admin := Principal{ID: "admin-1", Role: RoleAdmin}

	resources := []Resource{
		{Kind: "user", OwnerID: "user-2"},
		{Kind: "batch", OwnerID: "mentor-1"},
		{Kind: "sadhana_log", OwnerID: "user-3"},
		{Kind: "department", Shared: true},
	}
	for _, res := range resources {
		for _, action := range []Action{ActionRead, ActionWrite} {
			decision, err := engine.Authorize(context.Background(), admin, action, res)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decision != Allow {
				t.Fatalf("expected allow for admin on %s", res.Kind)
			}
		}
	}
}

func TestMentorReadOnly(t *testing.T) {
	directory := &fixtureDirectory{}
	directory.link("mentor-1", "mentee-1")
	engine := NewEngine(directory)

	mentor := Principal{ID: "mentor-1", Role: RoleMentor}
	menteeRow := Resource{Kind: "sadhana_log", OwnerID: "mentee-1"}

	decision, err := engine.Authorize(context.Background(), mentor, ActionRead, menteeRow)
	if err != nil || decision != Allow {
		t.Fatalf("expected read allow for mentor over linked mentee, got %d, %v", decision, err)
	}

	decision, err = engine.Authorize(context.Background(), mentor, ActionWrite, menteeRow)
	if err != nil || decision != Deny {
		t.Fatalf("expected write deny for mentor over linked mentee, got %d, %v", decision, err)
	}

	// A mentor with no link to the owner gets nothing.
	stranger := Resource{Kind: "sadhana_log", OwnerID: "mentee-2"}
	decision, err = engine.Authorize(context.Background(), mentor, ActionRead, stranger)
	if err != nil || decision != Deny {
		t.Fatalf("expected deny for unlinked mentee, got %d, %v", decision, err)
	}
}

func TestMembershipRemovalRevokesVisibility(t *testing.T) {
	directory := &fixtureDirectory{}
	directory.link("mentor-1", "mentee-1")
	engine := NewEngine(directory)

	mentor := Principal{ID: "mentor-1", Role: RoleMentor}
	menteeRow := Resource{Kind: "sadhana_log", OwnerID: "mentee-1"}

	decision, _ := engine.Authorize(context.Background(), mentor, ActionRead, menteeRow)
	if decision != Allow {
		t.Fatalf("expected allow while membership exists")
	}

	directory.unlink("mentor-1", "mentee-1")

	decision, _ = engine.Authorize(context.Background(), mentor, ActionRead, menteeRow)
	if decision != Deny {
		t.Fatalf("expected deny immediately after membership removal")
	}
}

func TestSharedReferenceRows(t *testing.T) {
	engine := NewEngine(&fixtureDirectory{})
	ref := Resource{Kind: "spiritual_master", Shared: true}

	for _, role := range []Role{RoleMentee, RoleMentor, RoleUnknown} {
		p := Principal{ID: "user-1", Role: role}
		decision, err := engine.Authorize(context.Background(), p, ActionRead, ref)
		if err != nil || decision != Allow {
			t.Fatalf("expected read allow on shared row for role %s", role)
		}
		decision, err = engine.Authorize(context.Background(), p, ActionWrite, ref)
		if err != nil || decision != Deny {
			t.Fatalf("expected write deny on shared row for role %s", role)
		}
	}
}

func TestDirectoryErrorFailsClosed(t *testing.T) {
	directory := &fixtureDirectory{err: errors.New("directory unavailable")}
	engine := NewEngine(directory)

	mentor := Principal{ID: "mentor-1", Role: RoleMentor}
	menteeRow := Resource{Kind: "sadhana_log", OwnerID: "mentee-1"}

	decision, err := engine.Authorize(context.Background(), mentor, ActionRead, menteeRow)
	if err == nil {
		t.Fatalf("expected directory error to surface")
	}
	if decision != Deny {
		t.Fatalf("expected deny on directory error")
	}
}

func TestUnknownRoleSelfOnly(t *testing.T) {
	directory := &fixtureDirectory{}
	directory.link("user-1", "mentee-1")
	engine := NewEngine(directory)

	// A directory link does not help a principal whose role claim is missing.
	p := Principal{ID: "user-1", Role: RoleUnknown}
	decision, err := engine.Authorize(context.Background(), p, ActionRead, Resource{Kind: "sadhana_log", OwnerID: "mentee-1"})
	if err != nil || decision != Deny {
		t.Fatalf("expected deny for roleless principal beyond self-access")
	}

	decision, err = engine.Authorize(context.Background(), p, ActionWrite, Resource{Kind: "user", OwnerID: "user-1"})
	if err != nil || decision != Allow {
		t.Fatalf("expected self-access to survive a missing role")
	}
}

func TestEmptyOwnerNeverMatchesEmptyPrincipal(t *testing.T) {
	engine := NewEngine(&fixtureDirectory{})
	p := Principal{ID: "", Role: RoleMentee}
	decision, _ := engine.Authorize(context.Background(), p, ActionRead, Resource{Kind: "batch", OwnerID: ""})
	if decision != Deny {
		t.Fatalf("expected deny when both owner and principal ids are empty")
	}
}
