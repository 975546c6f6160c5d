package app

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/coderoom/internal/domain"
)

func TestRegistryRoomMembership(t *testing.T) {
	r := NewRegistry()
	r.BindSignal("s1", testMember("p1"), nil)
	r.BindSignal("s2", testMember("p2"), nil)

	if _, _, ok := r.RoomOf("s1"); ok {
		t.Fatal("fresh session already in a room")
	}
	if !r.UpdateRoom("s1", "r1", nil) {
		t.Fatal("UpdateRoom failed for bound session")
	}
	r.UpdateRoom("s2", "r1", nil)
	if r.UpdateRoom("ghost", "r1", nil) {
		t.Error("UpdateRoom succeeded for unbound session")
	}

	id, _, ok := r.RoomOf("s1")
	if !ok || id != "r1" {
		t.Errorf("RoomOf = %q, %v", id, ok)
	}

	r.RemoveRoom("s1")
	if _, _, ok := r.RoomOf("s1"); ok {
		t.Error("session still in room after RemoveRoom")
	}

	if r.LeaveRoom("s2", "other") {
		t.Error("LeaveRoom cleared a different room")
	}
	if id, _, _ := r.RoomOf("s2"); id != "r1" {
		t.Errorf("room of s2 = %q, want r1", id)
	}
	if !r.LeaveRoom("s2", "r1") {
		t.Error("LeaveRoom failed for current room")
	}
	if _, _, ok := r.RoomOf("s2"); ok {
		t.Error("session still in room after LeaveRoom")
	}

	r.Unbind("s2")
	if _, ok := r.GetSession("s2"); ok {
		t.Error("session survived Unbind")
	}
	if r.SessionCount() != 1 {
		t.Errorf("session count = %d", r.SessionCount())
	}
}

func TestRegistryUsers(t *testing.T) {
	r := NewRegistry()
	u := r.GetOrCreateUser("s1", "alice")
	if u.Username != "alice" {
		t.Errorf("username = %q", u.Username)
	}
	if again := r.GetOrCreateUser("s1", "bob"); again != u {
		t.Error("GetOrCreateUser created a second user")
	}
	if u := r.GetOrCreateUser("s2", ""); u.Username != domain.DefaultName {
		t.Errorf("default username = %q", u.Username)
	}

	if err := r.UpdateUsername("s1", ""); !errors.Is(err, domain.ErrUsernameEmpty) {
		t.Errorf("expected ErrUsernameEmpty, got %v", err)
	}
	if err := r.UpdateUsername("s1", "carol"); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.User("s1"); got.Username != "carol" {
		t.Errorf("username = %q", got.Username)
	}
	if err := r.UpdateUsername("ghost", "x"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r.BindSignal("s1", testMember("p1"), cancel)

	if !r.Cancel("s1") {
		t.Fatal("Cancel returned false")
	}
	if ctx.Err() == nil {
		t.Error("context not canceled")
	}
	if r.Cancel("ghost") {
		t.Error("Cancel succeeded for unknown session")
	}
}
