package maillist

import (
	"io/ioutil"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	if err := s.Create("FOO"); err != nil {
		t.Fatalf("Create err: %v", err)
	}
	return s
}

func TestSubscribeUnsubscribe(t *testing.T) {
	s := testStore(t)

	r, err := s.Subscribe("FOO", "Joe User <joe@example.org>")
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	if r != Added {
		t.Errorf("want Added got %v", r)
	}

	// second subscribe is a no-op and must not change the file
	before, _ := ioutil.ReadFile(s.fileFor("FOO"))
	r, err = s.Subscribe("FOO", "joe@example.org")
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	if r != AlreadyMember {
		t.Errorf("want AlreadyMember got %v", r)
	}
	after, _ := ioutil.ReadFile(s.fileFor("FOO"))
	if string(before) != string(after) {
		t.Errorf("repeat subscribe changed file:\n%q\n%q", before, after)
	}

	r, err = s.Unsubscribe("FOO", "JOE@example.org")
	if err != nil {
		t.Fatalf("Unsubscribe err: %v", err)
	}
	if r != Removed {
		t.Errorf("want Removed got %v", r)
	}

	r, _ = s.Unsubscribe("FOO", "joe@example.org")
	if r != NotMember {
		t.Errorf("want NotMember got %v", r)
	}
}

func TestCoreAddressMatching(t *testing.T) {
	s := testStore(t)

	if _, err := s.Subscribe("FOO", "\"Jane\" <jane@example.org>"); err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	// same mailbox, different decoration
	r, err := s.Subscribe("FOO", "jane@example.org (Jane Q.)")
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	if r != AlreadyMember {
		t.Errorf("decorated same mailbox: want AlreadyMember got %v", r)
	}
}

func TestListNameSafety(t *testing.T) {
	s := New(t.TempDir())

	bad := []string{"", "A", "TOOLONGNAME", "../X", "A/B", "A*", "A?",
		".AB", "-AB", "@AB", "A B", "A;B"}
	for _, n := range bad {
		if ValidListName(n) {
			t.Errorf("name %q passed safety check", n)
		}
		if _, err := s.Subscribe(n, "x@y"); err != ErrBadListName {
			t.Errorf("Subscribe(%q) err = %v, want ErrBadListName", n, err)
		}
	}

	if !ValidListName("FOO") || !ValidListName("ab2") {
		t.Error("legitimate list name rejected")
	}
}

func TestMissingList(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Subscribe("NOLIST", "x@y.z"); err != ErrNoSuchList {
		t.Errorf("err = %v, want ErrNoSuchList", err)
	}
	if s.Exists("NOLIST") {
		t.Error("Exists true for missing list")
	}
}

func TestMembersOrder(t *testing.T) {
	s := testStore(t)
	for _, a := range []string{"a@x", "b@x", "c@x"} {
		if _, err := s.Subscribe("FOO", a); err != nil {
			t.Fatalf("Subscribe err: %v", err)
		}
	}
	m, err := s.Members("FOO")
	if err != nil {
		t.Fatalf("Members err: %v", err)
	}
	want := []string{"a@x", "b@x", "c@x"}
	if len(m) != len(want) {
		t.Fatalf("got %d members want %d", len(m), len(want))
	}
	for i := range want {
		if m[i] != want[i] {
			t.Errorf("member %d = %q want %q", i, m[i], want[i])
		}
	}
}
