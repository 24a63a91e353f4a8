package keywords

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeList(t *testing.T, body string) string {
	t.Helper()
	dir, err := ioutil.TempDir("", "keywords")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "filter")
	if err = ioutil.WriteFile(path, []byte(body), 0666); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMissingFileIsEmpty(t *testing.T) {
	l, err := Load(filepath.Join(os.TempDir(), "definitely-not-here-kw"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, hit := l.Match(ScopeMail, "anything at all"); hit {
		t.Error("empty list matched")
	}
}

func TestSubstringCaseFold(t *testing.T) {
	l, err := Load(writeList(t, "MAKE MONEY FAST\n; a comment\nfree offer\n"))
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		text string
		want string
		hit  bool
	}{
		{"Re: make money fast!!!", "MAKE MONEY FAST", true},
		{"your FREE OFFER awaits", "free offer", true},
		{"quarterly report", "", false},
		{"; a comment", "", false},
	}
	for _, c := range cases {
		got, hit := l.Match(ScopeMail, c.text)
		if hit != c.hit || got != c.want {
			t.Errorf("Match(%q) = %q %v, want %q %v", c.text, got, hit, c.want, c.hit)
		}
	}
}

func TestGlobEntries(t *testing.T) {
	l, err := Load(writeList(t, "*.invalid\n*cash*now*\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, hit := l.Match(ScopeMail, "spammer@example.invalid"); !hit {
		t.Error("suffix glob did not match")
	}
	if _, hit := l.Match(ScopeMail, "get CASH right NOW friend"); !hit {
		t.Error("infix glob did not match")
	}
	if _, hit := l.Match(ScopeMail, "invalid argument in report"); hit {
		t.Error("glob matched text it should anchor past")
	}
}

func TestSections(t *testing.T) {
	body := strings.Join([]string{
		"everywhere",
		"[NEWS]",
		"usenet-only",
		"[MAIL]",
		"mail-only",
		"[GLOBAL]",
		"also everywhere",
	}, "\n")
	l, err := Load(writeList(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if l.Len() != 4 {
		t.Fatalf("Len = %d, want 4", l.Len())
	}
	for _, c := range []struct {
		scope Scope
		text  string
		hit   bool
	}{
		{ScopeMail, "everywhere", true},
		{ScopeNews, "also everywhere", true},
		{ScopeMail, "usenet-only", false},
		{ScopeNews, "usenet-only", true},
		{ScopeNews, "mail-only", false},
		{ScopeMail, "mail-only", true},
	} {
		if _, hit := l.Match(c.scope, c.text); hit != c.hit {
			t.Errorf("Match(%v, %q) = %v, want %v", c.scope, c.text, hit, c.hit)
		}
	}
}

func TestMultipleTextsSenderThenSubject(t *testing.T) {
	l, err := Load(writeList(t, "badguy@\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, hit := l.Match(ScopeMail, "Badguy@example.com", "hello"); !hit {
		t.Error("sender text not checked")
	}
}
