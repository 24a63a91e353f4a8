package userdb

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func writeDB(t *testing.T, content string) string {
	t.Helper()
	dir, err := ioutil.TempDir("", "userdb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "USERS.RC")
	if err := ioutil.WriteFile(path, []byte(content), 0666); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	db, err := Load(writeDB(t, `
# exported users
1:sysop@bbs.example.org:The Sysop
5:bruce@example.org:Bruce Wayne
7:carol@example.org:Carol:anon
9:nameless@example.org
`))
	if err != nil {
		t.Fatal(err)
	}
	if db.Len() != 4 {
		t.Fatalf("loaded %d users, want 4", db.Len())
	}

	if n, ok := db.LookupAddress("BRUCE@example.org"); !ok || n != 5 {
		t.Errorf("LookupAddress gave %d, %v", n, ok)
	}
	if _, ok := db.LookupAddress("stranger@example.org"); ok {
		t.Error("unknown address resolved")
	}
	if a, ok := db.AddressOf(7); !ok || a != "carol@example.org" {
		t.Errorf("AddressOf(7) gave %q, %v", a, ok)
	}
	if name, ok := db.NameOf(5); !ok || name != "Bruce Wayne" {
		t.Errorf("NameOf(5) gave %q, %v", name, ok)
	}
	if _, ok := db.NameOf(9); ok {
		t.Error("user without a name reported one")
	}
	if !db.Anonymous(7) || db.Anonymous(5) {
		t.Error("anon flags wrong")
	}
}

func TestLoadMissing(t *testing.T) {
	dir, err := ioutil.TempDir("", "userdb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := Load(filepath.Join(dir, "USERS.RC"))
	if err != nil {
		t.Fatal(err)
	}
	if db.Len() != 0 {
		t.Error("missing file should load empty")
	}
	if _, ok := db.AddressOf(1); ok {
		t.Error("empty directory resolved a user")
	}
}

func TestLoadBadLine(t *testing.T) {
	if _, err := Load(writeDB(t, "notanumber:x@y.z\n")); err == nil {
		t.Error("bad user number accepted")
	}
	if _, err := Load(writeDB(t, "5\n")); err == nil {
		t.Error("fieldless line accepted")
	}
}
