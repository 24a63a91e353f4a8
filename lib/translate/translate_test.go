package translate

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"bbsgate/lib/filelogger"
	"bbsgate/lib/logx"
	"bbsgate/lib/maillist"
	"bbsgate/lib/spool"
)

var testNode = NodeInfo{
	SystemName:   "The Bat Cave",
	Node:         1,
	SysopUser:    1,
	PopName:      "batcave",
	Domain:       "bbs.example.org",
	Organization: "The Bat Cave BBS",
}

var testNow = time.Date(2020, 9, 13, 12, 26, 40, 0, time.UTC)

type fakeUsers struct {
	byAddr map[string]uint16
	addrs  map[uint16]string
	names  map[uint16]string
	anon   map[uint16]bool
}

func (u *fakeUsers) LookupAddress(core string) (uint16, bool) {
	n, ok := u.byAddr[core]
	return n, ok
}

func (u *fakeUsers) AddressOf(user uint16) (string, bool) {
	a, ok := u.addrs[user]
	return a, ok
}

func (u *fakeUsers) NameOf(user uint16) (string, bool) {
	n, ok := u.names[user]
	return n, ok
}

func (u *fakeUsers) Anonymous(user uint16) bool {
	return u.anon[user]
}

func defaultUsers() *fakeUsers {
	return &fakeUsers{
		byAddr: map[string]uint16{"bruce@bbs.example.org": 7},
		addrs:  map[uint16]string{7: "bruce@bbs.example.org"},
		names:  map[uint16]string{7: "Bruce Wayne"},
		anon:   map[uint16]bool{},
	}
}

type harness struct {
	layout *spool.Layout
	lists  *maillist.Store
	users  *fakeUsers
	mint   *Mint
	lgr    logx.LoggerX
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir, err := ioutil.TempDir("", "translate")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	layout, err := spool.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	lgr, err := filelogger.NewFileLogger(
		os.Stderr, logx.CRITICAL, filelogger.ColorOff)
	if err != nil {
		t.Fatal(err)
	}

	listDir := dir + "/lists"
	if err = os.MkdirAll(listDir, 0777); err != nil {
		t.Fatal(err)
	}
	lists := maillist.New(listDir)
	if err = lists.Create("CHESS"); err != nil {
		t.Fatal(err)
	}
	if _, err = lists.Subscribe("CHESS", "alice@example.com"); err != nil {
		t.Fatal(err)
	}

	return &harness{
		layout: layout,
		lists:  lists,
		users:  defaultUsers(),
		mint:   NewMint(testNode.PopName, testNode.Domain, testNow),
		lgr:    lgr,
	}
}

func sweepOne(t *testing.T, dir, prefix, ext string) []byte {
	t.Helper()
	paths, err := spool.Sweep(dir, prefix, ext)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Fatalf("%s %s*%s: %d files, want 1", dir, prefix, ext, len(paths))
	}
	data, err := ioutil.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func sweepCount(t *testing.T, dir, prefix, ext string) int {
	t.Helper()
	paths, err := spool.Sweep(dir, prefix, ext)
	if err != nil {
		t.Fatal(err)
	}
	return len(paths)
}

func TestMint(t *testing.T) {
	m := NewMint("batcave", "bbs.example.org", testNow)
	a, b := m.Next(), m.Next()
	if a == b {
		t.Fatalf("mint repeated %s", a)
	}
	if !m.Own(a) || !m.Own(b) {
		t.Error("mint does not recognize its own stamp")
	}
	if m.Own("<123abc-other@elsewhere.example.com>") {
		t.Error("foreign id recognized as own")
	}
	if a != "<5f5e1000-batcave@bbs.example.org>" {
		t.Errorf("first id = %s", a)
	}
}

func TestJulianDay(t *testing.T) {
	if d := julianDay(time.Date(2000, 1, 1, 15, 0, 0, 0, time.UTC)); d != 2451545 {
		t.Errorf("julianDay(2000-01-01) = %d, want 2451545", d)
	}
	d1 := julianDay(time.Date(2020, 12, 31, 23, 59, 0, 0, time.UTC))
	d2 := julianDay(time.Date(2021, 1, 1, 0, 1, 0, 0, time.UTC))
	if d2 != d1+1 {
		t.Errorf("day rollover: %d -> %d", d1, d2)
	}
}

func TestDigestDay(t *testing.T) {
	path := digestFile("/tmp/digest", "chess", testNow)
	list, day, ok := DigestDay(path)
	if !ok || list != "CHESS" || day != julianDay(testNow) {
		t.Errorf("DigestDay(%s) = %q %d %v", path, list, day, ok)
	}
	if _, _, ok = DigestDay("/tmp/digest/README"); ok {
		t.Error("non-digest name accepted")
	}
}
