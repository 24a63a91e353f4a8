// Package newsrc persists per-newsgroup read cursors for one news
// server: group name, last article number already processed, and the
// local subtype the group maps to. The file is rewritten wholesale,
// never appended, with a .bak copy of the previous version.
package newsrc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	au "bbsgate/lib/asciiutils"
)

// sentinelName marks the row carrying catalogue refresh state
// instead of a group cursor.
const sentinelName = "newsrc"

type Group struct {
	Name     string
	LastRead int64
	Subtype  string
}

type RefreshMode int

const (
	RefreshNone RefreshMode = iota // catalogue already refreshed today
	RefreshIncremental             // ask only for groups newer than last refresh
	RefreshFull                    // first run, pull the whole catalogue
)

type File struct {
	path        string
	groups      []Group
	index       map[string]int
	lastRefresh time.Time // zero = never
}

// Load reads the cursor file. A missing file yields an empty, usable
// File; anything else failing is a real error.
func Load(path string) (*File, error) {
	f := &File{path: path, index: make(map[string]int)}

	h, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, errors.Wrap(err, "newsrc open")
	}
	defer h.Close()

	sc := bufio.NewScanner(h)
	sc.Buffer(make([]byte, 16*1024), 16*1024)
	for sc.Scan() {
		line := au.TrimWSString(sc.Text())
		if line == "" || line[0] == ';' {
			// commented-out groups stay out of the session
			continue
		}
		name, rest := splitField(line)
		if name == sentinelName {
			if n, e := strconv.ParseInt(firstField(rest), 10, 64); e == nil {
				f.lastRefresh = time.Unix(n, 0)
			}
			continue
		}
		numStr, sub := splitField(rest)
		n, e := strconv.ParseInt(numStr, 10, 64)
		if e != nil {
			// tolerate damage, group restarts from zero
			n = 0
		}
		f.put(Group{Name: name, LastRead: n, Subtype: firstField(sub)})
	}
	if err = sc.Err(); err != nil {
		return nil, errors.Wrap(err, "newsrc read")
	}
	return f, nil
}

func splitField(s string) (string, string) {
	s = au.TrimWSString(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], au.TrimWSString(s[i+1:])
}

func firstField(s string) string {
	f, _ := splitField(s)
	return f
}

func (f *File) put(g Group) {
	if i, ok := f.index[g.Name]; ok {
		f.groups[i] = g
		return
	}
	f.index[g.Name] = len(f.groups)
	f.groups = append(f.groups, g)
}

// Groups returns cursors in file order. The slice is shared; treat
// it as read-only.
func (f *File) Groups() []Group {
	return f.groups
}

func (f *File) Lookup(name string) (Group, bool) {
	if i, ok := f.index[name]; ok {
		return f.groups[i], true
	}
	return Group{}, false
}

// Add appends a cursor row for a new group. Reports false if the
// group is already tracked.
func (f *File) Add(g Group) bool {
	if _, ok := f.index[g.Name]; ok {
		return false
	}
	f.put(g)
	return true
}

// SetLastRead moves the cursor of a tracked group.
func (f *File) SetLastRead(name string, n int64) bool {
	i, ok := f.index[name]
	if !ok {
		return false
	}
	f.groups[i].LastRead = n
	return true
}

// HasSubtype tells whether any tracked group maps to subtype.
// Posting verifies this before pushing an article at the server.
func (f *File) HasSubtype(subtype string) bool {
	for i := range f.groups {
		if au.EqualFoldString(f.groups[i].Subtype, subtype) {
			return true
		}
	}
	return false
}

// GroupForSubtype finds the group mapped to subtype.
func (f *File) GroupForSubtype(subtype string) (Group, bool) {
	for i := range f.groups {
		if au.EqualFoldString(f.groups[i].Subtype, subtype) {
			return f.groups[i], true
		}
	}
	return Group{}, false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// NeedRefresh decides between full and incremental catalogue
// refresh. At most one refresh happens per calendar day.
func (f *File) NeedRefresh(now time.Time) (RefreshMode, time.Time) {
	if f.lastRefresh.IsZero() {
		return RefreshFull, time.Time{}
	}
	if sameDay(f.lastRefresh, now) {
		return RefreshNone, f.lastRefresh
	}
	return RefreshIncremental, f.lastRefresh
}

// MarkRefreshed records a finished catalogue refresh.
func (f *File) MarkRefreshed(now time.Time) {
	f.lastRefresh = now
}

// Save rewrites the cursor file. The previous version is kept as
// .bak so operator mistakes stay recoverable.
func (f *File) Save() error {
	if _, err := os.Stat(f.path); err == nil {
		if err = copyFile(f.path, f.path+".bak"); err != nil {
			return err
		}
	}

	tmp := f.path + ".tmp"
	h, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return errors.Wrap(err, "newsrc tmp create")
	}
	w := bufio.NewWriter(h)
	if !f.lastRefresh.IsZero() {
		fmt.Fprintf(w, "%s %d\n", sentinelName, f.lastRefresh.Unix())
	}
	for i := range f.groups {
		g := &f.groups[i]
		fmt.Fprintf(w, "%s %d %s\n", g.Name, g.LastRead, g.Subtype)
	}
	if err = w.Flush(); err == nil {
		err = h.Close()
	} else {
		h.Close()
	}
	if err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "newsrc write")
	}
	if err = os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "newsrc replace")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "newsrc backup open")
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return errors.Wrap(err, "newsrc backup create")
	}
	_, err = io.Copy(out, in)
	if err1 := out.Close(); err == nil {
		err = err1
	}
	return errors.Wrap(err, "newsrc backup write")
}
