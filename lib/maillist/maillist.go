// Package maillist manages per-list subscriber files, one address
// per line, mutated by copy-filter-rename so a crash never leaves a
// half-written list behind.
package maillist

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	au "bbsgate/lib/asciiutils"
	"bbsgate/lib/mail"
)

type Result int

const (
	ResultNone Result = iota
	Added
	AlreadyMember
	Removed
	NotMember
)

func (r Result) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyMember:
		return "already subscribed"
	case Removed:
		return "removed"
	case NotMember:
		return "not subscribed"
	}
	return "none"
}

var (
	ErrBadListName = errors.New("maillist: unsafe list name")
	ErrNoSuchList  = errors.New("maillist: no such list")
)

type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// ValidListName enforces the filename-safety rules: 2..7 characters,
// nothing that could escape into the filesystem or glob expansion.
func ValidListName(s string) bool {
	if len(s) < 2 || len(s) > 7 {
		return false
	}
	switch s[0] {
	case '-', ' ', '.', '@':
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= 32 || c > 126 {
			return false
		}
		switch c {
		case '/', '\\', ':', '>', '<', '|', '+', ',', ';', '^',
			'"', '\'', '*', '?':
			return false
		}
	}
	return true
}

func (s *Store) fileFor(list string) string {
	return filepath.Join(s.dir, "M"+strings.ToUpper(list)+".NET")
}

// Exists tells whether a membership file for list is present.
func (s *Store) Exists(list string) bool {
	if !ValidListName(list) {
		return false
	}
	_, err := os.Stat(s.fileFor(list))
	return err == nil
}

// Names lists every hosted list, upper-case, sorted.
func (s *Store) Names() []string {
	matches, err := filepath.Glob(filepath.Join(s.dir, "M*.NET"))
	if err != nil {
		return nil
	}
	var names []string
	for _, m := range matches {
		base := filepath.Base(m)
		name := strings.ToUpper(base[1 : len(base)-len(".NET")])
		if ValidListName(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Members returns the subscriber lines of list, in file order.
func (s *Store) Members(list string) ([]string, error) {
	if !ValidListName(list) {
		return nil, ErrBadListName
	}
	f, err := os.Open(s.fileFor(list))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSuchList
		}
		return nil, errors.Wrap(err, "maillist open")
	}
	defer f.Close()

	var members []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		l := au.TrimWSString(sc.Text())
		if l != "" {
			members = append(members, l)
		}
	}
	return members, errors.Wrap(sc.Err(), "maillist read")
}

// matchLine reports whether a stored subscriber line refers to the
// same mailbox as core. Substring match, case-insensitive, same as
// historical behavior: "Joe <a@b>" matches core "a@b".
func matchLine(line, core string) bool {
	return strings.Contains(strings.ToLower(line), strings.ToLower(core))
}

// IsMember reports whether address is on list.
func (s *Store) IsMember(list, address string) (bool, error) {
	members, err := s.Members(list)
	if err != nil {
		return false, err
	}
	core := mail.ExtractCoreAddress(address)
	for _, m := range members {
		if matchLine(m, core) {
			return true, nil
		}
	}
	return false, nil
}

// Subscribe adds address to list. The returned Result is Added or
// AlreadyMember; duplicates are success-with-no-op, not failures.
func (s *Store) Subscribe(list, address string) (Result, error) {
	core := mail.ExtractCoreAddress(address)
	return s.rewrite(list, func(lines []string) ([]string, Result) {
		for _, l := range lines {
			if matchLine(l, core) {
				return lines, AlreadyMember
			}
		}
		return append(lines, address), Added
	})
}

// Unsubscribe removes address from list.
func (s *Store) Unsubscribe(list, address string) (Result, error) {
	core := mail.ExtractCoreAddress(address)
	return s.rewrite(list, func(lines []string) ([]string, Result) {
		out := lines[:0]
		res := NotMember
		for _, l := range lines {
			if matchLine(l, core) {
				res = Removed
				continue
			}
			out = append(out, l)
		}
		return out, res
	})
}

func (s *Store) rewrite(
	list string, f func([]string) ([]string, Result)) (Result, error) {

	if !ValidListName(list) {
		return ResultNone, ErrBadListName
	}
	lines, err := s.Members(list)
	if err != nil {
		return ResultNone, err
	}

	lines, res := f(lines)

	fn := s.fileFor(list)
	tmp := fn + ".tmp"
	tf, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return ResultNone, errors.Wrap(err, "maillist tmp create")
	}
	w := bufio.NewWriter(tf)
	for _, l := range lines {
		w.WriteString(l)
		w.WriteByte('\n')
	}
	if err = w.Flush(); err == nil {
		err = tf.Close()
	} else {
		tf.Close()
	}
	if err != nil {
		os.Remove(tmp)
		return ResultNone, errors.Wrap(err, "maillist tmp write")
	}
	if err = os.Rename(tmp, fn); err != nil {
		os.Remove(tmp)
		return ResultNone, errors.Wrap(err, "maillist replace")
	}
	return res, nil
}

// Create makes an empty membership file. Mostly a testing aid; real
// deployments provision list files by hand.
func (s *Store) Create(list string) error {
	if !ValidListName(list) {
		return ErrBadListName
	}
	f, err := os.OpenFile(s.fileFor(list),
		os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return errors.Wrap(err, "maillist create")
	}
	return f.Close()
}
