// Package userdb loads the flat-file directory of BBS users the
// gateway is allowed to route mail for. One line per user:
//
//	number:address:Display Name[:anon]
//
// The BBS itself owns the user base; this file is an export of the
// fields the gateway needs.
package userdb

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type User struct {
	Num  uint16
	Addr string
	Name string
	Anon bool
}

type DB struct {
	byNum  map[uint16]User
	byAddr map[string]uint16
}

// Load reads path; a missing file gives an empty directory, because
// a fresh installation has not exported its users yet.
func Load(path string) (*DB, error) {
	db := &DB{
		byNum:  make(map[uint16]User),
		byAddr: make(map[string]uint16),
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		return nil, errors.Wrap(err, "userdb open")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		u, err := parseLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "userdb line %d", lineno)
		}
		db.byNum[u.Num] = u
		if u.Addr != "" {
			db.byAddr[strings.ToLower(u.Addr)] = u.Num
		}
	}
	if err = sc.Err(); err != nil {
		return nil, errors.Wrap(err, "userdb read")
	}
	return db, nil
}

func parseLine(line string) (u User, err error) {
	fields := strings.Split(line, ":")
	if len(fields) < 2 {
		err = errors.New("want number:address at least")
		return
	}
	n, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 16)
	if err != nil {
		err = errors.New("bad user number")
		return
	}
	u.Num = uint16(n)
	u.Addr = strings.TrimSpace(fields[1])
	if len(fields) > 2 {
		u.Name = strings.TrimSpace(fields[2])
	}
	if len(fields) > 3 {
		u.Anon = strings.EqualFold(strings.TrimSpace(fields[3]), "anon")
	}
	return
}

func (db *DB) Len() int {
	return len(db.byNum)
}

// LookupAddress maps a core address to a local user number.
func (db *DB) LookupAddress(coreAddr string) (uint16, bool) {
	n, ok := db.byAddr[strings.ToLower(coreAddr)]
	return n, ok
}

func (db *DB) AddressOf(user uint16) (string, bool) {
	u, ok := db.byNum[user]
	if !ok || u.Addr == "" {
		return "", false
	}
	return u.Addr, true
}

func (db *DB) NameOf(user uint16) (string, bool) {
	u, ok := db.byNum[user]
	if !ok || u.Name == "" {
		return "", false
	}
	return u.Name, true
}

func (db *DB) Anonymous(user uint16) bool {
	u, ok := db.byNum[user]
	return ok && u.Anon
}
