// Package msgidstore keeps Message-IDs of mail and news already
// processed, so repeated runs of the gateway stay idempotent.
package msgidstore

import (
	"bytes"
	"io/ioutil"
	"os"

	"github.com/pkg/errors"

	mm "bbsgate/lib/minimail"
)

// fixed-width records: 80 ID bytes zero-padded plus one always-zero byte.
// longer IDs are stored truncated, which is fine for dupe checking as
// long as both sides truncate the same way.
const recordSize = 81
const idBytes = recordSize - 1

// DefaultMaxIDs bounds the linear scan; table compacts above it.
const DefaultMaxIDs = 250

type Store struct {
	path   string
	maxIDs int
}

func New(path string) *Store {
	return &Store{path: path, maxIDs: DefaultMaxIDs}
}

func NewWithLimit(path string, maxIDs int) *Store {
	if maxIDs < 2 {
		maxIDs = 2
	}
	return &Store{path: path, maxIDs: maxIDs}
}

func packRecord(id mm.CoreMsgIDStr) (r [recordSize]byte) {
	copy(r[:idBytes], id)
	return
}

func (s *Store) load() ([]byte, error) {
	b, err := ioutil.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "msgidstore read")
	}
	// ignore a trailing partial record from a cut-off write
	return b[:len(b)-len(b)%recordSize], nil
}

// Seen reports whether id was recorded before. Matching is exact
// string equality, no semantic normalization.
func (s *Store) Seen(id mm.CoreMsgIDStr) (bool, error) {
	b, err := s.load()
	if err != nil {
		return false, err
	}
	r := packRecord(id)
	for o := 0; o < len(b); o += recordSize {
		if bytes.Equal(b[o:o+recordSize], r[:]) {
			return true, nil
		}
	}
	return false, nil
}

// Record appends id. It does not check for duplicates; use Seen
// first when that matters. Compacts when the table outgrows the
// ceiling.
func (s *Store) Record(id mm.CoreMsgIDStr) error {
	n, err := s.count()
	if err != nil {
		return err
	}
	if n > s.maxIDs {
		if err = s.Compact(); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(s.path,
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return errors.Wrap(err, "msgidstore open")
	}
	r := packRecord(id)
	_, err = f.Write(r[:])
	if err1 := f.Close(); err == nil {
		err = err1
	}
	return errors.Wrap(err, "msgidstore append")
}

func (s *Store) count() (int, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "msgidstore stat")
	}
	return int(fi.Size() / recordSize), nil
}

// Compact drops the oldest half of the table, preserving the order
// of what remains.
func (s *Store) Compact() error {
	b, err := s.load()
	if err != nil {
		return err
	}
	n := len(b) / recordSize
	keepFrom := (n / 2) * recordSize

	tmp := s.path + ".tmp"
	if err = ioutil.WriteFile(tmp, b[keepFrom:], 0666); err != nil {
		return errors.Wrap(err, "msgidstore compact write")
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "msgidstore compact rename")
	}
	return nil
}

// Len reports the number of stored records.
func (s *Store) Len() (int, error) {
	return s.count()
}
