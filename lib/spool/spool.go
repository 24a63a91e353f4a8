// Package spool owns the gateway's on-disk staging area: one
// directory per stage of a message's life, rotating numeric file
// names, and atomic writes so a crash never leaves a half-written
// file where a sweep will pick it up.
package spool

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Layout holds the resolved staging directories under one data root.
type Layout struct {
	Root     string
	Spool    string // staged inbound mail awaiting import
	Inbound  string // staged subscribe/unsubscribe requests
	Packets  string // packet files arriving from the network for export
	Outbound string // packet files and articles headed out
	Mqueue   string // outbound mail awaiting SMTP delivery
	Sent     string // archive copies of delivered mail
	Digest   string // per-list digest accumulation
	Failed   string // permanently rejected outbound mail
	Check    string // quarantined material for operator review
}

// Open resolves the layout under root and creates any directory that
// is missing.
func Open(root string) (*Layout, error) {
	l := &Layout{
		Root:     root,
		Spool:    filepath.Join(root, "spool"),
		Inbound:  filepath.Join(root, "inbound"),
		Packets:  filepath.Join(root, "packets"),
		Outbound: filepath.Join(root, "outbound"),
		Mqueue:   filepath.Join(root, "mqueue"),
		Sent:     filepath.Join(root, "sent"),
		Digest:   filepath.Join(root, "digest"),
		Failed:   filepath.Join(root, "failed"),
		Check:    filepath.Join(root, "check"),
	}
	for _, d := range []string{
		l.Spool, l.Inbound, l.Packets, l.Outbound, l.Mqueue,
		l.Sent, l.Digest, l.Failed, l.Check,
	} {
		if err := os.MkdirAll(d, 0777); err != nil {
			return nil, errors.Wrap(err, "spool layout")
		}
	}
	return l, nil
}

// NextName picks the lowest unused rotating name prefix<n>ext in dir.
// Concurrent writers are not a concern; each sweep owns its
// directory for the duration of a run.
func NextName(dir, prefix, ext string) (string, error) {
	taken, err := sweepNumbers(dir, prefix, ext)
	if err != nil {
		return "", err
	}
	n := uint64(0)
	for _, t := range taken {
		if t != n {
			break
		}
		n++
	}
	return filepath.Join(dir, prefix+strconv.FormatUint(n, 10)+ext), nil
}

func sweepNumbers(dir, prefix, ext string) ([]uint64, error) {
	fis, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "spool scan")
	}
	var nums []uint64
	for _, fi := range fis {
		if fi.IsDir() {
			continue
		}
		if n, ok := parseRotating(fi.Name(), prefix, ext); ok {
			nums = append(nums, n)
		}
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

func parseRotating(name, prefix, ext string) (uint64, bool) {
	un := strings.ToUpper(name)
	up, ue := strings.ToUpper(prefix), strings.ToUpper(ext)
	if !strings.HasPrefix(un, up) || !strings.HasSuffix(un, ue) {
		return 0, false
	}
	mid := name[len(prefix) : len(name)-len(ext)]
	if mid == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(mid, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Sweep lists rotating files prefix<n>ext in dir, ordered by number,
// which is the order they were staged in.
func Sweep(dir, prefix, ext string) ([]string, error) {
	nums, err := sweepNumbers(dir, prefix, ext)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(nums))
	for i, n := range nums {
		paths[i] = filepath.Join(dir, prefix+strconv.FormatUint(n, 10)+ext)
	}
	return paths, nil
}

// WriteFile stages data under a rotating name and returns the final
// path. The write goes to a .tmp sibling first so sweeps never see a
// partial file.
func WriteFile(dir, prefix, ext string, data []byte) (string, error) {
	path, err := NextName(dir, prefix, ext)
	if err != nil {
		return "", err
	}
	if err = WriteFileTo(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFileTo atomically writes data to an exact path.
func WriteFileTo(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := ioutil.WriteFile(tmp, data, 0666); err != nil {
		return errors.Wrap(err, "spool write")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "spool place")
	}
	return nil
}

// Move relocates a staged file into dir under a fresh rotating name
// built from the destination prefix/ext. Rename is tried first;
// copy-and-delete covers a data root split across filesystems.
func Move(src, dir, prefix, ext string) (string, error) {
	dst, err := NextName(dir, prefix, ext)
	if err != nil {
		return "", err
	}
	if err = os.Rename(src, dst); err == nil {
		return dst, nil
	}
	data, err := ioutil.ReadFile(src)
	if err != nil {
		return "", errors.Wrap(err, "spool move read")
	}
	if err = WriteFileTo(dst, data); err != nil {
		return "", err
	}
	if err = os.Remove(src); err != nil {
		return "", errors.Wrap(err, "spool move unlink")
	}
	return dst, nil
}

// AppendFile appends data to path, creating it if needed. Digest
// accumulation is the only appender; it tolerates duplicates over a
// crash better than it would tolerate losing a day of traffic.
func AppendFile(path string, data []byte) error {
	h, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return errors.Wrap(err, "spool append open")
	}
	_, err = h.Write(data)
	if err1 := h.Close(); err == nil {
		err = err1
	}
	return errors.Wrap(err, "spool append")
}

// CopyTo duplicates a staged file to an exact destination path.
func CopyTo(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "spool copy open")
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return errors.Wrap(err, "spool copy create")
	}
	_, err = io.Copy(out, in)
	if err1 := out.Close(); err == nil {
		err = err1
	}
	return errors.Wrap(err, "spool copy")
}
