// Package keywords matches message headers against operator-maintained
// filter files. An entry is either a case-insensitive substring or,
// when it carries glob metacharacters, a glob pattern matched against
// the whole text. Files may be split into [GLOBAL], [NEWS] and [MAIL]
// sections; a sectionless file behaves as all-GLOBAL.
package keywords

import (
	"bufio"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"

	au "bbsgate/lib/asciiutils"
)

type Scope uint

const (
	ScopeNews Scope = 1 << iota
	ScopeMail

	scopeAll = ScopeNews | ScopeMail
)

var sectionNames = map[string]Scope{
	"[GLOBAL]": scopeAll,
	"[NEWS]":   ScopeNews,
	"[MAIL]":   ScopeMail,
}

type entry struct {
	raw   string // as written in the file, for reporting
	sub   string // lowered substring form, "" when pat is set
	pat   glob.Glob
	scope Scope
}

type List struct {
	entries []entry
}

// Load parses a filter file. A missing file is an empty list, not an
// error, so deployments without a spam file run unfiltered.
func Load(path string) (*List, error) {
	l := &List{}

	h, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, errors.Wrap(err, "keywords open")
	}
	defer h.Close()

	scope := scopeAll
	sc := bufio.NewScanner(h)
	for sc.Scan() {
		line := au.TrimWSString(sc.Text())
		if line == "" || line[0] == ';' {
			continue
		}
		if s, ok := sectionNames[strings.ToUpper(line)]; ok {
			scope = s
			continue
		}
		e := entry{raw: line, scope: scope}
		folded := fold(line)
		if strings.ContainsAny(line, "*?[{\\") {
			g, err := glob.Compile(folded)
			if err != nil {
				// bad pattern degrades to a substring entry
				e.sub = folded
			} else {
				e.pat = g
			}
		} else {
			e.sub = folded
		}
		l.entries = append(l.entries, e)
	}
	if err = sc.Err(); err != nil {
		return nil, errors.Wrap(err, "keywords read")
	}
	return l, nil
}

// fold prepares text for matching: NFKC so width/compatibility
// variants of a word cannot dodge the filter, then ASCII-ish lower.
func fold(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

func (e *entry) match(folded string) bool {
	if e.pat != nil {
		return e.pat.Match(folded)
	}
	return strings.Contains(folded, e.sub)
}

// Match reports the first entry visible in scope that matches any of
// the given texts, usually a sender and a subject.
func (l *List) Match(scope Scope, texts ...string) (string, bool) {
	if len(l.entries) == 0 {
		return "", false
	}
	for _, t := range texts {
		ft := fold(t)
		for i := range l.entries {
			e := &l.entries[i]
			if e.scope&scope != 0 && e.match(ft) {
				return e.raw, true
			}
		}
	}
	return "", false
}

// Len reports the number of loaded entries.
func (l *List) Len() int {
	return len(l.entries)
}
