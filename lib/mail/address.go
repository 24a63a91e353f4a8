package mail

import (
	"strings"
)

func isAtext(c byte) bool {
	if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') {

		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '/',
		'=', '?', '^', '_', '`', '{', '|', '}', '~':

		return true
	}
	return false
}

func isPlainPhrase(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isAtext(s[i]) {
			return false
		}
	}
	return true
}

// FormatAddress renders display name and address as one mailbox
// specification suitable for From/To/Reply-To lines.
func FormatAddress(name, email string) string {
	if name == "" {
		return "<" + email + ">"
	}
	if isPlainPhrase(name) {
		return name + " <" + email + ">"
	}
	b := &strings.Builder{}
	b.WriteByte('"')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteString("\" <")
	b.WriteString(email)
	b.WriteByte('>')
	return b.String()
}

// ExtractCoreAddress pulls the bare addr-spec out of a mailbox line.
// "Joe <a@b>" and "a@b (Joe)" and plain "a@b" all give "a@b".
func ExtractCoreAddress(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '<'); i >= 0 {
		if j := strings.IndexByte(s[i+1:], '>'); j >= 0 {
			return strings.TrimSpace(s[i+1 : i+1+j])
		}
		return strings.TrimSpace(s[i+1:])
	}
	if i := strings.IndexByte(s, '('); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// SplitAddressList splits a To/Cc style list on commas, ignoring
// commas inside quoted strings and comments.
func SplitAddressList(s string) (r []string) {
	depth := 0
	q := false
	esc := false
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if esc {
			esc = false
			continue
		}
		switch c {
		case '\\':
			esc = true
		case '"':
			q = !q
		case '(':
			if !q {
				depth++
			}
		case ')':
			if !q && depth > 0 {
				depth--
			}
		case ',':
			if !q && depth == 0 {
				if x := strings.TrimSpace(s[last:i]); x != "" {
					r = append(r, x)
				}
				last = i + 1
			}
		}
	}
	if x := strings.TrimSpace(s[last:]); x != "" {
		r = append(r, x)
	}
	return
}
