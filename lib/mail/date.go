package mail

import (
	"fmt"
	nmail "net/mail"
	"time"

	"github.com/pkg/errors"
)

// date layouts seen in board-originated mail that net/mail refuses
var looseDateLayouts = []string{
	"02 Jan 2006 15:04:05",
	time.ANSIC,
}

// ParseDateX parses an RFC 5322 date, tolerating a few loose layouts
// legacy senders still emit.
func ParseDateX(date string) (t time.Time, err error) {
	t, err = nmail.ParseDate(date)
	if err == nil {
		return
	}
	for _, l := range looseDateLayouts {
		if t, err = time.Parse(l, date); err == nil {
			return
		}
	}
	return time.Time{}, errors.Errorf("unsupported date format %q", date)
}

// FormatDate renders t as an RFC 5322 date pinned to UTC. The weekday
// stays in for readers that insist on it.
func FormatDate(t time.Time) string {
	t = t.UTC()
	Y, M, D := t.Date()
	h, m, s := t.Clock()
	W := t.Weekday()
	return fmt.Sprintf(
		"%s, %02d %s %04d %02d:%02d:%02d +0000",
		W.String()[:3], D, M.String()[:3], Y, h, m, s)
}
