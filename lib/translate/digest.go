package translate

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const digestSeparator = "---- Next Message ----\r\n"

// julianDay computes the Julian day number of t, the traditional
// key for one calendar day of digest traffic.
func julianDay(t time.Time) int {
	y, m, d := t.UTC().Date()
	a := (14 - int(m)) / 12
	yy := y + 4800 - a
	mm := int(m) + 12*a - 3
	return d + (153*mm+2)/5 + 365*yy + yy/4 - yy/100 + yy/400 - 32045
}

// digestFile names the accumulation file for list traffic of t's day.
func digestFile(dir, list string, t time.Time) string {
	return filepath.Join(dir,
		strings.ToUpper(list)+"."+strconv.Itoa(julianDay(t)))
}

// DigestDay extracts the julian day of a digest file name; false for
// files that are not digest accumulations.
func DigestDay(path string) (list string, day int, ok bool) {
	base := filepath.Base(path)
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return "", 0, false
	}
	day, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return "", 0, false
	}
	return base[:i], day, true
}

// JulianDay is julianDay for callers outside the package; the SMTP
// digest sweep compares file days against the current one.
func JulianDay(t time.Time) int {
	return julianDay(t)
}
