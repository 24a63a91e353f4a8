package mail

import (
	"errors"

	au "bbsgate/lib/asciiutils"
)

func ValidHeader(h []byte) bool {
	return au.IsPrintableASCIISlice(h, ':')
}

const maxHeaderLen = 2000

var (
	errTooLongHeader       = errors.New("too long header")
	errMissingColon        = errors.New("missing colon in header")
	errEmptyHeaderName     = errors.New("empty header name")
	errInvalidContinuation = errors.New("invalid header continuation")
)

const maxCommonHdrLen = 32

type HeaderVal struct {
	V string   // value
	O string   // original name, needed only incase non-canonical form
	S []uint32 // split points, for folding/unfolding
}

type HeaderVals []HeaderVal
type Headers map[string]HeaderVals

func OneHeaderVal(v string) HeaderVals {
	return HeaderVals{{V: v}}
}

// case-insensitive lookup
func (h Headers) Lookup(x string) []HeaderVal {
	if y, ok := commonHeaders[x]; ok {
		return h[y]
	}
	if s, ok := h[x]; ok {
		return s
	}

	var bx [maxCommonHdrLen]byte
	var b []byte
	if len(x) <= maxCommonHdrLen {
		b = bx[:len(x)]
	} else {
		b = make([]byte, len(x))
	}

	upper := true
	for i := 0; i < len(x); i++ {
		c := x[i]
		if upper && c >= 'a' && c <= 'z' {
			c = c - ('a' - 'A')
		}
		if !upper && c >= 'A' && c <= 'Z' {
			c = c + ('a' - 'A')
		}
		b[i] = c
		upper = c == '-'
	}
	if y, ok := commonHeaders[string(b)]; ok {
		return h[y]
	} else {
		return h[string(b)]
	}
}
