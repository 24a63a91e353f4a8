package filelogger

import (
	"bufio"
	"bytes"
	"io"
)

var newline = []byte{'\n'}

var _ io.Writer = (*prefixWriter)(nil)

// prefixWriter stamps the queued prefix in front of every line of a
// log record, so multi-line payloads stay attributable.
type prefixWriter struct {
	out     *bufio.Writer
	pre     bytes.Buffer
	lineTop bool
}

func (s *prefixWriter) reset() {
	s.lineTop = true
	s.pre.Reset()
}

func (s *prefixWriter) Write(b []byte) (n int, err error) {
	l := 0
	p := s.pre.Bytes()
	for i := range b {
		if s.lineTop {
			s.out.Write(p)
			s.lineTop = false
		}
		if b[i] == '\n' {
			s.out.Write(b[l : i+1])
			l = i + 1
			s.lineTop = true
		}
	}
	if l < len(b) {
		s.out.Write(b[l:])
	}
	return len(b), nil
}

// finish closes the record with a newline when the payload lacked one
// and pushes everything out.
func (s *prefixWriter) finish() {
	if !s.lineTop {
		s.out.Write(newline)
	}
	s.out.Flush()
}
