package mail

import (
	"bytes"
	"io"

	au "bbsgate/lib/asciiutils"
	"bbsgate/lib/bufreader"
)

type MessageHead struct {
	H Headers              // message headers
	B *bufreader.BufReader // message body reader
}

func (mh *MessageHead) Close() error {
	if mh.B != nil {
		dropBufReader(mh.B)
		mh.B = nil
	}
	return nil
}

func estimateNumHeaders(br *bufreader.BufReader) (n int, e error) {
	br.CompactBuffer()
	_, e = br.FillBufferUpto(0)
	b := br.Buffered()
	cont := 0 // spare addition incase header line doesn't end with '\n'
	for i, c := range b {
		if c == '\n' {
			if cont == 0 {
				// \n\n or \n without any previous content -- end of headers
				return
			}
			if i+1 < len(b) && (b[i+1] == ' ' || b[i+1] == '\t') {
				// continuation of previous header
				continue
			}
			n++
			cont = 0
		} else {
			cont = 1
		}
	}
	n += cont
	return
}

// ReadHeaders reads headers, also returning buffered body reader.
// Users should call mh.Close after they are done with mh.B.
// If err is returned, closing isn't required.
func ReadHeaders(r io.Reader, headlimit int64) (mh MessageHead, e error) {
	var lr *io.LimitedReader
	var br *bufreader.BufReader
	if headlimit > 0 {
		lr = &io.LimitedReader{R: r, N: headlimit}
		br = obtainBufReader(lr)
	} else {
		br = obtainBufReader(r)
	}

	mh.H, e = readHeaders(br)

	if e == nil {
		if headlimit > 0 {
			br.SetReader(r)
		}
		mh.B = br
	} else {
		dropBufReader(br)
	}
	return
}

func readHeaders(br *bufreader.BufReader) (H Headers, e error) {
	h := hdrPool.Get().(*bytes.Buffer)
	h.Reset()

	H = make(Headers)

	est, e := estimateNumHeaders(br)
	// one buffer for all the values
	Hbuf := make([]HeaderVal, 0, est)

	var currHeader, origHeader string

	var start int     // begining of current line inside h
	var contStart int // begining of actual content of whole unfolded value

	finishCurrent := func() {
		if len(currHeader) != 0 {
			hcont := h.Bytes()[contStart:]
			hval := HeaderVal{
				V: string(au.TrimWSBytes(hcont)),
				O: origHeader,
			}
			if cs, ok := H[currHeader]; ok {
				H[currHeader] = append(cs, hval)
			} else {
				// do not include previous values,
				// as in case of reallocation we don't need them
				Hbuf = append(Hbuf[len(Hbuf):], hval)
				// force cap to 1 so append reallocates instead of
				// spilling into Hbuf
				H[currHeader] = Hbuf[0:1:1]
			}
			currHeader = ""
		}
		h.Reset()
		start = 0
	}

	lastWasFrag := false
	currFrag := false
	for {
		b := br.Buffered()
		for len(b) != 0 {
			var wb []byte
			lastWasFrag = currFrag

			n := bytes.IndexByte(b, '\n')
			currFrag = n < 0
			if !currFrag {
				wb = b[:n] // do not include LF
				b = b[n+1:]
				br.Discard(n + 1)
			} else {
				// no newline yet - take in what we can
				wb = b
				br.Discard(len(b))
				b = nil
			}

			// we can already know at this point whether next completed
			// line is going to be logical continuation or not
			if !lastWasFrag && len(wb) != 0 && wb[0] != ' ' && wb[0] != '\t' {
				finishCurrent()
			}

			h.Write(wb)

			// drain until we have completed this line
			if currFrag {
				continue
			}

			line := h.Bytes()[start:]
			// LF was already skipped; have CR? discard that too
			if len(line) != 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
				h.Truncate(start + len(line))
			}

			if len(line) == 0 {
				// empty line terminates headers
				goto endHeaders
			}

			if line[0] != ' ' && line[0] != '\t' {
				// normal line, not logical continuation
				nn := bytes.IndexByte(line, ':')
				if nn < 0 {
					e = errMissingColon
					break
				}
				hn := nn
				// strip possible whitespace before ':'
				for hn != 0 && (line[hn-1] == ' ' || line[hn-1] == '\t') {
					hn--
				}
				if hn == 0 || !ValidHeader(line[:hn]) {
					e = errEmptyHeaderName
					break
				}

				currHeader, origHeader =
					unsafeMapCanonicalOriginalHeaders(line[:hn])

				nn++ // step over ':'
				// skip one space after ':'
				if nn < len(line) && line[nn] == ' ' {
					nn++
				}
				contStart = nn
				start = h.Len()
			} else {
				// logical continuation
				if len(currHeader) == 0 {
					e = errInvalidContinuation
					break
				}
				start = h.Len()
			}
		}
		if e != nil {
			break
		}
		// ensure some space available
		if br.Capacity() < 2000 {
			br.CompactBuffer()
		}
		_, e = br.FillBufferAtleast(1)
	}
endHeaders:
	if e == nil {
		finishCurrent()
	} else {
		h.Reset()
	}
	hdrPool.Put(h)
	return
}
