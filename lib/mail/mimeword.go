package mail

import (
	"fmt"
	"io"
	"mime"

	"golang.org/x/text/encoding/ianaindex"
)

type failCharsetError string

func (f failCharsetError) Error() string {
	return fmt.Sprintf("unhandled charset %q", string(f))
}

func mimeCharsetReader(charset string, input io.Reader) (io.Reader, error) {
	cod, e := ianaindex.MIME.Encoding(charset)
	if e != nil || cod == nil {
		// failing this way is faster than fmt.Errorf done by default
		return nil, failCharsetError(charset)
	}
	return cod.NewDecoder().Reader(input), nil
}

var mimeWordDecoder = mime.WordDecoder{CharsetReader: mimeCharsetReader}

func DecodeMIMEWordHeader(s string) (string, error) {
	return mimeWordDecoder.DecodeHeader(s)
}
