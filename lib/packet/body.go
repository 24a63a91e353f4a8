package packet

import (
	"bytes"
)

// refSentinel introduces the optional references line inside payload.
const refSentinel = 0x04

// Body is one decoded packet payload. Exactly one implementation
// exists per main type; translators switch over these exhaustively.
type Body interface {
	mainType() MainType
	appendPayload(b []byte) []byte
}

// common part of every non-SSM payload
type MsgFields struct {
	Subject    string // NUL-terminated on wire
	Sender     string // CRLF-terminated
	Date       string // CRLF-terminated
	References string // optional, sentinel-prefixed CRLF line
	Text       []byte // rest of payload
}

type EmailByUser struct {
	MsgFields
}

type EmailByName struct {
	ToName string // NUL-terminated, precedes the common fields
	MsgFields
}

type PostFromHost struct {
	MsgFields
}

type PostToHost struct {
	MsgFields
}

type PostByName struct {
	Subtype string // NUL-terminated, precedes the common fields
	MsgFields
}

type SystemNotice struct {
	Message string
}

func (EmailByUser) mainType() MainType  { return TypeEmail }
func (EmailByName) mainType() MainType  { return TypeEmailName }
func (PostFromHost) mainType() MainType { return TypePostFrom }
func (PostToHost) mainType() MainType   { return TypePostTo }
func (PostByName) mainType() MainType   { return TypeNewPost }
func (SystemNotice) mainType() MainType { return TypeSSM }

func (f *MsgFields) appendPayload(b []byte) []byte {
	b = append(b, f.Subject...)
	b = append(b, 0)
	b = append(b, f.Sender...)
	b = append(b, '\r', '\n')
	b = append(b, f.Date...)
	b = append(b, '\r', '\n')
	if f.References != "" {
		b = append(b, refSentinel)
		b = append(b, f.References...)
		b = append(b, '\r', '\n')
	}
	b = append(b, f.Text...)
	return b
}

func (p EmailByUser) appendPayload(b []byte) []byte {
	return p.MsgFields.appendPayload(b)
}

func (p EmailByName) appendPayload(b []byte) []byte {
	b = append(b, p.ToName...)
	b = append(b, 0)
	return p.MsgFields.appendPayload(b)
}

func (p PostFromHost) appendPayload(b []byte) []byte {
	return p.MsgFields.appendPayload(b)
}

func (p PostToHost) appendPayload(b []byte) []byte {
	return p.MsgFields.appendPayload(b)
}

func (p PostByName) appendPayload(b []byte) []byte {
	b = append(b, p.Subtype...)
	b = append(b, 0)
	return p.MsgFields.appendPayload(b)
}

func (p SystemNotice) appendPayload(b []byte) []byte {
	return append(b, p.Message...)
}

// payload cursor helpers

type payload struct {
	b []byte
	n int // consumed
}

func (p *payload) rest() []byte {
	return p.b[p.n:]
}

func (p *payload) nulString(what string) (s string, err error) {
	i := bytes.IndexByte(p.b[p.n:], 0)
	if i < 0 {
		err = errDecode("unterminated %s field", what)
		return
	}
	s = string(p.b[p.n : p.n+i])
	p.n += i + 1
	return
}

func (p *payload) crlfLine(what string) (s string, err error) {
	i := bytes.Index(p.b[p.n:], []byte("\r\n"))
	if i < 0 {
		err = errDecode("unterminated %s line", what)
		return
	}
	s = string(p.b[p.n : p.n+i])
	p.n += i + 2
	return
}

func (f *MsgFields) readFrom(p *payload) (err error) {
	if f.Subject, err = p.nulString("subject"); err != nil {
		return
	}
	if f.Sender, err = p.crlfLine("sender"); err != nil {
		return
	}
	if f.Date, err = p.crlfLine("date"); err != nil {
		return
	}
	if r := p.rest(); len(r) != 0 && r[0] == refSentinel {
		p.n++
		if f.References, err = p.crlfLine("references"); err != nil {
			return
		}
		if f.References == "" {
			return errDecode("empty references line")
		}
	}
	f.Text = append([]byte(nil), p.rest()...)
	return
}
