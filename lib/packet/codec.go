package packet

import (
	"io"
)

// Packet is one unit of store-and-forward traffic. It is never
// mutated in place; translation always produces a new packet.
type Packet struct {
	Hdr  Header
	Body Body
}

// Encode renders the packet into wire bytes. The header's MainType
// and Length fields are derived from the body, so a value obtained
// from Decode round-trips exactly.
func (p *Packet) Encode() []byte {
	b := make([]byte, HeaderSize, HeaderSize+64)
	b = p.Body.appendPayload(b)
	h := p.Hdr
	h.MainType = p.Body.mainType()
	h.Length = uint32(len(b) - HeaderSize)
	h.marshal(b[:HeaderSize])
	p.Hdr = h
	return b
}

// UnknownTypeError reports a structurally intact packet of a main
// type the gateway does not translate. The caller may skip it.
type UnknownTypeError struct {
	Hdr Header
}

func (e UnknownTypeError) Error() string {
	return "unhandled packet " + e.Hdr.MainType.String()
}

// Decode parses one packet from the start of b, returning the packet
// and the number of bytes consumed. For UnknownTypeError n is still
// valid, so streams with foreign traffic can be walked over.
func Decode(b []byte) (p Packet, n int, err error) {
	if len(b) < HeaderSize {
		err = errDecode("truncated header: %d bytes", len(b))
		return
	}
	p.Hdr.unmarshal(b)
	if uint64(len(b)-HeaderSize) < uint64(p.Hdr.Length) {
		err = errDecode("truncated payload: want %d have %d",
			p.Hdr.Length, len(b)-HeaderSize)
		return
	}
	n = HeaderSize + int(p.Hdr.Length)
	pl := payload{b: b[HeaderSize:n]}

	switch p.Hdr.MainType {
	case TypeEmail:
		v := EmailByUser{}
		err = v.MsgFields.readFrom(&pl)
		p.Body = v
	case TypeEmailName:
		v := EmailByName{}
		if v.ToName, err = pl.nulString("recipient name"); err == nil {
			err = v.MsgFields.readFrom(&pl)
		}
		p.Body = v
	case TypePostFrom:
		v := PostFromHost{}
		err = v.MsgFields.readFrom(&pl)
		p.Body = v
	case TypePostTo:
		v := PostToHost{}
		err = v.MsgFields.readFrom(&pl)
		p.Body = v
	case TypeNewPost:
		v := PostByName{}
		if v.Subtype, err = pl.nulString("subtype"); err == nil {
			err = v.MsgFields.readFrom(&pl)
		}
		p.Body = v
	case TypeSSM:
		p.Body = SystemNotice{Message: string(pl.rest())}
	default:
		p.Body = nil
		err = UnknownTypeError{Hdr: p.Hdr}
	}
	if err != nil {
		if _, ok := err.(UnknownTypeError); !ok {
			p.Body = nil
		}
	}
	return
}

// Scanner walks a buffer holding zero or more concatenated packets.
type Scanner struct {
	b   []byte
	bad []byte
}

func NewScanner(b []byte) *Scanner {
	return &Scanner{b: b}
}

// Next returns the next packet. io.EOF signals clean end of input.
// On UnknownTypeError the scanner has already stepped past the
// offending packet; on DecodeError it is drained and the unconsumed
// input stays available through Rest.
func (s *Scanner) Next() (p Packet, err error) {
	if len(s.b) == 0 {
		err = io.EOF
		return
	}
	var n int
	p, n, err = Decode(s.b)
	if err != nil {
		if _, ok := err.(UnknownTypeError); ok {
			s.b = s.b[n:]
		} else {
			s.bad = s.b
			s.b = nil
		}
		return
	}
	s.b = s.b[n:]
	return
}

// Rest returns the input left over after a decode failure.
func (s *Scanner) Rest() []byte {
	return s.bad
}
