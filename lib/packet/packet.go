package packet

import (
	"encoding/binary"
	"fmt"
)

// Main types of network packets this gateway understands.
// Values are fixed by the wire protocol.
type MainType uint16

const (
	TypeEmail      MainType = 2  // email routed by user number
	TypePostFrom   MainType = 3  // post distributed from sub host
	TypePostTo     MainType = 5  // post on its way to sub host
	TypeEmailName  MainType = 7  // email routed by user name
	TypeSSM        MainType = 15 // short system message
	TypeNewPost    MainType = 26 // post carrying alphanumeric subtype
)

func (t MainType) String() string {
	switch t {
	case TypeEmail:
		return "email"
	case TypePostFrom:
		return "post"
	case TypePostTo:
		return "pre_post"
	case TypeEmailName:
		return "email_name"
	case TypeSSM:
		return "ssm"
	case TypeNewPost:
		return "new_post"
	}
	return fmt.Sprintf("main_type(%d)", uint16(t))
}

// node number the gateway itself answers to
const GatewayNode = 32767

// Header is the fixed packet preamble. Layout and byte order are
// dictated by the wire protocol: little-endian, 24 bytes.
type Header struct {
	ToSys    uint16
	ToUser   uint16
	FromSys  uint16
	FromUser uint16
	MainType MainType
	MinorType uint16
	ListLen  uint16
	Daten    uint32
	Length   uint32
	Method   uint16
}

const HeaderSize = 24

// DecodeError describes why a packet could not be decoded.
// Malformed packets are quarantined, never silently dropped,
// so the reason ends up in operator logs.
type DecodeError struct {
	Reason string
}

func (e DecodeError) Error() string {
	return "packet decode error: " + e.Reason
}

func errDecode(f string, args ...interface{}) DecodeError {
	return DecodeError{Reason: fmt.Sprintf(f, args...)}
}

func (h *Header) unmarshal(b []byte) {
	le := binary.LittleEndian
	h.ToSys = le.Uint16(b[0:])
	h.ToUser = le.Uint16(b[2:])
	h.FromSys = le.Uint16(b[4:])
	h.FromUser = le.Uint16(b[6:])
	h.MainType = MainType(le.Uint16(b[8:]))
	h.MinorType = le.Uint16(b[10:])
	h.ListLen = le.Uint16(b[12:])
	h.Daten = le.Uint32(b[14:])
	h.Length = le.Uint32(b[18:])
	h.Method = le.Uint16(b[22:])
}

func (h *Header) marshal(b []byte) {
	le := binary.LittleEndian
	le.PutUint16(b[0:], h.ToSys)
	le.PutUint16(b[2:], h.ToUser)
	le.PutUint16(b[4:], h.FromSys)
	le.PutUint16(b[6:], h.FromUser)
	le.PutUint16(b[8:], uint16(h.MainType))
	le.PutUint16(b[10:], h.MinorType)
	le.PutUint16(b[12:], h.ListLen)
	le.PutUint32(b[14:], h.Daten)
	le.PutUint32(b[18:], h.Length)
	le.PutUint16(b[22:], h.Method)
}
