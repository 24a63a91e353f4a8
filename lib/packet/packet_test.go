package packet

import (
	"bytes"
	"io"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
)

var rtCases = []Packet{
	{
		Hdr: Header{ToSys: GatewayNode, ToUser: 1, FromSys: 561, FromUser: 7, Daten: 0x5f000000},
		Body: EmailByUser{MsgFields{
			Subject: "hello there",
			Sender:  "Some User #7 @561",
			Date:    "Tue, 01 Sep 2026 10:00:00 +0000",
			Text:    []byte("line one\r\nline two\r\n"),
		}},
	},
	{
		Hdr: Header{ToSys: GatewayNode, FromSys: GatewayNode, MinorType: 0},
		Body: EmailByName{
			ToName: "postmaster@example.org",
			MsgFields: MsgFields{
				Subject: "bounce",
				Sender:  "MAILER-DAEMON@example.org",
				Date:    "Tue, 01 Sep 2026 10:00:00 +0000",
				Text:    []byte("returned mail\r\n"),
			},
		},
	},
	{
		Hdr: Header{ToSys: GatewayNode, MinorType: 2330},
		Body: PostFromHost{MsgFields{
			Subject: "on subtype 2330",
			Sender:  "Poster #1 @2",
			Date:    "Tue, 01 Sep 2026 10:00:00 +0000",
			Text:    []byte("body\r\n"),
		}},
	},
	{
		Hdr: Header{ToSys: GatewayNode},
		Body: PostByName{
			Subtype: "GATETEST",
			MsgFields: MsgFields{
				Subject:    "Re: threading",
				Sender:     "someone@example.net",
				Date:       "Tue, 01 Sep 2026 10:00:00 +0000",
				References: "<1-aaa@example.org> <2-bbb@example.org>",
				Text:       []byte("follow-up\r\n"),
			},
		},
	},
	{
		Hdr:  Header{ToSys: 0, ToUser: 1},
		Body: SystemNotice{Message: "someone added to mailing list: GATETEST"},
	},
}

func TestRoundTrip(t *testing.T) {
	for i := range rtCases {
		p := rtCases[i]
		b := p.Encode()
		q, n, e := Decode(b)
		if e != nil {
			t.Fatalf("case %d: Decode err: %v\nencoded: %s",
				i, e, spew.Sdump(b))
		}
		if n != len(b) {
			t.Errorf("case %d: consumed %d of %d", i, n, len(b))
		}
		if d := cmp.Diff(p, q); d != "" {
			t.Errorf("case %d: round trip mismatch (-want +got):\n%s", i, d)
		}
		// encoding a decoded packet must give identical bytes
		b2 := q.Encode()
		if !bytes.Equal(b, b2) {
			t.Errorf("case %d: reencode mismatch:\n%s%s",
				i, spew.Sdump(b), spew.Sdump(b2))
		}
	}
}

func TestDecodeLengthInvariant(t *testing.T) {
	p := rtCases[0]
	b := p.Encode()
	if p.Hdr.Length != uint32(len(b)-HeaderSize) {
		t.Errorf("header length %d payload %d", p.Hdr.Length, len(b)-HeaderSize)
	}
}

func TestDecodeTruncated(t *testing.T) {
	p := rtCases[3]
	b := p.Encode()

	// header cut short
	if _, _, e := Decode(b[:HeaderSize-4]); e == nil {
		t.Error("truncated header accepted")
	}
	// payload cut short
	if _, _, e := Decode(b[:len(b)-5]); e == nil {
		t.Error("truncated payload accepted")
	}
	// missing subject terminator
	raw := append([]byte(nil), b...)
	for i := HeaderSize; i < len(raw); i++ {
		if raw[i] == 0 {
			raw[i] = 'x'
		}
	}
	if _, _, e := Decode(raw); e == nil {
		t.Error("payload without NUL terminators accepted")
	} else if _, ok := e.(DecodeError); !ok {
		t.Errorf("want DecodeError got %v", e)
	}
}

func TestScannerSkipsUnknown(t *testing.T) {
	good := rtCases[0]
	gb := good.Encode()

	// splice unknown-type packet between two good ones
	uh := Header{MainType: 9, Length: 4}
	ub := make([]byte, HeaderSize+4)
	uh.marshal(ub)
	copy(ub[HeaderSize:], "xxxx")

	var stream []byte
	stream = append(stream, gb...)
	stream = append(stream, ub...)
	stream = append(stream, gb...)

	s := NewScanner(stream)
	var got int
	var unknown int
	for {
		_, e := s.Next()
		if e == io.EOF {
			break
		}
		if e != nil {
			if _, ok := e.(UnknownTypeError); ok {
				unknown++
				continue
			}
			t.Fatalf("scan err: %v", e)
		}
		got++
	}
	if got != 2 || unknown != 1 {
		t.Errorf("scanned %d good %d unknown", got, unknown)
	}
}
