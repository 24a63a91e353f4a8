package translate

import (
	"bytes"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bbsgate/lib/newsrc"
	"bbsgate/lib/packet"
	"bbsgate/lib/spool"
)

func (h *harness) exporter(t *testing.T, mut func(*ExportCfg)) *Exporter {
	t.Helper()
	cfg := ExportCfg{
		Node:   testNode,
		Users:  h.users,
		Groups: subtypeMap{"CHESSN": "rec.games.chess"},
		Lists:  h.lists,
		Layout: h.layout,
		Mint:   h.mint,
		Taglines: NewTaglines(h.layout.Root+"/taglines",
			testNode.SystemName, rand.New(rand.NewSource(1))),
	}
	if mut != nil {
		mut(&cfg)
	}
	return NewExporter(cfg, h.lgr)
}

// subtypeMap is a test stand-in for *newsrc.File
type subtypeMap map[string]string

func (m subtypeMap) GroupForSubtype(subtype string) (newsrc.Group, bool) {
	g, ok := m[strings.ToUpper(subtype)]
	return newsrc.Group{Name: g, Subtype: subtype}, ok
}

func emailPacket(to string) *packet.Packet {
	return &packet.Packet{
		Hdr: packet.Header{
			ToSys:    1,
			FromSys:  1,
			FromUser: 7,
			Daten:    uint32(testNow.Unix()),
		},
		Body: packet.EmailByName{
			ToName: to,
			MsgFields: packet.MsgFields{
				Subject: "greetings",
				Sender:  "Bruce Wayne #7",
				Date:    "Sun, 13 Sep 2020 12:00:00 +0000",
				Text:    []byte("hello from the cave\r\n"),
			},
		},
	}
}

func postPacket(subtype string) *packet.Packet {
	return &packet.Packet{
		Hdr: packet.Header{
			ToSys:    packet.GatewayNode,
			FromSys:  1,
			FromUser: 7,
			Daten:    uint32(testNow.Unix()),
		},
		Body: packet.PostByName{
			Subtype: subtype,
			MsgFields: packet.MsgFields{
				Subject:    "board position",
				Sender:     "Bruce Wayne #7",
				Date:       "Sun, 13 Sep 2020 12:00:00 +0000",
				References: "<parent@example.com>",
				Text:       []byte("1. e4 e5\r\n"),
			},
		},
	}
}

func TestExportEmail(t *testing.T) {
	h := newHarness(t)
	ex := h.exporter(t, nil)

	if err := ex.ExportPacket(emailPacket("carol@example.com"), testNow); err != nil {
		t.Fatal(err)
	}

	data := sweepOne(t, h.layout.Mqueue, "MSG", ".0")
	text := string(data)
	for _, want := range []string{
		"To: carol@example.com\r\n",
		"From: Bruce Wayne <bruce@bbs.example.org>\r\n",
		"Subject: greetings\r\n",
		"Reply-To: bruce@bbs.example.org\r\n",
		"MIME-Version: 1.0\r\n",
		"-batcave@bbs.example.org>",
		"\r\n\r\nhello from the cave\r\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("mail lacks %q:\n%s", want, text)
		}
	}

	// non-list mail archives under sent
	archived := sweepOne(t, h.layout.Sent, "MSG", ".SNT")
	if !bytes.Equal(archived, data) {
		t.Error("sent archive differs from queued mail")
	}
}

func TestExportAnonymousEmail(t *testing.T) {
	h := newHarness(t)
	h.users.anon[7] = true
	ex := h.exporter(t, nil)

	if err := ex.ExportPacket(emailPacket("carol@example.com"), testNow); err != nil {
		t.Fatal(err)
	}
	text := string(sweepOne(t, h.layout.Mqueue, "MSG", ".0"))
	if !strings.Contains(text, "From: Anonymous <anonymous@bbs.example.org>\r\n") {
		t.Errorf("anonymous From missing:\n%s", text)
	}
	if strings.Contains(text, "Reply-To: bruce@") {
		t.Error("anonymous mail leaks the real address")
	}
}

func TestExportListFanout(t *testing.T) {
	h := newHarness(t)
	if _, err := h.lists.Subscribe("CHESS", "bob@example.net"); err != nil {
		t.Fatal(err)
	}
	ex := h.exporter(t, nil)

	if err := ex.ExportPacket(postPacket("CHESS"), testNow); err != nil {
		t.Fatal(err)
	}
	if n := sweepCount(t, h.layout.Mqueue, "MSG", ".0"); n != 2 {
		t.Fatalf("fan-out queued %d mails, want 2", n)
	}
	// list traffic does not archive
	if n := sweepCount(t, h.layout.Sent, "MSG", ".SNT"); n != 0 {
		t.Errorf("list mail archived %d copies", n)
	}

	paths, _ := spool.Sweep(h.layout.Mqueue, "MSG", ".0")
	first, _ := ioutil.ReadFile(paths[0])
	text := string(first)
	for _, want := range []string{
		"To: alice@example.com\r\n",
		"Reply-To: chess@bbs.example.org\r\n",
		"X-Reply-To: bruce@bbs.example.org\r\n",
		"References: <parent@example.com>\r\n",
		" * Origin: The Bat Cave\r\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("list mail lacks %q:\n%s", want, text)
		}
	}
}

func TestExportListDigest(t *testing.T) {
	h := newHarness(t)
	ex := h.exporter(t, func(c *ExportCfg) { c.Digest = true })

	if err := ex.ExportPacket(postPacket("CHESS"), testNow); err != nil {
		t.Fatal(err)
	}
	if err := ex.ExportPacket(postPacket("CHESS"), testNow); err != nil {
		t.Fatal(err)
	}
	if n := sweepCount(t, h.layout.Mqueue, "MSG", ".0"); n != 0 {
		t.Errorf("digest mode queued %d direct mails", n)
	}

	df := digestFile(h.layout.Digest, "CHESS", testNow)
	data, err := ioutil.ReadFile(df)
	if err != nil {
		t.Fatal(err)
	}
	if got := bytes.Count(data, []byte(digestSeparator)); got != 2 {
		t.Errorf("%d separators, want 2", got)
	}
}

func TestExportRemoteList(t *testing.T) {
	h := newHarness(t)
	ex := h.exporter(t, func(c *ExportCfg) {
		c.ListAddrs = map[string]string{"CHESS": "chess-l@lists.example.org"}
	})

	if err := ex.ExportPacket(postPacket("CHESS"), testNow); err != nil {
		t.Fatal(err)
	}
	text := string(sweepOne(t, h.layout.Mqueue, "MSG", ".0"))
	if !strings.Contains(text, "To: chess-l@lists.example.org\r\n") {
		t.Errorf("remote list post misaddressed:\n%s", text)
	}
}

func TestExportArticle(t *testing.T) {
	h := newHarness(t)
	ex := h.exporter(t, nil)

	if err := ex.ExportPacket(postPacket("CHESSN"), testNow); err != nil {
		t.Fatal(err)
	}
	text := string(sweepOne(t, h.layout.Outbound, "ART", ".ART"))
	for _, want := range []string{
		"Newsgroups: rec.games.chess\r\n",
		"Path: batcave\r\n",
		"Organization: The Bat Cave BBS\r\n",
		"References: <parent@example.com>\r\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("article lacks %q:\n%s", want, text)
		}
	}
}

// an unmapped subtype quarantines the packet instead of dropping it
func TestExportUnmappedSubtype(t *testing.T) {
	h := newHarness(t)
	ex := h.exporter(t, nil)

	p := postPacket("TEST")
	if err := ex.ExportPacket(p, testNow); err != nil {
		t.Fatal(err)
	}

	data := sweepOne(t, h.layout.Check, "CHK", ".PKT")
	q, _, err := packet.Decode(data)
	if err != nil {
		t.Fatalf("quarantined packet does not decode: %v", err)
	}
	body, ok := q.Body.(packet.PostByName)
	if !ok || body.Subtype != "TEST" {
		t.Errorf("quarantined body = %T %+v", q.Body, q.Body)
	}

	// operator notice queued
	text := string(sweepOne(t, h.layout.Mqueue, "MSG", ".0"))
	if !strings.Contains(text, "TEST") {
		t.Errorf("notice does not name the subtype:\n%s", text)
	}
}

func TestExportFileIsolation(t *testing.T) {
	h := newHarness(t)
	ex := h.exporter(t, nil)

	var buf bytes.Buffer
	buf.Write(postPacket("TEST").Encode())   // quarantines
	buf.Write(emailPacket("x@example.com").Encode()) // fine
	path := filepath.Join(h.layout.Packets, "P0.NET")
	if err := ioutil.WriteFile(path, buf.Bytes(), 0666); err != nil {
		t.Fatal(err)
	}

	if err := ex.SweepPackets(testNow); err != nil {
		t.Fatal(err)
	}
	if n := sweepCount(t, h.layout.Packets, "P", ".NET"); n != 0 {
		t.Error("packet file not consumed")
	}
	// one notice + one email
	if n := sweepCount(t, h.layout.Mqueue, "MSG", ".0"); n != 2 {
		t.Errorf("queued %d mails, want 2", n)
	}
}

// an undecodable tail is operator material, not garbage
func TestExportFileQuarantinesUndecodableRest(t *testing.T) {
	h := newHarness(t)
	ex := h.exporter(t, nil)

	bad := emailPacket("y@example.com").Encode()
	bad = bad[:len(bad)-3] // truncated payload

	var buf bytes.Buffer
	buf.Write(emailPacket("x@example.com").Encode())
	buf.Write(bad)
	path := filepath.Join(h.layout.Packets, "P0.NET")
	if err := ioutil.WriteFile(path, buf.Bytes(), 0666); err != nil {
		t.Fatal(err)
	}

	if err := ex.SweepPackets(testNow); err != nil {
		t.Fatal(err)
	}
	if n := sweepCount(t, h.layout.Packets, "P", ".NET"); n != 0 {
		t.Error("packet file not consumed")
	}
	if n := sweepCount(t, h.layout.Mqueue, "MSG", ".0"); n != 1 {
		t.Errorf("queued %d mails, want 1", n)
	}
	rest := sweepOne(t, h.layout.Check, "CHK", ".PKT")
	if !bytes.Equal(rest, bad) {
		t.Errorf("quarantined %d bytes, want the %d-byte remainder",
			len(rest), len(bad))
	}
}

func TestExportTaglineFile(t *testing.T) {
	h := newHarness(t)
	tagDir := filepath.Join(h.layout.Root, "taglines")
	if err := os.MkdirAll(tagDir, 0777); err != nil {
		t.Fatal(err)
	}
	err := ioutil.WriteFile(filepath.Join(tagDir, "CHESS.TAG"),
		[]byte(" * We never resign\n"), 0666)
	if err != nil {
		t.Fatal(err)
	}
	ex := h.exporter(t, nil)

	if err = ex.ExportPacket(postPacket("CHESS"), testNow); err != nil {
		t.Fatal(err)
	}
	text := string(sweepOne(t, h.layout.Mqueue, "MSG", ".0"))
	if !strings.HasSuffix(text, " * We never resign\r\n") {
		t.Errorf("tagline not appended:\n%s", text)
	}
}
