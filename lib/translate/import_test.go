package translate

import (
	"strings"
	"testing"

	"bbsgate/lib/mail"
	"bbsgate/lib/packet"
	"bbsgate/lib/spool"
)

func (h *harness) importer(t *testing.T, contexts ...uint16) (*Importer, *packet.FileWriter) {
	t.Helper()
	w := packet.NewFileWriter(h.layout.Outbound, "P", ".NET", 0)
	im := NewImporter(ImportCfg{
		Node:         testNode,
		Users:        h.users,
		Lists:        h.lists,
		Layout:       h.layout,
		Mint:         h.mint,
		Contexts:     contexts,
		FallbackUser: testNode.SysopUser,
	}, w, h.lgr)
	return im, w
}

func parseMail(t *testing.T, raw string) *mail.Envelope {
	t.Helper()
	env, err := mail.ReadEnvelope(strings.NewReader(raw), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	return &env
}

const plainMail = "From: alice@example.com\r\n" +
	"To: bruce@bbs.example.org\r\n" +
	"Subject: hello\r\n" +
	"Message-ID: <abc@example.com>\r\n" +
	"\r\n" +
	"hi there\r\n"

func TestImportEmailByUser(t *testing.T) {
	h := newHarness(t)
	im, _ := h.importer(t)

	res := im.Import(parseMail(t, plainMail), testNow)
	if len(res.Packets) != 1 || len(res.Rejects) != 0 {
		t.Fatalf("packets=%d rejects=%v", len(res.Packets), res.Rejects)
	}
	p := res.Packets[0]
	if p.Hdr.ToSys != testNode.Node || p.Hdr.ToUser != 7 {
		t.Errorf("routed to %d/%d", p.Hdr.ToSys, p.Hdr.ToUser)
	}
	body, ok := p.Body.(packet.EmailByUser)
	if !ok {
		t.Fatalf("body type %T", p.Body)
	}
	if body.Subject != "hello" || body.Sender != "alice@example.com" {
		t.Errorf("fields = %+v", body.MsgFields)
	}
	if string(body.Text) != "hi there\r\n" {
		t.Errorf("text = %q", body.Text)
	}
}

func TestImportDecodesEncodedWords(t *testing.T) {
	h := newHarness(t)
	im, _ := h.importer(t)

	raw := "From: =?utf-8?q?Andr=C3=A9?= <andre@example.com>\r\n" +
		"To: bruce@bbs.example.org\r\n" +
		"Subject: =?iso-8859-1?q?sch=F6n?=\r\n\r\nhallo\r\n"
	res := im.Import(parseMail(t, raw), testNow)
	if len(res.Packets) != 1 {
		t.Fatalf("packets = %d", len(res.Packets))
	}
	body := res.Packets[0].Body.(packet.EmailByUser)
	if body.Subject != "schön" {
		t.Errorf("subject = %q", body.Subject)
	}
	if body.Sender != "André <andre@example.com>" {
		t.Errorf("sender = %q", body.Sender)
	}
}

func TestImportListFanout(t *testing.T) {
	h := newHarness(t)
	im, _ := h.importer(t, 1, 5)

	raw := "From: alice@example.com\r\n" +
		"To: chess@bbs.example.org\r\n" +
		"Subject: queen sac\r\n\r\nRxd8\r\n"
	res := im.Import(parseMail(t, raw), testNow)
	if len(res.Packets) != 2 {
		t.Fatalf("fan-out gave %d packets, want 2", len(res.Packets))
	}
	for i, want := range []uint16{1, 5} {
		p := res.Packets[i]
		if p.Hdr.ToSys != want {
			t.Errorf("packet %d to sys %d, want %d", i, p.Hdr.ToSys, want)
		}
		body, ok := p.Body.(packet.PostByName)
		if !ok || body.Subtype != "CHESS" {
			t.Errorf("packet %d body %T %+v", i, p.Body, p.Body)
		}
	}
}

func TestImportListNonMember(t *testing.T) {
	h := newHarness(t)
	im, _ := h.importer(t)

	raw := "From: stranger@example.net\r\n" +
		"To: chess@bbs.example.org\r\n" +
		"Subject: spam opening\r\n\r\n1. e4\r\n"
	res := im.Import(parseMail(t, raw), testNow)
	if len(res.Packets) != 0 {
		t.Errorf("non-member post produced %d packets", len(res.Packets))
	}
	if len(res.Rejects) != 1 || res.Rejects[0] != "CHESS" {
		t.Errorf("rejects = %v", res.Rejects)
	}
}

func TestImportLoopSuppression(t *testing.T) {
	h := newHarness(t)
	im, _ := h.importer(t)

	raw := "From: someone@example.com\r\n" +
		"To: bruce@bbs.example.org\r\n" +
		"Subject: echo\r\n" +
		"Message-ID: " + string(h.mint.Next()) + "\r\n" +
		"\r\nlooped\r\n"
	res := im.Import(parseMail(t, raw), testNow)
	if len(res.Packets) != 0 {
		t.Errorf("own stamp imported: %d packets", len(res.Packets))
	}
}

func TestImportNoSenderDropped(t *testing.T) {
	h := newHarness(t)
	im, _ := h.importer(t)

	res := im.Import(parseMail(t,
		"To: bruce@bbs.example.org\r\nSubject: x\r\n\r\nbody\r\n"), testNow)
	if len(res.Packets) != 0 {
		t.Errorf("sender-less mail produced %d packets", len(res.Packets))
	}
}

func TestImportFallbackMailbox(t *testing.T) {
	h := newHarness(t)
	im, _ := h.importer(t)

	raw := "From: alice@example.com\r\n" +
		"To: nobody-here@bbs.example.org\r\n" +
		"Subject: lost\r\n\r\nwho gets this\r\n"
	res := im.Import(parseMail(t, raw), testNow)
	if len(res.Packets) != 1 {
		t.Fatalf("packets = %d", len(res.Packets))
	}
	if res.Packets[0].Hdr.ToUser != testNode.SysopUser {
		t.Errorf("fallback user = %d", res.Packets[0].Hdr.ToUser)
	}
}

// a refused post quarantines the file and emits a sysop notice packet
func TestImportFileQuarantinesRefusedPost(t *testing.T) {
	h := newHarness(t)
	im, w := h.importer(t)

	raw := "From: stranger@example.net\r\n" +
		"To: chess@bbs.example.org\r\n" +
		"Subject: not a member\r\n\r\nhello\r\n"
	path, err := spool.WriteFile(h.layout.Spool, "UNK", ".MSG", []byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if err = im.ImportFile(path, testNow); err != nil {
		t.Fatal(err)
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}

	if n := sweepCount(t, h.layout.Check, "CHK", ".MSG"); n != 1 {
		t.Errorf("quarantined files = %d, want 1", n)
	}
	if n := sweepCount(t, h.layout.Spool, "UNK", ".MSG"); n != 0 {
		t.Errorf("staged file still present")
	}

	data := sweepOne(t, h.layout.Outbound, "P", ".NET")
	p, _, err := packet.Decode(data)
	if err != nil {
		t.Fatalf("notice packet: %v", err)
	}
	notice, ok := p.Body.(packet.SystemNotice)
	if !ok {
		t.Fatalf("body type %T", p.Body)
	}
	if !strings.Contains(notice.Message, "CHESS") {
		t.Errorf("notice = %q", notice.Message)
	}
	if p.Hdr.ToUser != testNode.SysopUser {
		t.Errorf("notice to user %d", p.Hdr.ToUser)
	}
}
