package translate

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bbsgate/lib/packet"
	"bbsgate/lib/spool"
)

func (h *harness) subscriber(t *testing.T, mut func(*SubscribeCfg)) (*Subscriber, *packet.FileWriter) {
	t.Helper()
	w := packet.NewFileWriter(h.layout.Outbound, "P", ".NET", 0)
	cfg := SubscribeCfg{
		Node:   testNode,
		Lists:  h.lists,
		Layout: h.layout,
		Mint:   h.mint,
	}
	if mut != nil {
		mut(&cfg)
	}
	return NewSubscriber(cfg, w, h.lgr), w
}

func (h *harness) stageRequest(t *testing.T, from, subject string) string {
	t.Helper()
	raw := "From: " + from + "\r\nSubject: " + subject + "\r\n\r\n"
	path, err := spool.WriteFile(
		h.layout.Inbound, "SUB", ".MSG", []byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t)
	s, w := h.subscriber(t, nil)
	h.stageRequest(t, "bob@example.net", "subscribe chess")

	if err := s.SweepInbound(); err != nil {
		t.Fatal(err)
	}
	w.Close()

	member, err := h.lists.IsMember("CHESS", "bob@example.net")
	if err != nil {
		t.Fatal(err)
	}
	if !member {
		t.Error("requester not added to CHESS")
	}

	// welcome note back to the requester
	note := string(sweepOne(t, h.layout.Mqueue, "MSG", ".0"))
	if !strings.Contains(note, "To: bob@example.net\r\n") ||
		!strings.Contains(note, "subscribed to CHESS") {
		t.Errorf("welcome note:\n%s", note)
	}

	// operator gets a system message, nothing else crosses the wire
	data := sweepOne(t, h.layout.Outbound, "P", ".NET")
	p, n, err := packet.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(data) {
		t.Errorf("%d extra packet bytes", len(data)-n)
	}
	ssm, ok := p.Body.(packet.SystemNotice)
	if !ok || !strings.Contains(ssm.Message, "CHESS") {
		t.Errorf("notice = %T %+v", p.Body, p.Body)
	}
	if p.Hdr.ToUser != testNode.SysopUser {
		t.Errorf("notice routed to user %d", p.Hdr.ToUser)
	}

	if n := sweepCount(t, h.layout.Inbound, "SUB", ".MSG"); n != 0 {
		t.Error("handled request not consumed")
	}
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t)
	s, w := h.subscriber(t, nil)
	h.stageRequest(t, "alice@example.com", "unsubscribe CHESS")

	if err := s.SweepInbound(); err != nil {
		t.Fatal(err)
	}
	w.Close()

	member, err := h.lists.IsMember("CHESS", "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if member {
		t.Error("requester still on CHESS")
	}
	note := string(sweepOne(t, h.layout.Mqueue, "MSG", ".0"))
	if !strings.Contains(note, "removed from CHESS") {
		t.Errorf("removal note:\n%s", note)
	}
}

func TestSubscribeCatalogue(t *testing.T) {
	h := newHarness(t)
	s, w := h.subscriber(t, nil)

	env := parseMail(t, "From: bob@example.net\r\n"+
		"Subject: subscribe LISTS\r\n\r\n")
	out, _, err := s.Handle(env)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	if out != SubSentCatalog {
		t.Fatalf("outcome = %v", out)
	}
	note := string(sweepOne(t, h.layout.Mqueue, "MSG", ".0"))
	if !strings.Contains(note, "CHESS") {
		t.Errorf("catalogue does not name CHESS:\n%s", note)
	}
	if n := sweepCount(t, h.layout.Outbound, "P", ".NET"); n != 0 {
		t.Error("catalogue request produced a packet")
	}
}

func TestSubscribeCatalogueFile(t *testing.T) {
	h := newHarness(t)
	cat := filepath.Join(h.layout.Root, "LISTS.TXT")
	if err := ioutil.WriteFile(cat,
		[]byte("Curated list descriptions.\r\n"), 0666); err != nil {
		t.Fatal(err)
	}
	s, _ := h.subscriber(t, func(c *SubscribeCfg) { c.CatalogFile = cat })

	env := parseMail(t, "From: bob@example.net\r\n"+
		"Subject: subscribe LISTS\r\n\r\n")
	if _, _, err := s.Handle(env); err != nil {
		t.Fatal(err)
	}
	note := string(sweepOne(t, h.layout.Mqueue, "MSG", ".0"))
	if !strings.Contains(note, "Curated list descriptions.") {
		t.Errorf("catalogue file not used:\n%s", note)
	}
}

func TestSubscribeUnknownList(t *testing.T) {
	h := newHarness(t)
	s, _ := h.subscriber(t, nil)
	h.stageRequest(t, "bob@example.net", "subscribe NOSUCH")

	if err := s.SweepInbound(); err != nil {
		t.Fatal(err)
	}
	note := string(sweepOne(t, h.layout.Mqueue, "MSG", ".0"))
	if !strings.Contains(note, "NOSUCH") {
		t.Errorf("rejection note:\n%s", note)
	}
	if n := sweepCount(t, h.layout.Inbound, "SUB", ".MSG"); n != 0 {
		t.Error("handled request not consumed")
	}
}

func TestSubscribeWelcomeFile(t *testing.T) {
	h := newHarness(t)
	wd := filepath.Join(h.layout.Root, "welcome")
	if err := os.MkdirAll(wd, 0777); err != nil {
		t.Fatal(err)
	}
	err := ioutil.WriteFile(filepath.Join(wd, "CHESS.WEL"),
		[]byte("Welcome, and mind the clock.\r\n"), 0666)
	if err != nil {
		t.Fatal(err)
	}
	s, _ := h.subscriber(t, func(c *SubscribeCfg) { c.WelcomeDir = wd })
	h.stageRequest(t, "bob@example.net", "subscribe CHESS")

	if err = s.SweepInbound(); err != nil {
		t.Fatal(err)
	}
	note := string(sweepOne(t, h.layout.Mqueue, "MSG", ".0"))
	if !strings.Contains(note, "mind the clock") {
		t.Errorf("welcome file not used:\n%s", note)
	}
}

func TestSubscribeBadRequestKept(t *testing.T) {
	h := newHarness(t)
	s, _ := h.subscriber(t, nil)
	path := h.stageRequest(t, "bob@example.net", "about your gateway")

	if err := s.SweepInbound(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".BAD"); err != nil {
		t.Errorf("unhandled request not parked: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("original file still present: %v", err)
	}
	if n := sweepCount(t, h.layout.Mqueue, "MSG", ".0"); n != 0 {
		t.Error("unhandled request queued mail")
	}
}
