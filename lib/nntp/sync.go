package nntp

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	au "bbsgate/lib/asciiutils"
	"bbsgate/lib/keywords"
	. "bbsgate/lib/logx"
	mm "bbsgate/lib/minimail"
	"bbsgate/lib/msgidstore"
	"bbsgate/lib/newsrc"
	"bbsgate/lib/packet"
	"bbsgate/lib/spool"
)

// Signal is an operator control observed between articles, never
// mid-transfer.
type Signal int

const (
	SigNone Signal = iota
	SigAbort
	SigSkipGroup
	SigCatchUp
)

const (
	defaultGroupCap     = 500
	defaultCrosspostMax = 5
	defaultMaxArticle   = 32000
	defaultPacketCap    = 250000
)

// subtype "0" marks a group whose articles are captured to a text
// spool instead of being packeted.
func spoolSubtype(st string) bool {
	return st == "" || st == "0"
}

type SyncCfg struct {
	// destination system for generated packets
	Node uint16

	SystemName string
	PopName    string

	User, Pass string

	Cursors *newsrc.File
	IDs     *msgidstore.Store
	Spam    *keywords.List
	Layout  *spool.Layout

	GroupCap     int // most recent articles kept when far behind
	CrosspostMax int
	MaxArticle   int // splitting threshold for packeted bodies
	PacketCap    int // packet file rotation threshold

	// capture unmapped catalogue groups to the text spool; off
	// means such groups are skipped entirely
	SpoolToDisk bool

	// polled at article and group boundaries; nil means never
	// interrupted
	Control func() Signal
}

type Syncer struct {
	cfg SyncCfg
	lgr LoggerX
	log LogToX

	c *Client
	w *packet.FileWriter

	accepted int
	rejected int
	skipped  int
	posted   int
}

func NewSyncer(cfg SyncCfg, lgr LoggerX) *Syncer {
	if cfg.GroupCap <= 0 {
		cfg.GroupCap = defaultGroupCap
	}
	if cfg.CrosspostMax <= 0 {
		cfg.CrosspostMax = defaultCrosspostMax
	}
	if cfg.MaxArticle <= 0 {
		cfg.MaxArticle = defaultMaxArticle
	}
	if cfg.PacketCap <= 0 {
		cfg.PacketCap = defaultPacketCap
	}
	return &Syncer{
		cfg: cfg,
		lgr: lgr,
		log: NewLogToX(lgr, "nntpsync"),
	}
}

func (s *Syncer) control() Signal {
	if s.cfg.Control == nil {
		return SigNone
	}
	return s.cfg.Control()
}

// Run drives one full synchronization session over conn: catalogue
// refresh, per-group article retrieval, then posting of queued
// outbound articles.
func (s *Syncer) Run(conn io.ReadWriter, now time.Time) error {
	s.c = NewClient(conn, s.lgr)

	if err := s.c.handleInitial(); err != nil {
		return err
	}
	if err := s.c.modeReader(); err != nil {
		return err
	}

	// board-bound packets; Layout.Packets is the export queue and
	// anything placed there would come straight back as a post
	s.w = packet.NewFileWriter(
		s.cfg.Layout.Outbound, "P", ".NET", s.cfg.PacketCap)
	defer s.w.Close()

	if err := s.refreshCatalogue(now); err != nil {
		return err
	}

	aborted := false
	for i, g := range s.cfg.Cursors.Groups() {
		if s.control() == SigAbort {
			s.log.LogPrintf(NOTICE, "session aborted by operator")
			aborted = true
			break
		}
		if !s.cfg.SpoolToDisk && spoolSubtype(g.Subtype) {
			continue
		}
		err, fatal := s.syncGroup(i, g, now)
		if err != nil {
			if fatal {
				// persisted cursors are already at the last
				// fully classified article
				return err
			}
			s.log.LogPrintf(WARN, "group %s: %v", g.Name, err)
		}
	}
	if err := s.cfg.Cursors.Save(); err != nil {
		return err
	}

	if !aborted {
		if err := s.postArticles(); err != nil {
			s.log.LogPrintf(ERROR, "posting: %v", err)
		}
	}

	s.c.quit()
	s.log.LogPrintf(INFO,
		"session done: %d accepted, %d rejected, %d skipped, %d posted",
		s.accepted, s.rejected, s.skipped, s.posted)
	return nil
}

// refreshCatalogue pulls the group catalogue at most once per
// calendar day: the full listing on a first run, only groups created
// since the last refresh afterwards. Discovered groups start with
// their cursor at the server's high watermark so only future traffic
// flows.
func (s *Syncer) refreshCatalogue(now time.Time) error {
	mode, since := s.cfg.Cursors.NeedRefresh(now)
	if mode == newsrc.RefreshNone {
		return nil
	}

	issue := func() (uint, []byte, error, bool) {
		if mode == newsrc.RefreshFull {
			return s.c.cmd("LIST")
		}
		u := since.UTC()
		return s.c.cmd("NEWGROUPS %02d%02d%02d %02d%02d%02d GMT",
			u.Year()%100, int(u.Month()), u.Day(),
			u.Hour(), u.Minute(), u.Second())
	}

	code, rest, err, _ := issue()
	if err != nil {
		return err
	}
	if code == 480 {
		if err = s.c.authenticate(s.cfg.User, s.cfg.Pass); err != nil {
			return err
		}
		if code, rest, err, _ = issue(); err != nil {
			return err
		}
	}
	if code != 215 && code != 231 {
		return fmt.Errorf("bad catalogue response %d %q",
			code, au.TrimWSBytes(rest))
	}

	added := 0
	dr := s.c.openDotReader()
	for {
		line, err := s.c.readDotLine(dr)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading catalogue: %v", err)
		}
		name, hi, _, _, err := parseListActiveLine(line)
		if err != nil {
			s.log.LogPrintf(WARN, "catalogue row skipped: %v", err)
			continue
		}
		if s.cfg.Cursors.Add(newsrc.Group{
			Name:     string(name),
			LastRead: int64(hi),
			Subtype:  "0",
		}) {
			added++
		}
	}
	s.log.LogPrintf(INFO, "catalogue refresh: %d groups added", added)

	s.cfg.Cursors.MarkRefreshed(now)
	return s.cfg.Cursors.Save()
}

// syncGroup retrieves everything new in one group. The cursor is
// persisted after every article so a dropped connection resumes at
// worst one article behind.
func (s *Syncer) syncGroup(
	idx int, g newsrc.Group, now time.Time) (err error, fatal bool) {

	if strings.HasPrefix(g.Name, ";") {
		s.log.LogPrintf(DEBUG, "commented out group %s", g.Name)
		return nil, false
	}

	code, rest, err, fatal := s.c.cmd("GROUP %s", g.Name)
	if err != nil {
		return err, fatal
	}
	if code == 480 {
		if err = s.c.authenticate(s.cfg.User, s.cfg.Pass); err != nil {
			return err, true
		}
		if code, rest, err, fatal = s.c.cmd("GROUP %s", g.Name); err != nil {
			return err, fatal
		}
	}
	if code == 411 {
		// transient on some servers; never fail the session over it
		return fmt.Errorf("no such newsgroup"), false
	}
	if code != 211 {
		return fmt.Errorf("bad GROUP response %d %q",
			code, au.TrimWSBytes(rest)), false
	}

	num, lo, hi, err := s.c.parseGroupResponse(rest)
	if err != nil {
		return err, false
	}

	lr := g.LastRead
	if lr < int64(lo) {
		lr = int64(lo)
	}
	if lr > int64(hi) {
		lr = int64(hi)
	}
	if int64(hi)-lr > int64(s.cfg.GroupCap) {
		s.log.LogPrintf(NOTICE, "%s: %d behind, keeping latest %d",
			g.Name, int64(hi)-lr, s.cfg.GroupCap)
		lr = int64(hi) - int64(s.cfg.GroupCap)
	}
	s.cfg.Cursors.SetLastRead(g.Name, lr)

	if num == 0 || lr >= int64(hi) {
		s.log.LogPrintf(INFO, "%s: no new articles", g.Name)
		return nil, false
	}
	s.log.LogPrintf(INFO, "%s: %d new articles", g.Name, int64(hi)-lr)

	// position on the cursor article; expiry here is harmless, NEXT
	// finds whatever follows
	if code, _, err, fatal = s.c.cmd("STAT %d", lr); err != nil {
		return err, fatal
	}

	for {
		switch s.control() {
		case SigAbort:
			return nil, false
		case SigSkipGroup:
			s.log.LogPrintf(NOTICE, "%s: skipped by operator", g.Name)
			return nil, false
		case SigCatchUp:
			s.log.LogPrintf(NOTICE, "%s: caught up by operator", g.Name)
			s.cfg.Cursors.SetLastRead(g.Name, int64(hi))
			return s.cfg.Cursors.Save(), false
		}

		code, rest, err, fatal = s.c.cmd("NEXT")
		if err != nil {
			return err, fatal
		}
		if code == 421 {
			break // end of group
		}
		if code != 223 {
			return fmt.Errorf("bad NEXT response %d %q",
				code, au.TrimWSBytes(rest)), false
		}
		s.c.args, _ = parseResponseArguments(rest, 1, s.c.args[:0])
		if len(s.c.args) < 1 || !isNumberSlice(s.c.args[0]) {
			return fmt.Errorf("bad NEXT article number %q",
				au.TrimWSBytes(rest)), false
		}
		n := int64(stoi64(s.c.args[0]))

		err, fatal = s.processArticle(idx, g, n, now)
		if err != nil {
			if fatal {
				// do not advance past an article that was not
				// fully classified
				return err, true
			}
			s.log.LogPrintf(WARN, "%s article %d: %v", g.Name, n, err)
		}

		s.cfg.Cursors.SetLastRead(g.Name, n)
		if err = s.cfg.Cursors.Save(); err != nil {
			return err, true
		}
	}

	return nil, false
}

// artHead is what HEAD gives us to classify on.
type artHead struct {
	path         string
	from         string
	replyTo      string
	subject      string
	newsgroups   string
	organization string
	msgid        string
	references   string
	date         string
}

func (s *Syncer) fetchHead(h *artHead) (expired bool, err error, fatal bool) {
	code, rest, err, fatal := s.c.cmd("HEAD")
	if err != nil {
		return false, err, fatal
	}
	if code == 423 || code == 420 {
		return true, nil, false
	}
	if code != 221 {
		return false, fmt.Errorf("bad HEAD response %d %q",
			code, au.TrimWSBytes(rest)), false
	}

	dr := s.c.openDotReader()
	for {
		line, err := s.c.readDotLine(dr)
		if err == io.EOF {
			return false, nil, false
		}
		if err != nil {
			dr.Discard(-1)
			return false, err, true
		}
		name, value := splitHeaderLine(line)
		if name == "" {
			continue
		}
		for _, f := range []struct {
			key string
			dst *string
		}{
			{"Path", &h.path},
			{"From", &h.from},
			{"Reply-To", &h.replyTo},
			{"Subject", &h.subject},
			{"Newsgroups", &h.newsgroups},
			{"Organization", &h.organization},
			{"Message-ID", &h.msgid},
			{"References", &h.references},
			{"Date", &h.date},
		} {
			if au.EqualFoldString(name, f.key) && *f.dst == "" {
				*f.dst = value
			}
		}
	}
}

func splitHeaderLine(line []byte) (name, value string) {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return "", ""
	}
	return string(line[:i]),
		string(au.TrimWSBytes(line[i+1:]))
}

// classify decides whether an article flows into the network. An
// empty reason means accept.
func (s *Syncer) classify(h *artHead) string {
	if h.path != "" && containsFold(h.path, s.cfg.PopName) {
		return "local post (path)"
	}
	if h.organization != "" &&
		containsFold(h.organization, s.cfg.SystemName) {
		return "local post (organization)"
	}
	if s.cfg.Spam != nil {
		if kw, hit := s.cfg.Spam.Match(
			keywords.ScopeNews, h.subject, h.from); hit {
			return "spam (" + kw + ")"
		}
	}
	if n := crosspostCount(h.newsgroups); n > s.cfg.CrosspostMax {
		return fmt.Sprintf("crosspost to %d newsgroups", n)
	}
	if id := mm.FullMsgIDStr(h.msgid); mm.ValidMessageIDStr(id) {
		if seen, err := s.cfg.IDs.Seen(mm.CutMessageIDStr(id)); err != nil {
			s.log.LogPrintf(WARN, "dedup lookup: %v", err)
		} else if seen {
			return "already transferred " + h.msgid
		}
	}
	return ""
}

func containsFold(haystack, needle string) bool {
	return needle != "" &&
		strings.Contains(strings.ToLower(haystack),
			strings.ToLower(needle))
}

func crosspostCount(newsgroups string) int {
	n := 0
	for _, g := range strings.Split(newsgroups, ",") {
		if strings.TrimSpace(g) != "" {
			n++
		}
	}
	return n
}

func (s *Syncer) processArticle(
	idx int, g newsrc.Group, n int64, now time.Time) (err error, fatal bool) {

	var h artHead
	expired, err, fatal := s.fetchHead(&h)
	if err != nil {
		return err, fatal
	}
	if expired {
		s.skipped++
		return nil, false
	}

	if reason := s.classify(&h); reason != "" {
		s.rejected++
		s.log.LogPrintf(INFO, "%s %d rejected: %s", g.Name, n, reason)
		return nil, false
	}

	code, rest, err, fatal := s.c.cmd("BODY")
	if err != nil {
		return err, fatal
	}
	if code == 423 || code == 420 {
		s.skipped++
		return nil, false
	}
	if code != 222 {
		return fmt.Errorf("bad BODY response %d %q",
			code, au.TrimWSBytes(rest)), false
	}
	dr := s.c.openDotReader()
	body, err := ioutil.ReadAll(dr)
	if err != nil {
		dr.Discard(-1)
		return err, true
	}

	if spoolSubtype(g.Subtype) {
		err = s.spoolCapture(idx, g, n, &h, body)
	} else {
		err = s.emitPackets(g, &h, body, now)
	}
	if err != nil {
		return err, false
	}

	if id := mm.FullMsgIDStr(h.msgid); mm.ValidMessageIDStr(id) {
		if err = s.cfg.IDs.Record(mm.CutMessageIDStr(id)); err != nil {
			s.log.LogPrintf(WARN, "dedup record: %v", err)
		}
	}
	s.accepted++
	return nil, false
}

// spoolCapture appends one article as readable text to the group's
// capture file, banner first, for offline decoding.
func (s *Syncer) spoolCapture(
	idx int, g newsrc.Group, n int64, h *artHead, body []byte) error {

	var b bytes.Buffer
	b.WriteString(strings.Repeat("-", 79) + "\n")
	fmt.Fprintf(&b, "Art  : %d\n", n)
	fmt.Fprintf(&b, "Group: %s\n", g.Name)
	fmt.Fprintf(&b, "Date : %s\n", orUnknown(h.date))
	fmt.Fprintf(&b, "From : %s\n", orUnknown(firstOf(h.replyTo, h.from)))
	fmt.Fprintf(&b, "Subj : %s\n\n", orUnknown(h.subject))
	b.Write(body)

	path := filepath.Join(s.cfg.Layout.Spool,
		fmt.Sprintf("NEWS%d.UUE", idx))
	return spool.AppendFile(path, b.Bytes())
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func ordinal(n int) string {
	switch {
	case n%100/10 == 1:
		return "th"
	case n%10 == 1:
		return "st"
	case n%10 == 2:
		return "nd"
	case n%10 == 3:
		return "rd"
	}
	return "th"
}

// splitBody cuts a body into chunks below max, preferring line
// boundaries; an article never spans packet files but may span
// several packets.
func splitBody(body []byte, max int) [][]byte {
	if len(body) <= max {
		return [][]byte{body}
	}
	var chunks [][]byte
	for len(body) > max {
		cut := bytes.LastIndexByte(body[:max], '\n')
		if cut <= 0 {
			cut = max - 1
		}
		chunks = append(chunks, body[:cut+1])
		body = body[cut+1:]
	}
	if len(body) > 0 {
		chunks = append(chunks, body)
	}
	return chunks
}

func (s *Syncer) emitPackets(
	g newsrc.Group, h *artHead, body []byte, now time.Time) error {

	subject := h.subject
	if subject == "" {
		subject = "No Subject"
	}
	sender := firstOf(h.replyTo, h.from)
	if sender == "" {
		sender = "Unknown"
	}

	chunks := splitBody(body, s.cfg.MaxArticle)
	for i, chunk := range chunks {
		subj := subject
		if i > 0 {
			subj = fmt.Sprintf("%d%s %s", i+1, ordinal(i+1), subject)
		}
		fields := packet.MsgFields{
			Subject:    subj,
			Sender:     sender,
			Date:       h.date,
			References: h.msgid,
			Text:       chunk,
		}

		hdr := packet.Header{
			ToSys:   s.cfg.Node,
			FromSys: packet.GatewayNode,
			Daten:   uint32(now.Unix()) + uint32(i),
		}
		var pbody packet.Body
		if st, err := strconv.Atoi(g.Subtype); err == nil {
			hdr.MinorType = uint16(st)
			pbody = packet.PostToHost{MsgFields: fields}
		} else {
			pbody = packet.PostByName{
				Subtype:   g.Subtype,
				MsgFields: fields,
			}
		}
		if err := s.w.WritePacket(
			&packet.Packet{Hdr: hdr, Body: pbody}); err != nil {
			return err
		}
	}
	return nil
}

// newsgroupOf digs the Newsgroups header out of a queued article
// file.
func newsgroupOf(data []byte) string {
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			break // headers end
		}
		name, value := splitHeaderLine(line)
		if au.EqualFoldString(name, "Newsgroups") {
			return firstField(value)
		}
	}
	return ""
}

func firstField(s string) string {
	if i := strings.IndexAny(s, ", \t"); i >= 0 {
		return s[:i]
	}
	return s
}

// postArticles drains the outbound article queue. Every article is
// checked against the cursor store first: posting to a group the
// server never mapped just churns rejections.
func (s *Syncer) postArticles() error {
	paths, err := spool.Sweep(s.cfg.Layout.Outbound, "ART", ".ART")
	if err != nil {
		return err
	}
	for _, path := range paths {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			s.log.LogPrintf(ERROR, "%s: %v", path, err)
			continue
		}
		group := newsgroupOf(data)
		g, ok := s.cfg.Cursors.Lookup(group)
		if !ok || spoolSubtype(g.Subtype) {
			s.log.LogPrintf(WARN,
				"%s: group %q not mapped, left queued", path, group)
			continue
		}

		code, rest, err, _ := s.c.cmd("POST")
		if err != nil {
			return err
		}
		if code == 440 {
			s.log.LogPrintf(NOTICE, "posting not allowed, queue kept")
			return nil
		}
		if code != 340 {
			return fmt.Errorf("bad POST response %d %q",
				code, au.TrimWSBytes(rest))
		}

		dw := s.c.w.DotWriter()
		if _, err = dw.Write(data); err != nil {
			return err
		}
		if err = dw.Close(); err != nil {
			return err
		}

		code, rest, err, _ = s.c.readResponse()
		if err != nil {
			return err
		}
		switch {
		case code == 240:
			s.posted++
			s.log.LogPrintf(INFO, "posted %s to %s", path, group)
			if err = os.Remove(path); err != nil {
				return err
			}
		case code == 441 || code == 435:
			moved, merr := spool.Move(
				path, s.cfg.Layout.Failed, "ART", ".ART")
			if merr != nil {
				return merr
			}
			s.log.LogPrintf(ERROR,
				"article refused (%d %q), parked as %s",
				code, au.TrimWSBytes(rest), moved)
		default:
			s.log.LogPrintf(WARN,
				"weird post acknowledgement %d %q, article kept",
				code, au.TrimWSBytes(rest))
		}
	}
	return nil
}
