package translate

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"bbsgate/lib/mail"
	"bbsgate/lib/maillist"
	"bbsgate/lib/packet"
	"bbsgate/lib/spool"
	. "bbsgate/lib/logx"
)

type ExportCfg struct {
	Node   NodeInfo
	Users  UserDirectory
	Groups SubtypeMapper
	Lists  *maillist.Store
	Layout *spool.Layout
	Mint   *Mint

	Taglines *Taglines

	// one digest file per list per day instead of per-member mail
	Digest bool

	// list posting address overrides for lists hosted elsewhere
	ListAddrs map[string]string

	// identity substituted when the author requested anonymity
	AnonymousName string
}

type Exporter struct {
	cfg ExportCfg
	log LogToX
}

func NewExporter(cfg ExportCfg, lgr LoggerX) *Exporter {
	if cfg.AnonymousName == "" {
		cfg.AnonymousName = "Anonymous"
	}
	return &Exporter{
		cfg: cfg,
		log: NewLogToX(lgr, "export"),
	}
}

// fromAddress builds the outbound From line of a packet author.
func (ex *Exporter) fromAddress(hdr *packet.Header, sender string) string {
	n := &ex.cfg.Node
	if ex.cfg.Users.Anonymous(hdr.FromUser) {
		return mail.FormatAddress(ex.cfg.AnonymousName,
			"anonymous@"+n.Domain)
	}
	if addr, ok := ex.cfg.Users.AddressOf(hdr.FromUser); ok {
		name, _ := ex.cfg.Users.NameOf(hdr.FromUser)
		if name == "" {
			name = sender
		}
		return mail.FormatAddress(name, addr)
	}
	// no registered address; synthesize a routable one
	return mail.FormatAddress(sender, fmt.Sprintf(
		"u%d.n%d@%s", hdr.FromUser, hdr.FromSys, n.Domain))
}

func (ex *Exporter) anonymous(hdr *packet.Header) bool {
	return ex.cfg.Users.Anonymous(hdr.FromUser)
}

// header accumulation preserving write order
type headerBlock struct {
	buf bytes.Buffer
}

func (b *headerBlock) add(name, value string) {
	if value != "" {
		fmt.Fprintf(&b.buf, "%s: %s\r\n", name, value)
	}
}

func (b *headerBlock) finish(body []byte) []byte {
	b.buf.WriteString("\r\n")
	b.buf.Write(body)
	if !bytes.HasSuffix(b.buf.Bytes(), []byte("\n")) {
		b.buf.WriteString("\r\n")
	}
	return b.buf.Bytes()
}

// exportDate normalizes the packet's stored date; unparseable dates
// are replaced, never passed through to picky MTAs.
func exportDate(raw string, now time.Time) string {
	if raw != "" {
		if t, err := mail.ParseDateX(raw); err == nil {
			return mail.FormatDate(t)
		}
	}
	return mail.FormatDate(now)
}

func (ex *Exporter) commonHeaders(
	b *headerBlock, f *packet.MsgFields, hdr *packet.Header,
	now time.Time) {

	b.add("From", ex.fromAddress(hdr, f.Sender))
	b.add("Subject", f.Subject)
	b.add("Date", exportDate(f.Date, now))
	b.add("Message-ID", string(ex.cfg.Mint.Next()))
	b.add("References", f.References)
	b.add("MIME-Version", "1.0")
	b.add("Content-Type", `text/plain; charset="US-ASCII"`)
}

// queueMail stages one outbound mail file and, when archive is set,
// a duplicate under the sent archive.
func (ex *Exporter) queueMail(data []byte, archive bool) error {
	path, err := spool.WriteFile(ex.cfg.Layout.Mqueue, "MSG", ".0", data)
	if err != nil {
		return err
	}
	ex.log.LogPrintf(DEBUG, "queued %s", path)
	if archive {
		_, err = spool.WriteFile(ex.cfg.Layout.Sent, "MSG", ".SNT", data)
	}
	return err
}

func (ex *Exporter) exportEmail(
	hdr *packet.Header, to string, f *packet.MsgFields,
	now time.Time) error {

	if to == "" {
		return errors.New("email packet with no destination address")
	}
	var b headerBlock
	b.add("To", to)
	ex.commonHeaders(&b, f, hdr, now)
	if !ex.anonymous(hdr) {
		if addr, ok := ex.cfg.Users.AddressOf(hdr.FromUser); ok {
			b.add("Reply-To", addr)
		}
	}
	return ex.queueMail(b.finish(f.Text), true)
}

func (ex *Exporter) exportListPost(
	hdr *packet.Header, list string, f *packet.MsgFields,
	now time.Time) error {

	n := &ex.cfg.Node
	listAddr := ex.cfg.ListAddrs[list]

	build := func(to string) []byte {
		var b headerBlock
		b.add("To", to)
		ex.commonHeaders(&b, f, hdr, now)
		b.add("Reply-To", strings.ToLower(list)+"@"+n.Domain)
		if !ex.anonymous(hdr) {
			if addr, ok := ex.cfg.Users.AddressOf(hdr.FromUser); ok {
				b.add("X-Reply-To", addr)
			}
		}
		b.add("X-Source", n.SystemName)
		body := append([]byte(nil), f.Text...)
		body = appendTagline(body, ex.cfg.Taglines, list)
		return b.finish(body)
	}

	if listAddr != "" {
		// list hosted elsewhere: a single post to its address
		return ex.queueMail(build(listAddr), false)
	}

	if ex.cfg.Digest {
		data := build(strings.ToLower(list) + "@" + n.Domain)
		df := digestFile(ex.cfg.Layout.Digest, list, now)
		if err := spool.AppendFile(df, []byte(digestSeparator)); err != nil {
			return err
		}
		return spool.AppendFile(df, data)
	}

	members, err := ex.cfg.Lists.Members(list)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err = ex.queueMail(build(m), false); err != nil {
			return err
		}
	}
	ex.log.LogPrintf(INFO, "list %s: %d copies", list, len(members))
	return nil
}

func (ex *Exporter) exportArticle(
	hdr *packet.Header, group string, f *packet.MsgFields, list string,
	now time.Time) error {

	n := &ex.cfg.Node
	org := n.Organization
	if org == "" {
		org = n.SystemName
	}
	if ex.anonymous(hdr) {
		org = ex.cfg.AnonymousName
	}

	var b headerBlock
	b.add("Newsgroups", group)
	ex.commonHeaders(&b, f, hdr, now)
	b.add("Path", n.PopName)
	b.add("Organization", org)

	body := append([]byte(nil), f.Text...)
	body = appendTagline(body, ex.cfg.Taglines, list)

	_, err := spool.WriteFile(
		ex.cfg.Layout.Outbound, "ART", ".ART", b.finish(body))
	return err
}

func appendTagline(body []byte, t *Taglines, list string) []byte {
	if t == nil {
		return body
	}
	if len(body) > 0 && !bytes.HasSuffix(body, []byte("\n")) {
		body = append(body, '\r', '\n')
	}
	return append(body, []byte(t.Pick(list)+"\r\n")...)
}

// quarantinePacket parks an unprocessable packet for the operator
// and tells the sysop.
func (ex *Exporter) quarantinePacket(p *packet.Packet, why string) error {
	path, err := spool.WriteFile(
		ex.cfg.Layout.Check, "CHK", ".PKT", p.Encode())
	if err != nil {
		return err
	}
	ex.log.LogPrintf(ERROR, "packet quarantined as %s: %s", path, why)
	return nil
}

// exportNotice delivers a short system message to the operator
// mailbox with no header reconstruction beyond the minimum.
func (ex *Exporter) exportNotice(m string, now time.Time) error {
	n := &ex.cfg.Node
	var b headerBlock
	b.add("To", n.OwnAddr())
	b.add("From", n.OwnAddr())
	b.add("Subject", "gateway notice")
	b.add("Date", mail.FormatDate(now))
	b.add("Message-ID", string(ex.cfg.Mint.Next()))
	return ex.queueMail(b.finish([]byte(m+"\r\n")), false)
}

// ExportPacket translates one packet into queued outbound material.
func (ex *Exporter) ExportPacket(p *packet.Packet, now time.Time) error {
	switch body := p.Body.(type) {
	case packet.EmailByUser:
		to, ok := ex.cfg.Users.AddressOf(p.Hdr.ToUser)
		if !ok {
			return errors.Errorf(
				"no address registered for user %d", p.Hdr.ToUser)
		}
		return ex.exportEmail(&p.Hdr, to, &body.MsgFields, now)

	case packet.EmailByName:
		return ex.exportEmail(&p.Hdr, body.ToName, &body.MsgFields, now)

	case packet.PostByName:
		return ex.exportPost(p, body.Subtype, &body.MsgFields, now)

	case packet.PostFromHost:
		return ex.exportPost(p,
			strconv.Itoa(int(p.Hdr.MinorType)), &body.MsgFields, now)

	case packet.PostToHost:
		return ex.exportPost(p,
			strconv.Itoa(int(p.Hdr.MinorType)), &body.MsgFields, now)

	case packet.SystemNotice:
		return ex.exportNotice(body.Message, now)
	}
	return errors.Errorf("unhandled packet type %v", p.Hdr.MainType)
}

// exportPost demultiplexes a post packet on its subtype: local
// mailing list, mapped newsgroup, or quarantine.
func (ex *Exporter) exportPost(
	p *packet.Packet, subtype string, f *packet.MsgFields,
	now time.Time) error {

	if maillist.ValidListName(subtype) && ex.cfg.Lists.Exists(subtype) {
		return ex.exportListPost(&p.Hdr, strings.ToUpper(subtype), f, now)
	}
	if ex.cfg.Groups != nil {
		if g, ok := ex.cfg.Groups.GroupForSubtype(subtype); ok {
			return ex.exportArticle(&p.Hdr, g.Name, f, subtype, now)
		}
	}
	if err := ex.quarantinePacket(p, "subtype "+subtype+" is not mapped"); err != nil {
		return err
	}
	return ex.exportNotice(fmt.Sprintf(
		"post with unmapped subtype %s quarantined", subtype), now)
}

// ExportFile walks one packet file, exporting each packet in
// isolation, and consumes the file.
func (ex *Exporter) ExportFile(path string, now time.Time) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}

	n, failed := 0, 0
	sc := packet.NewScanner(data)
	for {
		p, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			ex.log.LogPrintf(ERROR, "%s: %v", path, err)
			if rest := sc.Rest(); len(rest) != 0 {
				qp, qerr := spool.WriteFile(
					ex.cfg.Layout.Check, "CHK", ".PKT", rest)
				if qerr != nil {
					return qerr
				}
				ex.log.LogPrintf(NOTICE,
					"undecodable remainder kept as %s", qp)
			}
			break
		}
		n++
		if err = ex.ExportPacket(&p, now); err != nil {
			failed++
			ex.log.LogPrintf(ERROR,
				"%s packet %d (%v): %v", path, n, p.Hdr.MainType, err)
		}
	}

	ex.log.LogPrintf(INFO, "%s: %d packets, %d failed", path, n, failed)
	return os.Remove(path)
}

// SweepPackets exports every pending packet file, oldest first.
func (ex *Exporter) SweepPackets(now time.Time) error {
	paths, err := spool.Sweep(ex.cfg.Layout.Packets, "P", ".NET")
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err = ex.ExportFile(p, now); err != nil {
			ex.log.LogPrintf(ERROR, "exporting %s: %v", p, err)
		}
	}
	return nil
}
