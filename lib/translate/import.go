package translate

import (
	"fmt"
	"os"
	"strings"
	"time"

	"bbsgate/lib/mail"
	"bbsgate/lib/maillist"
	"bbsgate/lib/packet"
	"bbsgate/lib/spool"
	. "bbsgate/lib/logx"
)

const defaultHeadLimit = 1 << 20

type ImportCfg struct {
	Node   NodeInfo
	Users  UserDirectory
	Lists  *maillist.Store
	Layout *spool.Layout
	Mint   *Mint

	// network contexts that receive one copy of each list post
	Contexts []uint16

	// local mailbox for mail whose recipient cannot be resolved
	FallbackUser uint16

	HeadLimit int64
}

type Importer struct {
	cfg ImportCfg
	w   *packet.FileWriter
	log LogToX
}

func NewImporter(cfg ImportCfg, w *packet.FileWriter, lgr LoggerX) *Importer {
	if cfg.HeadLimit <= 0 {
		cfg.HeadLimit = defaultHeadLimit
	}
	if len(cfg.Contexts) == 0 {
		cfg.Contexts = []uint16{cfg.Node.Node}
	}
	return &Importer{
		cfg: cfg,
		w:   w,
		log: NewLogToX(lgr, "import"),
	}
}

// ImportResult is what one staged message translated into.
type ImportResult struct {
	Packets []packet.Packet

	// lists that refused the post because the sender is not a member
	Rejects []string
}

func senderOf(env *mail.Envelope) string {
	for _, s := range []string{
		env.From, env.ReplyTo, env.Sender, env.ReturnPath,
	} {
		if s != "" {
			return s
		}
	}
	return ""
}

// parentReference picks the direct parent out of a References
// header, which is its last entry.
func parentReference(refs string) string {
	fields := strings.Fields(refs)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// decodeWords flattens RFC 2047 encoded words to plain text; board
// readers see raw transfer encoding otherwise. Undecodable input
// passes through as-is.
func decodeWords(s string) string {
	d, err := mail.DecodeMIMEWordHeader(s)
	if err != nil {
		return s
	}
	return d
}

func (im *Importer) baseFields(
	env *mail.Envelope, from string, now time.Time) packet.MsgFields {

	subject := decodeWords(env.Subject)
	if subject == "" {
		subject = "(no subject)"
	}
	date := env.Date
	if date == "" {
		date = mail.FormatDate(now)
	}
	return packet.MsgFields{
		Subject:    subject,
		Sender:     from,
		Date:       date,
		References: parentReference(env.References),
		Text:       env.Body,
	}
}

// Import translates one parsed message into packets. Loop-stamped
// and sender-less messages translate to nothing.
func (im *Importer) Import(
	env *mail.Envelope, now time.Time) (res ImportResult) {

	if env.MsgID != "" && im.cfg.Mint.Own(env.MsgID) {
		im.log.LogPrintf(INFO,
			"own stamp %s came back, dropping", env.MsgID)
		return
	}

	from := senderOf(env)
	if from == "" {
		im.log.LogPrintf(NOTICE, "no usable sender, dropping")
		return
	}
	from = decodeWords(from)

	fields := im.baseFields(env, from, now)
	hdr := packet.Header{
		FromSys: packet.GatewayNode,
		Daten:   uint32(now.Unix()),
	}

	rcpts := env.Recipients()
	if len(rcpts) == 0 {
		rcpts = []string{""}
	}

	for _, rcpt := range rcpts {
		core := mail.ExtractCoreAddress(rcpt)

		if user, ok := im.cfg.Users.LookupAddress(core); ok {
			h := hdr
			h.ToSys = im.cfg.Node.Node
			h.ToUser = user
			res.Packets = append(res.Packets, packet.Packet{
				Hdr:  h,
				Body: packet.EmailByUser{MsgFields: fields},
			})
			continue
		}

		if list, ok := im.listFor(core); ok {
			member, err := im.cfg.Lists.IsMember(list, from)
			if err != nil {
				im.log.LogPrintf(ERROR,
					"membership check for %s: %v", list, err)
				member = false
			}
			if !member {
				im.log.LogPrintf(NOTICE,
					"%q is not on list %s, refusing post", from, list)
				res.Rejects = append(res.Rejects, list)
				continue
			}
			for _, ctx := range im.cfg.Contexts {
				h := hdr
				h.ToSys = ctx
				res.Packets = append(res.Packets, packet.Packet{
					Hdr: h,
					Body: packet.PostByName{
						Subtype:   list,
						MsgFields: fields,
					},
				})
			}
			continue
		}

		h := hdr
		h.ToSys = im.cfg.Node.Node
		h.ToUser = im.cfg.FallbackUser
		res.Packets = append(res.Packets, packet.Packet{
			Hdr:  h,
			Body: packet.EmailByUser{MsgFields: fields},
		})
	}

	return
}

// listFor maps a recipient core address to a local mailing list: the
// local part must be a safe list name with an existing membership
// file, and the domain must be ours.
func (im *Importer) listFor(core string) (string, bool) {
	i := strings.IndexByte(core, '@')
	if i < 0 {
		return "", false
	}
	local, domain := core[:i], core[i+1:]
	if !strings.EqualFold(domain, im.cfg.Node.Domain) {
		return "", false
	}
	if !maillist.ValidListName(local) || !im.cfg.Lists.Exists(local) {
		return "", false
	}
	return strings.ToUpper(local), true
}

// notice emits a short system message packet to the sysop.
func (im *Importer) notice(format string, args ...interface{}) error {
	h := packet.Header{
		ToSys:   im.cfg.Node.Node,
		ToUser:  im.cfg.Node.SysopUser,
		FromSys: packet.GatewayNode,
		Daten:   uint32(time.Now().Unix()),
	}
	p := packet.Packet{
		Hdr:  h,
		Body: packet.SystemNotice{Message: fmt.Sprintf(format, args...)},
	}
	return im.w.WritePacket(&p)
}

// ImportFile translates one staged spool file and consumes it.
// Unparseable files quarantine; resolved-to-nothing files discard.
func (im *Importer) ImportFile(path string, now time.Time) error {
	h, err := os.Open(path)
	if err != nil {
		return err
	}
	env, err := mail.ReadEnvelope(h, im.cfg.HeadLimit)
	h.Close()
	if err != nil {
		im.log.LogPrintf(ERROR, "%s does not parse: %v", path, err)
		moved, merr := spool.Move(path, im.cfg.Layout.Check, "CHK", ".MSG")
		if merr != nil {
			return merr
		}
		im.log.LogPrintf(NOTICE, "%s quarantined as %s", path, moved)
		return nil
	}

	res := im.Import(&env, now)
	for i := range res.Packets {
		if err = im.w.WritePacket(&res.Packets[i]); err != nil {
			return err
		}
	}
	for _, list := range res.Rejects {
		err = im.notice("post to list %s from %q refused: not a member",
			list, senderOf(&env))
		if err != nil {
			return err
		}
	}

	if len(res.Packets) == 0 && len(res.Rejects) != 0 {
		moved, merr := spool.Move(path, im.cfg.Layout.Check, "CHK", ".MSG")
		if merr != nil {
			return merr
		}
		im.log.LogPrintf(NOTICE, "refused post kept as %s", moved)
		return nil
	}

	im.log.LogPrintf(INFO, "%s -> %d packets", path, len(res.Packets))
	return os.Remove(path)
}

// SweepSpool imports every staged unknown-mail file, oldest first.
// Per-file failures are isolated.
func (im *Importer) SweepSpool(now time.Time) error {
	paths, err := spool.Sweep(im.cfg.Layout.Spool, "UNK", ".MSG")
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err = im.ImportFile(p, now); err != nil {
			im.log.LogPrintf(ERROR, "importing %s: %v", p, err)
		}
	}
	return nil
}
