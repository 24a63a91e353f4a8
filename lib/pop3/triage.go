package pop3

import (
	"bytes"
	"strings"

	au "bbsgate/lib/asciiutils"
	"bbsgate/lib/keywords"
	"bbsgate/lib/mail"
	mm "bbsgate/lib/minimail"
)

type Outcome int

const (
	Unknown Outcome = iota
	NetworkPacket
	Archive
	Image
	Bounce
	Spam
	Subscribe
	Duplicate
	FidoNet
)

var outcomeNames = [...]string{
	"Unknown",
	"NetworkPacket",
	"Archive",
	"Image",
	"Bounce",
	"Spam",
	"Subscribe",
	"Duplicate",
	"FidoNet",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "Outcome?"
}

// Env carries the read-only context classification runs against.
// Classify itself touches no I/O; Seen consults the dedup store.
type Env struct {
	OwnAddr     string
	IsLocalUser func(coreAddr string) bool
	Seen        func(id mm.CoreMsgIDStr) bool
	Spam        *keywords.List
	Fido        *keywords.List
}

// Facts are the header values triage extracted along the way; the
// engine records MsgID and the subscribe pipeline reuses Sender and
// Subject.
type Facts struct {
	Sender  string
	Subject string
	ToLocal bool
	MsgID   mm.FullMsgIDStr
}

var adminSenders = []string{
	"mailer-daemon",
	"mail-daemon",
	"postmaster",
	"mail administrator",
	"mail delivery subsystem",
}

func senderIsAdministrative(from, ownAddr string) bool {
	lf := strings.ToLower(from)
	for _, a := range adminSenders {
		if strings.Contains(lf, a) {
			return true
		}
	}
	return ownAddr != "" &&
		au.EqualFoldString(mail.ExtractCoreAddress(from), ownAddr)
}

var archiveExts = []string{
	"zip", "arj", "lzh", "lha", "arc", "zoo", "rar", "gz", "tgz", "z",
}

var imageExts = []string{
	"gif", "jpg", "jpeg", "png", "bmp", "pcx", "tif", "tiff",
}

func classifyAttachmentName(name string) Outcome {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return NetworkPacket
	}
	ext := strings.ToLower(name[i+1:])
	for _, e := range archiveExts {
		if ext == e {
			return Archive
		}
	}
	for _, e := range imageExts {
		if ext == e {
			return Image
		}
	}
	return NetworkPacket
}

// attachmentName digs a filename out of a line introducing encoded
// content: a uuencode "begin 644 name" line, or a name=/filename=
// parameter of a MIME header line.
func attachmentName(line []byte) (string, bool) {
	if bytes.HasPrefix(line, []byte("begin ")) {
		fields := strings.Fields(string(line))
		if len(fields) >= 3 && isDigits(fields[1]) {
			return fields[2], true
		}
		return "", false
	}

	ll := bytes.ToLower(line)
	for _, marker := range [][]byte{[]byte("filename="), []byte("name=")} {
		i := bytes.Index(ll, marker)
		if i < 0 {
			continue
		}
		v := bytes.TrimLeft(line[i+len(marker):], " \t")
		if len(v) > 0 && v[0] == '"' {
			if j := bytes.IndexByte(v[1:], '"'); j >= 0 {
				return string(v[1 : 1+j]), true
			}
			return "", false
		}
		if j := bytes.IndexAny(v, " \t;"); j >= 0 {
			v = v[:j]
		}
		if len(v) != 0 {
			return string(v), true
		}
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func subjectIsSubscribe(subject string) bool {
	s := strings.ToLower(au.TrimWSString(subject))
	return strings.HasPrefix(s, "subscribe") ||
		strings.HasPrefix(s, "unsubscribe")
}

type triageHit struct {
	outcome      Outcome
	suppressible bool // dropped when the message targets a local user
}

// Classify applies the ordered triage rules to a header preview and
// returns exactly one outcome. Rules fire in the order their lines
// appear; the administrative-sender rule is suppressed for mail
// addressed to a specific local user, and a dedup hit overrides
// everything else last.
func Classify(preview []byte, env Env) (Outcome, Facts) {
	var f Facts
	var hits []triageHit
	dupe := false
	inHeaders := true

	rest := preview
	for len(rest) > 0 {
		var line []byte
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			line, rest = rest, nil
		}
		line = bytes.TrimRight(line, "\r")

		if inHeaders {
			if len(line) == 0 {
				inHeaders = false
				continue
			}
			ci := bytes.IndexByte(line, ':')
			if ci > 0 {
				name := strings.ToLower(string(au.TrimWSBytes(line[:ci])))
				val := string(au.TrimWSBytes(line[ci+1:]))
				switch name {
				case "from":
					f.Sender = val
					if senderIsAdministrative(val, env.OwnAddr) {
						hits = append(hits,
							triageHit{Bounce, true})
					}
				case "to", "cc":
					for _, a := range mail.SplitAddressList(val) {
						core := mail.ExtractCoreAddress(a)
						if env.IsLocalUser != nil &&
							env.IsLocalUser(core) {

							f.ToLocal = true
						}
					}
				case "subject":
					f.Subject = val
				case "message-id":
					if id := mm.FullMsgIDStr(val); mm.ValidMessageIDStr(id) {
						f.MsgID = id
						if env.Seen != nil &&
							env.Seen(mm.CutMessageIDStr(id)) {

							dupe = true
						}
					}
				}
			}
		}

		if name, ok := attachmentName(line); ok {
			hits = append(hits,
				triageHit{classifyAttachmentName(name), false})
		}
	}

	o := Unknown
	matched := false
	for _, h := range hits {
		if h.suppressible && f.ToLocal {
			continue
		}
		o = h.outcome
		matched = true
		break
	}

	if !matched {
		switch {
		case subjectIsSubscribe(f.Subject):
			o = Subscribe
		case matchList(env.Spam, keywords.ScopeMail, f.Sender, f.Subject):
			o = Spam
		case matchList(env.Fido, keywords.ScopeMail, f.Subject):
			o = FidoNet
		}
	}

	// dedup verdict lands last and wins
	if dupe && !f.ToLocal {
		o = Duplicate
	}

	return o, f
}

func matchList(l *keywords.List, scope keywords.Scope, texts ...string) bool {
	if l == nil {
		return false
	}
	_, hit := l.Match(scope, texts...)
	return hit
}
