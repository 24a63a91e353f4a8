package translate

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	au "bbsgate/lib/asciiutils"
	"bbsgate/lib/mail"
	"bbsgate/lib/maillist"
	"bbsgate/lib/packet"
	"bbsgate/lib/spool"
	. "bbsgate/lib/logx"
)

type SubscribeOutcome int

const (
	SubNone SubscribeOutcome = iota
	SubAdded
	SubRemoved
	SubAlreadyMember
	SubNotMember
	SubInvalidList
	SubSentCatalog
)

var subOutcomeNames = [...]string{
	"None", "Added", "Removed", "AlreadyMember", "NotMember",
	"InvalidList", "SentCatalog",
}

func (o SubscribeOutcome) String() string {
	if int(o) < len(subOutcomeNames) {
		return subOutcomeNames[o]
	}
	return "SubscribeOutcome?"
}

type SubscribeCfg struct {
	Node   NodeInfo
	Lists  *maillist.Store
	Layout *spool.Layout
	Mint   *Mint

	// catalogue text answering "subscribe LISTS" requests
	CatalogFile string

	// per-list welcome files <LIST>.WEL, fallback WELCOME.TXT
	WelcomeDir string

	HeadLimit int64
}

type Subscriber struct {
	cfg SubscribeCfg
	w   *packet.FileWriter
	log LogToX
}

func NewSubscriber(cfg SubscribeCfg, w *packet.FileWriter, lgr LoggerX) *Subscriber {
	if cfg.HeadLimit <= 0 {
		cfg.HeadLimit = defaultHeadLimit
	}
	return &Subscriber{
		cfg: cfg,
		w:   w,
		log: NewLogToX(lgr, "subscribe"),
	}
}

// parseRequest splits "subscribe CHESS" style subjects.
func parseRequest(subject string) (unsub bool, arg string, ok bool) {
	fields := strings.Fields(subject)
	if len(fields) == 0 {
		return
	}
	switch strings.ToLower(fields[0]) {
	case "subscribe":
	case "unsubscribe":
		unsub = true
	default:
		return
	}
	ok = true
	if len(fields) > 1 {
		arg = fields[1]
	}
	return
}

// Handle processes one parsed request and reports what happened.
func (s *Subscriber) Handle(env *mail.Envelope) (SubscribeOutcome, string, error) {
	from := senderOf(env)
	if from == "" {
		return SubNone, "", fmt.Errorf("request with no sender address")
	}

	unsub, arg, ok := parseRequest(env.Subject)
	if !ok {
		return SubNone, "", fmt.Errorf(
			"subject %q is not a request", env.Subject)
	}

	if au.EqualFoldString(arg, "LISTS") {
		err := s.sendNote(from, "list of mailing lists", s.catalog())
		return SubSentCatalog, arg, err
	}

	if arg == "" || !maillist.ValidListName(arg) ||
		!s.cfg.Lists.Exists(arg) {

		err := s.sendNote(from,
			"unknown mailing list",
			fmt.Sprintf("There is no mailing list named %q here.\r\n"+
				"Send \"subscribe LISTS\" for a catalogue.\r\n", arg))
		return SubInvalidList, arg, err
	}

	list := strings.ToUpper(arg)
	var r maillist.Result
	var err error
	if unsub {
		r, err = s.cfg.Lists.Unsubscribe(list, from)
	} else {
		r, err = s.cfg.Lists.Subscribe(list, from)
	}
	if err != nil {
		return SubNone, list, err
	}

	var out SubscribeOutcome
	switch r {
	case maillist.Added:
		out = SubAdded
		err = s.sendNote(from,
			"subscribed to "+list, s.welcome(list))
	case maillist.AlreadyMember:
		out = SubAlreadyMember
		err = s.sendNote(from,
			"already subscribed to "+list,
			"You are already subscribed to "+list+".\r\n")
	case maillist.Removed:
		out = SubRemoved
		err = s.sendNote(from,
			"unsubscribed from "+list,
			"You have been removed from "+list+".\r\n")
	case maillist.NotMember:
		out = SubNotMember
		err = s.sendNote(from,
			"not subscribed to "+list,
			"You are not subscribed to "+list+".\r\n")
	}
	if err != nil {
		return out, list, err
	}

	if out == SubAdded || out == SubRemoved {
		err = s.notice("%s: %q -> %s", list, from, out)
	}
	return out, list, err
}

func (s *Subscriber) catalog() string {
	if s.cfg.CatalogFile != "" {
		if data, err := ioutil.ReadFile(s.cfg.CatalogFile); err == nil {
			return string(data)
		}
	}
	// no catalogue maintained; enumerate the membership files
	names := s.cfg.Lists.Names()
	if len(names) == 0 {
		return "No mailing lists are hosted here.\r\n"
	}
	var sb strings.Builder
	sb.WriteString("Mailing lists hosted here:\r\n\r\n")
	for _, n := range names {
		sb.WriteString("  " + n + "\r\n")
	}
	return sb.String()
}

func (s *Subscriber) welcome(list string) string {
	for _, p := range []string{
		filepath.Join(s.cfg.WelcomeDir, list+".WEL"),
		filepath.Join(s.cfg.WelcomeDir, "WELCOME.TXT"),
	} {
		if data, err := ioutil.ReadFile(p); err == nil {
			return string(data)
		}
	}
	return "You have been subscribed to " + list + ".\r\n"
}

// sendNote queues a notification mail back to the requester.
func (s *Subscriber) sendNote(to, subject, text string) error {
	n := &s.cfg.Node
	var b headerBlock
	b.add("To", to)
	b.add("From", n.OwnAddr())
	b.add("Subject", subject)
	b.add("Date", mail.FormatDate(time.Now()))
	b.add("Message-ID", string(s.cfg.Mint.Next()))
	_, err := spool.WriteFile(
		s.cfg.Layout.Mqueue, "MSG", ".0", b.finish([]byte(text)))
	return err
}

func (s *Subscriber) notice(format string, args ...interface{}) error {
	if s.w == nil {
		return nil
	}
	p := packet.Packet{
		Hdr: packet.Header{
			ToSys:   s.cfg.Node.Node,
			ToUser:  s.cfg.Node.SysopUser,
			FromSys: packet.GatewayNode,
			Daten:   uint32(time.Now().Unix()),
		},
		Body: packet.SystemNotice{
			Message: fmt.Sprintf(format, args...),
		},
	}
	return s.w.WritePacket(&p)
}

// SweepInbound processes every staged subscribe request. Requests
// that do not parse keep their file under a .BAD name for the
// operator; handled requests are consumed.
func (s *Subscriber) SweepInbound() error {
	paths, err := spool.Sweep(s.cfg.Layout.Inbound, "SUB", ".MSG")
	if err != nil {
		return err
	}
	for _, path := range paths {
		h, err := os.Open(path)
		if err != nil {
			s.log.LogPrintf(ERROR, "%s: %v", path, err)
			continue
		}
		env, err := mail.ReadEnvelope(h, s.cfg.HeadLimit)
		h.Close()
		if err == nil {
			var out SubscribeOutcome
			var list string
			out, list, err = s.Handle(&env)
			if err == nil {
				s.log.LogPrintf(INFO, "%s: %s %s", path, out, list)
				if err = os.Remove(path); err != nil {
					return err
				}
				continue
			}
		}
		s.log.LogPrintf(WARN, "%s not handled: %v", path, err)
		if rerr := os.Rename(path, path+".BAD"); rerr != nil {
			return rerr
		}
	}
	return nil
}
