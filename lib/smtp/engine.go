package smtp

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	. "bbsgate/lib/logx"
	"bbsgate/lib/mail"
	"bbsgate/lib/maillist"
	"bbsgate/lib/spool"
	"bbsgate/lib/translate"
)

const (
	defaultPasses      = 3
	defaultMaxFailures = 5
)

type SendCfg struct {
	// announced in HELO and used to synthesize list sender
	// addresses for digest delivery
	Domain string

	Lists  *maillist.Store
	Layout *spool.Layout

	Passes      int // sweeps over the queue in one run
	MaxFailures int // session failure ceiling

	// polled between messages; true aborts the run cleanly
	Control func() bool
}

type Sender struct {
	cfg SendCfg
	lgr LoggerX
	log LogToX

	c *Client

	sent     int
	deferred int
	refused  int
	skipped  int
	failed   int
}

func NewSender(cfg SendCfg, lgr LoggerX) *Sender {
	if cfg.Passes <= 0 {
		cfg.Passes = defaultPasses
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	return &Sender{
		cfg: cfg,
		lgr: lgr,
		log: NewLogToX(lgr, "smtpsend"),
	}
}

func (s *Sender) aborted() bool {
	return s.cfg.Control != nil && s.cfg.Control()
}

// Run drains the outbound mail queue and any matured digest files
// over one relay session.
func (s *Sender) Run(conn io.ReadWriter, now time.Time) error {
	s.c = NewClient(conn, s.lgr)

	if err := s.c.Handshake(); err != nil {
		return err
	}
	if err := s.c.Helo(s.cfg.Domain); err != nil {
		return err
	}

	err := s.drainQueue()
	if err == nil {
		err = s.drainDigests(now)
	}

	if qerr := s.c.Quit(); qerr != nil && err == nil {
		s.log.LogPrintf(WARN, "QUIT: %v", qerr)
	}

	s.log.LogPrintf(INFO,
		"session done: %d sent, %d deferred, %d refused, %d skipped",
		s.sent, s.deferred, s.refused, s.skipped)
	return err
}

// ceilingHit reports whether the run should stop resending; a relay
// that keeps refusing gets left alone until the next scheduled run.
func (s *Sender) ceilingHit() bool {
	if s.failed >= s.cfg.MaxFailures {
		s.log.LogPrintf(NOTICE,
			"too many failures, try again later")
		return true
	}
	return false
}

// drainQueue sweeps the mail queue repeatedly so transient refusals
// get another chance within the same session.
func (s *Sender) drainQueue() error {
	for pass := 1; pass <= s.cfg.Passes; pass++ {
		paths, err := spool.Sweep(s.cfg.Layout.Mqueue, "MSG", ".0")
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return nil
		}
		if pass > 1 {
			s.log.LogPrintf(INFO,
				"pass %d: %d messages left", pass, len(paths))
		}
		for _, p := range paths {
			if s.ceilingHit() {
				return nil
			}
			if s.aborted() {
				s.log.LogPrintf(NOTICE, "aborted by operator")
				return nil
			}
			if err = s.sendQueued(p); err != nil {
				return err
			}
		}
	}
	return nil
}

type outcome int

const (
	sendOK      outcome = iota
	sendSkip            // unusable as-is, leave for the operator
	sendDefer           // transient refusal, retry a later pass
	sendRefused         // permanent refusal, park it
)

func resetOutcome(code int) outcome {
	if permanentReject(code) {
		return sendRefused
	}
	return sendDefer
}

func (s *Sender) sendQueued(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		s.log.LogPrintf(ERROR, "unable to open %s: %v", path, err)
		return nil
	}
	from, rcpts := envelopeOf(data)
	out, err := s.deliver(data, from, rcpts, "")
	if err != nil {
		return err
	}
	return s.dispose(path, out)
}

// dispose settles one queue file according to its delivery outcome.
func (s *Sender) dispose(path string, out outcome) error {
	switch out {
	case sendOK:
		s.sent++
		return os.Remove(path)
	case sendSkip:
		s.skipped++
	case sendDefer:
		s.failed++
		s.deferred++
		s.log.LogPrintf(WARN, "%s deferred", path)
	case sendRefused:
		s.failed++
		s.refused++
		moved, err := spool.Move(path, s.cfg.Layout.Failed, "MSG", ".BAD")
		if err != nil {
			return err
		}
		s.log.LogPrintf(ERROR, "%s refused, parked as %s", path, moved)
	}
	return nil
}

func validRecipient(a string) bool {
	i := strings.IndexByte(a, '@')
	return i > 0 && strings.IndexByte(a[i:], '.') > 0
}

// deliver runs one full mail transaction. rewriteList, when set,
// marks digest delivery and triggers the To rewrite. A non-nil error
// means the session is dead; everything else is an outcome.
func (s *Sender) deliver(
	data []byte, from string, rcpts []string, rewriteList string) (
	outcome, error) {

	if err := s.c.Rset(); err != nil {
		return 0, err
	}
	if from == "" {
		s.log.LogPrintf(ERROR, "message without a sender address")
		return sendRefused, nil
	}

	code, err := s.c.MailFrom(from)
	if err != nil {
		return 0, err
	}
	switch dispositionOf(code) {
	case DispFatal:
		return 0, errors.Errorf("MAIL FROM answered %d", code)
	case DispReset:
		return resetOutcome(code), nil
	}

	accepted := 0
	for _, r := range rcpts {
		if !validRecipient(r) {
			s.log.LogPrintf(WARN,
				"invalid recipient %q, aborting message", r)
			if err = s.c.Rset(); err != nil {
				return 0, err
			}
			return sendSkip, nil
		}
		code, err = s.c.RcptTo(r)
		if err != nil {
			return 0, err
		}
		switch dispositionOf(code) {
		case DispOk:
			accepted++
		case DispFatal:
			return 0, errors.Errorf("RCPT TO answered %d", code)
		case DispReset:
			return resetOutcome(code), nil
		}
	}
	if accepted == 0 {
		s.log.LogPrintf(ERROR, "message with no usable recipient")
		if err = s.c.Rset(); err != nil {
			return 0, err
		}
		return sendRefused, nil
	}

	code, err = s.c.Data()
	if err != nil {
		return 0, err
	}
	switch dispositionOf(code) {
	case DispFatal:
		return 0, errors.Errorf("DATA answered %d", code)
	case DispReset:
		return resetOutcome(code), nil
	}

	if rewriteList != "" {
		data = rewriteDigestTo(data, rewriteList, from)
	}
	code, err = s.c.Send(data)
	if err != nil {
		return 0, err
	}
	switch dispositionOf(code) {
	case DispFatal:
		return 0, errors.Errorf("payload answered %d", code)
	case DispReset:
		return resetOutcome(code), nil
	}
	return sendOK, nil
}

// envelopeOf pulls the sender and recipient addresses off a queued
// message's header block.
func envelopeOf(data []byte) (from string, rcpts []string) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			break
		}
		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}
		v := strings.TrimSpace(line[i+1:])
		switch strings.ToLower(line[:i]) {
		case "from":
			if from == "" {
				from = mail.ExtractCoreAddress(v)
			}
		case "to", "cc", "bcc":
			for _, a := range mail.SplitAddressList(v) {
				rcpts = append(rcpts, mail.ExtractCoreAddress(a))
			}
		}
	}
	return
}

// rewriteDigestTo replaces the first To line of the leading header
// block with the collective list address and drops any further To
// lines there; accumulated member copies must not leak each other's
// addresses.
func rewriteDigestTo(data []byte, list, from string) []byte {
	var out bytes.Buffer
	inHeader := true
	sawTo := false
	rest := string(data)
	for len(rest) > 0 {
		line := rest
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i+1], rest[i+1:]
		} else {
			rest = ""
		}
		if inHeader {
			if strings.TrimSpace(line) == "" {
				inHeader = false
			} else if len(line) >= 3 &&
				strings.EqualFold(line[:3], "To:") {

				if sawTo {
					continue
				}
				sawTo = true
				fmt.Fprintf(&out,
					"To: \"Multiple Recipients of Mailing List %s\" <%s>\r\n",
					list, from)
				continue
			}
		}
		out.WriteString(line)
	}
	return out.Bytes()
}

// drainDigests delivers digest accumulations whose day has passed;
// the current day's file is still collecting traffic.
func (s *Sender) drainDigests(now time.Time) error {
	fis, err := ioutil.ReadDir(s.cfg.Layout.Digest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	today := translate.JulianDay(now)
	for _, fi := range fis {
		if fi.IsDir() {
			continue
		}
		list, day, ok := translate.DigestDay(fi.Name())
		if !ok {
			continue
		}
		if day >= today {
			s.log.LogPrintf(INFO, "digest %s not ready", fi.Name())
			continue
		}
		if s.ceilingHit() {
			return nil
		}
		if s.aborted() {
			s.log.LogPrintf(NOTICE, "aborted by operator")
			return nil
		}
		if err = s.sendDigest(
			filepath.Join(s.cfg.Layout.Digest, fi.Name()), list); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) sendDigest(path, list string) error {
	members, err := s.cfg.Lists.Members(list)
	if err != nil {
		s.log.LogPrintf(ERROR, "digest %s: %v", path, err)
		return nil
	}
	if len(members) == 0 {
		s.log.LogPrintf(NOTICE,
			"digest %s: list has no members, dropping", path)
		return os.Remove(path)
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		s.log.LogPrintf(ERROR, "unable to open %s: %v", path, err)
		return nil
	}
	// membership lines carry the subscriber's full From line
	rcpts := make([]string, len(members))
	for i, m := range members {
		rcpts[i] = mail.ExtractCoreAddress(m)
	}
	from := strings.ToLower(list) + "@" + s.cfg.Domain
	out, err := s.deliver(data, from, rcpts, strings.ToUpper(list))
	if err != nil {
		return err
	}
	return s.dispose(path, out)
}
