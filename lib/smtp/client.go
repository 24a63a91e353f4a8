// Package smtp implements the relay side of the gateway: a minimal
// SMTP client and the queue drain engine that walks the outbound
// mail spool through it.
package smtp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	tp "net/textproto"

	au "bbsgate/lib/asciiutils"
	"bbsgate/lib/bufreader"
	. "bbsgate/lib/logx"
)

var errTooLargeResponse = errors.New("too large response")

// Disposition classifies a reply code for the queue engine.
type Disposition int

const (
	// proceed with the transaction
	DispOk Disposition = iota
	// abandon the current message, the session stays usable
	DispReset
	// the session itself is gone
	DispFatal
)

func dispositionOf(code int) Disposition {
	switch {
	case code == 421:
		return DispFatal
	case code/100 == 2, code == 354:
		return DispOk
	default:
		return DispReset
	}
}

// permanentReject reports codes that no retry pass will clear; the
// message gets parked rather than requeued.
func permanentReject(code int) bool {
	return code >= 550 && code <= 554
}

type Client struct {
	inbuf [512]byte

	w *tp.Writer
	r *bufreader.BufReader

	log Logger
}

func NewClient(conn io.ReadWriter, lgr LoggerX) *Client {
	c := &Client{
		w: tp.NewWriter(bufio.NewWriter(conn)),
		r: bufreader.NewBufReader(conn),
	}
	c.log = NewLogToX(lgr, fmt.Sprintf("smtpc.%p", c))
	return c
}

func (c *Client) readLine() (incmd []byte, e error) {
	var i int
	i, e = c.r.ReadUntil(c.inbuf[:], '\n')
	if e != nil {
		if e == bufreader.ErrDelimNotFound {
			e = errTooLargeResponse
		}
		return
	}

	if i > 1 && c.inbuf[i-2] == '\r' {
		incmd = c.inbuf[:i-2]
	} else {
		incmd = c.inbuf[:i-1]
	}

	return
}

// readResponse consumes one reply, following "250-" continuation
// lines to the terminal one. A non-nil error means the session is
// unusable.
func (c *Client) readResponse() (code int, rest []byte, err error) {
	for {
		var incmd []byte
		incmd, err = c.readLine()
		if err != nil {
			return
		}
		if len(incmd) < 3 {
			err = fmt.Errorf("response %q not understod", incmd)
			return
		}
		code = 0
		for i := 0; i < 3; i++ {
			ch := incmd[i]
			if ch < '0' || ch > '9' {
				err = fmt.Errorf("response %q not understod", incmd)
				return
			}
			code = code*10 + int(ch-'0')
		}
		if len(incmd) > 3 && incmd[3] == '-' {
			continue
		}
		rest = au.TrimWSBytes(incmd[3:])
		return
	}
}

func (c *Client) cmd(format string, args ...interface{}) (
	code int, rest []byte, err error) {

	err = c.w.PrintfLine(format, args...)
	if err != nil {
		return
	}
	return c.readResponse()
}

// Handshake consumes the relay greeting.
func (c *Client) Handshake() error {
	code, rest, err := c.readResponse()
	if err != nil {
		return fmt.Errorf("error reading greeting: %v", err)
	}
	if code != 220 {
		return fmt.Errorf("bad greeting %d %q", code, rest)
	}
	c.log.LogPrintf(DEBUG, "greeting %q", rest)
	return nil
}

// Helo announces ourselves; any refusal here is session-fatal.
func (c *Client) Helo(domain string) error {
	code, rest, err := c.cmd("HELO %s", domain)
	if err != nil {
		return err
	}
	if code/100 != 2 {
		return fmt.Errorf("HELO rejected: %d %q", code, rest)
	}
	return nil
}

// Rset drops any transaction in progress. A relay that refuses RSET
// is not worth talking to.
func (c *Client) Rset() error {
	code, rest, err := c.cmd("RSET")
	if err != nil {
		return err
	}
	if code/100 != 2 {
		return fmt.Errorf("RSET rejected: %d %q", code, rest)
	}
	return nil
}

func (c *Client) MailFrom(addr string) (code int, err error) {
	code, _, err = c.cmd("MAIL FROM:<%s>", addr)
	return
}

func (c *Client) RcptTo(addr string) (code int, err error) {
	code, _, err = c.cmd("RCPT TO:<%s>", addr)
	return
}

// Data opens the payload phase; 354 is the only go-ahead.
func (c *Client) Data() (code int, err error) {
	code, _, err = c.cmd("DATA")
	return
}

// Send streams one dot-stuffed payload and reads the acceptance
// reply for it.
func (c *Client) Send(data []byte) (code int, err error) {
	dw := c.w.DotWriter()
	if _, err = dw.Write(data); err != nil {
		return
	}
	if err = dw.Close(); err != nil {
		return
	}
	code, _, err = c.readResponse()
	return
}

func (c *Client) Quit() error {
	_, _, err := c.cmd("QUIT")
	return err
}
