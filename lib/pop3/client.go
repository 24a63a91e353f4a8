package pop3

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	tp "net/textproto"

	au "bbsgate/lib/asciiutils"
	"bbsgate/lib/bufreader"
	. "bbsgate/lib/logx"
)

var errTooLargeResponse = errors.New("too large response")

type clientState struct {
	greeted bool

	badTop  bool
	badUIDL bool
}

func (s *clientState) canTop() bool {
	return !s.badTop
}

type Client struct {
	inbuf [512]byte

	w  *tp.Writer
	r  *bufreader.BufReader
	dr *bufreader.DotReader

	s   clientState
	log Logger
}

func NewClient(conn io.ReadWriter, logx LoggerX) *Client {
	c := &Client{
		w: tp.NewWriter(bufio.NewWriter(conn)),
		r: bufreader.NewBufReader(conn),
	}
	c.log = NewLogToX(logx, fmt.Sprintf("pop3c.%p", c))
	return c
}

func (c *Client) openDotReader() *bufreader.DotReader {
	if c.dr == nil {
		c.dr = bufreader.NewDotReader(c.r, true)
	} else {
		c.dr.Reset()
	}
	return c.dr
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

// readResponse reads one status line. POP3 answers "+OK ..." or
// "-ERR ..."; anything else is a protocol error and therefore fatal.
func (c *Client) readResponse() (
	ok bool, rest []byte, err error, fatal bool) {

	incmd, err := c.readLine()
	if err != nil {
		fatal = true
		return
	}

	switch {
	case bytes.HasPrefix(incmd, []byte("+OK")):
		ok = true
		rest = incmd[3:]
	case bytes.HasPrefix(incmd, []byte("-ERR")):
		rest = incmd[4:]
	default:
		err = fmt.Errorf("response %q not understod", incmd)
		fatal = true
	}
	rest = au.TrimWSBytes(rest)
	return
}

func (c *Client) cmd(format string, args ...interface{}) (
	ok bool, rest []byte, err error, fatal bool) {

	err = c.w.PrintfLine(format, args...)
	if err != nil {
		fatal = true
		return
	}
	return c.readResponse()
}

// Handshake consumes the greeting banner.
func (c *Client) Handshake() error {
	ok, rest, err, _ := c.readResponse()
	if err != nil {
		return fmt.Errorf("error reading greeting: %v", err)
	}
	if !ok {
		return fmt.Errorf("bad greeting %q", rest)
	}
	c.s.greeted = true
	c.log.LogPrintf(DEBUG, "greeting %q", rest)
	return nil
}

// Login authenticates with USER/PASS.
func (c *Client) Login(user, pass string) error {
	ok, rest, err, _ := c.cmd("USER %s", user)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("USER rejected: %q", rest)
	}
	ok, rest, err, _ = c.cmd("PASS %s", pass)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("PASS rejected: %q", rest)
	}
	return nil
}

// Stat reports the mailbox message count and total size.
func (c *Client) Stat() (count int, size int64, err error) {
	ok, rest, err, _ := c.cmd("STAT")
	if err != nil {
		return
	}
	if !ok {
		err = fmt.Errorf("STAT rejected: %q", rest)
		return
	}
	_, err = fmt.Sscanf(string(rest), "%d %d", &count, &size)
	if err != nil {
		err = fmt.Errorf("STAT response %q not understod", rest)
	}
	return
}

// ListSize probes the size of one message.
func (c *Client) ListSize(n int) (size int64, err error) {
	ok, rest, err, _ := c.cmd("LIST %d", n)
	if err != nil {
		return
	}
	if !ok {
		err = fmt.Errorf("LIST %d rejected: %q", n, rest)
		return
	}
	var rn int
	_, err = fmt.Sscanf(string(rest), "%d %d", &rn, &size)
	if err != nil || rn != n {
		err = fmt.Errorf("LIST %d response %q not understod", n, rest)
	}
	return
}

// Top fetches the headers plus the first lines body lines of message
// n. Servers without TOP get remembered and ErrNoTop returned;
// callers fall back to Retr.
var ErrNoTop = errors.New("server does not support TOP")

func (c *Client) Top(n, lines int) ([]byte, error) {
	if !c.s.canTop() {
		return nil, ErrNoTop
	}
	ok, rest, err, _ := c.cmd("TOP %d %d", n, lines)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.log.LogPrintf(INFO, "TOP unsupported: %q", rest)
		c.s.badTop = true
		return nil, ErrNoTop
	}
	return ioutil.ReadAll(c.openDotReader())
}

// Retr fetches the whole message.
func (c *Client) Retr(n int) ([]byte, error) {
	ok, rest, err, _ := c.cmd("RETR %d", n)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("RETR %d rejected: %q", n, rest)
	}
	return ioutil.ReadAll(c.openDotReader())
}

// Dele marks message n for deletion at QUIT.
func (c *Client) Dele(n int) error {
	ok, rest, err, _ := c.cmd("DELE %d", n)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("DELE %d rejected: %q", n, rest)
	}
	return nil
}

// Quit commits deletions and ends the session.
func (c *Client) Quit() error {
	ok, rest, err, _ := c.cmd("QUIT")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("QUIT rejected: %q", rest)
	}
	return nil
}
