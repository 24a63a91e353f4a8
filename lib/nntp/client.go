package nntp

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

var (
	errTooLargeResponse = errors.New("too large response")

	// ErrAuthRejected means the credential exchange itself failed,
	// which is fatal for the whole session.
	ErrAuthRejected = errors.New("authentication rejected")
)

type clientState struct {
	initialResponseUnderstod bool
	initialResponseAllowPost bool

	authenticated bool
}

// Client speaks the reader side of NNTP over an established
// connection. It owns no socket lifecycle.
type Client struct {
	inbuf [512]byte
	args  [][]byte

	w  *tp.Writer
	r  *bufreader.BufReader
	dr *bufreader.DotReader

	s   clientState
	log Logger
}

func NewClient(conn io.ReadWriter, lgr LoggerX) *Client {
	c := &Client{
		w: tp.NewWriter(bufio.NewWriter(conn)),
		r: bufreader.NewBufReader(conn),
	}
	c.log = NewLogToX(lgr, fmt.Sprintf("nntpc.%p", c))
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
			// response too large to process, error
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

func isNumberSlice(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// stoi converts a digits-only slice; check with isNumberSlice first.
func stoi(b []byte) (n uint) {
	for _, c := range b {
		n = n*10 + uint(c-'0')
	}
	return
}

func stoi64(b []byte) (n uint64) {
	for _, c := range b {
		n = n*10 + uint64(c-'0')
	}
	return
}

func parseResponseCode(line []byte) (code uint, rest []byte, err error) {
	// NNTP uses exactly 3 characters always so expect that
	if len(line) < 3 || !isNumberSlice(line[:3]) ||
		(len(line) > 3 && line[3] != ' ') {

		return 0, line, fmt.Errorf("response %q not understod", line)
	}
	code = stoi(line[:3])
	if code < 100 || code >= 600 {
		err = fmt.Errorf("response code %d out of range", code)
	}
	return code, line[3:], err
}

// parseResponseArguments parses rest of response line,
// up to specified number of arguments, appending to args slice,
// returning updated args slice and unprocessed slice of line.
// If requested num is -1 it will parse as much arguments as there are.
func parseResponseArguments(
	line []byte, num int, args [][]byte) ([][]byte, []byte) {

	if len(line) == 0 || num == 0 {
		return args, nil
	}
	i := 1 // skip initial guaranteed space
	for i < len(line) && num != 0 {
		for i < len(line) && line[i] == ' ' {
			i++
		}
		s := i
		for i < len(line) && line[i] != ' ' {
			i++
		}
		if i <= s {
			break
		}
		args = append(args, line[s:i])
		num--
	}
	return args, line[i:]
}

func (c *Client) readResponse() (
	code uint, rest []byte, err error, fatal bool) {

	incmd, err := c.readLine()
	if err != nil {
		fatal = true
		return
	}

	code, rest, err = parseResponseCode(incmd)
	return
}

// cmd writes one command line and reads its status line.
func (c *Client) cmd(format string, args ...interface{}) (
	code uint, rest []byte, err error, fatal bool) {

	if err = c.w.PrintfLine(format, args...); err != nil {
		fatal = true
		return
	}
	return c.readResponse()
}

func (c *Client) handleInitial() error {
	code, rest, err, _ := c.readResponse()
	if err != nil {
		return fmt.Errorf(
			"error reading initial response: %v, %q",
			err, au.TrimWSBytes(rest))
	}
	if code == 200 {
		c.s.initialResponseAllowPost = true
	} else if code == 201 {
		c.s.initialResponseAllowPost = false
	} else {
		return fmt.Errorf(
			"bad initial response %d %q",
			code, au.TrimWSBytes(rest))
	}
	c.s.initialResponseUnderstod = true
	return nil
}

func (c *Client) modeReader() error {
	code, rest, err, fatal := c.cmd("MODE READER")
	if err != nil {
		if fatal {
			return fmt.Errorf("mode-reader exchange failed: %v", err)
		}
		c.log.LogPrintf(WARN, "mode-reader response error: %v", err)
		return nil
	}
	if code == 200 {
		c.s.initialResponseAllowPost = true
	} else if code > 200 && code < 300 {
		c.s.initialResponseAllowPost = false
	} else if code == 502 {
		return fmt.Errorf(
			"bad mode-reader response %d %q", code, au.TrimWSBytes(rest))
	} else if code == 500 || code == 501 {
		// not implemented there, that's okay
	} else {
		c.log.LogPrintf(WARN, "weird mode-reader response %d %q",
			code, au.TrimWSBytes(rest))
	}
	return nil
}

// authenticate runs the two-step credential exchange the server
// demanded with a 480.
func (c *Client) authenticate(user, pass string) error {
	if user == "" {
		return fmt.Errorf(
			"server demands authentication, no credentials configured")
	}
	code, rest, err, _ := c.cmd("AUTHINFO USER %s", user)
	if err != nil {
		return err
	}
	if code == 281 {
		c.s.authenticated = true
		return nil
	}
	if code != 381 {
		c.log.LogPrintf(ERROR, "authinfo-user response %d %q",
			code, au.TrimWSBytes(rest))
		return ErrAuthRejected
	}
	code, rest, err, _ = c.cmd("AUTHINFO PASS %s", pass)
	if err != nil {
		return err
	}
	if code != 281 {
		c.log.LogPrintf(ERROR, "authinfo-pass response %d %q",
			code, au.TrimWSBytes(rest))
		return ErrAuthRejected
	}
	c.s.authenticated = true
	return nil
}

func (c *Client) quit() {
	_, _, _, _ = c.cmd("QUIT")
}

func (c *Client) parseGroupResponse(
	rest []byte) (num, lo, hi uint64, err error) {

	defer func() {
		c.args = c.args[:0]
	}()

	c.args, _ = parseResponseArguments(rest, 4, c.args[:0])
	if len(c.args) < 3 ||
		!isNumberSlice(c.args[0]) ||
		!isNumberSlice(c.args[1]) ||
		!isNumberSlice(c.args[2]) {

		err = fmt.Errorf(
			"bad successful group response %q",
			au.TrimWSBytes(rest))
		return
	}

	num = stoi64(c.args[0])
	lo = stoi64(c.args[1])
	hi = stoi64(c.args[2])
	return
}

func (c *Client) readDotLine(dr *bufreader.DotReader) ([]byte, error) {
	i := 0
	for {
		b, e := dr.ReadByte()
		if e != nil {
			return c.inbuf[:i], e
		}
		if b == '\n' {
			return c.inbuf[:i], nil
		}
		if i >= len(c.inbuf) {
			return c.inbuf[:i], errTooLargeResponse
		}
		c.inbuf[i] = b
		i++
	}
}

func validGroupSlice(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c <= ' ' || c >= 0x7F || c == '/' || c == '\\' {
			return false
		}
	}
	return true
}

// parseListActiveLine splits "<group> <high> <low> <status>" rows
// as emitted by both the full and the incremental catalogue listings.
func parseListActiveLine(
	line []byte) (name []byte, hiwm, lowm uint64, status []byte, err error) {

	i := 0
	skipWS := func() {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
	}
	skipNonWS := func() {
		for i < len(line) && line[i] != ' ' && line[i] != '\t' {
			i++
		}
	}

	s := i
	skipNonWS()
	if s >= i || !validGroupSlice(line[s:i]) {
		err = fmt.Errorf("bad group %q", line[s:i])
		return
	}
	name = line[s:i]

	skipWS()
	s = i
	skipNonWS()
	if s >= i || !isNumberSlice(line[s:i]) {
		err = fmt.Errorf("bad hiwm %q", line[s:i])
		return
	}
	hiwm = stoi64(line[s:i])

	skipWS()
	s = i
	skipNonWS()
	if s >= i || !isNumberSlice(line[s:i]) {
		err = fmt.Errorf("bad lowm %q", line[s:i])
		return
	}
	lowm = stoi64(line[s:i])

	skipWS()
	s = i
	skipNonWS()
	// can be empty I guess... I don't see why not
	status = line[s:i]

	// treat any extra as error
	skipWS()
	if i < len(line) {
		err = fmt.Errorf("unknown extra data: %q", line[i:])
		return
	}

	return
}
