package mail

import (
	"io"
	"io/ioutil"
	"strings"

	au "bbsgate/lib/asciiutils"
	mm "bbsgate/lib/minimail"
)

// Envelope is the normalized view of one RFC-822 style message the
// gateway translators operate on. Single-value fields keep the first
// occurence seen; recipient and newsgroup lists accumulate.
type Envelope struct {
	From         string
	ReplyTo      string
	Sender       string
	ReturnPath   string
	To           []string
	CC           []string
	BCC          []string
	Newsgroups   []string
	Subject      string
	Date         string
	MsgID        mm.FullMsgIDStr
	References   string
	Organization string
	Path         string

	Body []byte
}

func setFirst(dst *string, hv []HeaderVal) {
	if *dst == "" && len(hv) != 0 {
		*dst = hv[0].V
	}
}

func appendList(dst []string, hv []HeaderVal) []string {
	for i := range hv {
		dst = append(dst, SplitAddressList(hv[i].V)...)
	}
	return dst
}

func appendGroups(dst []string, hv []HeaderVal) []string {
	for i := range hv {
		au.IterateFields(strings.Replace(hv[i].V, ",", " ", -1),
			func(g string) {
				dst = append(dst, g)
			})
	}
	return dst
}

// EnvelopeFromHeaders fills the header-derived fields of Envelope.
func EnvelopeFromHeaders(H Headers) (env Envelope) {
	setFirst(&env.From, H.Lookup("From"))
	setFirst(&env.ReplyTo, H.Lookup("Reply-To"))
	setFirst(&env.Sender, H.Lookup("Sender"))
	setFirst(&env.ReturnPath, H.Lookup("Return-Path"))
	setFirst(&env.Subject, H.Lookup("Subject"))
	setFirst(&env.Date, H.Lookup("Date"))
	setFirst(&env.References, H.Lookup("References"))
	setFirst(&env.Organization, H.Lookup("Organization"))
	setFirst(&env.Path, H.Lookup("Path"))

	if v := H.Lookup("Message-ID"); len(v) != 0 {
		id := mm.FullMsgIDStr(au.TrimWSString(v[0].V))
		if mm.ValidMessageIDStr(id) {
			env.MsgID = id
		}
	}

	env.To = appendList(env.To, H.Lookup("To"))
	env.To = appendList(env.To, H.Lookup("Apparently-To"))
	env.CC = appendList(env.CC, H.Lookup("Cc"))
	env.BCC = appendList(env.BCC, H.Lookup("Bcc"))
	env.Newsgroups = appendGroups(env.Newsgroups, H.Lookup("Newsgroups"))

	return
}

// ReadEnvelope parses a whole message, body included.
func ReadEnvelope(r io.Reader, headlimit int64) (env Envelope, err error) {
	mh, err := ReadHeaders(r, headlimit)
	if err != nil {
		return
	}
	defer mh.Close()

	env = EnvelopeFromHeaders(mh.H)
	env.Body, err = ioutil.ReadAll(mh.B)
	return
}

// Recipients returns To, Cc and Bcc addresses in that order.
func (env *Envelope) Recipients() []string {
	r := make([]string, 0, len(env.To)+len(env.CC)+len(env.BCC))
	r = append(r, env.To...)
	r = append(r, env.CC...)
	r = append(r, env.BCC...)
	return r
}
