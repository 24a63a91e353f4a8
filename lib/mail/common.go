package mail

// common email headers statically allocated to avoid dynamic allocations
var commonHeaders = map[string]string{
	// overrides where dash-capitalisation isn't the canonical form
	"Message-Id":        "Message-ID",
	"Content-Id":        "Content-ID",
	"List-Id":           "List-ID",
	"Mime-Version":      "MIME-Version",
	"Nntp-Posting-Date": "NNTP-Posting-Date",
	"Nntp-Posting-Host": "NNTP-Posting-Host",
}

var commonHeadersList = [...]string{
	// mail and netnews headers the gateway meets in traffic

	"Also-Control",
	"Approved",
	"Archive",
	"Bcc",
	"Bytes",
	"Cancel-Key",
	"Cancel-Lock",
	"Cc",
	"Comments",
	"Content-Description",
	"Content-Disposition",
	"Content-Language",
	"Content-Transfer-Encoding",
	"Content-Type",
	"Control",
	"Date",
	"Distribution",
	"Expires",
	"Followup-To",
	"From",
	"Importance",
	"In-Reply-To",
	"Injection-Date",
	"Injection-Info",
	"Keywords",
	"Lines",
	"Newsgroups",
	"Organization",
	"Path",
	"Received",
	"References",
	"Return-Path",
	"Reply-To",
	"Sender",
	"Subject",
	"Summary",
	"Supersedes",
	"To",
	"User-Agent",
	"Xref",
	"X-Complaints-To",
	"X-Mailer",
	"X-Newsreader",
	"X-Original-Bytes",
	"X-Priority",
	"X-Received",
	"X-Trace",
}

func init() {
	// self-map overrides, to allow more efficient lookup
	for _, v := range commonHeaders {
		commonHeaders[v] = v
	}
	// common headers which match their canonical versions
	for _, v := range commonHeadersList {
		commonHeaders[v] = v
	}
}

func canonicaliseSlice(b []byte) {
	upper := true
	for i, c := range b {
		if upper && c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
		if !upper && c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
		upper = c == '-'
	}
}

// unsafeMapCanonicalOriginalHeaders maps header name to its
// canonical form, also returning original header form
// if we can't be sure of its canonical form. May modify buffer.
func unsafeMapCanonicalOriginalHeaders(b []byte) (string, string) {
	// fast path: maybe its common header in form we want
	if h, ok := commonHeaders[string(b)]; ok {
		return h, ""
	}
	// save original form
	orig := string(b)
	// canonicalise
	canonicaliseSlice(b)
	// try to use static name again
	if h, ok := commonHeaders[string(b)]; ok {
		// if it works, then we're sure of its canonical form
		return h, ""
	}
	// ohwell nothing we can do, just copy
	can := string(b)
	if can == orig {
		return can, ""
	} else {
		return can, orig
	}
}
