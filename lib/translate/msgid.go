package translate

import (
	"fmt"
	"strings"
	"time"

	mm "bbsgate/lib/minimail"
)

// Mint issues outbound Message-IDs and recognizes its own earlier
// issues for loop suppression. The counter seeds from the wall clock
// so ids stay unique across runs without persisted state.
type Mint struct {
	counter uint64
	suffix  string // "-popname@domain>"
}

func NewMint(popName, domain string, now time.Time) *Mint {
	return &Mint{
		counter: uint64(now.Unix()),
		suffix:  fmt.Sprintf("-%s@%s>", popName, domain),
	}
}

func (m *Mint) Next() mm.FullMsgIDStr {
	id := fmt.Sprintf("<%x%s", m.counter, m.suffix)
	m.counter++
	return mm.FullMsgIDStr(id)
}

// Own reports whether id carries this gateway's stamp.
func (m *Mint) Own(id mm.FullMsgIDStr) bool {
	return strings.HasSuffix(strings.ToLower(string(id)),
		strings.ToLower(m.suffix))
}
