// Package translate converts between staged Internet messages and
// network packets: import (mail in, packets out), export (packets
// in, queued mail/articles out), and the subscribe request pipeline.
package translate

import (
	"bbsgate/lib/newsrc"
)

// NodeInfo identifies the gateway node inside the BBS network and
// toward the Internet.
type NodeInfo struct {
	SystemName   string
	Node         uint16
	SysopUser    uint16
	PopName      string
	Domain       string
	Organization string
}

// OwnAddr is the gateway's own mailbox address.
func (n *NodeInfo) OwnAddr() string {
	return n.PopName + "@" + n.Domain
}

// UserDirectory resolves between Internet addresses and local user
// numbers. The BBS user base owns this data; the gateway only asks.
type UserDirectory interface {
	// LookupAddress maps a core address to a local user number.
	LookupAddress(coreAddr string) (user uint16, ok bool)

	// AddressOf reports the registered Internet address of a user.
	AddressOf(user uint16) (addr string, ok bool)

	// NameOf reports the display name of a user.
	NameOf(user uint16) (name string, ok bool)

	// Anonymous tells whether the user requested identity hiding on
	// outbound traffic.
	Anonymous(user uint16) bool
}

// SubtypeMapper resolves a message subtype tag to its newsgroup
// cursor row. *newsrc.File implements it.
type SubtypeMapper interface {
	GroupForSubtype(subtype string) (newsrc.Group, bool)
}
