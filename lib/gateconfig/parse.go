package gateconfig

import (
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Cfg is the fully resolved configuration: primitive lists decoded
// with their section-wide defaults merged in.
type Cfg struct {
	GateCfg

	POP3Accounts []AccountCfg
	NewsServers  []ServerCfg
}

func ParseFile(path string) (*Cfg, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config read")
	}
	return Parse(string(data))
}

func Parse(raw string) (*Cfg, error) {
	gc := DefaultGateCfg

	md, err := toml.Decode(raw, &gc)
	if err != nil {
		return nil, errors.Wrap(err, "config decode")
	}

	c := &Cfg{GateCfg: gc}

	for i, prim := range gc.POP3.Accounts {
		ac := AccountCfg{AccountInnerCfg: gc.POP3.AccountsDefault}
		if err = md.PrimitiveDecode(prim, &ac); err != nil {
			return nil, errors.Wrapf(err, "config pop3 account %d", i)
		}
		if ac.Addr == "" {
			return nil, errors.Errorf("config pop3 account %d: no addr", i)
		}
		if ac.Enabled {
			c.POP3Accounts = append(c.POP3Accounts, ac)
		}
	}

	for i, prim := range gc.News.Servers {
		sc := ServerCfg{ServerInnerCfg: gc.News.ServersDefault}
		if err = md.PrimitiveDecode(prim, &sc); err != nil {
			return nil, errors.Wrapf(err, "config news server %d", i)
		}
		if sc.Addr == "" {
			return nil, errors.Errorf("config news server %d: no addr", i)
		}
		if sc.Enabled {
			c.NewsServers = append(c.NewsServers, sc)
		}
	}

	if c.SMTP.HeloName == "" {
		c.SMTP.HeloName = c.Node.Domain
	}
	if c.Paths.Users == "" {
		c.Paths.Users = filepath.Join(c.Paths.Data, "USERS.RC")
	}
	if c.Triage.SpamFile == "" {
		c.Triage.SpamFile = filepath.Join(c.Paths.Data, "NOSPAM.TXT")
	}
	if c.Triage.FidoFile == "" {
		c.Triage.FidoFile = filepath.Join(c.Paths.Data, "FIWPKT.TXT")
	}

	return c, nil
}

// CursorPath names the newsgroup cursor file of one news server;
// the suffix keeps multiple servers' cursors apart.
func (c *Cfg) CursorPath(suffix string) string {
	return filepath.Join(c.Paths.Data,
		"NEWS"+strings.ToUpper(suffix)+".RC")
}

// LeaveOutcome tells whether triage is configured to keep messages
// of the given outcome on the POP3 server.
func (c *Cfg) LeaveOutcome(name string) bool {
	for _, o := range c.Triage.LeaveOnServer {
		if o == name {
			return true
		}
	}
	return false
}
