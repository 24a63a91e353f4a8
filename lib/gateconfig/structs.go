package gateconfig

import "github.com/BurntSushi/toml"

type NodeCfg struct {
	SystemName string `toml:"system_name"`
	Node       uint16 `toml:"node"`
	SysopUser  uint16 `toml:"sysop_user"`
	PopName    string `toml:"pop_name"`
	Domain     string `toml:"domain"`
	Organization string `toml:"organization"`
}

type AccountInnerCfg struct {
	Enabled bool   `toml:"enabled"`
	User    string `toml:"user"`
	Pass    string `toml:"pass"`
}

var DefaultAccountInnerCfg = AccountInnerCfg{
	Enabled: true,
}

type AccountCfg struct {
	AccountInnerCfg

	Addr string `toml:"addr"`
}

type POP3Cfg struct {
	AccountsDefault AccountInnerCfg  `toml:"accounts_all"`
	Accounts        []toml.Primitive `toml:"accounts"`
}

type SMTPCfg struct {
	Addr     string `toml:"addr"`
	HeloName string `toml:"helo_name"` // defaults to node domain
}

type ServerInnerCfg struct {
	Enabled     bool   `toml:"enabled"`
	User        string `toml:"user"`
	Pass        string `toml:"pass"`
	GroupCap    int    `toml:"group_cap"`
	SpoolToDisk bool   `toml:"spool_to_disk"`
}

var DefaultServerInnerCfg = ServerInnerCfg{
	Enabled:  true,
	GroupCap: 500,
}

type ServerCfg struct {
	ServerInnerCfg

	Addr   string `toml:"addr"`
	Suffix string `toml:"suffix"` // distinguishes cursor files
}

type NewsCfg struct {
	ServersDefault ServerInnerCfg   `toml:"servers_all"`
	Servers        []toml.Primitive `toml:"servers"`

	CrosspostMax int    `toml:"crosspost_max"`
	MaxArticle   int    `toml:"max_article_bytes"` // splitting threshold
	PacketCap    int    `toml:"packet_cap_bytes"`  // packet file rotation
}

var DefaultNewsCfg = NewsCfg{
	ServersDefault: DefaultServerInnerCfg,
	CrosspostMax:   5,
	MaxArticle:     32000,
	PacketCap:      250000,
}

type ListsCfg struct {
	Digest    bool              `toml:"digest"`
	Addresses map[string]string `toml:"addresses"` // list name -> posting addr
}

type TriageCfg struct {
	// outcome names whose messages stay on the POP3 server
	LeaveOnServer []string `toml:"leave_on_server"`
	SpamFile      string   `toml:"spam_file"`
	FidoFile      string   `toml:"fido_file"`
}

type PathsCfg struct {
	Data  string `toml:"data"`
	Users string `toml:"users"` // defaults to <data>/USERS.RC
}

type GateCfg struct {
	Node   NodeCfg   `toml:"node"`
	POP3   POP3Cfg   `toml:"pop3"`
	SMTP   SMTPCfg   `toml:"smtp"`
	News   NewsCfg   `toml:"news"`
	Lists  ListsCfg  `toml:"lists"`
	Triage TriageCfg `toml:"triage"`
	Paths  PathsCfg  `toml:"paths"`
}

var DefaultGateCfg = GateCfg{
	POP3: POP3Cfg{
		AccountsDefault: DefaultAccountInnerCfg,
	},
	News: DefaultNewsCfg,
	Paths: PathsCfg{
		Data: ".",
	},
}
