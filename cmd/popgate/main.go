package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	fl "bbsgate/lib/filelogger"
	"bbsgate/lib/gateconfig"
	"bbsgate/lib/keywords"
	. "bbsgate/lib/logx"
	"bbsgate/lib/maillist"
	mm "bbsgate/lib/minimail"
	"bbsgate/lib/msgidstore"
	"bbsgate/lib/packet"
	"bbsgate/lib/pop3"
	"bbsgate/lib/spool"
	"bbsgate/lib/translate"
	"bbsgate/lib/userdb"
)

func main() {
	cfgPath := flag.String("cfg", "bbsgate.toml", "configuration file")
	debug := flag.Bool("debug", false, "log at debug level")

	flag.Parse()

	lvl := INFO
	if *debug {
		lvl = DEBUG
	}
	lgr, err := fl.NewFileLogger(os.Stderr, lvl, fl.ColorAuto)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fl.NewFileLogger error: %v\n", err)
		os.Exit(1)
	}
	mlg := NewLogToX(lgr, "main")

	cfg, err := gateconfig.ParseFile(*cfgPath)
	if err != nil {
		mlg.LogPrintln(CRITICAL, "config:", err)
		os.Exit(1)
	}

	layout, err := spool.Open(cfg.Paths.Data)
	if err != nil {
		mlg.LogPrintln(CRITICAL, "spool:", err)
		os.Exit(1)
	}
	listDir := filepath.Join(cfg.Paths.Data, "lists")
	if err = os.MkdirAll(listDir, 0777); err != nil {
		mlg.LogPrintln(CRITICAL, "lists dir:", err)
		os.Exit(1)
	}

	users, err := userdb.Load(cfg.Paths.Users)
	if err != nil {
		mlg.LogPrintln(CRITICAL, "userdb:", err)
		os.Exit(1)
	}
	spam, err := keywords.Load(cfg.Triage.SpamFile)
	if err != nil {
		mlg.LogPrintln(CRITICAL, "spam keywords:", err)
		os.Exit(1)
	}
	fido, err := keywords.Load(cfg.Triage.FidoFile)
	if err != nil {
		mlg.LogPrintln(CRITICAL, "fido keywords:", err)
		os.Exit(1)
	}

	ids := msgidstore.New(
		filepath.Join(cfg.Paths.Data, "MSGIDS.DAT"))
	lists := maillist.New(listDir)
	node := cfg.Node

	env := pop3.Env{
		OwnAddr: strings.ToLower(node.PopName + "@" + node.Domain),
		IsLocalUser: func(coreAddr string) bool {
			_, ok := users.LookupAddress(coreAddr)
			return ok
		},
		Seen: func(id mm.CoreMsgIDStr) bool {
			seen, err := ids.Seen(id)
			if err != nil {
				mlg.LogPrintln(WARN, "dedup probe:", err)
			}
			return seen
		},
		Spam: spam,
		Fido: fido,
	}
	eng := pop3.NewEngine(pop3.EngineCfg{
		Layout: layout,
		IDs:    ids,
		Env:    env,
		Leave:  cfg.LeaveOutcome,
	}, lgr)

	for _, ac := range cfg.POP3Accounts {
		if err = checkMailbox(eng, ac, lgr); err != nil {
			mlg.LogPrintf(ERROR, "mailbox %s: %v", ac.User, err)
		}
	}

	// inbound translation of everything triage staged
	now := time.Now().UTC()
	w := packet.NewFileWriter(
		layout.Outbound, "P", ".NET", cfg.News.PacketCap)
	im := translate.NewImporter(translate.ImportCfg{
		Node: translate.NodeInfo{
			SystemName:   node.SystemName,
			Node:         node.Node,
			SysopUser:    node.SysopUser,
			PopName:      node.PopName,
			Domain:       node.Domain,
			Organization: node.Organization,
		},
		Users:        users,
		Lists:        lists,
		Layout:       layout,
		Mint:         translate.NewMint(node.PopName, node.Domain, now),
		FallbackUser: node.SysopUser,
	}, w, lgr)
	if err = im.SweepSpool(now); err != nil {
		mlg.LogPrintln(ERROR, "import sweep:", err)
	}
	if err = w.Close(); err != nil {
		mlg.LogPrintln(ERROR, "packet writer:", err)
	}
}

func checkMailbox(
	eng *pop3.Engine, ac gateconfig.AccountCfg, lgr LoggerX) error {

	d, network, host, err := gateconfig.ResolveAddr(ac.Addr)
	if err != nil {
		return err
	}
	conn, err := d.Dial(network, host)
	if err != nil {
		return err
	}
	defer conn.Close()

	return eng.Run(pop3.NewClient(conn, lgr), ac.User, ac.Pass)
}
