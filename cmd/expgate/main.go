package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	fl "bbsgate/lib/filelogger"
	"bbsgate/lib/gateconfig"
	. "bbsgate/lib/logx"
	"bbsgate/lib/maillist"
	"bbsgate/lib/newsrc"
	"bbsgate/lib/packet"
	"bbsgate/lib/spool"
	"bbsgate/lib/translate"
	"bbsgate/lib/userdb"
)

// cursorChain looks a subtype up across every configured news
// server's cursor file, first hit wins.
type cursorChain []*newsrc.File

func (c cursorChain) GroupForSubtype(subtype string) (newsrc.Group, bool) {
	for _, f := range c {
		if g, ok := f.GroupForSubtype(subtype); ok {
			return g, true
		}
	}
	return newsrc.Group{}, false
}

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

	var groups cursorChain
	for _, sc := range cfg.NewsServers {
		f, err := newsrc.Load(cfg.CursorPath(sc.Suffix))
		if err != nil {
			mlg.LogPrintln(CRITICAL, "cursor file:", err)
			os.Exit(1)
		}
		groups = append(groups, f)
	}

	now := time.Now().UTC()
	node := cfg.Node
	nodeInfo := translate.NodeInfo{
		SystemName:   node.SystemName,
		Node:         node.Node,
		SysopUser:    node.SysopUser,
		PopName:      node.PopName,
		Domain:       node.Domain,
		Organization: node.Organization,
	}
	lists := maillist.New(listDir)
	mint := translate.NewMint(node.PopName, node.Domain, now)

	ex := translate.NewExporter(translate.ExportCfg{
		Node:   nodeInfo,
		Users:  users,
		Groups: groups,
		Lists:  lists,
		Layout: layout,
		Mint:   mint,
		Taglines: translate.NewTaglines(
			filepath.Join(cfg.Paths.Data, "taglines"),
			node.SystemName,
			rand.New(rand.NewSource(time.Now().UnixNano()))),
		Digest:    cfg.Lists.Digest,
		ListAddrs: cfg.Lists.Addresses,
	}, lgr)
	if err = ex.SweepPackets(now); err != nil {
		mlg.LogPrintln(ERROR, "export sweep:", err)
	}

	// notification packets from subscribe requests ride the same
	// outbound packet stream
	w := packet.NewFileWriter(
		layout.Outbound, "P", ".NET", cfg.News.PacketCap)
	sub := translate.NewSubscriber(translate.SubscribeCfg{
		Node:        nodeInfo,
		Lists:       lists,
		Layout:      layout,
		Mint:        mint,
		CatalogFile: filepath.Join(cfg.Paths.Data, "LISTS.TXT"),
		WelcomeDir:  cfg.Paths.Data,
	}, w, lgr)
	if err = sub.SweepInbound(); err != nil {
		mlg.LogPrintln(ERROR, "subscribe sweep:", err)
	}
	if err = w.Close(); err != nil {
		mlg.LogPrintln(ERROR, "packet writer:", err)
	}
}
