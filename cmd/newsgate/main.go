package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	fl "bbsgate/lib/filelogger"
	"bbsgate/lib/gateconfig"
	"bbsgate/lib/keywords"
	. "bbsgate/lib/logx"
	"bbsgate/lib/msgidstore"
	"bbsgate/lib/newsrc"
	"bbsgate/lib/nntp"
	"bbsgate/lib/spool"
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
	spam, err := keywords.Load(cfg.Triage.SpamFile)
	if err != nil {
		mlg.LogPrintln(CRITICAL, "spam keywords:", err)
		os.Exit(1)
	}
	ids := msgidstore.New(
		filepath.Join(cfg.Paths.Data, "MSGIDS.DAT"))

	// first interrupt aborts cleanly at the next article boundary
	intr := make(chan os.Signal, 1)
	signal.Notify(intr, os.Interrupt)
	interrupted := false
	control := func() nntp.Signal {
		select {
		case <-intr:
			interrupted = true
		default:
		}
		if interrupted {
			return nntp.SigAbort
		}
		return nntp.SigNone
	}

	now := time.Now().UTC()
	for _, sc := range cfg.NewsServers {
		if interrupted {
			break
		}
		if err = syncServer(cfg, sc, layout, ids, spam,
			control, lgr, now); err != nil {

			mlg.LogPrintf(ERROR, "server %s: %v", sc.Addr, err)
		}
	}
}

func syncServer(
	cfg *gateconfig.Cfg, sc gateconfig.ServerCfg,
	layout *spool.Layout, ids *msgidstore.Store, spam *keywords.List,
	control func() nntp.Signal, lgr LoggerX, now time.Time) error {

	cursors, err := newsrc.Load(cfg.CursorPath(sc.Suffix))
	if err != nil {
		return err
	}

	d, network, host, err := gateconfig.ResolveAddr(sc.Addr)
	if err != nil {
		return err
	}
	conn, err := d.Dial(network, host)
	if err != nil {
		return err
	}
	defer conn.Close()

	s := nntp.NewSyncer(nntp.SyncCfg{
		Node:         cfg.Node.Node,
		SystemName:   cfg.Node.SystemName,
		PopName:      cfg.Node.PopName,
		User:         sc.User,
		Pass:         sc.Pass,
		Cursors:      cursors,
		IDs:          ids,
		Spam:         spam,
		Layout:       layout,
		GroupCap:     sc.GroupCap,
		CrosspostMax: cfg.News.CrosspostMax,
		MaxArticle:   cfg.News.MaxArticle,
		PacketCap:    cfg.News.PacketCap,
		SpoolToDisk:  sc.SpoolToDisk,
		Control:      control,
	}, lgr)
	return s.Run(conn, now)
}
