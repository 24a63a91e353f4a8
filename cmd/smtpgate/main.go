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
	. "bbsgate/lib/logx"
	"bbsgate/lib/maillist"
	"bbsgate/lib/smtp"
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
	if cfg.SMTP.Addr == "" {
		mlg.LogPrintln(CRITICAL, "no smtp addr configured")
		os.Exit(1)
	}

	layout, err := spool.Open(cfg.Paths.Data)
	if err != nil {
		mlg.LogPrintln(CRITICAL, "spool:", err)
		os.Exit(1)
	}

	intr := make(chan os.Signal, 1)
	signal.Notify(intr, os.Interrupt)
	interrupted := false
	control := func() bool {
		select {
		case <-intr:
			interrupted = true
		default:
		}
		return interrupted
	}

	s := smtp.NewSender(smtp.SendCfg{
		Domain: cfg.SMTP.HeloName,
		Lists: maillist.New(
			filepath.Join(cfg.Paths.Data, "lists")),
		Layout:  layout,
		Control: control,
	}, lgr)

	d, network, host, err := gateconfig.ResolveAddr(cfg.SMTP.Addr)
	if err != nil {
		mlg.LogPrintln(CRITICAL, "smtp addr:", err)
		os.Exit(1)
	}
	conn, err := d.Dial(network, host)
	if err != nil {
		mlg.LogPrintln(CRITICAL, "smtp connect:", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err = s.Run(conn, time.Now().UTC()); err != nil {
		mlg.LogPrintln(ERROR, "queue drain:", err)
		os.Exit(1)
	}
}
