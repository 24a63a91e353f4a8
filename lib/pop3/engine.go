package pop3

import (
	"bbsgate/lib/msgidstore"
	"bbsgate/lib/spool"
	. "bbsgate/lib/logx"
	mm "bbsgate/lib/minimail"
)

// how many body lines the TOP preview asks for
const defaultPreviewLines = 40

// how many per-message failures end the sweep early; QUIT still runs
// so deletions of already-processed messages commit
const failureCeiling = 3

type EngineCfg struct {
	Layout *spool.Layout
	IDs    *msgidstore.Store
	Env    Env

	// Leave reports outcomes that stay on the server
	Leave func(outcome string) bool

	PreviewLines int
}

type Engine struct {
	cfg EngineCfg
	log LogToX
}

func NewEngine(cfg EngineCfg, lgr LoggerX) *Engine {
	if cfg.PreviewLines <= 0 {
		cfg.PreviewLines = defaultPreviewLines
	}
	return &Engine{
		cfg: cfg,
		log: NewLogToX(lgr, "pop3triage"),
	}
}

// stageTarget maps an outcome to its staging directory and name
// prefix. Spam and Duplicate are not staged.
func (e *Engine) stageTarget(o Outcome) (dir, prefix string, stage bool) {
	l := e.cfg.Layout
	switch o {
	case Subscribe:
		return l.Inbound, "SUB", true
	case NetworkPacket:
		return l.Spool, "PKT", true
	case Archive:
		return l.Spool, "ARC", true
	case Image:
		return l.Spool, "IMG", true
	case Bounce:
		return l.Spool, "BNC", true
	case FidoNet:
		return l.Spool, "FID", true
	case Unknown:
		return l.Spool, "UNK", true
	}
	return "", "", false
}

func (e *Engine) leave(o Outcome) bool {
	return e.cfg.Leave != nil && e.cfg.Leave(o.String())
}

// Run sweeps one authenticated mailbox session end to end.
func (e *Engine) Run(c *Client, user, pass string) error {
	if err := c.Handshake(); err != nil {
		return err
	}
	if err := c.Login(user, pass); err != nil {
		return err
	}

	count, total, err := c.Stat()
	if err != nil {
		return err
	}
	e.log.LogPrintf(NOTICE,
		"mailbox %s: %d messages, %d bytes", user, count, total)

	failures := 0
	for n := 1; n <= count; n++ {
		if err = e.doMessage(c, n); err != nil {
			e.log.LogPrintf(WARN,
				"message %d left for next run: %v", n, err)
			failures++
			if failures >= failureCeiling {
				e.log.LogPrintf(ERROR,
					"%d failures, ending sweep early", failures)
				break
			}
		}
	}

	// QUIT commits the deletions even on an early end
	return c.Quit()
}

func (e *Engine) doMessage(c *Client, n int) error {
	size, err := c.ListSize(n)
	if err != nil {
		return err
	}

	// a zero size report is either a broken server size probe or a
	// genuinely empty message; only a full fetch can tell
	var full []byte
	haveFull := false
	if size <= 0 {
		full, err = c.Retr(n)
		if err != nil {
			return err
		}
		if len(full) == 0 {
			e.log.LogPrintf(NOTICE,
				"message %d is zero-length, deleting", n)
			return c.Dele(n)
		}
		haveFull = true
	}

	preview := full
	if !haveFull {
		preview, err = c.Top(n, e.cfg.PreviewLines)
		if err == ErrNoTop {
			full, err = c.Retr(n)
			preview = full
			haveFull = true
		}
		if err != nil {
			return err
		}
	}

	out, facts := Classify(preview, e.cfg.Env)
	e.log.LogPrintf(INFO,
		"message %d (%d bytes): %s, from %q, subject %q",
		n, size, out, facts.Sender, facts.Subject)

	if e.leave(out) {
		e.log.LogPrintf(DEBUG, "message %d left on server", n)
		return nil
	}

	dir, prefix, stage := e.stageTarget(out)
	if stage {
		if !haveFull {
			full, err = c.Retr(n)
			if err != nil {
				return err
			}
		}
		var path string
		path, err = spool.WriteFile(dir, prefix, ".MSG", full)
		if err != nil {
			return err
		}
		e.log.LogPrintf(DEBUG, "message %d staged as %s", n, path)
	}

	if err = c.Dele(n); err != nil {
		return err
	}

	if out != Duplicate && facts.MsgID != "" && e.cfg.IDs != nil {
		err = e.cfg.IDs.Record(mm.CutMessageIDStr(facts.MsgID))
		if err != nil {
			// dedup degradation is not worth losing the message over
			e.log.LogPrintf(WARN, "dedup record failed: %v", err)
		}
	}
	return nil
}
