package cdr

import (
	"fmt"
	"strings"
	"time"
)

// Status is the structured form of "cdr show status", kept separate
// from its string rendering so callers (the CLI, the HTTP status
// surface in cmd/cdrengine) can format it as they like.
type Status struct {
	Enabled        bool
	Debug          bool
	Batch          bool
	PendingBatch   int
	BatchSize      uint
	BatchTime      uint
	NextDrainETA   time.Duration
	Backends       []Backend
	ActiveChains   int
	ActiveBridges  int
	RecordsEmitted int64
}

// RunCLI executes one of "cdr set debug on|off", "cdr show status",
// "cdr submit". Returns the human-readable output for "cdr show
// status"; empty for the others.
func (eng *Engine) RunCLI(cmd string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(cmd))
	if len(fields) < 2 || fields[0] != "cdr" {
		return "", fmt.Errorf("cdr: unrecognized command %q", cmd)
	}

	switch {
	case fields[1] == "set" && len(fields) == 4 && fields[2] == "debug":
		return "", eng.setDebug(fields[3])
	case fields[1] == "show" && len(fields) == 3 && fields[2] == "status":
		return eng.Status().String(), nil
	case fields[1] == "submit":
		eng.dispatcher.forceDrain(eng)
		return "", nil
	default:
		return "", fmt.Errorf("cdr: unrecognized command %q", cmd)
	}
}

func (eng *Engine) setDebug(onOff string) error {
	switch onOff {
	case "on":
		eng.setConfigField(func(c *Config) { c.Debug = true })
	case "off":
		eng.setConfigField(func(c *Config) { c.Debug = false })
	default:
		return fmt.Errorf("cdr: set debug expects on|off, got %q", onOff)
	}
	return nil
}

// Status builds a point-in-time snapshot for "cdr show status".
func (eng *Engine) Status() Status {
	cfg := eng.configSnapshot()
	return Status{
		Enabled:        cfg.Enable,
		Debug:          cfg.Debug,
		Batch:          cfg.Batch,
		PendingBatch:   eng.dispatcher.pendingLen(),
		BatchSize:      cfg.Size,
		BatchTime:      cfg.Time,
		NextDrainETA:   eng.dispatcher.nextDrainIn(),
		Backends:       eng.backends.list(),
		ActiveChains:   len(eng.channels.snapshotNames()),
		ActiveBridges:  eng.bridges.count(),
		RecordsEmitted: eng.recordsEmitted.Load(),
	}
}

func (s Status) String() string {
	var b strings.Builder
	mode := "immediate"
	if s.Batch {
		mode = "batched"
	}
	fmt.Fprintf(&b, "cdr: %s (debug=%v), mode=%s\n", enabledWord(s.Enabled), s.Debug, mode)
	fmt.Fprintf(&b, "  active chains: %d, active bridges: %d\n", s.ActiveChains, s.ActiveBridges)
	fmt.Fprintf(&b, "  pending batch: %d/%d (time trigger %ds)\n", s.PendingBatch, s.BatchSize, s.BatchTime)
	if s.Batch {
		fmt.Fprintf(&b, "  next drain in: %s\n", s.NextDrainETA.Round(time.Second))
	}
	fmt.Fprintf(&b, "  records emitted: %d\n", s.RecordsEmitted)
	fmt.Fprintf(&b, "  backends (%d):\n", len(s.Backends))
	for _, be := range s.Backends {
		fmt.Fprintf(&b, "    %-20s %s\n", be.Name, be.Description)
	}
	return b.String()
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
