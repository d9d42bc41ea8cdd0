package cdr

import (
	"strings"
	"testing"
)

func TestCLI_SetDebug(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	if _, err := eng.RunCLI("cdr set debug on"); err != nil {
		t.Fatalf("set debug on: %v", err)
	}
	if !eng.configSnapshot().Debug {
		t.Fatalf("expected debug enabled")
	}
	if _, err := eng.RunCLI("cdr set debug off"); err != nil {
		t.Fatalf("set debug off: %v", err)
	}
	if eng.configSnapshot().Debug {
		t.Fatalf("expected debug disabled")
	}
	if _, err := eng.RunCLI("cdr set debug maybe"); err == nil {
		t.Fatalf("expected an error for a bad debug argument")
	}
}

func TestCLI_ShowStatus(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	out, err := eng.RunCLI("cdr show status")
	if err != nil {
		t.Fatalf("show status: %v", err)
	}
	for _, want := range []string{"enabled", "active chains: 1", "test"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected status output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestCLI_SubmitDrainsPending(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Batch = true
	cfg.SchedulerOnly = true
	eng, rb := newTestEngine(t, cfg)

	eng.dispatcher.submit(eng, []*ExternalRecord{extRecord(1)})
	if _, err := eng.RunCLI("cdr submit"); err != nil {
		t.Fatalf("cdr submit: %v", err)
	}
	if got := rb.all(); len(got) != 1 {
		t.Fatalf("expected submit to drain 1 record, got %d", len(got))
	}
}

func TestCLI_RejectsUnknownCommands(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())
	for _, cmd := range []string{"", "cdr", "cdr bogus", "core show channels"} {
		if _, err := eng.RunCLI(cmd); err == nil {
			t.Errorf("expected %q to be rejected", cmd)
		}
	}
}
