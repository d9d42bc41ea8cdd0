package cdr

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSetVar_RejectsStandardProperties(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	for _, name := range []string{"billsec", "UniqueID", "dst"} {
		if err := eng.SetVar("A", name, "x"); !errors.Is(err, ErrReadOnly) {
			t.Errorf("SetVar(%q) = %v, want ErrReadOnly", name, err)
		}
	}
}

func TestAPI_UnknownChannelIsNotFound(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	if _, err := eng.GetVar("nope", "foo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetVar = %v, want ErrNotFound", err)
	}
	if err := eng.SetVar("nope", "foo", "bar"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetVar = %v, want ErrNotFound", err)
	}
	if err := eng.SetUserField("nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetUserField = %v, want ErrNotFound", err)
	}
	if err := eng.Fork("nope", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fork = %v, want ErrNotFound", err)
	}
}

func TestGetVar_StandardProperties(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	a0.CallerIDName = "Alice"
	a0.CallerIDNum = "100"
	a0.AccountCode = "acct-1"
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	cases := map[string]string{
		"clid":        "Alice",
		"src":         "100",
		"channel":     "A",
		"accountcode": "acct-1",
		"disposition": "NULL",
		"uniqueid":    "A-uid",
		"linkedid":    "linked-A",
		"sequence":    "1",
		"dstchannel":  "",
	}
	for name, want := range cases {
		got, err := eng.GetVar("A", name)
		if err != nil {
			t.Fatalf("GetVar(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("GetVar(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestSetUserField_PropagatesToPartyBRecords(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))
	b0 := chSnap("B", ChanOutgoing, "", "", 0, ChannelStateRing, at(1))
	eng.SubmitEvent(NewChannelEvent(b0, at(1)))
	eng.SubmitEvent(NewDialBeginEvent(a0, b0, at(1)))

	if err := eng.SetUserField("B", "ordered-by-B"); err != nil {
		t.Fatalf("SetUserField: %v", err)
	}

	bChain, _ := eng.channels.lookup("B")
	bChain.mu.Lock()
	if uf := bChain.current().PartyA.UserField; uf != "ordered-by-B" {
		t.Errorf("expected B's own Party-A userfield set, got %q", uf)
	}
	bChain.mu.Unlock()

	aChain, _ := eng.channels.lookup("A")
	aChain.mu.Lock()
	rec := aChain.current()
	if rec.PartyB == nil || rec.PartyB.UserField != "ordered-by-B" {
		t.Errorf("expected A's record Party-B userfield set, got %+v", rec.PartyB)
	}
	aChain.mu.Unlock()
}

func TestReset_ClearsVarsAndRestartsTimestamps(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	if err := eng.SetVar("A", "k", "v"); err != nil {
		t.Fatalf("SetVar: %v", err)
	}

	before := time.Now()
	if err := eng.Reset("A", 0); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	chain, _ := eng.channels.lookup("A")
	chain.mu.Lock()
	defer chain.mu.Unlock()
	r := chain.current()
	if _, ok := r.PartyA.getVar("k"); ok {
		t.Errorf("expected variables cleared")
	}
	if r.Start.Before(before) {
		t.Errorf("expected Start reset to now, got %v", r.Start)
	}
	if !r.Answer.IsZero() {
		t.Errorf("expected Answer cleared for a non-UP channel, got %v", r.Answer)
	}
	if !r.End.IsZero() {
		t.Errorf("expected End cleared, got %v", r.End)
	}
}

func TestReset_KeepVars(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))
	if err := eng.SetVar("A", "k", "v"); err != nil {
		t.Fatalf("SetVar: %v", err)
	}
	if err := eng.Reset("A", ResetKeepVars); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	v, err := eng.GetVar("A", "k")
	if err != nil || v != "v" {
		t.Fatalf("expected variable preserved, got %q err=%v", v, err)
	}
}

func TestFork_Options(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))
	if err := eng.SetVar("A", "k", "v"); err != nil {
		t.Fatalf("SetVar: %v", err)
	}

	if err := eng.Fork("A", ForkKeepVars|ForkFinalize); err != nil {
		t.Fatalf("Fork: %v", err)
	}

	chain, _ := eng.channels.lookup("A")
	chain.mu.Lock()
	defer chain.mu.Unlock()

	records := chain.all()
	if len(records) != 2 {
		t.Fatalf("expected 2 records after fork, got %d", len(records))
	}
	if !records[0].finalized() {
		t.Errorf("expected the prior record finalized by ForkFinalize")
	}
	cur := chain.current()
	if cur.finalized() {
		t.Errorf("expected the forked record live")
	}
	if v, ok := cur.PartyA.getVar("k"); !ok || v != "v" {
		t.Errorf("expected ForkKeepVars to copy variables, got %q ok=%v", v, ok)
	}
	if cur.Sequence <= records[0].Sequence {
		t.Errorf("expected forked record's sequence above its predecessor")
	}
}

func TestFork_ResetOption(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	before := time.Now()
	if err := eng.Fork("A", ForkReset); err != nil {
		t.Fatalf("Fork: %v", err)
	}

	chain, _ := eng.channels.lookup("A")
	chain.mu.Lock()
	defer chain.mu.Unlock()

	cur := chain.current()
	if cur.Start.Before(before) {
		t.Errorf("expected Start reset to the fork time, got %v", cur.Start)
	}
	if !cur.Answer.Equal(cur.Start) {
		t.Errorf("expected Answer = Start = fork time, got answer=%v start=%v", cur.Answer, cur.Start)
	}
}

func TestSerializeVariables_ContainsPropertiesAndVars(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	a0.CallerIDNum = "100"
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))
	if err := eng.SetVar("A", "campaign", "summer"); err != nil {
		t.Fatalf("SetVar: %v", err)
	}

	out, err := eng.SerializeVariables("A", "=", "\n")
	if err != nil {
		t.Fatalf("SerializeVariables: %v", err)
	}
	for _, want := range []string{"src=100\n", "channel=A\n", "campaign=summer\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}
