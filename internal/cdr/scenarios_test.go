package cdr

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingBackend is a test-only sink that captures every ExternalRecord
// handed to it, in dispatch order.
type recordingBackend struct {
	mu      sync.Mutex
	records []*ExternalRecord
}

func (b *recordingBackend) sink(r *ExternalRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, r)
	return nil
}

func (b *recordingBackend) all() []*ExternalRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*ExternalRecord, len(b.records))
	copy(out, b.records)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestEngine(t *testing.T, cfg *Config) (*Engine, *recordingBackend) {
	t.Helper()
	eng := NewEngine(testLogger(), cfg)
	rb := &recordingBackend{}
	if err := eng.RegisterBackend("test", "test sink", rb.sink); err != nil {
		t.Fatalf("RegisterBackend: %v", err)
	}
	return eng, rb
}

func chSnap(name string, flags ChannelFlag, appl string, exten string, hangupCause int, state ChannelState, at time.Time) *ChannelSnapshot {
	return &ChannelSnapshot{
		Name:        name,
		UniqueID:    name + "-uid",
		LinkedID:    "linked-" + name,
		Context:     "default",
		Exten:       exten,
		Application: appl,
		HangupCause: hangupCause,
		CreatedAt:   at,
		Flags:       flags,
		State:       state,
	}
}

func at(seconds int64) time.Time { return time.Unix(seconds, 0) }

// Simple answered call between A and B: one record, answered at the
// dial end, billed from answer to hangup.
func TestScenario_SimpleAnsweredCall(t *testing.T) {
	cfg := DefaultConfig()
	eng, rb := newTestEngine(t, cfg)

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	b0 := chSnap("B", ChanOutgoing, "", "", 0, ChannelStateRing, at(1))
	eng.SubmitEvent(NewChannelEvent(b0, at(1)))
	eng.SubmitEvent(NewDialBeginEvent(a0, b0, at(1)))

	b1 := chSnap("B", ChanOutgoing, "", "", 0, ChannelStateUp, at(2))
	eng.SubmitEvent(NewStateChangeEvent(b0, b1, at(2)))
	eng.SubmitEvent(NewDialEndEvent(a0, b1, DialStatusAnswer, at(2)))

	bridge := &BridgeSnapshot{ID: "X", Technology: "simple_bridge"}
	eng.SubmitEvent(NewBridgeEnterEvent(a0, bridge, at(3)))
	eng.SubmitEvent(NewBridgeEnterEvent(b1, bridge, at(3)))

	aHangup := chSnap("A", ChanZombie, "", "1000", CauseNormalClearing, ChannelStateUp, at(10))
	eng.SubmitEvent(NewHangupEvent(aHangup, at(10)))
	eng.SubmitEvent(NewHangupEvent(b1, at(10)))

	got := rb.all()
	if len(got) != 1 {
		t.Fatalf("expected exactly one ExternalRecord, got %d: %+v", len(got), got)
	}
	r := got[0]
	if r.Channel != "A" || r.DstChannel != "B" {
		t.Fatalf("expected channel=A dstchannel=B, got channel=%s dstchannel=%s", r.Channel, r.DstChannel)
	}
	if r.Disposition != DispositionAnswered {
		t.Fatalf("expected ANSWERED, got %v", r.Disposition)
	}
	if !r.Start.Equal(at(0)) || !r.Answer.Equal(at(2)) || !r.End.Equal(at(10)) {
		t.Fatalf("expected start=0 answer=2 end=10, got start=%v answer=%v end=%v", r.Start, r.Answer, r.End)
	}
	if r.Duration != 10 {
		t.Fatalf("expected duration=10, got %d", r.Duration)
	}
	if r.BillSec != 8 {
		t.Fatalf("expected billsec=8, got %d", r.BillSec)
	}
}

func dialNoAnswer(t *testing.T, cfg *Config, status DialStatus) (*recordingBackend, []*ExternalRecord) {
	t.Helper()
	eng, rb := newTestEngine(t, cfg)

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	b0 := chSnap("B", ChanOutgoing, "", "", 0, ChannelStateRing, at(1))
	eng.SubmitEvent(NewDialBeginEvent(a0, b0, at(1)))
	eng.SubmitEvent(NewDialEndEvent(a0, b0, status, at(5)))

	aHangup := chSnap("A", ChanZombie, "", "1000", CauseNormalClearing, ChannelStateRing, at(6))
	eng.SubmitEvent(NewHangupEvent(aHangup, at(6)))
	eng.SubmitEvent(NewHangupEvent(b0, at(6)))

	return rb, rb.all()
}

// Unanswered single leg with unanswered=false: filtered at post time.
func TestScenario_UnansweredFiltered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Unanswered = false
	_, got := dialNoAnswer(t, cfg, DialStatusNoAnswer)
	if len(got) != 0 {
		t.Fatalf("expected zero ExternalRecords, got %d: %+v", len(got), got)
	}
}

// Same leg with unanswered=true: posted as NO-ANSWER with zero billsec.
func TestScenario_UnansweredPosted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Unanswered = true
	_, got := dialNoAnswer(t, cfg, DialStatusNoAnswer)
	if len(got) != 1 {
		t.Fatalf("expected one ExternalRecord, got %d: %+v", len(got), got)
	}
	r := got[0]
	if r.Disposition != DispositionNoAnswer {
		t.Fatalf("expected NO-ANSWER, got %v", r.Disposition)
	}
	if r.DstChannel != "B" {
		t.Fatalf("expected dstchannel=B, got %q", r.DstChannel)
	}
	if r.BillSec != 0 {
		t.Fatalf("expected billsec=0, got %d", r.BillSec)
	}
}

// A BUSY dial outcome maps straight to the BUSY disposition.
func TestScenario_Busy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Unanswered = true
	_, got := dialNoAnswer(t, cfg, DialStatusBusy)
	if len(got) != 1 {
		t.Fatalf("expected one ExternalRecord, got %d", len(got))
	}
	if got[0].Disposition != DispositionBusy {
		t.Fatalf("expected BUSY, got %v", got[0].Disposition)
	}
}

// CONGESTION degrades to FAILED unless the congestion option is set.
func TestScenario_Congestion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Unanswered = true
	cfg.Congestion = false
	_, got := dialNoAnswer(t, cfg, DialStatusCongestion)
	if len(got) != 1 || got[0].Disposition != DispositionFailed {
		t.Fatalf("expected one FAILED record with congestion=false, got %+v", got)
	}

	cfg2 := DefaultConfig()
	cfg2.Unanswered = true
	cfg2.Congestion = true
	_, got2 := dialNoAnswer(t, cfg2, DialStatusCongestion)
	if len(got2) != 1 || got2[0].Disposition != DispositionCongestion {
		t.Fatalf("expected one CONGESTION record with congestion=true, got %+v", got2)
	}
}

// Three-way bridge: A and B are already bridged; C then joins the same
// bridge. Expect three records, each ANSWERED, covering the three
// distinct pairs.
func TestScenario_ThreeWayBridge(t *testing.T) {
	cfg := DefaultConfig()
	eng, rb := newTestEngine(t, cfg)

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	b0 := chSnap("B", ChanOutgoing, "", "", 0, ChannelStateRing, at(1))
	eng.SubmitEvent(NewChannelEvent(b0, at(1)))
	eng.SubmitEvent(NewDialBeginEvent(a0, b0, at(1)))

	a1 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateUp, at(2))
	eng.SubmitEvent(NewStateChangeEvent(a0, a1, at(2)))
	b1 := chSnap("B", ChanOutgoing, "", "", 0, ChannelStateUp, at(2))
	eng.SubmitEvent(NewStateChangeEvent(b0, b1, at(2)))
	eng.SubmitEvent(NewDialEndEvent(a1, b1, DialStatusAnswer, at(2)))

	bridge := &BridgeSnapshot{ID: "X", Technology: "simple_bridge"}
	eng.SubmitEvent(NewBridgeEnterEvent(a1, bridge, at(3)))
	eng.SubmitEvent(NewBridgeEnterEvent(b1, bridge, at(3)))

	c0 := chSnap("C", 0, "", "", 0, ChannelStateUp, at(4))
	eng.SubmitEvent(NewChannelEvent(c0, at(4)))
	eng.SubmitEvent(NewBridgeEnterEvent(c0, bridge, at(5)))

	aHangup := chSnap("A", ChanZombie, "", "1000", CauseNormalClearing, ChannelStateUp, at(20))
	eng.SubmitEvent(NewHangupEvent(aHangup, at(20)))
	eng.SubmitEvent(NewHangupEvent(b1, at(20)))
	eng.SubmitEvent(NewHangupEvent(c0, at(20)))

	got := rb.all()
	if len(got) != 3 {
		t.Fatalf("expected exactly three ExternalRecords, got %d: %+v", len(got), got)
	}
	pairs := map[[2]string]bool{}
	for _, r := range got {
		if r.Disposition != DispositionAnswered {
			t.Errorf("expected ANSWERED for every leg, got %v for %s->%s", r.Disposition, r.Channel, r.DstChannel)
		}
		pairs[[2]string{r.Channel, r.DstChannel}] = true
	}
	want := [][2]string{{"A", "B"}, {"A", "C"}, {"B", "C"}}
	for _, w := range want {
		if !pairs[w] && !pairs[[2]string{w[1], w[0]}] {
			t.Errorf("expected a record covering pair %v, got pairs %v", w, pairs)
		}
	}
}

// Sequence numbers strictly increase across every emitted record,
// regardless of which chain or pairing produced it.
func TestInvariant_SequenceStrictlyIncreasing(t *testing.T) {
	cfg := DefaultConfig()
	eng, rb := newTestEngine(t, cfg)

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))
	b0 := chSnap("B", ChanOutgoing, "", "", 0, ChannelStateRing, at(1))
	eng.SubmitEvent(NewDialBeginEvent(a0, b0, at(1)))
	b1 := chSnap("B", ChanOutgoing, "", "", 0, ChannelStateUp, at(2))
	eng.SubmitEvent(NewStateChangeEvent(b0, b1, at(2)))
	eng.SubmitEvent(NewDialEndEvent(a0, b1, DialStatusAnswer, at(2)))
	bridge := &BridgeSnapshot{ID: "X", Technology: "simple_bridge"}
	eng.SubmitEvent(NewBridgeEnterEvent(a0, bridge, at(3)))
	eng.SubmitEvent(NewBridgeEnterEvent(b1, bridge, at(3)))
	c0 := chSnap("C", 0, "", "", 0, ChannelStateUp, at(4))
	eng.SubmitEvent(NewChannelEvent(c0, at(4)))
	eng.SubmitEvent(NewBridgeEnterEvent(c0, bridge, at(5)))
	aHangup := chSnap("A", ChanZombie, "", "1000", CauseNormalClearing, ChannelStateUp, at(20))
	eng.SubmitEvent(NewHangupEvent(aHangup, at(20)))
	eng.SubmitEvent(NewHangupEvent(b1, at(20)))
	eng.SubmitEvent(NewHangupEvent(c0, at(20)))

	got := rb.all()
	for i := 1; i < len(got); i++ {
		if got[i].Sequence <= got[i-1].Sequence {
			t.Fatalf("sequence not strictly increasing at index %d: %d <= %d", i, got[i].Sequence, got[i-1].Sequence)
		}
	}
}

// Fork refuses once the last record of a chain is finalized. Hangup
// removes the chain from the index entirely (so Fork would see
// ErrNotFound, not the finalize check), so this finalizes the chain's
// current record directly while the chain stays indexed.
func TestFork_RefusesAfterFinalize(t *testing.T) {
	cfg := DefaultConfig()
	eng, _ := newTestEngine(t, cfg)

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	chain, ok := eng.channels.lookup("A")
	if !ok {
		t.Fatalf("expected chain A to be indexed")
	}
	chain.mu.Lock()
	finalizeRecord(chain.current(), at(1), cfg)
	chain.mu.Unlock()

	if err := eng.Fork("A", 0); err != ErrFinalized {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}

// Regression: a redundant, non-progressing channel update on an
// already-finalized chain must not fork a new CdrRecord — the fork gate
// requires the channel's dialplan location to have moved relative to
// its previous snapshot, not just a non-empty Application. A genuine
// dialplan step forward still forks.
func TestRouter_RepeatedUpdateOnFinalizedChainDoesNotFork(t *testing.T) {
	cfg := DefaultConfig()
	eng, _ := newTestEngine(t, cfg)

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	chain, ok := eng.channels.lookup("A")
	if !ok {
		t.Fatalf("expected chain A to be indexed")
	}
	chain.mu.Lock()
	finalizeRecord(chain.current(), at(1), cfg)
	chain.mu.Unlock()

	a1 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateUp, at(2))
	eng.SubmitEvent(NewStateChangeEvent(a0, a1, at(2)))

	chain.mu.Lock()
	n := len(chain.all())
	chain.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected no new record forked by a non-progressing update, chain has %d records", n)
	}

	a2 := chSnap("A", 0, "Voicemail", "1001", 0, ChannelStateUp, at(3))
	eng.SubmitEvent(NewStateChangeEvent(a1, a2, at(3)))

	chain.mu.Lock()
	n2 := len(chain.all())
	chain.mu.Unlock()
	if n2 != 2 {
		t.Fatalf("expected a dialplan step forward to fork a new record, chain has %d records", n2)
	}
}

// A channel leaving its bridge finalizes the bridged record at the leave
// time, not at hangup, and parks the chain in a holding record that never
// posts on its own.
func TestScenario_BridgeLeaveFinalizesRecord(t *testing.T) {
	cfg := DefaultConfig()
	eng, rb := newTestEngine(t, cfg)

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))
	b0 := chSnap("B", ChanOutgoing, "", "", 0, ChannelStateRing, at(1))
	eng.SubmitEvent(NewChannelEvent(b0, at(1)))
	eng.SubmitEvent(NewDialBeginEvent(a0, b0, at(1)))

	b1 := chSnap("B", ChanOutgoing, "", "", 0, ChannelStateUp, at(2))
	eng.SubmitEvent(NewStateChangeEvent(b0, b1, at(2)))
	eng.SubmitEvent(NewDialEndEvent(a0, b1, DialStatusAnswer, at(2)))

	bridge := &BridgeSnapshot{ID: "X", Technology: "simple_bridge"}
	eng.SubmitEvent(NewBridgeEnterEvent(a0, bridge, at(3)))
	eng.SubmitEvent(NewBridgeEnterEvent(b1, bridge, at(3)))

	eng.SubmitEvent(NewBridgeLeaveEvent(a0, bridge, at(8)))

	aHangup := chSnap("A", ChanZombie, "", "1000", CauseNormalClearing, ChannelStateUp, at(10))
	eng.SubmitEvent(NewHangupEvent(aHangup, at(10)))
	eng.SubmitEvent(NewHangupEvent(b1, at(10)))

	got := rb.all()
	if len(got) != 1 {
		t.Fatalf("expected exactly one ExternalRecord, got %d: %+v", len(got), got)
	}
	r := got[0]
	if r.Channel != "A" || r.DstChannel != "B" {
		t.Fatalf("expected channel=A dstchannel=B, got %s/%s", r.Channel, r.DstChannel)
	}
	if !r.End.Equal(at(8)) {
		t.Fatalf("expected end frozen at the bridge leave (t=8), got %v", r.End)
	}
	if r.Duration != 8 || r.BillSec != 6 {
		t.Fatalf("expected duration=8 billsec=6, got duration=%d billsec=%d", r.Duration, r.BillSec)
	}
}

// A disabled engine drops events entirely: no chain is created.
func TestEngine_DisabledDropsEvents(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())
	eng.Disable()

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	if _, ok := eng.channels.lookup("A"); ok {
		t.Fatalf("expected no chain for a disabled engine")
	}

	eng.Enable()
	eng.SubmitEvent(NewChannelEvent(a0, at(1)))
	if _, ok := eng.channels.lookup("A"); !ok {
		t.Fatalf("expected a chain once re-enabled")
	}
}

// The chain is in the channel index iff the channel has not been
// removed upstream.
func TestInvariant_ChannelIndexLifecycle(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))
	if _, ok := eng.channels.lookup("A"); !ok {
		t.Fatalf("expected chain indexed while channel is live")
	}

	eng.SubmitEvent(NewHangupEvent(a0, at(5)))
	if _, ok := eng.channels.lookup("A"); ok {
		t.Fatalf("expected chain removed after the channel disappeared")
	}
}

// Synthetic channels and holding bridges never reach the state machine.
func TestRouter_FilterPass(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	ann := chSnap("CBAnn/1234", 0, "", "", 0, ChannelStateUp, at(0))
	eng.SubmitEvent(NewChannelEvent(ann, at(0)))
	if _, ok := eng.channels.lookup("CBAnn/1234"); ok {
		t.Fatalf("expected CBAnn channel filtered")
	}

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))
	holding := &BridgeSnapshot{ID: "H", Technology: "holding_bridge"}
	eng.SubmitEvent(NewBridgeEnterEvent(a0, holding, at(1)))
	if n := eng.bridges.count(); n != 0 {
		t.Fatalf("expected holding-bridge events filtered, %d bridges indexed", n)
	}
}

// Round-trip setvar/getvar for a non-reserved key.
func TestAPI_SetVarGetVarRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	eng, _ := newTestEngine(t, cfg)

	a0 := chSnap("A", 0, "Dial", "1000", 0, ChannelStateRing, at(0))
	eng.SubmitEvent(NewChannelEvent(a0, at(0)))

	if err := eng.SetVar("A", "custom_key", "custom_value"); err != nil {
		t.Fatalf("SetVar: %v", err)
	}
	v, err := eng.GetVar("A", "custom_key")
	if err != nil {
		t.Fatalf("GetVar: %v", err)
	}
	if v != "custom_value" {
		t.Fatalf("expected custom_value, got %q", v)
	}
}
