package cdr

import (
	"testing"
	"time"
)

func TestFinalizeRecord_Idempotent(t *testing.T) {
	cfg := DefaultConfig()
	r := newRecord(newCdrSnapshot(chanSnap("A", 0, time.Unix(0, 0))), 1)
	r.Start = time.Unix(0, 0)
	r.Answer = time.Unix(2, 0)

	now := time.Unix(10, 0)
	finalizeRecord(r, now, cfg)
	if r.End != now {
		t.Fatalf("expected End set to now, got %v", r.End)
	}
	if r.Disposition != DispositionAnswered {
		t.Fatalf("expected ANSWERED disposition, got %v", r.Disposition)
	}

	later := time.Unix(99, 0)
	finalizeRecord(r, later, cfg)
	if r.End != now {
		t.Fatalf("expected second finalize to be a no-op, End changed to %v", r.End)
	}
}

func TestFinalizeRecord_DispositionFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Congestion = false

	r := newRecord(newCdrSnapshot(chanSnap("A", 0, time.Unix(0, 0))), 1)
	r.PartyA.Channel.HangupCause = CauseNormalCircuitCongestion
	finalizeRecord(r, time.Unix(5, 0), cfg)
	if r.Disposition != DispositionFailed {
		t.Fatalf("expected congestion-disabled fallback to FAILED, got %v", r.Disposition)
	}

	cfg2 := DefaultConfig()
	cfg2.Congestion = true
	r2 := newRecord(newCdrSnapshot(chanSnap("B", 0, time.Unix(0, 0))), 2)
	r2.PartyA.Channel.HangupCause = CauseNormalCircuitCongestion
	finalizeRecord(r2, time.Unix(5, 0), cfg2)
	if r2.Disposition != DispositionCongestion {
		t.Fatalf("expected congestion-enabled fallback to CONGESTION, got %v", r2.Disposition)
	}
}

func TestBillSec_RoundingModes(t *testing.T) {
	r := &CdrRecord{Answer: time.Unix(0, 0)}
	end := time.Unix(0, 600*int64(time.Millisecond))

	r.End = end
	if got := r.billSec(end, false); got != 0 {
		t.Fatalf("floored billsec: expected 0, got %d", got)
	}
	if got := r.billSec(end, true); got != 1 {
		t.Fatalf("rounded billsec (>=500ms remainder): expected 1, got %d", got)
	}
}

func TestMapDialStatus(t *testing.T) {
	cases := []struct {
		status     DialStatus
		congestion bool
		want       Disposition
	}{
		{DialStatusAnswer, false, DispositionAnswered},
		{DialStatusBusy, false, DispositionBusy},
		{DialStatusNoAnswer, false, DispositionNoAnswer},
		{DialStatusCancel, false, DispositionNoAnswer},
		{DialStatusCongestion, false, DispositionFailed},
		{DialStatusCongestion, true, DispositionCongestion},
		{DialStatusFailed, false, DispositionFailed},
	}
	for _, c := range cases {
		if got := mapDialStatus(c.status, c.congestion); got != c.want {
			t.Errorf("mapDialStatus(%v, %v) = %v, want %v", c.status, c.congestion, got, c.want)
		}
	}
}
