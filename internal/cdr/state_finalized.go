package cdr

import "time"

// finalizedHandler implements the terminal state. transitionTo already
// guarantees finalizeRecord has run by the time enter is called, so
// endbeforehexten has no further timestamp work to do here; the flag is
// still read by LoadConfig, just not behaviorally load-bearing.
type finalizedHandler struct{ base }

func (finalizedHandler) enter(eng *Engine, chain *CdrChain, rec *CdrRecord, now time.Time) {}

func (finalizedHandler) onPartyA(eng *Engine, chain *CdrChain, rec *CdrRecord, snap *ChannelSnapshot, now time.Time) bool {
	if snap.zombie() {
		finalizeRecord(rec, now, eng.configSnapshot())
	}
	return false
}
