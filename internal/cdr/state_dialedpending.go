package cdr

import "time"

// dialedPendingHandler implements the "dial succeeded, awaiting next
// event to classify" holding state.
type dialedPendingHandler struct{ base }

func (dialedPendingHandler) onPartyA(eng *Engine, chain *CdrChain, rec *CdrRecord, snap *ChannelSnapshot, now time.Time) bool {
	if !cepChanged(rec, snap) {
		return base{}.onPartyA(eng, chain, rec, snap, now)
	}

	if rec.PartyB != nil {
		transitionTo(eng, chain, rec, StateFinalized, now)
		return false
	}

	transitionTo(eng, chain, rec, StateSingle, now)
	return dispatchPartyA(eng, chain, rec, snap, now)
}

func (dialedPendingHandler) onDialBegin(eng *Engine, chain *CdrChain, rec *CdrRecord, caller, peer *ChannelSnapshot, now time.Time) bool {
	transitionTo(eng, chain, rec, StateFinalized, now)

	next := newRecord(rec.PartyA, eng.nextSequence())
	chain.append(next)
	transitionTo(eng, chain, next, StateSingle, now)
	return dispatchDialBegin(eng, chain, next, caller, peer, now)
}

func (dialedPendingHandler) onBridgeEnter(eng *Engine, chain *CdrChain, rec *CdrRecord, bridge *BridgeSnapshot, channel *ChannelSnapshot, now time.Time) bool {
	transitionTo(eng, chain, rec, StateDial, now)
	return dispatchBridgeEnter(eng, chain, rec, bridge, channel, now)
}
