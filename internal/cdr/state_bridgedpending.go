package cdr

import "time"

// bridgedPendingHandler implements the "we just left a bridge, what
// next?" holding state.
type bridgedPendingHandler struct{ base }

func (bridgedPendingHandler) enter(eng *Engine, chain *CdrChain, rec *CdrRecord, now time.Time) {
	rec.Flags |= FlagDisable
}

func (bridgedPendingHandler) onPartyA(eng *Engine, chain *CdrChain, rec *CdrRecord, snap *ChannelSnapshot, now time.Time) bool {
	if snap.zombie() || !cepChanged(rec, snap) {
		return base{}.onPartyA(eng, chain, rec, snap, now)
	}
	rec.Flags &^= FlagDisable
	transitionTo(eng, chain, rec, StateSingle, now)
	return dispatchPartyA(eng, chain, rec, snap, now)
}

func (bridgedPendingHandler) onDialBegin(eng *Engine, chain *CdrChain, rec *CdrRecord, caller, peer *ChannelSnapshot, now time.Time) bool {
	rec.Flags &^= FlagDisable
	transitionTo(eng, chain, rec, StateSingle, now)
	return dispatchDialBegin(eng, chain, rec, caller, peer, now)
}

func (bridgedPendingHandler) onBridgeEnter(eng *Engine, chain *CdrChain, rec *CdrRecord, bridge *BridgeSnapshot, channel *ChannelSnapshot, now time.Time) bool {
	rec.Flags &^= FlagDisable
	transitionTo(eng, chain, rec, StateSingle, now)
	return dispatchBridgeEnter(eng, chain, rec, bridge, channel, now)
}
