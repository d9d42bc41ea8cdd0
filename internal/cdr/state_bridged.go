package cdr

import "time"

// bridgedHandler implements the "Party-A is in a bridge with Party-B"
// state.
type bridgedHandler struct{ base }

func (bridgedHandler) onPartyB(eng *Engine, chain *CdrChain, rec *CdrRecord, snap *ChannelSnapshot, now time.Time) bool {
	if rec.PartyB == nil || rec.PartyB.Channel.Name != snap.Name {
		return false
	}
	swapSnapshot(rec.PartyB, snap)
	if snap.zombie() {
		transitionTo(eng, chain, rec, StateFinalized, now)
	}
	return true
}

func (bridgedHandler) onBridgeLeave(eng *Engine, chain *CdrChain, rec *CdrRecord, bridge *BridgeSnapshot, channel *ChannelSnapshot, now time.Time) bool {
	if rec.BridgeID != bridge.ID {
		return false
	}
	isPartyA := rec.PartyA.Channel.Name == channel.Name
	isPartyB := rec.PartyB != nil && rec.PartyB.Channel.Name == channel.Name
	if !isPartyA && !isPartyB {
		return false
	}
	transitionTo(eng, chain, rec, StateFinalized, now)
	return true
}
