package cdr

import "time"

// singleHandler implements the "newborn record" state: one channel, no
// peer yet.
type singleHandler struct{ base }

func (singleHandler) enter(eng *Engine, chain *CdrChain, rec *CdrRecord, now time.Time) {
	rec.Start = now
	if rec.PartyA.Channel.up() && rec.Answer.IsZero() {
		rec.Answer = now
	}
}

func (singleHandler) onDialBegin(eng *Engine, chain *CdrChain, rec *CdrRecord, caller, peer *ChannelSnapshot, now time.Time) bool {
	switch {
	case caller != nil && caller.Name == rec.PartyAName:
		swapSnapshot(rec.PartyA, caller)
		if peer != nil {
			rec.PartyB = newCdrSnapshot(peer)
		}
		transitionTo(eng, chain, rec, StateDial, now)
		return true
	case peer != nil && peer.Name == rec.PartyAName:
		swapSnapshot(rec.PartyA, peer)
		transitionTo(eng, chain, rec, StateDial, now)
		return true
	default:
		return false
	}
}

func (singleHandler) onBridgeEnter(eng *Engine, chain *CdrChain, rec *CdrRecord, bridge *BridgeSnapshot, channel *ChannelSnapshot, now time.Time) bool {
	scanBridgeCandidates(eng, chain, rec, bridge.ID, "", now)
	rec.BridgeID = bridge.ID
	transitionTo(eng, chain, rec, StateBridged, now)
	return true
}
