package cdr

import "time"

// dialHandler implements the "Party-A dialing or being originated toward
// Party-B" state.
type dialHandler struct{ base }

func (dialHandler) onPartyB(eng *Engine, chain *CdrChain, rec *CdrRecord, snap *ChannelSnapshot, now time.Time) bool {
	if rec.PartyB == nil || rec.PartyB.Channel.Name != snap.Name {
		return false
	}
	swapSnapshot(rec.PartyB, snap)
	if snap.zombie() {
		transitionTo(eng, chain, rec, StateFinalized, now)
	}
	return true
}

func (dialHandler) onDialBegin(eng *Engine, chain *CdrChain, rec *CdrRecord, caller, peer *ChannelSnapshot, now time.Time) bool {
	// Reject: let the router fork a new chain element for a fresh dial.
	return false
}

func (dialHandler) onDialEnd(eng *Engine, chain *CdrChain, rec *CdrRecord, peer *ChannelSnapshot, status DialStatus, now time.Time) bool {
	rec.Disposition = mapDialStatus(status, eng.configSnapshot().Congestion)

	if rec.PartyB != nil && peer != nil && rec.PartyB.Channel.Name == peer.Name {
		swapSnapshot(rec.PartyB, peer)
	}

	if rec.Disposition == DispositionAnswered {
		if rec.Answer.IsZero() {
			rec.Answer = now
		}
		transitionTo(eng, chain, rec, StateDialedPending, now)
	} else {
		transitionTo(eng, chain, rec, StateFinalized, now)
	}
	return true
}

func (dialHandler) onBridgeEnter(eng *Engine, chain *CdrChain, rec *CdrRecord, bridge *BridgeSnapshot, channel *ChannelSnapshot, now time.Time) bool {
	restrict := ""
	if rec.PartyB != nil {
		restrict = rec.PartyB.Channel.Name
	}
	scanBridgeCandidates(eng, chain, rec, bridge.ID, restrict, now)
	rec.BridgeID = bridge.ID
	transitionTo(eng, chain, rec, StateBridged, now)
	return true
}
