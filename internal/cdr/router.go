package cdr

import (
	"strings"
	"time"
)

// Holding bridges park a single channel for announcements or music on
// hold; their membership events never describe a billable pairing.
const holdingBridgeTech = "holding_bridge"

// filtered implements the router's filter pass: drop channel snapshots
// whose name begins with a synthetic recording/announcer prefix, and
// drop bridge events on holding bridges.
func filtered(ev Event) bool {
	if ev.Channel != nil && isSyntheticName(ev.Channel.Name) {
		return true
	}
	if ev.Bridge != nil && ev.Bridge.Technology == holdingBridgeTech {
		return true
	}
	return false
}

func isSyntheticName(name string) bool {
	return strings.HasPrefix(name, "CBAnn") || strings.HasPrefix(name, "CBRec")
}

// route dispatches one event onto the chain(s) it concerns.
func (eng *Engine) route(ev Event) {
	if filtered(ev) {
		return
	}

	switch ev.Kind {
	case EventChannelNew:
		eng.routeChannelNew(ev)
	case EventChannelStateChange, EventApplicationExec:
		eng.routeChannelUpdate(ev)
	case EventChannelVarSet:
		eng.routeVarSet(ev)
	case EventHangup:
		eng.routeChannelGone(ev)
	case EventDialBegin:
		eng.routeDial(ev, false)
	case EventDialEnd:
		eng.routeDial(ev, true)
	case EventBridgeEnter:
		eng.routeBridgeEnter(ev)
	case EventBridgeLeave:
		eng.routeBridgeLeave(ev)
	}
}

// routeChannelNew handles CHANNEL_UPDATE(null, new): a brand-new chain.
func (eng *Engine) routeChannelNew(ev Event) {
	chain := eng.channels.getOrCreate(ev.Channel.Name)
	chain.mu.Lock()
	defer chain.mu.Unlock()
	if !chain.empty() {
		return
	}
	r := newRecord(newCdrSnapshot(ev.Channel), eng.nextSequence())
	chain.append(r)
	transitionTo(eng, chain, r, StateSingle, ev.Time)
}

// routeChannelUpdate handles a snapshot update for a live channel. If no
// record accepts the update and the channel has moved to a new dialplan
// location, a fresh record is appended so the new step gets billed on
// its own.
func (eng *Engine) routeChannelUpdate(ev Event) {
	chain, ok := eng.channels.lookup(ev.Channel.Name)
	if !ok {
		eng.logger.Warn("cdr: update for unknown channel", "channel", ev.Channel.Name)
		return
	}

	chain.mu.Lock()
	allUnhandled := true
	for _, r := range chain.all() {
		if r.finalized() {
			continue
		}
		if handlerFor(r.State).onPartyA(eng, chain, r, ev.Channel, ev.Time) {
			allUnhandled = false
		}
	}

	if allUnhandled && !ev.Channel.zombie() && ev.Channel.Application != "" && cepChangedOrNil(ev.Old, ev.Channel) {
		r := newRecord(newCdrSnapshot(ev.Channel), eng.nextSequence())
		chain.append(r)
		transitionTo(eng, chain, r, StateSingle, ev.Time)
	}
	chain.mu.Unlock()

	eng.forEachOtherChain(ev.Channel.Name, func(other *CdrChain) {
		other.mu.Lock()
		defer other.mu.Unlock()
		for _, r := range other.all() {
			if r.finalized() {
				continue
			}
			if r.PartyB != nil && r.PartyB.Channel.Name == ev.Channel.Name {
				handlerFor(r.State).onPartyB(eng, other, r, ev.Channel, ev.Time)
			}
		}
	})
}

// routeVarSet applies a variable assignment to the chain's current
// record's Party-A variables, matching the engine's own get_var/set_var
// variable store (a thin convenience over the public API in api.go).
func (eng *Engine) routeVarSet(ev Event) {
	chain, ok := eng.channels.lookup(ev.Channel.Name)
	if !ok {
		return
	}
	chain.mu.Lock()
	defer chain.mu.Unlock()
	r := chain.current()
	if r == nil || r.finalized() {
		return
	}
	r.PartyA.setVar(ev.VarName, ev.VarValue)
}

// routeChannelGone handles CHANNEL_UPDATE(old, null): the channel left
// the system entirely.
func (eng *Engine) routeChannelGone(ev Event) {
	chain, ok := eng.channels.lookup(ev.Channel.Name)
	if !ok {
		return
	}

	chain.mu.Lock()
	cfg := eng.configSnapshot()
	for _, r := range chain.all() {
		finalizeRecord(r, ev.Time, cfg)
	}
	batch := eng.externalizeChain(chain, ev.Time)
	chain.mu.Unlock()

	eng.channels.remove(ev.Channel.Name)
	eng.dispatcher.submit(eng, batch)

	eng.forEachOtherChain(ev.Channel.Name, func(other *CdrChain) {
		other.mu.Lock()
		defer other.mu.Unlock()
		for _, r := range other.all() {
			if r.finalized() {
				continue
			}
			if r.PartyB != nil && r.PartyB.Channel.Name == ev.Channel.Name {
				finalizeRecord(r, ev.Time, cfg)
			}
		}
	})
}

// routeDial handles both DIAL_BEGIN (isEnd=false) and DIAL_END
// (isEnd=true) messages.
func (eng *Engine) routeDial(ev Event, isEnd bool) {
	var callerName, peerName string
	if ev.Channel != nil {
		callerName = ev.Channel.Name
	}
	if ev.Peer != nil {
		peerName = ev.Peer.Name
	}

	var ownerName string
	if callerName != "" && peerName != "" {
		callerChain, _ := eng.channels.lookup(callerName)
		peerChain, _ := eng.channels.lookup(peerName)
		ownerName = callerName
		if callerChain != nil && peerChain != nil {
			// Read each chain's Party-A under its own lock, one at a
			// time; two chain locks are never held together.
			callerPartyA := currentPartyA(callerChain)
			peerPartyA := currentPartyA(peerChain)
			if callerPartyA != nil && peerPartyA != nil &&
				pickPartyA(callerPartyA, peerPartyA) == peerPartyA {
				ownerName = peerName
			}
		}
	} else if callerName != "" {
		ownerName = callerName
	} else {
		ownerName = peerName
	}

	chain, ok := eng.channels.lookup(ownerName)
	if !ok {
		return
	}

	chain.mu.Lock()
	defer chain.mu.Unlock()

	handled := false
	for _, r := range chain.all() {
		if r.finalized() {
			continue
		}
		var ok bool
		if !isEnd {
			ok = handlerFor(r.State).onDialBegin(eng, chain, r, ev.Channel, ev.Peer, ev.Time)
		} else {
			ok = handlerFor(r.State).onDialEnd(eng, chain, r, ev.Peer, ev.DialStatus, ev.Time)
		}
		if ok {
			handled = true
		}
	}

	if !isEnd && !handled {
		r := newRecord(newCdrSnapshot(ev.Channel), eng.nextSequence())
		chain.append(r)
		transitionTo(eng, chain, r, StateSingle, ev.Time)
		handlerFor(r.State).onDialBegin(eng, chain, r, ev.Channel, ev.Peer, ev.Time)
	}
}

// routeBridgeEnter handles BRIDGE_ENTER(bridge, channel).
func (eng *Engine) routeBridgeEnter(ev Event) {
	chain, ok := eng.channels.lookup(ev.Channel.Name)
	if !ok {
		return
	}

	chain.mu.Lock()
	handled := false
	for _, r := range chain.all() {
		if r.finalized() {
			continue
		}
		handlerFor(r.State).onPartyA(eng, chain, r, ev.Channel, ev.Time)
		if handlerFor(r.State).onBridgeEnter(eng, chain, r, ev.Bridge, ev.Channel, ev.Time) {
			handled = true
		}
	}
	if !handled {
		cfg := eng.configSnapshot()
		for _, r := range chain.all() {
			finalizeRecord(r, ev.Time, cfg)
		}
	}
	chain.mu.Unlock()

	eng.bridges.enter(ev.Bridge.ID, ev.Channel.Name)
	performBridgePairing(eng, chain, ev.Bridge.ID, ev.Time)
}

// routeBridgeLeave handles BRIDGE_LEAVE(bridge, channel).
func (eng *Engine) routeBridgeLeave(ev Event) {
	chain, ok := eng.channels.lookup(ev.Channel.Name)
	if !ok {
		return
	}

	chain.mu.Lock()
	handled := false
	for _, r := range chain.all() {
		if r.finalized() {
			continue
		}
		if handlerFor(r.State).onBridgeLeave(eng, chain, r, ev.Bridge, ev.Channel, ev.Time) {
			handled = true
			r.BridgeID = ""
		}
	}
	if handled {
		eng.bridges.leave(ev.Bridge.ID, ev.Channel.Name)
		next := newRecord(chain.current().PartyA, eng.nextSequence())
		chain.append(next)
		transitionTo(eng, chain, next, StateBridgedPending, ev.Time)
	}
	chain.mu.Unlock()

	cfg := eng.configSnapshot()
	for _, name := range eng.channels.snapshotNames() {
		if name == ev.Channel.Name {
			continue
		}
		other, ok := eng.channels.lookup(name)
		if !ok {
			continue
		}
		other.mu.Lock()
		for _, r := range other.all() {
			if r.State == StateBridged && r.PartyB != nil && r.PartyB.Channel.Name == ev.Channel.Name {
				finalizeRecord(r, ev.Time, cfg)
			}
		}
		other.mu.Unlock()
	}
}

// currentPartyA returns the Party-A snapshot of chain's newest record,
// nil if the chain is empty. Takes and releases chain's own lock.
func currentPartyA(chain *CdrChain) *CdrSnapshot {
	chain.mu.Lock()
	defer chain.mu.Unlock()
	if cur := chain.current(); cur != nil {
		return cur.PartyA
	}
	return nil
}

// forEachOtherChain invokes fn for every chain except the one keyed by
// exclude, taking a point-in-time snapshot of channel names first so fn
// never runs while channelIndex.mu is held.
func (eng *Engine) forEachOtherChain(exclude string, fn func(*CdrChain)) {
	for _, name := range eng.channels.snapshotNames() {
		if name == exclude {
			continue
		}
		if chain, ok := eng.channels.lookup(name); ok {
			fn(chain)
		}
	}
}

// externalizeChain converts every record of a (now fully finalized)
// chain into dispatch-ready ExternalRecords, applying the post filter:
// FlagDisable always suppresses a record, and a disposition below
// ANSWERED is suppressed unless the "unanswered" config key is set.
// Caller must hold chain's lock.
func (eng *Engine) externalizeChain(chain *CdrChain, now time.Time) []*ExternalRecord {
	cfg := eng.configSnapshot()
	out := make([]*ExternalRecord, 0, len(chain.all()))
	for _, r := range chain.all() {
		if r.Flags&FlagDisable != 0 {
			continue
		}
		if r.Disposition < DispositionAnswered && !cfg.Unanswered {
			continue
		}
		out = append(out, r.externalize(now, cfg))
	}
	return out
}
