package cdr

import (
	"strings"
	"time"
)

// stateHandler is the per-state event handler table. Each method returns
// whether it handled the event; false tells the router (or a same-record
// rerun helper) to try a fresh chain element instead.
//
// Each StateTag maps to a stateless singleton value in stateTable, so
// dispatching is a map lookup with no per-record handler storage.
type stateHandler interface {
	enter(eng *Engine, chain *CdrChain, rec *CdrRecord, now time.Time)
	onPartyA(eng *Engine, chain *CdrChain, rec *CdrRecord, snap *ChannelSnapshot, now time.Time) bool
	onPartyB(eng *Engine, chain *CdrChain, rec *CdrRecord, snap *ChannelSnapshot, now time.Time) bool
	onDialBegin(eng *Engine, chain *CdrChain, rec *CdrRecord, caller, peer *ChannelSnapshot, now time.Time) bool
	onDialEnd(eng *Engine, chain *CdrChain, rec *CdrRecord, peer *ChannelSnapshot, status DialStatus, now time.Time) bool
	onBridgeEnter(eng *Engine, chain *CdrChain, rec *CdrRecord, bridge *BridgeSnapshot, channel *ChannelSnapshot, now time.Time) bool
	onBridgeLeave(eng *Engine, chain *CdrChain, rec *CdrRecord, bridge *BridgeSnapshot, channel *ChannelSnapshot, now time.Time) bool
}

// base implements the state-independent default behaviors. Every
// concrete state embeds base and overrides only what it needs.
type base struct{}

func (base) enter(*Engine, *CdrChain, *CdrRecord, time.Time) {}

// onPartyA is the shared default for every state: swap the snapshot,
// conditionally cache appl/data, refresh linkedid, answer-check, and
// finalize on ZOMBIE.
func (base) onPartyA(eng *Engine, chain *CdrChain, rec *CdrRecord, snap *ChannelSnapshot, now time.Time) bool {
	if rec.PartyAName != snap.Name {
		invariantViolation(eng.logger, eng.configSnapshot().Debug, rec.State, "on_party_a: name mismatch")
		return false
	}

	swapSnapshot(rec.PartyA, snap)

	// appdial guard: cache appl/data unless the new application starts
	// with "appdial" (case-insensitive) and something is already cached.
	if snap.Application != "" {
		isAppdial := strings.HasPrefix(strings.ToLower(snap.Application), "appdial")
		if !isAppdial || rec.LastApp == "" {
			rec.LastApp = snap.Application
			rec.LastData = snap.Data
		}
	}

	rec.LinkedID = snap.LinkedID

	if snap.up() && rec.Answer.IsZero() {
		rec.Answer = now
	}

	if snap.zombie() {
		transitionTo(eng, chain, rec, StateFinalized, now)
	}
	return true
}

func (base) onPartyB(eng *Engine, chain *CdrChain, rec *CdrRecord, snap *ChannelSnapshot, now time.Time) bool {
	invariantViolation(eng.logger, eng.configSnapshot().Debug, rec.State, "on_party_b")
	return false
}

func (base) onDialBegin(eng *Engine, chain *CdrChain, rec *CdrRecord, caller, peer *ChannelSnapshot, now time.Time) bool {
	return false
}

func (base) onDialEnd(eng *Engine, chain *CdrChain, rec *CdrRecord, peer *ChannelSnapshot, status DialStatus, now time.Time) bool {
	return false
}

func (base) onBridgeEnter(eng *Engine, chain *CdrChain, rec *CdrRecord, bridge *BridgeSnapshot, channel *ChannelSnapshot, now time.Time) bool {
	return false
}

func (base) onBridgeLeave(eng *Engine, chain *CdrChain, rec *CdrRecord, bridge *BridgeSnapshot, channel *ChannelSnapshot, now time.Time) bool {
	return false
}

// stateTable maps each StateTag to its stateless handler singleton.
var stateTable = map[StateTag]stateHandler{
	StateSingle:         singleHandler{},
	StateDial:           dialHandler{},
	StateDialedPending:  dialedPendingHandler{},
	StateBridged:        bridgedHandler{},
	StateBridgedPending: bridgedPendingHandler{},
	StateFinalized:      finalizedHandler{},
}

func handlerFor(tag StateTag) stateHandler {
	h, ok := stateTable[tag]
	if !ok {
		return base{}
	}
	return h
}

// transitionTo moves rec into newState, running newState's enter hook.
// Entering StateFinalized always calls finalizeRecord as part of the
// transition, so "a Finalized record has End set" holds regardless of
// which call site triggered the transition.
func transitionTo(eng *Engine, chain *CdrChain, rec *CdrRecord, newState StateTag, now time.Time) {
	rec.State = newState
	if newState == StateFinalized {
		finalizeRecord(rec, now, eng.configSnapshot())
	}
	handlerFor(newState).enter(eng, chain, rec, now)
}

// dispatchPartyA reruns on_party_a against rec in its (possibly just
// updated) state, used by the DialedPending/BridgedPending transitions
// that change state and replay the triggering event. Must be called
// with chain's lock held.
func dispatchPartyA(eng *Engine, chain *CdrChain, rec *CdrRecord, snap *ChannelSnapshot, now time.Time) bool {
	return handlerFor(rec.State).onPartyA(eng, chain, rec, snap, now)
}

// dispatchDialBegin reruns on_dial_begin against rec in its current
// state. Must be called with chain's lock held.
func dispatchDialBegin(eng *Engine, chain *CdrChain, rec *CdrRecord, caller, peer *ChannelSnapshot, now time.Time) bool {
	return handlerFor(rec.State).onDialBegin(eng, chain, rec, caller, peer, now)
}

// dispatchBridgeEnter reruns on_bridge_enter against rec in its current
// state. Must be called with chain's lock held.
func dispatchBridgeEnter(eng *Engine, chain *CdrChain, rec *CdrRecord, bridge *BridgeSnapshot, channel *ChannelSnapshot, now time.Time) bool {
	return handlerFor(rec.State).onBridgeEnter(eng, chain, rec, bridge, channel, now)
}
