package cdr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// standardPropertyOrder lists the reserved names GetVar resolves and
// SetVar refuses, in the classic billing-column order used by
// SerializeVariables.
var standardPropertyOrder = []string{
	"clid", "src", "dst", "channel", "dstchannel",
	"lastapp", "lastdata", "start", "answer", "end",
	"duration", "billsec", "disposition", "amaflags",
	"accountcode", "peeraccount", "uniqueid", "linkedid",
	"userfield", "sequence",
}

var standardProperties = func() map[string]bool {
	m := make(map[string]bool, len(standardPropertyOrder))
	for _, name := range standardPropertyOrder {
		m[name] = true
	}
	return m
}()

// ForkOption is a bit flag accepted by Fork.
type ForkOption uint32

const (
	ForkSetAnswer ForkOption = 1 << iota
	ForkReset
	ForkKeepVars
	ForkFinalize
)

// ResetOption is a bit flag accepted by Reset.
type ResetOption uint32

const (
	ResetKeepVars ResetOption = 1 << iota
)

// GetVar reads a standard property or a Party-A variable from channel's
// current record.
func (eng *Engine) GetVar(channel, name string) (string, error) {
	chain, ok := eng.channels.lookup(channel)
	if !ok {
		return "", newNotFound(channel)
	}
	chain.mu.Lock()
	defer chain.mu.Unlock()

	r := chain.current()
	if r == nil {
		return "", newNotFound(channel)
	}

	if standardProperties[strings.ToLower(name)] {
		return standardProperty(r, name, time.Now(), eng.configSnapshot().InitiatedSeconds), nil
	}
	v, _ := r.PartyA.getVar(name)
	return v, nil
}

func standardProperty(r *CdrRecord, name string, now time.Time, initiatedSeconds bool) string {
	switch strings.ToLower(name) {
	case "clid":
		return r.PartyA.Channel.CallerIDName
	case "src":
		return r.PartyA.Channel.CallerIDNum
	case "dst":
		if r.PartyB != nil {
			return r.PartyB.Channel.Exten
		}
		return r.PartyA.Channel.Exten
	case "channel":
		return r.PartyAName
	case "dstchannel":
		if r.PartyB != nil {
			return r.PartyB.Channel.Name
		}
		return ""
	case "lastapp":
		return r.LastApp
	case "lastdata":
		return r.LastData
	case "start":
		return formatTimestamp(r.Start)
	case "answer":
		return formatTimestamp(r.Answer)
	case "end":
		return formatTimestamp(r.End)
	case "duration":
		return strconv.FormatInt(r.durationSeconds(now), 10)
	case "billsec":
		return strconv.FormatInt(r.billSec(now, initiatedSeconds), 10)
	case "disposition":
		return r.Disposition.String()
	case "amaflags":
		return strconv.Itoa(r.PartyA.Channel.AMAFlags)
	case "accountcode":
		return r.PartyA.Channel.AccountCode
	case "peeraccount":
		if r.PartyB != nil {
			return r.PartyB.Channel.AccountCode
		}
		return ""
	case "uniqueid":
		return r.PartyA.Channel.UniqueID
	case "linkedid":
		return r.LinkedID
	case "userfield":
		return r.PartyA.UserField
	case "sequence":
		return strconv.FormatInt(r.Sequence, 10)
	default:
		return ""
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// SetVar sets (or, with an empty value, deletes) a variable on every
// non-finalized record of channel's chain, on whichever side (Party-A
// or Party-B) channel occupies.
func (eng *Engine) SetVar(channel, name, value string) error {
	if standardProperties[strings.ToLower(name)] {
		return ErrReadOnly
	}
	chain, ok := eng.channels.lookup(channel)
	if !ok {
		return newNotFound(channel)
	}
	chain.mu.Lock()
	defer chain.mu.Unlock()

	for _, r := range chain.all() {
		if r.finalized() {
			continue
		}
		var target *CdrSnapshot
		switch {
		case r.PartyA.Channel.Name == channel:
			target = r.PartyA
		case r.PartyB != nil && r.PartyB.Channel.Name == channel:
			target = r.PartyB
		default:
			continue
		}
		if value == "" {
			target.deleteVar(name)
		} else {
			target.setVar(name, value)
		}
	}
	return nil
}

// SetUserField copies userfield onto Party-A of every non-finalized
// record of channel's own chain and onto Party-B of every non-finalized
// record (in any other chain) where Party-B matches channel.
func (eng *Engine) SetUserField(channel, userfield string) error {
	chain, ok := eng.channels.lookup(channel)
	if !ok {
		return newNotFound(channel)
	}
	chain.mu.Lock()
	for _, r := range chain.all() {
		if !r.finalized() {
			r.PartyA.UserField = userfield
		}
	}
	chain.mu.Unlock()

	eng.forEachOtherChain(channel, func(other *CdrChain) {
		other.mu.Lock()
		defer other.mu.Unlock()
		for _, r := range other.all() {
			if !r.finalized() && r.PartyB != nil && r.PartyB.Channel.Name == channel {
				r.PartyB.UserField = userfield
			}
		}
	})
	return nil
}

// SetProperty sets flag on every non-finalized record of channel's chain.
func (eng *Engine) SetProperty(channel string, flag RecordFlag) error {
	return eng.withEachNonFinalized(channel, func(r *CdrRecord) { r.Flags |= flag })
}

// ClearProperty clears flag on every non-finalized record of channel's
// chain.
func (eng *Engine) ClearProperty(channel string, flag RecordFlag) error {
	return eng.withEachNonFinalized(channel, func(r *CdrRecord) { r.Flags &^= flag })
}

func (eng *Engine) withEachNonFinalized(channel string, fn func(*CdrRecord)) error {
	chain, ok := eng.channels.lookup(channel)
	if !ok {
		return newNotFound(channel)
	}
	chain.mu.Lock()
	defer chain.mu.Unlock()
	for _, r := range chain.all() {
		if !r.finalized() {
			fn(r)
		}
	}
	return nil
}

// Reset clears a chain's current record's variables (unless
// ResetKeepVars) and restarts its timestamps.
func (eng *Engine) Reset(channel string, opts ResetOption) error {
	chain, ok := eng.channels.lookup(channel)
	if !ok {
		return newNotFound(channel)
	}
	chain.mu.Lock()
	defer chain.mu.Unlock()

	r := chain.current()
	if r == nil {
		return newNotFound(channel)
	}
	if opts&ResetKeepVars == 0 {
		r.PartyA.vars = make(map[string]string)
		r.PartyA.varOrder = nil
	}
	now := time.Now()
	r.Start = now
	r.Answer = time.Time{}
	r.End = time.Time{}
	if r.PartyA.Channel.up() {
		r.Answer = now
	}
	return nil
}

// Fork appends a new chain element to channel's chain. Refuses if the
// current last record is already finalized.
func (eng *Engine) Fork(channel string, opts ForkOption) error {
	chain, ok := eng.channels.lookup(channel)
	if !ok {
		return newNotFound(channel)
	}
	chain.mu.Lock()
	defer chain.mu.Unlock()

	cur := chain.current()
	if cur == nil {
		return newNotFound(channel)
	}
	if cur.finalized() {
		return ErrFinalized
	}

	if opts&ForkFinalize != 0 {
		cfg := eng.configSnapshot()
		for _, r := range chain.all() {
			if !r.finalized() {
				finalizeRecord(r, time.Now(), cfg)
			}
		}
	}

	next := newRecord(cur.PartyA, eng.nextSequence())
	now := time.Now()
	if opts&ForkKeepVars != 0 {
		cur.PartyA.cloneVarsInto(next.PartyA)
	}
	if opts&ForkReset != 0 {
		next.Start = now
		next.Answer = now
	}
	if opts&ForkSetAnswer != 0 && cur.PartyA.Channel.up() {
		next.Answer = now
	}

	chain.append(next)
	transitionTo(eng, chain, next, StateSingle, now)
	return nil
}

// SerializeVariables concatenates every record's standard properties and
// variables for channel's chain, in the classic "name=value<sep>" format.
func (eng *Engine) SerializeVariables(channel, delim, sep string) (string, error) {
	chain, ok := eng.channels.lookup(channel)
	if !ok {
		return "", newNotFound(channel)
	}
	chain.mu.Lock()
	defer chain.mu.Unlock()

	var b strings.Builder
	now := time.Now()
	initiated := eng.configSnapshot().InitiatedSeconds
	for _, r := range chain.all() {
		for _, name := range standardPropertyOrder {
			fmt.Fprintf(&b, "%s%s%s%s", name, delim, standardProperty(r, name, now, initiated), sep)
		}
		for _, name := range r.PartyA.orderedVars() {
			v, _ := r.PartyA.getVar(name)
			fmt.Fprintf(&b, "%s%s%s%s", name, delim, v, sep)
		}
	}
	return b.String(), nil
}
