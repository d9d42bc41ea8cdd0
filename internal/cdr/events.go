package cdr

import "time"

// EventKind names the upstream occurrences the router dispatches to state
// handlers.
type EventKind int

const (
	EventChannelNew EventKind = iota
	EventChannelStateChange
	EventChannelVarSet
	EventDialBegin
	EventDialEnd
	EventBridgeEnter
	EventBridgeLeave
	EventHangup
	EventApplicationExec
)

func (k EventKind) String() string {
	switch k {
	case EventChannelNew:
		return "channel_new"
	case EventChannelStateChange:
		return "channel_state_change"
	case EventChannelVarSet:
		return "channel_var_set"
	case EventDialBegin:
		return "dial_begin"
	case EventDialEnd:
		return "dial_end"
	case EventBridgeEnter:
		return "bridge_enter"
	case EventBridgeLeave:
		return "bridge_leave"
	case EventHangup:
		return "hangup"
	case EventApplicationExec:
		return "application_exec"
	default:
		return "unknown"
	}
}

// Event is one occurrence submitted to the engine by the upstream channel
// and bridge producer. Only the fields relevant to Kind are populated;
// the rest are zero.
type Event struct {
	Kind EventKind
	Time time.Time

	// Old is the channel's previously published snapshot. Nil means "no
	// previous snapshot known" — true for a channel's first message and
	// for event kinds that don't carry a dialplan-location diff.
	Old *ChannelSnapshot

	// Channel is always populated: the channel this event concerns.
	Channel *ChannelSnapshot

	// Peer is populated for DialBegin/DialEnd: the dialed channel.
	Peer *ChannelSnapshot

	// Bridge is populated for BridgeEnter/BridgeLeave.
	Bridge *BridgeSnapshot

	// DialStatus is populated for DialEnd.
	DialStatus DialStatus

	// VarName/VarValue are populated for ChannelVarSet.
	VarName  string
	VarValue string
}

// NewChannelEvent builds an EventChannelNew.
func NewChannelEvent(ch *ChannelSnapshot, at time.Time) Event {
	return Event{Kind: EventChannelNew, Time: at, Channel: ch}
}

// NewStateChangeEvent builds an EventChannelStateChange. old is the
// channel's previously published snapshot (nil if none is known), used
// by the router to tell a dialplan step forward from a repeat update.
func NewStateChangeEvent(old, ch *ChannelSnapshot, at time.Time) Event {
	return Event{Kind: EventChannelStateChange, Time: at, Old: old, Channel: ch}
}

// NewVarSetEvent builds an EventChannelVarSet.
func NewVarSetEvent(ch *ChannelSnapshot, name, value string, at time.Time) Event {
	return Event{Kind: EventChannelVarSet, Time: at, Channel: ch, VarName: name, VarValue: value}
}

// NewDialBeginEvent builds an EventDialBegin linking caller to peer.
func NewDialBeginEvent(caller, peer *ChannelSnapshot, at time.Time) Event {
	return Event{Kind: EventDialBegin, Time: at, Channel: caller, Peer: peer}
}

// NewDialEndEvent builds an EventDialEnd.
func NewDialEndEvent(caller, peer *ChannelSnapshot, status DialStatus, at time.Time) Event {
	return Event{Kind: EventDialEnd, Time: at, Channel: caller, Peer: peer, DialStatus: status}
}

// NewBridgeEnterEvent builds an EventBridgeEnter.
func NewBridgeEnterEvent(ch *ChannelSnapshot, bridge *BridgeSnapshot, at time.Time) Event {
	return Event{Kind: EventBridgeEnter, Time: at, Channel: ch, Bridge: bridge}
}

// NewBridgeLeaveEvent builds an EventBridgeLeave.
func NewBridgeLeaveEvent(ch *ChannelSnapshot, bridge *BridgeSnapshot, at time.Time) Event {
	return Event{Kind: EventBridgeLeave, Time: at, Channel: ch, Bridge: bridge}
}

// NewHangupEvent builds an EventHangup.
func NewHangupEvent(ch *ChannelSnapshot, at time.Time) Event {
	return Event{Kind: EventHangup, Time: at, Channel: ch}
}

// NewApplicationExecEvent builds an EventApplicationExec, fired when the
// dialplan begins executing a new application on ch (ch.Application and
// ch.Data already carry the new values). old is the channel's previously
// published snapshot, nil if none is known.
func NewApplicationExecEvent(old, ch *ChannelSnapshot, at time.Time) Event {
	return Event{Kind: EventApplicationExec, Time: at, Old: old, Channel: ch}
}
