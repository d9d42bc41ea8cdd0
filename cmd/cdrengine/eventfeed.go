package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/flowpbx/cdrengine/internal/cdr"
)

// feedEventLine is the newline-delimited JSON shape read from the event
// feed file, standing in for a live upstream channel/bridge producer.
// One JSON object per line.
type feedEventLine struct {
	Kind       string `json:"kind"`
	OffsetMS   int64  `json:"offset_ms"`
	Channel    *feedChannel `json:"channel,omitempty"`
	Peer       *feedChannel `json:"peer,omitempty"`
	BridgeID   string `json:"bridge_id,omitempty"`
	BridgeTech string `json:"bridge_tech,omitempty"`
	DialStatus string `json:"dial_status,omitempty"`
	VarName    string `json:"var_name,omitempty"`
	VarValue   string `json:"var_value,omitempty"`
}

type feedChannel struct {
	Name         string `json:"name"`
	UniqueID     string `json:"unique_id"`
	LinkedID     string `json:"linked_id"`
	CallerIDName string `json:"caller_id_name"`
	CallerIDNum  string `json:"caller_id_num"`
	Exten        string `json:"exten"`
	Context      string `json:"context"`
	Application  string `json:"application"`
	Data         string `json:"data"`
	AccountCode  string `json:"account_code"`
	HangupCause  int    `json:"hangup_cause"`
	Outgoing     bool   `json:"outgoing"`
	Originated   bool   `json:"originated"`
	Zombie       bool   `json:"zombie"`
	Up           bool   `json:"up"`
}

func (c *feedChannel) toSnapshot(at time.Time) *cdr.ChannelSnapshot {
	if c == nil {
		return nil
	}
	var flags cdr.ChannelFlag
	if c.Outgoing {
		flags |= cdr.ChanOutgoing
	}
	if c.Originated {
		flags |= cdr.ChanOriginated
	}
	if c.Zombie {
		flags |= cdr.ChanZombie
	}
	state := cdr.ChannelStateDown
	if c.Up {
		state = cdr.ChannelStateUp
	}
	return &cdr.ChannelSnapshot{
		Name:         c.Name,
		UniqueID:     c.UniqueID,
		LinkedID:     c.LinkedID,
		CallerIDName: c.CallerIDName,
		CallerIDNum:  c.CallerIDNum,
		Exten:        c.Exten,
		Context:      c.Context,
		Application:  c.Application,
		Data:         c.Data,
		AccountCode:  c.AccountCode,
		HangupCause:  c.HangupCause,
		CreatedAt:    at,
		Flags:        flags,
		State:        state,
	}
}

// feedEvents reads path line by line and submits each as a cdr.Event.
// offset_ms is added to the time the feed starts being read to give each
// event (and its snapshots) a timestamp; events are submitted as soon as
// they are read, not replayed with real delays.
func feedEvents(engine *cdr.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening event feed %q: %w", path, err)
	}
	defer f.Close()

	base := time.Now()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	// lastSnapshot tracks the most recently seen snapshot per channel
	// name, so channel_state_change/application_exec lines can carry an
	// "old" snapshot — the feed format only ever gives "new" per line,
	// so the previous line for that channel supplies the old half.
	lastSnapshot := make(map[string]*cdr.ChannelSnapshot)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var fe feedEventLine
		if err := json.Unmarshal(line, &fe); err != nil {
			return fmt.Errorf("parsing event feed line: %w", err)
		}

		at := base.Add(time.Duration(fe.OffsetMS) * time.Millisecond)
		ch := fe.Channel.toSnapshot(at)
		peer := fe.Peer.toSnapshot(at)

		var old *cdr.ChannelSnapshot
		if ch != nil {
			old = lastSnapshot[ch.Name]
		}

		var ev cdr.Event
		switch fe.Kind {
		case "channel_new":
			ev = cdr.NewChannelEvent(ch, at)
		case "channel_state_change":
			ev = cdr.NewStateChangeEvent(old, ch, at)
		case "application_exec":
			ev = cdr.NewApplicationExecEvent(old, ch, at)
		case "var_set":
			ev = cdr.NewVarSetEvent(ch, fe.VarName, fe.VarValue, at)
		case "dial_begin":
			ev = cdr.NewDialBeginEvent(ch, peer, at)
		case "dial_end":
			ev = cdr.NewDialEndEvent(ch, peer, cdr.DialStatus(fe.DialStatus), at)
		case "bridge_enter":
			ev = cdr.NewBridgeEnterEvent(ch, &cdr.BridgeSnapshot{ID: fe.BridgeID, Technology: fe.BridgeTech}, at)
		case "bridge_leave":
			ev = cdr.NewBridgeLeaveEvent(ch, &cdr.BridgeSnapshot{ID: fe.BridgeID, Technology: fe.BridgeTech}, at)
		case "hangup":
			ev = cdr.NewHangupEvent(ch, at)
		default:
			return fmt.Errorf("event feed: unknown kind %q", fe.Kind)
		}
		if ch != nil {
			lastSnapshot[ch.Name] = ch
		}
		engine.SubmitEvent(ev)
	}
	return scanner.Err()
}
