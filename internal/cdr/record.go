package cdr

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Disposition classifies the outcome of a call record. Ordinal order
// matters: everything before DispositionAnswered counts as "< ANSWERED"
// for the unanswered-call post filter.
type Disposition int

const (
	DispositionNull Disposition = iota
	DispositionNoAnswer
	DispositionBusy
	DispositionCongestion
	DispositionFailed
	DispositionAnswered
)

func (d Disposition) String() string {
	switch d {
	case DispositionNull:
		return "NULL"
	case DispositionNoAnswer:
		return "NO-ANSWER"
	case DispositionBusy:
		return "BUSY"
	case DispositionCongestion:
		return "CONGESTION"
	case DispositionFailed:
		return "FAILED"
	case DispositionAnswered:
		return "ANSWERED"
	default:
		return "UNKNOWN"
	}
}

// StateTag names the six states of the CDR lifecycle state machine.
type StateTag int

const (
	StateSingle StateTag = iota
	StateDial
	StateDialedPending
	StateBridged
	StateBridgedPending
	StateFinalized
)

func (s StateTag) String() string {
	switch s {
	case StateSingle:
		return "single"
	case StateDial:
		return "dial"
	case StateDialedPending:
		return "dialed_pending"
	case StateBridged:
		return "bridged"
	case StateBridgedPending:
		return "bridged_pending"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// RecordFlag holds record-level (not per-party) flag bits.
type RecordFlag uint32

const (
	// FlagDisable suppresses dispatch of a record even once finalized;
	// set on entering BridgedPending so an abandoned leg never posts.
	FlagDisable RecordFlag = 1 << iota
)

// DialStatus is the outcome reported by a DIAL_END event.
type DialStatus string

const (
	DialStatusNone        DialStatus = ""
	DialStatusAnswer      DialStatus = "ANSWER"
	DialStatusBusy        DialStatus = "BUSY"
	DialStatusCancel      DialStatus = "CANCEL"
	DialStatusNoAnswer    DialStatus = "NOANSWER"
	DialStatusCongestion  DialStatus = "CONGESTION"
	DialStatusFailed      DialStatus = "FAILED"
)

// mapDialStatus maps a dial-end status onto a Disposition. CONGESTION
// only survives as its own disposition when the congestion option is
// enabled; otherwise it degrades to FAILED.
func mapDialStatus(status DialStatus, congestionEnabled bool) Disposition {
	switch status {
	case DialStatusAnswer:
		return DispositionAnswered
	case DialStatusBusy:
		return DispositionBusy
	case DialStatusCancel, DialStatusNoAnswer:
		return DispositionNoAnswer
	case DialStatusCongestion:
		if congestionEnabled {
			return DispositionCongestion
		}
		return DispositionFailed
	default:
		return DispositionFailed
	}
}

// Standard Q.931-derived hangup cause codes used by the finalize()
// disposition mapping. Values follow the conventional telephony cause
// numbering used across PBX implementations.
const (
	CauseUnallocated             = 1
	CauseNoRouteDestination      = 3
	CauseNormalClearing          = 16
	CauseUserBusy                = 17
	CauseNoUserResponding        = 18 // no answer
	CauseCallRejected            = 21
	CauseDestinationOutOfOrder   = 27 // treated as "unregistered"
	CauseNormalCircuitCongestion = 34
	CauseSwitchCongestion        = 42
)

// mapHangupCause maps a hangup cause code onto a Disposition, used when
// a record reaches finalization without an answer or a dial outcome.
func mapHangupCause(cause int, congestionEnabled bool) Disposition {
	switch cause {
	case CauseUserBusy:
		return DispositionBusy
	case CauseNormalCircuitCongestion, CauseSwitchCongestion:
		if congestionEnabled {
			return DispositionCongestion
		}
		return DispositionFailed
	case CauseNoRouteDestination, CauseDestinationOutOfOrder:
		return DispositionFailed
	case CauseNormalClearing, CauseNoUserResponding:
		return DispositionNoAnswer
	default:
		return DispositionFailed
	}
}

// CdrRecord is one node of a CdrChain's lifecycle: a billing leg in one
// of the six states, holding Party A (always) and Party B (once known).
//
// A CdrRecord is mutated only while its owning CdrChain's lock is held.
type CdrRecord struct {
	PartyA *CdrSnapshot
	PartyB *CdrSnapshot

	State       StateTag
	Disposition Disposition

	Start  time.Time
	Answer time.Time
	End    time.Time

	Sequence int64
	Flags    RecordFlag

	// Cached strings, refreshed as Party-A snapshots are swapped in.
	LinkedID   string
	PartyAName string
	BridgeID   string
	LastApp    string
	LastData   string
}

// newRecord creates a fresh CdrRecord for partyA, not yet entered into any
// state (the caller is expected to call transitionTo immediately after).
func newRecord(partyA *CdrSnapshot, seq int64) *CdrRecord {
	return &CdrRecord{
		PartyA:     partyA,
		Sequence:   seq,
		LinkedID:   partyA.Channel.LinkedID,
		PartyAName: partyA.Channel.Name,
	}
}

// finalized reports whether End has already been set.
func (r *CdrRecord) finalized() bool { return !r.End.IsZero() }

// finalizeRecord freezes end time and disposition. Calling it twice is
// a no-op the second time.
func finalizeRecord(r *CdrRecord, now time.Time, cfg *Config) {
	if r.finalized() {
		return
	}
	r.End = now

	if r.Disposition == DispositionNull {
		switch {
		case !r.Answer.IsZero():
			r.Disposition = DispositionAnswered
		case r.PartyA.Channel.HangupCause != 0:
			r.Disposition = mapHangupCause(r.PartyA.Channel.HangupCause, cfg.Congestion)
		case r.PartyB != nil && r.PartyB.Channel.HangupCause != 0:
			r.Disposition = mapHangupCause(r.PartyB.Channel.HangupCause, cfg.Congestion)
		default:
			r.Disposition = DispositionFailed
		}
	}
}

// durationSeconds returns (end or now) - start, floored to seconds.
func (r *CdrRecord) durationSeconds(now time.Time) int64 {
	if r.Start.IsZero() {
		return 0
	}
	end := r.End
	if end.IsZero() {
		end = now
	}
	d := end.Sub(r.Start)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}

// billSec returns the elapsed seconds from answer to end, 0 if never
// answered, rounded up when initiatedSeconds is set and the millisecond
// remainder is >= 500.
func (r *CdrRecord) billSec(now time.Time, initiatedSeconds bool) int64 {
	if r.Answer.IsZero() {
		return 0
	}
	end := r.End
	if end.IsZero() {
		end = now
	}
	ms := end.Sub(r.Answer).Milliseconds()
	if ms < 0 {
		return 0
	}
	secs := ms / 1000
	rem := ms % 1000
	if initiatedSeconds && rem >= 500 {
		secs++
	}
	return secs
}

// ExternalRecord is the externalized, dispatch-ready form of a CdrRecord.
// It deep-copies every scalar field at construction so no ChannelSnapshot
// or CdrSnapshot reference survives into the batch queue.
type ExternalRecord struct {
	AccountCode string
	AMAFlags    int
	CallerID    string
	Src         string
	Dst         string
	DstContext  string
	Channel     string
	DstChannel  string
	LastApp     string
	LastData    string

	Start  time.Time
	Answer time.Time
	End    time.Time

	Duration    int64
	BillSec     int64
	Disposition Disposition

	UniqueID  string
	LinkedID  string
	UserField string
	Sequence  int64

	Vars map[string]string
}

// externalize builds the dispatch-ready ExternalRecord for r. now is used
// to compute duration/billsec for records finalized exactly at this
// instant (finalizeRecord should already have been called).
func (r *CdrRecord) externalize(now time.Time, cfg *Config) *ExternalRecord {
	uniqueID := r.PartyA.Channel.UniqueID
	if uniqueID == "" {
		// Upstream occasionally publishes a channel snapshot with no
		// unique id (e.g. synthetic/local channels). A billing record
		// still needs a stable id, so mint one rather than writing a
		// record other systems can't key on.
		uniqueID = uuid.NewString()
	}
	linkedID := r.LinkedID
	if linkedID == "" {
		linkedID = uniqueID
	}
	ext := &ExternalRecord{
		AccountCode: r.PartyA.Channel.AccountCode,
		AMAFlags:    r.PartyA.Channel.AMAFlags,
		CallerID:    r.PartyA.Channel.CallerIDName,
		Src:         r.PartyA.Channel.CallerIDNum,
		DstContext:  r.PartyA.Channel.Context,
		Channel:     r.PartyAName,
		LastApp:     r.LastApp,
		LastData:    r.LastData,
		Start:       r.Start,
		Answer:      r.Answer,
		End:         r.End,
		Duration:    r.durationSeconds(now),
		BillSec:     r.billSec(now, cfg.InitiatedSeconds),
		Disposition: r.Disposition,
		UniqueID:    uniqueID,
		LinkedID:    linkedID,
		UserField:   r.PartyA.UserField,
		Sequence:    r.Sequence,
		Vars:        make(map[string]string, len(r.PartyA.orderedVars())),
	}
	if r.PartyB != nil {
		ext.Dst = r.PartyB.Channel.Exten
		if ext.Dst == "" {
			ext.Dst = r.PartyB.Channel.CallerIDNum
		}
		ext.DstChannel = r.PartyB.Channel.Name
	} else {
		ext.Dst = r.PartyA.Channel.Exten
	}
	for _, name := range r.PartyA.orderedVars() {
		v, _ := r.PartyA.getVar(name)
		ext.Vars[name] = v
	}
	return ext
}

// externalRecordJSON is the JSON wire shape for ExternalRecord, used by
// JSON-based backends (the queue backend). Times are RFC3339; zero times
// are omitted rather than emitted as "0001-01-01...".
type externalRecordJSON struct {
	AccountCode string            `json:"account_code"`
	AMAFlags    int               `json:"ama_flags"`
	CallerID    string            `json:"caller_id"`
	Src         string            `json:"src"`
	Dst         string            `json:"dst"`
	DstContext  string            `json:"dst_context"`
	Channel     string            `json:"channel"`
	DstChannel  string            `json:"dst_channel,omitempty"`
	LastApp     string            `json:"last_app"`
	LastData    string            `json:"last_data"`
	Start       string            `json:"start"`
	Answer      string            `json:"answer,omitempty"`
	End         string            `json:"end"`
	Duration    int64             `json:"duration"`
	BillSec     int64             `json:"billsec"`
	Disposition string            `json:"disposition"`
	UniqueID    string            `json:"uniqueid"`
	LinkedID    string            `json:"linkedid"`
	UserField   string            `json:"userfield,omitempty"`
	Sequence    int64             `json:"sequence"`
	Vars        map[string]string `json:"vars,omitempty"`
}

// MarshalJSON implements json.Marshaler for ExternalRecord.
func (r *ExternalRecord) MarshalJSON() ([]byte, error) {
	j := externalRecordJSON{
		AccountCode: r.AccountCode,
		AMAFlags:    r.AMAFlags,
		CallerID:    r.CallerID,
		Src:         r.Src,
		Dst:         r.Dst,
		DstContext:  r.DstContext,
		Channel:     r.Channel,
		DstChannel:  r.DstChannel,
		LastApp:     r.LastApp,
		LastData:    r.LastData,
		Start:       r.Start.Format(time.RFC3339),
		End:         r.End.Format(time.RFC3339),
		Duration:    r.Duration,
		BillSec:     r.BillSec,
		Disposition: r.Disposition.String(),
		UniqueID:    r.UniqueID,
		LinkedID:    r.LinkedID,
		UserField:   r.UserField,
		Sequence:    r.Sequence,
		Vars:        r.Vars,
	}
	if !r.Answer.IsZero() {
		j.Answer = r.Answer.Format(time.RFC3339)
	}
	return json.Marshal(j)
}
