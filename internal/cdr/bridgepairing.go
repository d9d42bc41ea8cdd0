package cdr

import "time"

// scanBridgeCandidates is the party adoption scan shared by the Single
// and Dial bridge-enter handlers: walk the other occupants of bridgeID
// and try to adopt one of their parties as our Party-B. If
// restrictToName is non-empty (Dial's case), only a party whose channel
// name equals restrictToName is adopted: a candidate's Party-A in the
// first pass, its Party-B in the second.
//
// Lock discipline: chain's lock is held by the caller. A chain lock may
// never be held while acquiring another chain's lock, so this releases
// chain's lock before touching a candidate and reacquires it before
// returning.
func scanBridgeCandidates(eng *Engine, chain *CdrChain, rec *CdrRecord, bridgeID, restrictToName string, now time.Time) bool {
	names := eng.bridges.candidates(bridgeID, chain.Channel)
	adopted := false

	for _, name := range names {
		cchain, ok := eng.channels.lookup(name)
		if !ok {
			continue
		}

		chain.mu.Unlock()
		func() {
			cchain.mu.Lock()
			defer cchain.mu.Unlock()

			crec := cchain.current()
			if crec == nil || crec.finalized() {
				return
			}

			if restrictToName != "" && crec.PartyA.Channel.Name != restrictToName {
				return
			}

			candidateSnap := crec.PartyA
			if candidateSnap.Channel.Name == rec.PartyA.Channel.Name {
				return
			}
			if pickPartyA(rec.PartyA, candidateSnap) != rec.PartyA {
				return
			}

			rec.PartyB = candidateSnap
			if candidateSnap.Channel.up() && rec.Answer.IsZero() {
				rec.Answer = now
			}

			if crec.PartyB == nil {
				finalizeRecord(crec, now, eng.configSnapshot())
			}
			adopted = true
		}()
		chain.mu.Lock()

		if adopted {
			break
		}
	}

	if !adopted {
		for _, name := range names {
			cchain, ok := eng.channels.lookup(name)
			if !ok {
				continue
			}
			chain.mu.Unlock()
			func() {
				cchain.mu.Lock()
				defer cchain.mu.Unlock()
				crec := cchain.current()
				if crec == nil || crec.finalized() || crec.PartyB == nil {
					return
				}
				if restrictToName != "" && crec.PartyB.Channel.Name != restrictToName {
					return
				}
				candidateSnap := crec.PartyB
				if candidateSnap.Channel.Name == rec.PartyA.Channel.Name {
					return
				}
				if pickPartyA(rec.PartyA, candidateSnap) != rec.PartyA {
					return
				}
				rec.PartyB = candidateSnap
				if candidateSnap.Channel.up() && rec.Answer.IsZero() {
					rec.Answer = now
				}
				adopted = true
			}()
			chain.mu.Lock()
			if adopted {
				break
			}
		}
	}

	return adopted
}

// bridgeParty is one deduplicated occupant identity discovered while
// enumerating a bridge's current membership for pairing purposes.
type bridgeParty struct {
	name string
	snap *CdrSnapshot
}

// enumerateBridgeParties collects the bridge's distinct occupants in two
// passes: every record's Party-A across occupant chains, then every
// record's Party-B not already collected by name. The two-pass order
// gives Party-A candidates priority during matching.
func enumerateBridgeParties(eng *Engine, bridgeID string) []bridgeParty {
	names := eng.bridges.candidates(bridgeID, "")
	seen := make(map[string]bool)
	var parties []bridgeParty

	collect := func(pass int) {
		for _, name := range names {
			cchain, ok := eng.channels.lookup(name)
			if !ok {
				continue
			}
			cchain.mu.Lock()
			for _, r := range cchain.all() {
				if pass == 0 {
					if r.PartyA != nil && !seen[r.PartyA.Channel.Name] {
						seen[r.PartyA.Channel.Name] = true
						parties = append(parties, bridgeParty{name: r.PartyA.Channel.Name, snap: r.PartyA})
					}
				} else {
					if r.PartyB != nil && !seen[r.PartyB.Channel.Name] {
						seen[r.PartyB.Channel.Name] = true
						parties = append(parties, bridgeParty{name: r.PartyB.Channel.Name, snap: r.PartyB})
					}
				}
			}
			cchain.mu.Unlock()
		}
	}
	collect(0)
	collect(1)
	return parties
}

// performBridgePairing establishes a pairing between the entering chain
// and every other occupant, so each distinct pair of channels in the
// bridge ends up with exactly one record. Seeded by the chain/record
// that just handled (or last received) a bridge-enter event.
// seedChain's lock must NOT be held by the caller: this function takes
// and releases chain locks itself, one at a time, in a bounded series.
func performBridgePairing(eng *Engine, seedChain *CdrChain, bridgeID string, now time.Time) {
	parties := enumerateBridgeParties(eng, bridgeID)

	seedChain.mu.Lock()
	seedRec := seedChain.current()
	var ourPartyA *CdrSnapshot
	var ourPartyBName string
	if seedRec != nil {
		ourPartyA = seedRec.PartyA
		if seedRec.PartyB != nil {
			ourPartyBName = seedRec.PartyB.Channel.Name
		}
	}
	seedChain.mu.Unlock()
	if ourPartyA == nil {
		return
	}

	hadOwnPartner := ourPartyBName != ""

	for _, p := range parties {
		if p.name == ourPartyA.Channel.Name || p.name == ourPartyBName {
			continue
		}

		winner := pickPartyA(ourPartyA, p.snap)
		if winner == ourPartyA {
			pairAsPartyA(eng, seedChain, ourPartyA, p.snap, bridgeID, now)
			continue
		}

		// We lost the Party-A contest. If our seed record had no partner
		// of its own coming into this pairing run, it contributes only
		// its snapshot (now shared into the winner's record as Party-B)
		// and stops representing an independent leg: disable it so it
		// does not also surface as a second, partner-less ExternalRecord.
		// A seed that already had its own pairing keeps representing
		// that one regardless of how it fares against other occupants.
		if !hadOwnPartner {
			disableSeedRecord(seedChain, seedRec)
		}

		// Candidate is Party A. Determine whether p.snap represents the
		// candidate chain's own Party-A slot or its Party-B slot.
		candChain, ok := eng.channels.lookup(p.name)
		if !ok {
			continue
		}
		candChain.mu.Lock()
		candRec := candChain.current()
		isPartyASlot := candRec != nil && candRec.PartyA == p.snap
		candChain.mu.Unlock()

		if isPartyASlot {
			pairIntoCandidateAsPartyA(eng, candChain, ourPartyA, bridgeID, now)
		} else {
			pairIntoPartyBsOwnChain(eng, p.snap, ourPartyA, bridgeID, now)
		}
	}
}

// disableSeedRecord marks seedRec so externalizeChain drops it: its
// snapshot has been donated to another chain's record as Party-B, so it
// no longer describes an independent leg worth a row of its own.
func disableSeedRecord(seedChain *CdrChain, seedRec *CdrRecord) {
	seedChain.mu.Lock()
	defer seedChain.mu.Unlock()
	seedRec.Flags |= FlagDisable
}

// pairAsPartyA handles the "we won the Party-A contest" branch: append
// a new chain element to us with candidate as Party-B.
func pairAsPartyA(eng *Engine, chain *CdrChain, ourPartyA, candidate *CdrSnapshot, bridgeID string, now time.Time) {
	chain.mu.Lock()
	defer chain.mu.Unlock()

	r := newRecord(ourPartyA, eng.nextSequence())
	r.PartyB = candidate
	if ourPartyA.Channel.up() && candidate.Channel.up() {
		r.Answer = now
	}
	r.BridgeID = bridgeID
	chain.append(r)
	transitionTo(eng, chain, r, StateBridged, now)
}

// pairIntoCandidateAsPartyA handles "candidate is Party A": either append
// a new element to the candidate's chain (if it already has a distinct
// Party-B) or fill its Party-B slot directly.
func pairIntoCandidateAsPartyA(eng *Engine, candChain *CdrChain, ourPartyA *CdrSnapshot, bridgeID string, now time.Time) {
	candChain.mu.Lock()
	defer candChain.mu.Unlock()

	cur := candChain.current()
	if cur == nil {
		return
	}

	if cur.PartyB != nil && cur.PartyB.Channel.Name != ourPartyA.Channel.Name {
		r := newRecord(cur.PartyA, eng.nextSequence())
		r.PartyB = ourPartyA
		r.BridgeID = bridgeID
		if cur.PartyA.Channel.up() && ourPartyA.Channel.up() {
			r.Answer = now
		}
		candChain.append(r)
		transitionTo(eng, candChain, r, StateBridged, now)
		return
	}

	cur.PartyB = ourPartyA
	cur.End = time.Time{}
	if cur.PartyA.Channel.up() && ourPartyA.Channel.up() && cur.Answer.IsZero() {
		cur.Answer = now
	}
}

// pairIntoPartyBsOwnChain handles "candidate record represents a
// Party-B slot": find or fabricate that channel's own chain and link it
// to us.
func pairIntoPartyBsOwnChain(eng *Engine, candidateSnap, ourPartyA *CdrSnapshot, bridgeID string, now time.Time) {
	name := candidateSnap.Channel.Name
	ownChain := eng.channels.getOrCreate(name)

	ownChain.mu.Lock()
	defer ownChain.mu.Unlock()

	r := newRecord(candidateSnap, eng.nextSequence())
	r.PartyB = ourPartyA
	r.BridgeID = bridgeID
	if candidateSnap.Channel.up() && ourPartyA.Channel.up() {
		r.Answer = now
	}
	ownChain.append(r)
	transitionTo(eng, ownChain, r, StateBridged, now)
	eng.bridges.enter(bridgeID, name)
}
