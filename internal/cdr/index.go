package cdr

import "sync"

// channelIndex maps channel name to its CdrChain. Callers take
// channelIndex.mu only to look up or create a chain and release it
// before taking the chain's own lock; the index lock is never held
// across a chain mutation.
type channelIndex struct {
	mu     sync.RWMutex
	chains map[string]*CdrChain
}

func newChannelIndex() *channelIndex {
	return &channelIndex{chains: make(map[string]*CdrChain)}
}

// lookup returns the chain for name, if any.
func (idx *channelIndex) lookup(name string) (*CdrChain, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	c, ok := idx.chains[name]
	return c, ok
}

// getOrCreate returns the existing chain for name, creating one if absent.
func (idx *channelIndex) getOrCreate(name string) *CdrChain {
	idx.mu.RLock()
	c, ok := idx.chains[name]
	idx.mu.RUnlock()
	if ok {
		return c
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if c, ok = idx.chains[name]; ok {
		return c
	}
	c = newChain(name)
	idx.chains[name] = c
	return c
}

// remove drops name from the index entirely, used once a channel's chain
// is fully dispatched and will never be referenced again.
func (idx *channelIndex) remove(name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.chains, name)
}

// snapshotNames returns every channel name currently indexed, used by
// "cdr show status", the metrics collector and the router's scans over
// other chains.
func (idx *channelIndex) snapshotNames() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	names := make([]string, 0, len(idx.chains))
	for n := range idx.chains {
		names = append(names, n)
	}
	return names
}

// bridgeIndex tracks which channels currently occupy which bridge, so
// bridge pairing can enumerate candidates without walking every chain
// in the engine.
type bridgeIndex struct {
	mu        sync.Mutex
	occupants map[string]map[string]struct{} // bridge id -> channel names
}

func newBridgeIndex() *bridgeIndex {
	return &bridgeIndex{occupants: make(map[string]map[string]struct{})}
}

// enter records channel as having entered bridgeID.
func (b *bridgeIndex) enter(bridgeID, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.occupants[bridgeID]
	if !ok {
		m = make(map[string]struct{})
		b.occupants[bridgeID] = m
	}
	m[channel] = struct{}{}
}

// leave removes channel from bridgeID's occupant set.
func (b *bridgeIndex) leave(bridgeID, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.occupants[bridgeID]
	if !ok {
		return
	}
	delete(m, channel)
	if len(m) == 0 {
		delete(b.occupants, bridgeID)
	}
}

// candidates returns the names of every other channel currently seated in
// bridgeID, excluding exclude.
func (b *bridgeIndex) candidates(bridgeID, exclude string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.occupants[bridgeID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(m))
	for ch := range m {
		if ch != exclude {
			out = append(out, ch)
		}
	}
	return out
}

// count reports how many bridges currently have at least one occupant,
// used by "cdr show status" and the metrics collector.
func (b *bridgeIndex) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.occupants)
}
