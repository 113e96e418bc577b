// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package directory tracks the latest vote observed from each node in
// the cluster. The directory is shared between the commit stage and
// the gossip components, so all access goes through its lock.
package directory

import (
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/pipeline/entry"
)

// Record is the latest vote state held for a node.
type Record struct {
	EntryID   ids.ID
	Height    uint64
	Timestamp uint64 // unix milliseconds
}

// Directory maps node identity to its most recent vote. Writes are
// exclusive; reads may proceed concurrently with each other.
type Directory struct {
	log    log.Logger
	nodeID ids.NodeID

	mu      sync.RWMutex
	records map[ids.NodeID]Record
}

// New returns a directory for a node with the given identity.
func New(nodeID ids.NodeID, log log.Logger) *Directory {
	return &Directory{
		log:     log,
		nodeID:  nodeID,
		records: make(map[ids.NodeID]Record),
	}
}

// NodeID returns the local node's own identity.
func (d *Directory) NodeID() ids.NodeID {
	return d.nodeID
}

// InsertVotes merges votes into the directory under the write lock. A
// vote replaces a node's record only if it is newer; re-inserting a
// vote already recorded is a no-op.
func (d *Directory) InsertVotes(votes []entry.Vote) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range votes {
		v := &votes[i]
		rec, ok := d.records[v.NodeID]
		if ok && !newer(v, rec) {
			continue
		}
		d.records[v.NodeID] = Record{
			EntryID:   v.EntryID,
			Height:    v.Height,
			Timestamp: v.Timestamp,
		}
		d.log.Debug("recorded vote",
			"nodeID", v.NodeID,
			"height", v.Height,
			"timestamp", v.Timestamp,
		)
	}
}

// Record returns the latest vote state held for nodeID.
func (d *Directory) Record(nodeID ids.NodeID) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[nodeID]
	return rec, ok
}

// Len returns the number of nodes with a recorded vote.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.records)
}

// LatestAgreement returns the newest vote timestamp strictly after
// `after`, together with the set of nodes whose latest vote is after
// it. The local node's own votes are excluded: agreement is about the
// rest of the validator set.
func (d *Directory) LatestAgreement(after uint64) (uint64, set.Set[ids.NodeID]) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	latest := after
	voters := set.NewSet[ids.NodeID](0)
	for nodeID, rec := range d.records {
		if nodeID == d.nodeID || rec.Timestamp <= after {
			continue
		}
		voters.Add(nodeID)
		if rec.Timestamp > latest {
			latest = rec.Timestamp
		}
	}
	return latest, voters
}

func newer(v *entry.Vote, rec Record) bool {
	if v.Timestamp != rec.Timestamp {
		return v.Timestamp > rec.Timestamp
	}
	return v.Height > rec.Height
}
