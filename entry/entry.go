// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package entry defines the units of consensus flowing through the
// commit stage: entries, the batches that group them, and the votes
// embedded in them.
package entry

import (
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/ids"
)

// Vote is a validator's signed endorsement of the latest entry it has
// observed. Votes ride inside entries and are merged into the cluster
// directory when the entry is committed.
type Vote struct {
	NodeID    ids.NodeID             `serialize:"true"`
	EntryID   ids.ID                 `serialize:"true"`
	Height    uint64                 `serialize:"true"`
	Timestamp uint64                 `serialize:"true"` // unix milliseconds
	Signature [bls.SignatureLen]byte `serialize:"true"`
}

// Bytes returns the serialized vote, suitable for transmission.
func (v *Vote) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, v)
}

// SignedBytes returns the portion of the vote covered by its
// signature: everything except the signature itself.
func (v *Vote) SignedBytes() ([]byte, error) {
	unsigned := *v
	unsigned.Signature = [bls.SignatureLen]byte{}
	return Codec.Marshal(CodecVersion, &unsigned)
}

// ParseVote deserializes a vote produced by Bytes.
func ParseVote(b []byte) (*Vote, error) {
	vote := &Vote{}
	if _, err := Codec.Unmarshal(b, vote); err != nil {
		return nil, err
	}
	return vote, nil
}

// Entry is an ordered consensus record produced upstream. It is
// immutable by the time it reaches this stage, which only persists
// and forwards it.
type Entry struct {
	Transactions [][]byte `serialize:"true"`
	Votes        []Vote   `serialize:"true"`
}

// ID is the hash of the entry's canonical serialization.
func (e *Entry) ID() (ids.ID, error) {
	b, err := Codec.Marshal(CodecVersion, e)
	if err != nil {
		return ids.Empty, err
	}
	return hash.ComputeHash256Array(b), nil
}

// Batch is an ordered run of entries emitted together by one upstream
// stage. Batches are the unit of durability and fan-out.
type Batch []Entry

// Votes collects every vote embedded in the batch, in entry order.
func (b Batch) Votes() []Vote {
	var votes []Vote
	for i := range b {
		votes = append(votes, b[i].Votes...)
	}
	return votes
}

// NumTxs returns the number of transactions across the batch.
func (b Batch) NumTxs() int {
	numTxs := 0
	for i := range b {
		numTxs += len(b[i].Transactions)
	}
	return numTxs
}

// Empty reports whether the batch carries no entries.
func (b Batch) Empty() bool {
	return len(b) == 0
}
