// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vote builds the local node's leader votes and transmits
// outgoing vote packets.
package vote

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"

	"github.com/luxfi/pipeline/directory"
	"github.com/luxfi/pipeline/entry"
	"github.com/luxfi/pipeline/utils/timer/mockable"
)

// VoteInterval is the minimum time between two leader votes.
const VoteInterval = time.Second

var errPacketChannelFull = errors.New("vote packet channel full")

// ThrottleState carries the timing state of the leader vote throttle.
// It is owned by the commit goroutine, passed in by pointer each loop
// iteration, and never shared.
type ThrottleState struct {
	// LastVoteTime advances only when a vote is actually sent.
	LastVoteTime time.Time
	// LastValidValidatorTimestamp is the newest validator vote
	// timestamp (unix ms) already acted on.
	LastValidValidatorTimestamp uint64
}

// StakeReader is a read-only snapshot of account and stake state.
type StakeReader interface {
	// Weight returns the stake held by nodeID, 0 if unknown.
	Weight(nodeID ids.NodeID) uint64
	// TotalWeight returns the total stake of the validator set.
	TotalWeight() uint64
	// LastEntry returns the latest entry this node has registered and
	// its height; a leader vote endorses it.
	LastEntry() (ids.ID, uint64)
}

// Signer signs the local node's votes. *localsigner.LocalSigner
// satisfies this.
type Signer interface {
	Sign(msg []byte) (*bls.Signature, error)
	PublicKey() *bls.PublicKey
}

// SendLeaderVote emits at most one leader vote. A vote is sent only
// when VoteInterval has elapsed since the last one and nodes holding a
// stake majority have voted since the last validator timestamp acted
// on. Both throttle timestamps advance together when a vote goes out.
//
// A nil return means either a vote was enqueued or there was nothing
// to do; errors are transient and must not abort the caller's loop.
func SendLeaderVote(
	nodeID ids.NodeID,
	signer Signer,
	stake StakeReader,
	dir *directory.Directory,
	packets chan<- Packet,
	recipients []net.Addr,
	state *ThrottleState,
	clock *mockable.Clock,
) error {
	now := clock.Time()
	if now.Sub(state.LastVoteTime) < VoteInterval {
		return nil
	}

	latest, voters := dir.LatestAgreement(state.LastValidValidatorTimestamp)
	if voters.Len() == 0 {
		return nil
	}
	var agreeing uint64
	for voter := range voters {
		agreeing += stake.Weight(voter)
	}
	if agreeing*2 <= stake.TotalWeight() {
		// Not enough of the validator set has caught up yet.
		return nil
	}

	entryID, height := stake.LastEntry()
	v := &entry.Vote{
		NodeID:    nodeID,
		EntryID:   entryID,
		Height:    height,
		Timestamp: uint64(now.UnixMilli()),
	}
	unsigned, err := v.SignedBytes()
	if err != nil {
		return fmt.Errorf("serializing vote: %w", err)
	}
	sig, err := signer.Sign(unsigned)
	if err != nil {
		return fmt.Errorf("signing vote: %w", err)
	}
	copy(v.Signature[:], bls.SignatureToBytes(sig))

	b, err := v.Bytes()
	if err != nil {
		return fmt.Errorf("serializing signed vote: %w", err)
	}
	for _, to := range recipients {
		select {
		case packets <- Packet{Bytes: b, To: to}:
		default:
			return errPacketChannelFull
		}
	}

	state.LastVoteTime = now
	state.LastValidValidatorTimestamp = latest
	return nil
}
