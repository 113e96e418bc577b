// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stage

import (
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/pipeline/entry"
)

// recvTimeout bounds how long a commit round waits for its first
// batch.
const recvTimeout = time.Second

var (
	errDisconnected = errors.New("entry stream disconnected")
	errTimeout      = errors.New("no entries within wait window")
	errNoDownstream = errors.New("downstream not consuming forwarded batches")
)

// drainAndCommit runs one commit round: block for the first batch,
// drain whatever else has already arrived, then commit and forward the
// round's batches in first-received order.
//
// On a ledger write or forwarding failure the round aborts and the
// batches still pending behind the failure are dropped, not retried.
func (s *Stage) drainAndCommit() error {
	timeout := time.NewTimer(recvTimeout)
	defer timeout.Stop()

	var pending []entry.Batch
	select {
	case batch, ok := <-s.entries:
		if !ok {
			return errDisconnected
		}
		pending = append(pending, batch)
	case <-timeout.C:
		return errTimeout
	}

drain:
	for {
		select {
		case batch, ok := <-s.entries:
			if !ok {
				// Commit what we already have; the next round
				// observes the disconnect.
				break drain
			}
			pending = append(pending, batch)
		default:
			break drain
		}
	}

	var (
		start       = time.Now()
		numEntries  = 0
		numTxs      = 0
		mergeTime   time.Duration
		writeTime   time.Duration
		forwardTime time.Duration
	)

	// Batches commit in first-received order: the ledger and the
	// downstream broadcaster must observe entries exactly as they
	// arrived.
	for _, batch := range pending {
		numEntries += len(batch)
		numTxs += batch.NumTxs()

		if votes := batch.Votes(); len(votes) > 0 {
			mergeStart := time.Now()
			s.dir.InsertVotes(votes)
			mergeTime += time.Since(mergeStart)
		}

		writeStart := time.Now()
		if err := s.ledger.WriteEntries(batch); err != nil {
			return fmt.Errorf("writing %d entries: %w", len(batch), err)
		}
		writeTime += time.Since(writeStart)

		if batch.Empty() {
			continue
		}

		forwardStart := time.Now()
		select {
		case s.out <- batch:
		default:
			return fmt.Errorf("%w: dropping %d entries", errNoDownstream, len(batch))
		}
		forwardTime += time.Since(forwardStart)
	}

	duration := time.Since(start)
	s.metrics.observeRound(
		len(pending),
		numEntries,
		numTxs,
		mergeTime,
		writeTime,
		forwardTime,
		duration,
	)
	s.log.Debug("committed round",
		"batches", len(pending),
		"entries", numEntries,
		"txs", numTxs,
		"duration", duration,
	)
	return nil
}
