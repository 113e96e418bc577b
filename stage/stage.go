// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package stage implements the durability and fan-out boundary of the
// entry pipeline. It persists incoming entry batches to the ledger,
// merges their embedded votes into the cluster directory, forwards
// them downstream for broadcast, and periodically emits the local
// node's leader vote.
package stage

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/pipeline/directory"
	"github.com/luxfi/pipeline/entry"
	"github.com/luxfi/pipeline/ledger"
	"github.com/luxfi/pipeline/utils/timer/mockable"
	"github.com/luxfi/pipeline/vote"
)

const (
	// forwardBuffer bounds how far the commit loop may run ahead of the
	// downstream consumer before forwarding fails.
	forwardBuffer = 64

	votePacketBuffer = 64
)

var errNilConfig = errors.New("missing required stage configuration")

// Config wires the stage into the surrounding process.
type Config struct {
	Log        log.Logger
	Registerer metric.Registerer

	// LedgerPath is the ledger to recover. Ignored when DB is set,
	// which backs the ledger directly (tests use an in-memory store).
	LedgerPath string
	DB         database.Database

	Directory *directory.Directory
	Stake     vote.StakeReader
	Signer    vote.Signer

	// VoteRecipients are the cluster endpoints leader votes are sent
	// to.
	VoteRecipients []net.Addr

	// Entries is the upstream batch stream. Closing it is the only
	// shutdown signal the stage has.
	Entries <-chan entry.Batch
}

// Stage owns the commit goroutine and the vote transmitter for its
// lifetime. Construct with New, wait for termination with Join.
type Stage struct {
	log     log.Logger
	metrics *metrics

	ledger     *ledger.Writer
	dir        *directory.Directory
	stake      vote.StakeReader
	signer     vote.Signer
	recipients []net.Addr
	nodeID     ids.NodeID
	clock      mockable.Clock

	entries     <-chan entry.Batch
	out         chan entry.Batch
	votePackets chan vote.Packet
	transmitter *vote.Transmitter

	wg        sync.WaitGroup
	workerErr error
}

// New recovers the ledger, starts the vote transmitter on an ephemeral
// UDP endpoint, and starts the commit goroutine. The returned channel
// carries committed batches for broadcast; it is closed when the stage
// stops. Ledger recovery failure is fatal.
func New(cfg Config) (*Stage, <-chan entry.Batch, error) {
	if cfg.Log == nil || cfg.Directory == nil || cfg.Stake == nil ||
		cfg.Signer == nil || cfg.Entries == nil {
		return nil, nil, errNilConfig
	}

	registerer := cfg.Registerer
	if registerer == nil {
		registerer = metric.NewNoOpRegistry()
	}
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, nil, fmt.Errorf("registering stage metrics: %w", err)
	}

	var w *ledger.Writer
	if cfg.DB != nil {
		w, err = ledger.NewWithDB(cfg.DB, cfg.Log)
	} else {
		w, err = ledger.Recover(cfg.LedgerPath, cfg.Log)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("recovering ledger: %w", err)
	}

	conn, err := net.ListenPacket("udp", "0.0.0.0:0")
	if err != nil {
		return nil, nil, errors.Join(
			fmt.Errorf("binding vote socket: %w", err),
			w.Close(),
		)
	}

	s := &Stage{
		log:         cfg.Log,
		metrics:     m,
		ledger:      w,
		dir:         cfg.Directory,
		stake:       cfg.Stake,
		signer:      cfg.Signer,
		recipients:  cfg.VoteRecipients,
		nodeID:      cfg.Directory.NodeID(),
		entries:     cfg.Entries,
		out:         make(chan entry.Batch, forwardBuffer),
		votePackets: make(chan vote.Packet, votePacketBuffer),
	}
	s.transmitter = vote.NewTransmitter(conn, s.votePackets, cfg.Log)

	s.wg.Add(1)
	go s.run()

	return s, s.out, nil
}

// run is the main worker. It terminates only when the upstream entry
// channel closes; every other failure is counted and survived.
func (s *Stage) run() {
	defer s.wg.Done()
	defer func() {
		if err := s.ledger.Close(); err != nil {
			s.log.Warn("closing ledger", "error", err)
		}
	}()
	defer close(s.out)
	defer close(s.votePackets)
	defer func() {
		if r := recover(); r != nil {
			s.workerErr = fmt.Errorf("commit worker panicked: %v", r)
		}
	}()

	throttle := &vote.ThrottleState{}
	for {
		if err := s.drainAndCommit(); err != nil {
			switch {
			case errors.Is(err, errDisconnected):
				s.log.Info("entry stream closed, stopping commit loop")
				return
			case errors.Is(err, errTimeout):
			default:
				s.metrics.commitErrors.Inc()
				s.log.Error("commit round failed", "error", err)
			}
		}

		if err := vote.SendLeaderVote(
			s.nodeID,
			s.signer,
			s.stake,
			s.dir,
			s.votePackets,
			s.recipients,
			throttle,
			&s.clock,
		); err != nil {
			s.metrics.voteErrors.Inc()
			s.log.Warn("leader vote not sent", "error", err)
		}
	}
}

// Join blocks until both the commit goroutine and the vote transmitter
// have stopped, surfacing a worker panic as an error.
func (s *Stage) Join() error {
	s.wg.Wait()
	return errors.Join(s.workerErr, s.transmitter.Join())
}
