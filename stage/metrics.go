// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stage

import (
	"errors"
	"time"

	"github.com/luxfi/metric"
)

type metrics struct {
	numRounds  metric.Counter
	numBatches metric.Counter
	numEntries metric.Counter
	numTxs     metric.Counter

	commitErrors metric.Counter
	voteErrors   metric.Counter

	mergeTime   metric.Counter
	writeTime   metric.Counter
	forwardTime metric.Counter

	roundDuration   metric.Gauge
	batchesPerRound metric.Gauge
}

func newMetrics(registerer metric.Registerer) (*metrics, error) {
	m := &metrics{
		numRounds: metric.NewCounter(metric.CounterOpts{
			Name: "stage_commit_rounds",
			Help: "Number of completed commit rounds",
		}),
		numBatches: metric.NewCounter(metric.CounterOpts{
			Name: "stage_batches_committed",
			Help: "Number of entry batches committed",
		}),
		numEntries: metric.NewCounter(metric.CounterOpts{
			Name: "stage_entries_committed",
			Help: "Number of entries committed",
		}),
		numTxs: metric.NewCounter(metric.CounterOpts{
			Name: "stage_txs_committed",
			Help: "Number of transactions committed",
		}),
		commitErrors: metric.NewCounter(metric.CounterOpts{
			Name: "stage_commit_errors",
			Help: "Number of commit rounds that failed",
		}),
		voteErrors: metric.NewCounter(metric.CounterOpts{
			Name: "stage_leader_vote_errors",
			Help: "Number of leader vote attempts that failed",
		}),
		mergeTime: metric.NewCounter(metric.CounterOpts{
			Name: "stage_directory_merge_time",
			Help: "Time (in s) spent merging votes into the directory",
		}),
		writeTime: metric.NewCounter(metric.CounterOpts{
			Name: "stage_ledger_write_time",
			Help: "Time (in s) spent writing entries to the ledger",
		}),
		forwardTime: metric.NewCounter(metric.CounterOpts{
			Name: "stage_forward_time",
			Help: "Time (in s) spent forwarding batches downstream",
		}),
		roundDuration: metric.NewGauge(metric.GaugeOpts{
			Name: "stage_round_duration",
			Help: "Duration (in s) of the last commit round",
		}),
		batchesPerRound: metric.NewGauge(metric.GaugeOpts{
			Name: "stage_batches_per_round",
			Help: "Number of batches coalesced into the last commit round",
		}),
	}

	err := errors.Join(
		registerer.Register(metric.AsCollector(m.numRounds)),
		registerer.Register(metric.AsCollector(m.numBatches)),
		registerer.Register(metric.AsCollector(m.numEntries)),
		registerer.Register(metric.AsCollector(m.numTxs)),
		registerer.Register(metric.AsCollector(m.commitErrors)),
		registerer.Register(metric.AsCollector(m.voteErrors)),
		registerer.Register(metric.AsCollector(m.mergeTime)),
		registerer.Register(metric.AsCollector(m.writeTime)),
		registerer.Register(metric.AsCollector(m.forwardTime)),
		registerer.Register(metric.AsCollector(m.roundDuration)),
		registerer.Register(metric.AsCollector(m.batchesPerRound)),
	)
	return m, err
}

func (m *metrics) observeRound(
	numBatches int,
	numEntries int,
	numTxs int,
	mergeTime time.Duration,
	writeTime time.Duration,
	forwardTime time.Duration,
	duration time.Duration,
) {
	m.numRounds.Inc()
	m.numBatches.Add(float64(numBatches))
	m.numEntries.Add(float64(numEntries))
	m.numTxs.Add(float64(numTxs))
	m.mergeTime.Add(mergeTime.Seconds())
	m.writeTime.Add(writeTime.Seconds())
	m.forwardTime.Add(forwardTime.Seconds())
	m.roundDuration.Set(duration.Seconds())
	m.batchesPerRound.Set(float64(numBatches))
}
