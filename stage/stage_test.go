// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stage

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/bls/signer/localsigner"
	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/pipeline/directory"
	"github.com/luxfi/pipeline/entry"
	"github.com/luxfi/pipeline/vote"
)

var _ vote.StakeReader = (*testStake)(nil)

type testStake struct {
	weights map[ids.NodeID]uint64
	total   uint64
	entryID ids.ID
	height  uint64
}

func (s *testStake) Weight(nodeID ids.NodeID) uint64 {
	return s.weights[nodeID]
}

func (s *testStake) TotalWeight() uint64 {
	return s.total
}

func (s *testStake) LastEntry() (ids.ID, uint64) {
	return s.entryID, s.height
}

var errDiskFailure = errors.New("simulated disk failure")

// flakyDB fails the next N batch writes, then behaves normally.
type flakyDB struct {
	database.Database
	failures atomic.Int64
}

func (db *flakyDB) NewBatch() database.Batch {
	return &flakyBatch{
		Batch: db.Database.NewBatch(),
		db:    db,
	}
}

type flakyBatch struct {
	database.Batch
	db *flakyDB
}

func (b *flakyBatch) Write() error {
	if b.db.failures.Add(-1) >= 0 {
		return errDiskFailure
	}
	return b.Batch.Write()
}

type stageFixture struct {
	nodeID ids.NodeID
	dir    *directory.Directory
	stake  *testStake
	in     chan entry.Batch
	out    <-chan entry.Batch
	stage  *Stage
}

func newStageFixture(t *testing.T, db database.Database, recipients []net.Addr) *stageFixture {
	t.Helper()
	require := require.New(t)

	signer, err := localsigner.New()
	require.NoError(err)

	nodeID := ids.GenerateTestNodeID()
	f := &stageFixture{
		nodeID: nodeID,
		dir:    directory.New(nodeID, log.NewNoOpLogger()),
		stake: &testStake{
			weights: map[ids.NodeID]uint64{nodeID: 1},
			total:   1,
			entryID: ids.GenerateTestID(),
			height:  1,
		},
		in: make(chan entry.Batch, 16),
	}

	f.stage, f.out, err = New(Config{
		Log:            log.NewNoOpLogger(),
		Registerer:     metric.NewNoOpRegistry(),
		DB:             db,
		Directory:      f.dir,
		Stake:          f.stake,
		Signer:         signer,
		VoteRecipients: recipients,
		Entries:        f.in,
	})
	require.NoError(err)
	return f
}

func (f *stageFixture) join(t *testing.T) {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- f.stage.Join()
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stage did not stop")
	}
}

func recvBatch(t *testing.T, out <-chan entry.Batch) entry.Batch {
	t.Helper()

	select {
	case batch, ok := <-out:
		require.True(t, ok)
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for forwarded batch")
		return nil
	}
}

func TestNewValidatesConfig(t *testing.T) {
	require := require.New(t)

	_, _, err := New(Config{})
	require.ErrorIs(err, errNilConfig)
}

func TestStageCommitsAndForwardsInOrder(t *testing.T) {
	require := require.New(t)

	f := newStageFixture(t, memdb.New(), nil)

	b1 := testBatch(1)
	b2 := testBatch(2)
	b3 := testBatch(3)
	f.in <- b1
	f.in <- b2
	f.in <- b3

	require.Equal(b1, recvBatch(t, f.out))
	require.Equal(b2, recvBatch(t, f.out))
	require.Equal(b3, recvBatch(t, f.out))

	close(f.in)
	f.join(t)
}

func TestStageDisconnectTerminates(t *testing.T) {
	f := newStageFixture(t, memdb.New(), nil)

	close(f.in)
	f.join(t)

	// The forwarding channel is closed once the stage stops.
	_, ok := <-f.out
	require.False(t, ok)
}

func TestStageSurvivesCommitFailure(t *testing.T) {
	require := require.New(t)

	db := &flakyDB{Database: memdb.New()}
	f := newStageFixture(t, db, nil)

	b1 := testBatch(1)
	f.in <- b1
	require.Equal(b1, recvBatch(t, f.out))

	// The next ledger write fails; that batch is dropped and only
	// logged, the stage keeps running.
	db.failures.Store(1)
	f.in <- testBatch(2)
	time.Sleep(200 * time.Millisecond)

	b3 := testBatch(3)
	f.in <- b3
	require.Equal(b3, recvBatch(t, f.out))

	close(f.in)
	f.join(t)
}

func TestStageEmitsLeaderVote(t *testing.T) {
	require := require.New(t)

	receiver, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(err)
	defer receiver.Close()

	f := newStageFixture(t, memdb.New(), []net.Addr{receiver.LocalAddr()})

	// Two validators holding a stake majority vote via an entry.
	v1 := ids.GenerateTestNodeID()
	v2 := ids.GenerateTestNodeID()
	f.stake.weights[v1] = 2
	f.stake.weights[v2] = 2
	f.stake.total = 5

	now := uint64(time.Now().UnixMilli())
	f.in <- entry.Batch{{
		Transactions: [][]byte{{1}},
		Votes: []entry.Vote{
			{NodeID: v1, Height: 1, Timestamp: now - 20},
			{NodeID: v2, Height: 1, Timestamp: now - 10},
		},
	}}
	recvBatch(t, f.out)

	require.NoError(receiver.SetReadDeadline(time.Now().Add(5 * time.Second)))
	buf := make([]byte, 4096)
	n, _, err := receiver.ReadFrom(buf)
	require.NoError(err)

	sent, err := entry.ParseVote(buf[:n])
	require.NoError(err)
	require.Equal(f.nodeID, sent.NodeID)
	require.Equal(f.stake.entryID, sent.EntryID)
	require.Equal(uint64(1), sent.Height)

	close(f.in)
	f.join(t)
}
