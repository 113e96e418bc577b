// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger persists committed entries to a durable append-only
// store. The writer is exclusively owned by the commit goroutine, so
// it carries no internal locking.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/log"

	"github.com/luxfi/pipeline/entry"
)

var (
	ledgerPrefix = []byte("ledger")
	tipKey       = []byte("tip")

	errCorruptTip = errors.New("ledger tip entry is unreadable")
)

// Writer appends entries to the ledger. Entries are keyed by height
// and written together with the tip height in a single database batch,
// so a partially applied append is never observable after a crash.
type Writer struct {
	log    log.Logger
	baseDB database.Database
	db     database.Database
	height uint64
}

// Recover opens the ledger at path and validates its tip. An
// unreadable or corrupt ledger is a fatal construction error; there is
// no degraded mode.
func Recover(path string, log log.Logger) (*Writer, error) {
	db, err := badgerdb.New(path, nil, "", nil)
	if err != nil {
		return nil, fmt.Errorf("opening ledger at %q: %w", path, err)
	}
	w, err := NewWithDB(db, log)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return w, nil
}

// NewWithDB builds a writer over an already opened database. Used by
// Recover and by tests that back the ledger with an in-memory store.
func NewWithDB(db database.Database, log log.Logger) (*Writer, error) {
	w := &Writer{
		log:    log,
		baseDB: db,
		db:     prefixdb.New(ledgerPrefix, db),
	}

	tip, err := w.db.Get(tipKey)
	switch {
	case err == database.ErrNotFound:
		// Fresh ledger.
		return w, nil
	case err != nil:
		return nil, fmt.Errorf("reading ledger tip: %w", err)
	case len(tip) != 8:
		return nil, errCorruptTip
	}

	w.height = binary.BigEndian.Uint64(tip)
	if w.height > 0 {
		// The last appended entry must still decode.
		if _, err := w.Entry(w.height - 1); err != nil {
			return nil, fmt.Errorf("%w: %s", errCorruptTip, err)
		}
	}

	log.Info("recovered ledger", "height", w.height)
	return w, nil
}

// WriteEntries durably appends the batch. The write is atomic: either
// every entry in the batch lands with the updated tip, or none do.
func (w *Writer) WriteEntries(batch entry.Batch) error {
	if batch.Empty() {
		return nil
	}

	dbBatch := w.db.NewBatch()
	height := w.height
	for i := range batch {
		b, err := entry.Codec.Marshal(entry.CodecVersion, &batch[i])
		if err != nil {
			return fmt.Errorf("serializing entry at height %d: %w", height, err)
		}
		if err := dbBatch.Put(heightKey(height), b); err != nil {
			return err
		}
		height++
	}

	tip := make([]byte, 8)
	binary.BigEndian.PutUint64(tip, height)
	if err := dbBatch.Put(tipKey, tip); err != nil {
		return err
	}

	if err := dbBatch.Write(); err != nil {
		return fmt.Errorf("appending %d entries: %w", len(batch), err)
	}
	w.height = height
	return nil
}

// Entry reads back the entry at the given height.
func (w *Writer) Entry(height uint64) (*entry.Entry, error) {
	b, err := w.db.Get(heightKey(height))
	if err != nil {
		return nil, err
	}
	e := &entry.Entry{}
	if _, err := entry.Codec.Unmarshal(b, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Height returns the number of entries written so far.
func (w *Writer) Height() uint64 {
	return w.height
}

func (w *Writer) Close() error {
	return w.baseDB.Close()
}

func heightKey(height uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	return key
}
