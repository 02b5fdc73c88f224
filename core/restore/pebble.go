package restore

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/ppggff/sos/core/checksum"
	serrors "github.com/ppggff/sos/core/errors"
)

// PebbleSink replays recovered keys into a Pebble store. It exists for
// migrations where the salvaged index is headed into an LSM-backed system
// rather than another SQLite file: any transactional keyed engine that can
// expose begin/insert/commit/checkpoint semantics satisfies the sink
// contract.
type PebbleSink struct {
	db    *pebble.DB
	batch *pebble.Batch
}

// OpenPebble opens (or creates) a Pebble store rooted at dir.
func OpenPebble(dir string) (*PebbleSink, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, &serrors.SinkError{Operation: "open", Err: err}
	}
	return &PebbleSink{db: db}, nil
}

// InstallPageCodec declines: Pebble maintains its own per-block checksums,
// there is no page trailer to stamp.
func (s *PebbleSink) InstallPageCodec(c *checksum.Codec) error {
	return fmt.Errorf("pebble keeps per-block checksums: %w", serrors.ErrUnsupported)
}

// Begin starts a new atomic batch; the batch is the transaction.
func (s *PebbleSink) Begin() error {
	if s.batch != nil {
		return &serrors.SinkError{Operation: "begin", Err: fmt.Errorf("batch already open")}
	}
	s.batch = s.db.NewBatch()
	return nil
}

type pebbleCursor struct {
	batch *pebble.Batch
}

func (c *pebbleCursor) Insert(key []byte) error {
	// Key-only record: the index entry is the key, there is no value.
	if err := c.batch.Set(key, nil, nil); err != nil {
		return &serrors.SinkError{Operation: "insert", Err: err}
	}
	return nil
}

func (c *pebbleCursor) Close() error { return nil }

// OpenCursor returns a write position into the open batch.
func (s *PebbleSink) OpenCursor() (Cursor, error) {
	if s.batch == nil {
		return nil, &serrors.SinkError{Operation: "open cursor", Err: fmt.Errorf("no open batch")}
	}
	return &pebbleCursor{batch: s.batch}, nil
}

// Commit durably applies the open batch.
func (s *PebbleSink) Commit() error {
	if s.batch == nil {
		return &serrors.SinkError{Operation: "commit", Err: fmt.Errorf("no open batch")}
	}
	err := s.batch.Commit(pebble.Sync)
	s.batch.Close()
	s.batch = nil
	if err != nil {
		return &serrors.SinkError{Operation: "commit", Err: err}
	}
	return nil
}

// Checkpoint flushes memtables to stable storage. Pebble recycles its WAL on
// flush, so the restart mode has nothing extra to do.
func (s *PebbleSink) Checkpoint(mode CheckpointMode) error {
	if mode == CheckpointRestart {
		return nil
	}
	if err := s.db.Flush(); err != nil {
		return &serrors.SinkError{Operation: "checkpoint " + mode.String(), Err: err}
	}
	return nil
}

// Close shuts the store down.
func (s *PebbleSink) Close() error {
	if s.batch != nil {
		s.batch.Close()
		s.batch = nil
	}
	if err := s.db.Close(); err != nil {
		return &serrors.SinkError{Operation: "close", Err: err}
	}
	return nil
}
