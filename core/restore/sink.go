// Package restore drives recovered index entries into a destination storage
// engine: it scans the mapped source file page by page, reconstructs cell
// payloads, and replays them into the sink under a bounded-transaction
// batching policy with periodic write-ahead-log checkpoints.
package restore

import (
	"github.com/ppggff/sos/core/checksum"
)

// CheckpointMode selects the checkpoint behavior requested from the sink.
type CheckpointMode int

const (
	// CheckpointFull flushes all committed WAL frames into the main file.
	CheckpointFull CheckpointMode = iota
	// CheckpointRestart additionally resets the WAL for continued writes.
	CheckpointRestart
)

func (m CheckpointMode) String() string {
	if m == CheckpointRestart {
		return "restart"
	}
	return "full"
}

// Cursor is a write position inside the destination's single designated
// index. Recovered entries are key-only records; index entries encode the
// whole key and carry no separate value.
type Cursor interface {
	// Insert adds one key-only record. The sink places the key into
	// correct sorted position within its own structure; callers insert in
	// on-page storage order and never pre-sort.
	Insert(key []byte) error
	Close() error
}

// Sink is the destination storage engine, treated as an opaque external
// collaborator: a transactional keyed store exposing begin/insert/commit and
// checkpoint operations plus a pluggable per-page codec hook.
//
// Every operation reports failure through an error. The pipeline treats any
// failure as fatal, with one exception: errors.ErrBusy from Checkpoint is
// retried.
type Sink interface {
	// InstallPageCodec hooks the checksum codec into the sink's page I/O
	// path. Sinks that maintain their own block integrity may decline
	// with errors.ErrUnsupported.
	InstallPageCodec(c *checksum.Codec) error

	Begin() error
	OpenCursor() (Cursor, error)
	Commit() error
	Checkpoint(mode CheckpointMode) error
	Close() error
}
