package restore

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	serrors "github.com/ppggff/sos/core/errors"
	"github.com/ppggff/sos/core/sqlitefmt"
	"github.com/ppggff/sos/internal/logging"
)

// Config carries the pipeline's batching and checkpoint knobs.
type Config struct {
	// StartPage is the first page scanned, minimum 2. Page 1 is reserved
	// database-header space and never holds cells.
	StartPage uint32

	// PagesPerTxn is how many qualifying pages accumulate in one
	// destination transaction before it is committed. Default 1024.
	PagesPerTxn int

	// TxnsPerCheckpoint is how many committed transactions accumulate
	// before a full checkpoint cycle runs. Default 10.
	TxnsPerCheckpoint int

	// BusyRetryDelay is the fixed sleep before retrying a checkpoint the
	// destination reported busy. Default 10ms. Retries are unbounded:
	// corruption at this stage is worse than slow convergence.
	BusyRetryDelay time.Duration
}

// Defaults for unset Config fields.
const (
	DefaultPagesPerTxn       = 1024
	DefaultTxnsPerCheckpoint = 10
	DefaultBusyRetryDelay    = 10 * time.Millisecond
)

func (c *Config) withDefaults() Config {
	out := *c
	if out.PagesPerTxn == 0 {
		out.PagesPerTxn = DefaultPagesPerTxn
	}
	if out.TxnsPerCheckpoint == 0 {
		out.TxnsPerCheckpoint = DefaultTxnsPerCheckpoint
	}
	if out.BusyRetryDelay == 0 {
		out.BusyRetryDelay = DefaultBusyRetryDelay
	}
	return out
}

// Validate rejects configurations the scan loop cannot honor.
func (c *Config) Validate() error {
	if c.StartPage < 2 {
		return &serrors.ValidationError{Field: "start page",
			Message: fmt.Sprintf("must be at least 2, got %d", c.StartPage)}
	}
	if c.PagesPerTxn < 1 {
		return &serrors.ValidationError{Field: "pages per transaction",
			Message: fmt.Sprintf("must be at least 1, got %d", c.PagesPerTxn)}
	}
	if c.TxnsPerCheckpoint < 1 {
		return &serrors.ValidationError{Field: "transactions per checkpoint",
			Message: fmt.Sprintf("must be at least 1, got %d", c.TxnsPerCheckpoint)}
	}
	return nil
}

// Metrics accumulates the run's recovery counters.
type Metrics struct {
	Pages     uint32 // Index pages visited
	SkipPages uint32 // Pages skipped as non-index
	Cells     uint64 // Cells seen on visited pages
	Bytes     uint64 // Payload bytes restored
}

func (m *Metrics) String() string {
	return fmt.Sprintf("pages: %d, skip pages: %d, cells: %d, bytes: %d",
		m.Pages, m.SkipPages, m.Cells, m.Bytes)
}

// Context is the single mutable run state threading through all pipeline
// stages: sink handle, open cursor, batching counters and metrics. It is
// created per run and explicitly passed, never held in a global.
type Context struct {
	RunID   string
	Metrics Metrics

	sink   Sink
	cursor Cursor
	cfg    Config

	txnPages      int // qualifying pages in the currently open transaction
	checkpointDue int // committed transactions since the last checkpoint
}

// Run scans every page of the mapped source from cfg.StartPage through the
// last whole page, replaying surviving index cells into the sink, and
// returns the final metrics. The sink must already be open and configured;
// Run closes it on the way out.
func Run(m *sqlitefmt.Map, sink Sink, cfg Config) (*Metrics, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx := &Context{
		RunID: uuid.NewString(),
		sink:  sink,
		cfg:   cfg,
	}

	logging.Info("salvage_start",
		"run_id", ctx.RunID,
		"source", m.Path(),
		"pages", m.PageCount(),
		"start_page", cfg.StartPage,
		"pages_per_txn", cfg.PagesPerTxn,
		"txns_per_checkpoint", cfg.TxnsPerCheckpoint)

	start := time.Now()
	if err := ctx.scan(m); err != nil {
		// Leave the destination in the last committed state; the WAL
		// keeps it consistent even though it trails the full scan.
		sink.Close()
		return &ctx.Metrics, err
	}
	if err := ctx.finalize(); err != nil {
		return &ctx.Metrics, err
	}

	logging.Info("salvage_done",
		"run_id", ctx.RunID,
		"duration", time.Since(start).Round(time.Millisecond).String(),
		"pages", ctx.Metrics.Pages,
		"skip_pages", ctx.Metrics.SkipPages,
		"cells", ctx.Metrics.Cells,
		"bytes", ctx.Metrics.Bytes)
	return &ctx.Metrics, nil
}

func (ctx *Context) scan(m *sqlitefmt.Map) error {
	reader := sqlitefmt.NewPayloadReader(m)

	for pno := ctx.cfg.StartPage; pno <= m.PageCount(); pno++ {
		view, err := m.Page(pno)
		if err != nil {
			return err
		}
		if view.Classify() == sqlitefmt.KindOther {
			ctx.Metrics.SkipPages++
			logging.PageSkipped(pno, view.Data()[0])
			continue
		}
		if err := ctx.restorePage(reader, view); err != nil {
			return err
		}
		if ctx.txnPages >= ctx.cfg.PagesPerTxn {
			if err := ctx.closeBatch(); err != nil {
				return err
			}
		}
	}
	return nil
}

// restorePage replays every reconstructable cell of one index page into the
// open cursor, opening a transaction first if none is active.
func (ctx *Context) restorePage(reader *sqlitefmt.PayloadReader, view *sqlitefmt.View) error {
	header, err := view.Header()
	if err != nil {
		// Classified as index but the header is self-contradictory;
		// treat like any other unusable page.
		ctx.Metrics.SkipPages++
		logging.PageSkipped(view.Num, view.Data()[0], "reason", err.Error())
		return nil
	}
	offsets, err := view.CellOffsets(header)
	if err != nil {
		ctx.Metrics.SkipPages++
		logging.PageSkipped(view.Num, view.Data()[0], "reason", err.Error())
		return nil
	}

	ctx.Metrics.Pages++
	logging.Debug("page", "num", view.Num, "kind", view.Classify().String(),
		"cells", header.NumCells, "content_start", header.CellContentStart)

	if ctx.cursor == nil {
		if err := ctx.sink.Begin(); err != nil {
			return err
		}
		cursor, err := ctx.sink.OpenCursor()
		if err != nil {
			return err
		}
		ctx.cursor = cursor
	}

	ctx.Metrics.Cells += uint64(header.NumCells)

	for i, off := range offsets {
		payload := reader.Read(view, header, off)
		if !payload.Valid {
			logging.CellSkipped(view.Num, i, payload.Reason)
			continue
		}
		if payload.Size == 0 {
			logging.CellSkipped(view.Num, i, "zero-length payload")
			continue
		}
		if err := ctx.cursor.Insert(payload.Data); err != nil {
			return err
		}
		ctx.Metrics.Bytes += uint64(len(payload.Data))
	}

	ctx.txnPages++
	return nil
}

// closeBatch commits the open transaction and runs a checkpoint cycle when
// enough commits have accumulated.
func (ctx *Context) closeBatch() error {
	if ctx.cursor == nil {
		return nil
	}
	if err := ctx.cursor.Close(); err != nil {
		return err
	}
	ctx.cursor = nil
	if err := ctx.sink.Commit(); err != nil {
		return err
	}
	logging.TransactionCommitted(ctx.txnPages, ctx.Metrics.Cells, "run_id", ctx.RunID)
	ctx.txnPages = 0

	ctx.checkpointDue++
	if ctx.checkpointDue > ctx.cfg.TxnsPerCheckpoint {
		if err := ctx.fullCheckpoint(); err != nil {
			return err
		}
		ctx.checkpointDue = 0
	}
	return nil
}

// fullCheckpoint flushes committed WAL frames into the main file, then
// resets the WAL: a passive full checkpoint followed by a restart.
func (ctx *Context) fullCheckpoint() error {
	if err := ctx.checkpointRetry(CheckpointFull); err != nil {
		return err
	}
	return ctx.checkpointRetry(CheckpointRestart)
}

// checkpointRetry retries a busy checkpoint forever with a fixed backoff,
// bounded only by the sink's own cooperative locking. Any non-busy failure
// is fatal.
func (ctx *Context) checkpointRetry(mode CheckpointMode) error {
	for attempt := 1; ; attempt++ {
		err := ctx.sink.Checkpoint(mode)
		if err == nil {
			return nil
		}
		if !serrors.IsBusy(err) {
			return err
		}
		logging.CheckpointRetry(mode.String(), attempt, "run_id", ctx.RunID)
		time.Sleep(ctx.cfg.BusyRetryDelay)
	}
}

// finalize commits any still-open transaction regardless of the batching
// threshold, runs one last checkpoint pair and closes the sink.
func (ctx *Context) finalize() error {
	if ctx.cursor != nil {
		if err := ctx.cursor.Close(); err != nil {
			return err
		}
		ctx.cursor = nil
		if err := ctx.sink.Commit(); err != nil {
			return err
		}
		logging.TransactionCommitted(ctx.txnPages, ctx.Metrics.Cells, "run_id", ctx.RunID)
		ctx.txnPages = 0
	}
	if err := ctx.fullCheckpoint(); err != nil {
		return err
	}
	return ctx.sink.Close()
}
