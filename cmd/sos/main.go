// Command sos salvages surviving secondary-index entries from a damaged
// SQLite database image by reading its b-tree page layout directly, and
// replays them into a freshly created destination database.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"

	"github.com/ppggff/sos/core/checksum"
	serrors "github.com/ppggff/sos/core/errors"
	"github.com/ppggff/sos/core/restore"
	"github.com/ppggff/sos/core/sqlitefmt"
	"github.com/ppggff/sos/internal/fileutil"
	"github.com/ppggff/sos/internal/logging"
)

const version = "1.1.0"

// CLI defines the command-line interface for sos.
var CLI struct {
	// Global flags
	Verbose bool `short:"v" help:"Enable debug logging"`
	LogJSON bool `name:"log-json" help:"Emit logs as JSON"`

	Salvage SalvageCmd `cmd:"" help:"Scan a damaged database image and replay index entries into a destination"`
	Inspect InspectCmd `cmd:"" help:"Dump one page's header and cell layout"`
	Verify  VerifyCmd  `cmd:"" help:"Verify page checksums of a destination database"`
	Stamp   StampCmd   `cmd:"" help:"Write page checksums into a destination database"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// SalvageCmd runs the full restore pipeline.
type SalvageCmd struct {
	Source            string `arg:"" help:"Damaged source database image (may be .xz compressed)" type:"existingfile"`
	Dest              string `arg:"" help:"Destination database path"`
	StartPage         uint32 `arg:"" help:"First page to scan (minimum 2; page 1 is header space)"`
	PagesPerTxn       int    `arg:"" optional:"" default:"1024" help:"Pages batched per destination transaction"`
	TxnsPerCheckpoint int    `arg:"" optional:"" default:"10" help:"Committed transactions between checkpoints"`

	Template   string `help:"Empty-schema template copied to the destination when it does not exist" type:"existingfile"`
	Engine     string `default:"sqlite" enum:"sqlite,pebble" help:"Destination engine"`
	NoChecksum bool   `name:"no-checksum" help:"Skip installing the page checksum codec"`
}

func (c *SalvageCmd) Run() error {
	sourcePath, cleanup, err := fileutil.MaterializeSource(c.Source)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	m, err := sqlitefmt.Open(sourcePath)
	if err != nil {
		return err
	}
	defer m.Close()

	sink, err := openSink(c.Engine, c.Dest, c.Template)
	if err != nil {
		return err
	}

	if !c.NoChecksum {
		codec := checksum.New(c.Dest)
		codec.SetPageGeometry(sqlitefmt.PageSize, checksum.SumSize)
		if err := sink.InstallPageCodec(codec); err != nil {
			if !serrors.Is(err, serrors.ErrUnsupported) {
				sink.Close()
				return err
			}
			logging.Info("page_codec_declined", "engine", c.Engine)
		}
	}

	metrics, err := restore.Run(m, sink, restore.Config{
		StartPage:         c.StartPage,
		PagesPerTxn:       c.PagesPerTxn,
		TxnsPerCheckpoint: c.TxnsPerCheckpoint,
	})
	if err != nil {
		return err
	}

	fmt.Println(metrics.String())
	return nil
}

func openSink(engine, dest, template string) (restore.Sink, error) {
	switch engine {
	case "pebble":
		return restore.OpenPebble(dest)
	default:
		return restore.OpenSQLite(dest, template)
	}
}

// InspectCmd dumps a single page for manual triage.
type InspectCmd struct {
	Source   string `arg:"" help:"Database image to inspect" type:"existingfile"`
	Page     uint32 `arg:"" help:"1-based page number"`
	MaxCells int    `default:"5" help:"Cell offsets to display"`
}

func (c *InspectCmd) Run() error {
	sourcePath, cleanup, err := fileutil.MaterializeSource(c.Source)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	m, err := sqlitefmt.Open(sourcePath)
	if err != nil {
		return err
	}
	defer m.Close()

	if geo, err := m.Header(); err == nil {
		fmt.Printf("declared geometry: page size %d, reserved %d\n", geo.PageSize, geo.Reserve)
	}

	if c.Page == 1 {
		fmt.Println("page 1 is the database header page and holds no index cells")
		return nil
	}

	view, err := m.Page(c.Page)
	if err != nil {
		return err
	}

	kind := view.Classify()
	fmt.Printf("page %d: %s (type byte 0x%02x)\n", c.Page, kind, view.Data()[0])
	if kind == sqlitefmt.KindOther {
		return nil
	}

	header, err := view.Header()
	if err != nil {
		return err
	}
	fmt.Printf("  %s\n", header)

	offsets, err := view.CellOffsets(header)
	if err != nil {
		return err
	}

	reader := sqlitefmt.NewPayloadReader(m)
	for i, off := range offsets {
		if i >= c.MaxCells {
			fmt.Printf("  ... (%d more cells)\n", len(offsets)-c.MaxCells)
			break
		}
		payload := reader.Read(view, header, off)
		status := "ok"
		if !payload.Valid {
			status = "invalid: " + payload.Reason
		}
		fmt.Printf("  cell %d: offset %d, payload %d bytes, %s\n", i, off, payload.Size, status)
	}
	return nil
}

// VerifyCmd checks the destination's page checksums.
type VerifyCmd struct {
	Path string `arg:"" help:"Database to verify" type:"existingfile"`
}

func (c *VerifyCmd) Run() error {
	report, err := checksum.VerifyFile(c.Path)
	if err != nil {
		return err
	}
	if !report.OK() {
		for _, pno := range report.BadPages {
			fmt.Printf("page %d: checksum mismatch\n", pno)
		}
		return fmt.Errorf("%d of %d pages failed verification: %w",
			len(report.BadPages), report.Pages, serrors.ErrChecksum)
	}
	fmt.Printf("ok: %d pages verified\n", report.Pages)
	return nil
}

// StampCmd (re)writes checksums, e.g. to prepare a template file.
type StampCmd struct {
	Path string `arg:"" help:"Database to stamp" type:"existingfile"`
}

func (c *StampCmd) Run() error {
	if err := checksum.StampFile(c.Path); err != nil {
		return err
	}
	fmt.Println("stamped")
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("sos %s (sqlite driver: %s)\n", version, restore.DriverInfo())
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("sos"),
		kong.Description("Salvage surviving index entries from a damaged SQLite database image"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	level := logging.LevelInfo
	if CLI.Verbose {
		level = logging.LevelDebug
	}
	format := logging.FormatText
	if CLI.LogJSON {
		format = logging.FormatJSON
	}
	logging.InitLogger(level, format)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
