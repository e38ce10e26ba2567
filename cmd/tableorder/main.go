// tableorder replays waiter commands against the restaurant order book and
// prints the resulting open tables, bills and ready log.
//
// Commands are JSON lines (see commands.go). Sinks are configured in the
// YAML config: a pebble journal of every event and an AMQP fanout of
// completed items.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/0x5487/tableorder"
	"github.com/0x5487/tableorder/config"
	"github.com/0x5487/tableorder/protocol"
	"github.com/0x5487/tableorder/sink"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath   string
	commandsPath string
	restoreDir   string
	snapshot     bool
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("tableorder", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to the YAML config (default: built-in defaults)")
	flagSet.StringVar(&opts.commandsPath, "commands", "", "JSON lines command file, - for stdin")
	flagSet.StringVar(&opts.restoreDir, "restore", "", "restore the order book from this snapshot directory first")
	flagSet.BoolVar(&opts.snapshot, "snapshot", false, "write a snapshot to snapshot_dir after replaying")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.snapshot && cfg.SnapshotDir == "" {
		return errors.New("--snapshot requires snapshot_dir in the config")
	}

	log := cfg.Log.NewLogger(os.Stderr)
	tableorder.SetLogger(log)
	sink.SetLogger(log)

	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if opts.restoreDir != "" {
		if err := svc.restore(ctx, opts.restoreDir); err != nil {
			return err
		}
	}

	if opts.commandsPath != "" {
		if err := svc.replay(ctx, opts.commandsPath, stdin); err != nil {
			return err
		}
	}

	if err := svc.report(ctx, stdout); err != nil {
		return err
	}

	if opts.snapshot {
		meta, err := svc.engine.TakeSnapshot(ctx, cfg.SnapshotDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "\nsnapshot written to %s (seq %d)\n", cfg.SnapshotDir, meta.SeqID)
	}

	return nil
}

// service wires the catalog, the engine and the configured sinks together.
type service struct {
	cfg        *config.Config
	serializer protocol.Serializer
	engine     *tableorder.Engine
	tally      *tableorder.AggregatedTally
	journal    *sink.PebblePublishLog
	notify     *sink.AMQPPublishLog
}

func newService(cfg *config.Config) (*service, error) {
	catalog, err := tableorder.LoadCatalogFile(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	serializer, err := protocol.SerializerByName(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	svc := &service{
		cfg:        cfg,
		serializer: serializer,
		tally:      tableorder.NewAggregatedTally(),
	}

	sinks := []tableorder.PublishLog{svc.tally}
	if cfg.JournalDir != "" {
		svc.journal, err = sink.OpenPebble(cfg.JournalDir, serializer)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, svc.journal)
	}
	if cfg.Notify.AMQPURL != "" {
		svc.notify, err = sink.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.Exchange)
		if err != nil {
			svc.close()
			return nil, fmt.Errorf("connect notifications: %w", err)
		}
		sinks = append(sinks, svc.notify)
	}

	bookOpts := []tableorder.OrderBookOption{
		tableorder.WithPublishLog(tableorder.NewMultiPublishLog(sinks...)),
	}
	if cfg.StrictQuantities {
		bookOpts = append(bookOpts, tableorder.WithStrictQuantities())
	}

	book, err := tableorder.NewOrderBook(catalog, cfg.Tables, bookOpts...)
	if err != nil {
		svc.close()
		return nil, err
	}

	svc.engine = tableorder.NewEngine(book,
		tableorder.WithSerializer(serializer),
		tableorder.WithRingSize(cfg.RingSize),
	)
	svc.engine.Start()

	return svc, nil
}

func (svc *service) restore(ctx context.Context, dir string) error {
	meta, err := svc.engine.RestoreFromSnapshot(ctx, dir)
	if err != nil {
		return err
	}

	// new events would overwrite journal entries written after the snapshot
	if svc.journal != nil {
		last, err := svc.journal.LastSequenceID()
		if err != nil {
			return err
		}
		if last > meta.SeqID {
			return fmt.Errorf("journal %s is at seq %d, ahead of snapshot %s at seq %d", svc.cfg.JournalDir, last, dir, meta.SeqID)
		}
	}

	snap, err := svc.engine.Snapshot(ctx)
	if err != nil {
		return err
	}
	return svc.tally.OnRebuild(snap)
}

func (svc *service) replay(ctx context.Context, path string, stdin io.Reader) error {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	commands, err := readCommands(r, svc.serializer, svc.engine.LastCmdSeqID()+1)
	if err != nil {
		return fmt.Errorf("read commands: %w", err)
	}

	for _, cmd := range commands {
		if _, err := svc.engine.ExecuteCommand(ctx, cmd); err != nil {
			// rejected commands leave the book untouched; keep going
			if errors.Is(err, tableorder.ErrShutdown) || errors.Is(err, tableorder.ErrTimeout) {
				return err
			}
			fmt.Fprintf(os.Stderr, "command %d (%s) rejected: %v\n", cmd.SeqID, cmd.Type, err)
		}
	}
	return nil
}

func (svc *service) report(ctx context.Context, w io.Writer) error {
	tables, err := svc.engine.ActiveTables(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "OPEN TABLES\t%d\n", len(tables))
	for _, table := range tables {
		bill, err := svc.engine.Bill(ctx, table)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "Tisch %d\t\t\t%s\n", table, bill.Total.StringFixed(2))
		for _, line := range bill.Lines {
			fmt.Fprintf(tw, "\t%s\t%d x %s\t%s\n", line.ItemName, line.Quantity, line.UnitPrice.StringFixed(2), line.LineTotal.StringFixed(2))
		}
	}

	records, err := svc.engine.CompletedLog(ctx, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(tw, "\nREADY\t%d\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(tw, "Tisch %d\t%s\t%d\t%s\n", rec.TableNumber, rec.ItemName, rec.Quantity, rec.CompletedAt.Local().Format("15:04:05"))
	}

	items := svc.tally.Items()
	fmt.Fprintf(tw, "\nTALLY\tpending\tcompleted\n")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", item.ItemName, item.Pending, item.Completed)
	}

	return tw.Flush()
}

func (svc *service) close() {
	if svc.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = svc.engine.Shutdown(ctx)
		cancel()
	}
	if svc.notify != nil {
		svc.notify.Close()
	}
	if svc.journal != nil {
		if err := svc.journal.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close journal: %v\n", err)
		}
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tableorder replays order commands against the restaurant order book.

Usage:
  tableorder --config configs/tableorder.yaml --commands orders.jsonl

Command lines:
  {"op":"add","table":5,"item":"Cola","quantity":2}
  {"op":"remove","table":5,"item":"Cola","quantity":1}
  {"op":"complete","table":5}

Flags:
`)
	flagSet.PrintDefaults()
}
