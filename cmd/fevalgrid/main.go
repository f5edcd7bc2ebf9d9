// Command fevalgrid resamples optimization run logs onto a regular function
// evaluation grid and computes cross-replicate progress statistics.
//
// Usage:
//
//	fevalgrid normalize [-interval N] [-final N] [-o out] input
//	fevalgrid stats [-o out] [-sqlite db] [-label L] [-prom out] input
//	fevalgrid process [-config file] [-interval N] [-final N] input
//	fevalgrid run [-config file] [-n runs] [-log file] [executable [args...]]
//
// Locations may be local paths, s3://bucket/key, or "-" for stdin/stdout.
// Names ending in .sz are read and written with snappy framing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/copasi-utils/fevalgrid"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

const usage = `usage: fevalgrid <command> [flags] ...

commands:
  normalize   resample a raw run log onto the evaluation grid
  stats       compute per-position statistics of a normalized log
  process     normalize and aggregate a run log into .norm.tsv/.stats.tsv
  run         invoke a simulation repeatedly, then process its log

run "fevalgrid <command> -h" for the flags of a command.
`

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	cmds := map[string]func(context.Context, []string, io.Reader, io.Writer, io.Writer) error{
		"normalize": cmdNormalize,
		"stats":     cmdStats,
		"process":   cmdProcess,
		"run":       cmdRun,
	}
	cmd, ok := cmds[args[0]]
	if !ok {
		if args[0] == "-h" || args[0] == "-help" || args[0] == "help" {
			fmt.Fprint(stdout, usage)
			return exitOK
		}
		fmt.Fprintf(stderr, "fevalgrid: unknown command %q\n%s", args[0], usage)
		return exitUsage
	}

	err := cmd(ctx, args[1:], stdin, stdout, stderr)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		return exitUsage
	case fevalgrid.IsArgumentError(err):
		fmt.Fprintf(stderr, "fevalgrid %s: %v\n", args[0], err)
		return exitUsage
	default:
		slog.Error("command failed", "command", args[0], "err", err)
		return exitFailure
	}
}

// errUsage marks errors already reported by the flag package.
var errUsage = errors.New("usage")

// common holds the flags shared by every command.
type common struct {
	fs       *flag.FlagSet
	config   string
	quiet    bool
	verbose  bool
	interval int64
	final    int64
}

func newCommon(name, synopsis string, stderr io.Writer) *common {
	c := &common{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	c.fs.SetOutput(stderr)
	c.fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: fevalgrid %s %s\n\nflags:\n", name, synopsis)
		c.fs.PrintDefaults()
	}
	c.fs.StringVar(&c.config, "config", "", "YAML configuration file")
	c.fs.BoolVar(&c.quiet, "q", false, "suppress information messages")
	c.fs.BoolVar(&c.verbose, "v", false, "log debug messages")
	return c
}

func (c *common) gridFlags() {
	c.fs.Int64Var(&c.interval, "interval", 10, "grid spacing in function evaluations")
	c.fs.Int64Var(&c.final, "final", 0, "extend every replicate up to this evaluation (0: no extension)")
}

// parse parses args, loads the configuration and applies explicitly set
// flags over it.
func (c *common) parse(args []string, stderr io.Writer) (fevalgrid.Config, error) {
	if err := c.fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return fevalgrid.Config{}, err
		}
		return fevalgrid.Config{}, errUsage
	}

	cfg := fevalgrid.DefaultConfig()
	if c.config != "" {
		var err error
		if cfg, err = fevalgrid.LoadConfig(c.config); err != nil {
			return cfg, err
		}
	}

	c.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "interval":
			cfg.Grid.Interval = c.interval
		case "final":
			cfg.Grid.Final = c.final
		case "q":
			cfg.LogLevel = "warn"
		case "v":
			cfg.LogLevel = "debug"
		}
	})
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	level, _ := fevalgrid.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

// oneInput returns the single positional argument or reports usage.
func (c *common) oneInput() (string, error) {
	if c.fs.NArg() != 1 {
		c.fs.Usage()
		return "", errUsage
	}
	return c.fs.Arg(0), nil
}

func openInput(ctx context.Context, res *fevalgrid.Resolver, name string, stdin io.Reader) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(stdin), nil
	}
	loc, err := fevalgrid.ParseLocation(name)
	if err != nil {
		return nil, err
	}
	backend, key, err := res.Resolve(ctx, loc)
	if err != nil {
		return nil, err
	}
	return fevalgrid.OpenInput(ctx, backend, key)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func createOutput(ctx context.Context, res *fevalgrid.Resolver, name string, stdout io.Writer) (io.WriteCloser, error) {
	if name == "" || name == "-" {
		return nopWriteCloser{stdout}, nil
	}
	loc, err := fevalgrid.ParseLocation(name)
	if err != nil {
		return nil, err
	}
	backend, key, err := res.Resolve(ctx, loc)
	if err != nil {
		return nil, err
	}
	return fevalgrid.CreateOutput(ctx, backend, key)
}

func cmdNormalize(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c := newCommon("normalize", "[flags] input", stderr)
	c.gridFlags()
	out := c.fs.String("o", "-", "output location")
	cfg, err := c.parse(args, stderr)
	if err != nil {
		return err
	}
	input, err := c.oneInput()
	if err != nil {
		return err
	}

	res := fevalgrid.NewResolver(cfg.Storage)
	r, err := openInput(ctx, res, input, stdin)
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := createOutput(ctx, res, *out, stdout)
	if err != nil {
		return err
	}
	ns, err := fevalgrid.Normalize(ctx, r, w, cfg.Grid)
	if err != nil {
		fevalgrid.AbortOutput(w)
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	slog.Info("normalized", "input", input, "lines", ns.Lines, "replicates", ns.Replicates, "records", ns.Records)
	return nil
}

func cmdStats(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c := newCommon("stats", "[flags] input", stderr)
	out := c.fs.String("o", "-", "output location")
	db := c.fs.String("sqlite", "", "also store the table in this SQLite database")
	label := c.fs.String("label", "", "experiment label for -sqlite (default: input name)")
	prom := c.fs.String("prom", "", "also write a Prometheus remote-write payload here")
	cfg, err := c.parse(args, stderr)
	if err != nil {
		return err
	}
	input, err := c.oneInput()
	if err != nil {
		return err
	}

	res := fevalgrid.NewResolver(cfg.Storage)
	r, err := openInput(ctx, res, input, stdin)
	if err != nil {
		return err
	}
	defer r.Close()
	table, err := fevalgrid.Aggregate(ctx, r)
	if err != nil {
		return err
	}

	w, err := createOutput(ctx, res, *out, stdout)
	if err != nil {
		return err
	}
	if err := table.WriteTSV(w); err != nil {
		fevalgrid.AbortOutput(w)
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	if *db != "" {
		l := *label
		if l == "" {
			l = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(input), fevalgrid.SnappyExt), ".norm.tsv")
		}
		sink, err := fevalgrid.OpenSQLiteSink(ctx, fevalgrid.SQLiteSinkConfig{Path: *db, Label: l})
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := sink.WriteTable(ctx, l, table); err != nil {
			return err
		}
	}
	if *prom != "" {
		payload, err := fevalgrid.EncodeWriteRequest(fevalgrid.BuildWriteRequest(table, "", nil))
		if err != nil {
			return err
		}
		pw, err := createOutput(ctx, res, *prom, stdout)
		if err != nil {
			return err
		}
		if _, err := pw.Write(payload); err != nil {
			fevalgrid.AbortOutput(pw)
			return err
		}
		if err := pw.Close(); err != nil {
			return err
		}
	}
	slog.Info("aggregated", "input", input, "positions", table.Len(), "replicates", table.Replicates)
	return nil
}

func cmdProcess(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c := newCommon("process", "[flags] input", stderr)
	c.gridFlags()
	cfg, err := c.parse(args, stderr)
	if err != nil {
		return err
	}
	input, err := c.oneInput()
	if err != nil {
		return err
	}

	p, err := fevalgrid.NewProcessor(cfg)
	if err != nil {
		return err
	}
	res, err := p.Process(ctx, input)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\n%s\n", res.Normalized, res.Stats)
	return nil
}

func cmdRun(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c := newCommon("run", "[flags] [executable [args...]]", stderr)
	c.gridFlags()
	runs := c.fs.Int("n", 0, "number of runs (default from config, else 1)")
	logFile := c.fs.String("log", "", "raw run log location")
	report := c.fs.String("report", "", "file written by the executable per run, instead of stdout")
	cfg, err := c.parse(args, stderr)
	if err != nil {
		return err
	}

	c.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			cfg.Run.Runs = *runs
		case "log":
			cfg.Run.Log = *logFile
		case "report":
			cfg.Run.Report = *report
		}
	})
	if c.fs.NArg() > 0 {
		cfg.Run.Executable = c.fs.Arg(0)
		cfg.Run.Args = c.fs.Args()[1:]
	}
	if cfg.Run.Executable == "" {
		c.fs.Usage()
		return errUsage
	}

	r, err := fevalgrid.NewRunner(cfg)
	if err != nil {
		return err
	}
	res, err := r.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\n%s\n", res.Normalized, res.Stats)
	return nil
}
