package fevalgrid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// OutputNames derives the normalized and statistics names for a run log by
// stripping its extension. A trailing SnappyExt is kept on both.
func OutputNames(input string) (norm, stats string) {
	name, sz := strings.CutSuffix(input, SnappyExt)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	norm, stats = base+".norm.tsv", base+".stats.tsv"
	if sz {
		norm += SnappyExt
		stats += SnappyExt
	}
	return norm, stats
}

// ProcessResult describes the outputs of one processed run log.
type ProcessResult struct {
	Input      string
	Normalized string
	Stats      string
	Normalize  NormalizeStats
	Table      *Table
}

// Processor pipes a raw run log through Normalize and Aggregate and stores
// the outputs next to it.
type Processor struct {
	cfg      Config
	resolver *Resolver
}

// NewProcessor validates cfg and returns a processor.
func NewProcessor(cfg Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{cfg: cfg, resolver: NewResolver(cfg.Storage)}, nil
}

// Process normalizes and aggregates the run log at input.
func (p *Processor) Process(ctx context.Context, input string) (*ProcessResult, error) {
	loc, err := ParseLocation(input)
	if err != nil {
		return nil, err
	}
	backend, key, err := p.resolver.Resolve(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer backend.Close()
	loc = p.resolver.rooted(loc)

	ok, err := backend.Exists(ctx, key)
	if err != nil {
		return nil, newStorageError(StorageErrorTypeRead, "cannot stat input", loc.String(), err)
	}
	if !ok {
		return nil, newStorageError(StorageErrorTypeNotFound, "input file missing", loc.String(), ErrNotFound)
	}

	normKey, statsKey := OutputNames(key)
	res := &ProcessResult{
		Input:      loc.String(),
		Normalized: loc.Sibling(path.Base(normKey)).String(),
		Stats:      loc.Sibling(path.Base(statsKey)).String(),
	}

	start := time.Now()
	res.Normalize, err = p.normalize(ctx, backend, key, normKey)
	if err != nil {
		return nil, err
	}
	slog.Info("normalized run log",
		"input", res.Input, "output", res.Normalized,
		"replicates", res.Normalize.Replicates, "records", res.Normalize.Records,
		"elapsed", time.Since(start))

	res.Table, err = p.aggregate(ctx, backend, normKey, statsKey)
	if err != nil {
		return nil, err
	}
	slog.Info("aggregated statistics",
		"output", res.Stats, "positions", res.Table.Len(), "replicates", res.Table.Replicates)

	if err := p.writeSinks(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Processor) normalize(ctx context.Context, backend StorageBackend, in, out string) (NormalizeStats, error) {
	r, err := OpenInput(ctx, backend, in)
	if err != nil {
		return NormalizeStats{}, err
	}
	defer r.Close()

	w, err := CreateOutput(ctx, backend, out)
	if err != nil {
		return NormalizeStats{}, err
	}
	ns, err := Normalize(ctx, r, w, p.cfg.Grid)
	if err != nil {
		AbortOutput(w)
		return ns, err
	}
	return ns, w.Close()
}

func (p *Processor) aggregate(ctx context.Context, backend StorageBackend, in, out string) (*Table, error) {
	r, err := OpenInput(ctx, backend, in)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	table, err := Aggregate(ctx, r)
	if err != nil {
		return nil, err
	}

	w, err := CreateOutput(ctx, backend, out)
	if err != nil {
		return nil, err
	}
	if err := table.WriteTSV(w); err != nil {
		AbortOutput(w)
		return nil, err
	}
	return table, w.Close()
}

// AbortOutput discards a partially written output from CreateOutput where
// the backend allows, and closes it otherwise.
func AbortOutput(w io.Closer) {
	switch o := w.(type) {
	case *atomicFile:
		o.abort()
	case snappyWriteCloser:
		AbortOutput(o.under)
	case *bufferedObject:
		o.closed = true
	default:
		_ = w.Close()
	}
}

func (p *Processor) writeSinks(ctx context.Context, res *ProcessResult) error {
	if sc := p.cfg.SQLite; sc != nil && sc.Path != "" {
		label := sc.Label
		if label == "" {
			base := filepath.Base(strings.TrimSuffix(res.Input, SnappyExt))
			label = strings.TrimSuffix(base, filepath.Ext(base))
		}
		sink, err := OpenSQLiteSink(ctx, *sc)
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := sink.WriteTable(ctx, label, res.Table); err != nil {
			return newStorageError(StorageErrorTypeWrite, "cannot store statistics", sc.Path, err)
		}
		slog.Info("stored statistics", "database", sc.Path, "label", label)
	}

	if pc := p.cfg.Prometheus; pc != nil && pc.Path != "" {
		payload, err := EncodeWriteRequest(BuildWriteRequest(res.Table, pc.Metric, pc.Labels))
		if err != nil {
			return err
		}
		loc, err := ParseLocation(pc.Path)
		if err != nil {
			return err
		}
		backend, key, err := p.resolver.Resolve(ctx, loc)
		if err != nil {
			return err
		}
		defer backend.Close()
		if err := backend.Write(ctx, key, payload); err != nil {
			return err
		}
		slog.Info("exported remote-write payload", "output", loc.String(), "bytes", len(payload))
	}
	return nil
}

// Runner invokes the simulation executable repeatedly, collecting every
// replicate into one raw run log, then processes that log.
type Runner struct {
	cfg  Config
	proc *Processor
}

// NewRunner validates cfg and returns a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Run.Executable == "" {
		return nil, newArgumentError("run.executable", "", errors.New("executable is required"))
	}
	if cfg.Run.Log == "" {
		return nil, newArgumentError("run.log", "", errors.New("log file is required"))
	}
	if cfg.Run.Runs <= 0 {
		return nil, newArgumentError("run.runs", fmt.Sprint(cfg.Run.Runs), errors.New("must be positive"))
	}
	proc, err := NewProcessor(cfg)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, proc: proc}, nil
}

// Run performs every configured run sequentially and processes the log.
// A failing run aborts the whole batch.
func (r *Runner) Run(ctx context.Context) (*ProcessResult, error) {
	rc := r.cfg.Run
	exe, err := exec.LookPath(rc.Executable)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingExecutable, rc.Executable, err)
	}

	loc, err := ParseLocation(rc.Log)
	if err != nil {
		return nil, err
	}
	backend, key, err := r.proc.resolver.Resolve(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	if strings.HasSuffix(key, SnappyExt) {
		return nil, newArgumentError("run.log", rc.Log, errors.New("raw run log cannot be snappy framed"))
	}
	if err := backend.Write(ctx, key, nil); err != nil {
		return nil, err
	}
	if err := removeStale(ctx, backend, key); err != nil {
		return nil, err
	}

	for i := 1; i <= rc.Runs; i++ {
		start := time.Now()
		out, err := r.runOnce(ctx, exe)
		if err != nil {
			return nil, fmt.Errorf("run %d of %d: %w", i, rc.Runs, err)
		}
		if len(out) > 0 && out[len(out)-1] != '\n' {
			out = append(out, '\n')
		}
		out = append(out, '\n')
		if err := backend.Append(ctx, key, out); err != nil {
			return nil, err
		}
		slog.Info("simulation run finished", "run", i, "of", rc.Runs, "bytes", len(out), "elapsed", time.Since(start))
	}

	return r.proc.Process(ctx, rc.Log)
}

// removeStale deletes the outputs of an earlier batch for the log at key,
// plain or snappy framed, so a failing batch leaves no outdated results
// next to the new log.
func removeStale(ctx context.Context, backend StorageBackend, key string) error {
	norm, stats := OutputNames(key)
	keys, err := backend.List(ctx, strings.TrimSuffix(norm, ".norm.tsv"))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if base := strings.TrimSuffix(k, SnappyExt); base != norm && base != stats {
			continue
		}
		if err := backend.Delete(ctx, k); err != nil {
			return err
		}
		slog.Debug("removed stale output", "key", k)
	}
	return nil
}

// runOnce executes one replicate and returns its raw log output.
func (r *Runner) runOnce(ctx context.Context, exe string) ([]byte, error) {
	rc := r.cfg.Run
	cmd := exec.CommandContext(ctx, exe, rc.Args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if rc.Report == "" {
		out, err := cmd.Output()
		if err != nil {
			return nil, commandError(err, stderr.String())
		}
		return out, nil
	}

	if err := cmd.Run(); err != nil {
		return nil, commandError(err, stderr.String())
	}
	out, err := os.ReadFile(rc.Report)
	if err != nil {
		return nil, fileError(StorageErrorTypeRead, "cannot read run report", rc.Report, err)
	}
	if err := os.Remove(rc.Report); err != nil {
		return nil, fileError(StorageErrorTypeWrite, "cannot remove run report", rc.Report, err)
	}
	return out, nil
}

func commandError(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, stderr)
}
