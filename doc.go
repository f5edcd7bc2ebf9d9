// Package fevalgrid resamples noisy optimization progress logs onto a
// regular function evaluation grid and summarizes repeated runs.
//
// A run log holds one or more replicates. Each numeric line starts with a
// function evaluation counter followed by the objective value and any
// further columns. Replicates are separated by blank lines or detected by
// the counter going back down.
//
// # Basic Usage
//
// Normalize a run log onto a grid of every 10th evaluation:
//
//	ns, err := fevalgrid.Normalize(ctx, in, out, fevalgrid.GridOptions{Interval: 10})
//
// Aggregate a normalized log into per-position statistics:
//
//	table, err := fevalgrid.Aggregate(ctx, normalized)
//	if err != nil {
//	    return err
//	}
//	err = table.WriteTSV(w)
//
// Process a log file, writing <name>.norm.tsv and <name>.stats.tsv next to
// it:
//
//	proc, err := fevalgrid.NewProcessor(fevalgrid.DefaultConfig())
//	res, err := proc.Process(ctx, "runs/fit.log")
//
// # Storage
//
// Locations are local paths or s3://bucket/key URLs, mapped onto backends
// by a Resolver. Plain paths follow the configured storage kind: files
// under base_dir, keys under an S3 bucket and prefix, or a shared in-memory
// store. Keys ending in .sz are read and written with snappy stream
// framing. Objects can be sealed with AES-GCM when storage encryption is
// configured.
//
// # Sinks
//
// Statistics tables can additionally be stored in a SQLite database keyed by
// experiment label, or exported as a Prometheus remote-write payload.
package fevalgrid
