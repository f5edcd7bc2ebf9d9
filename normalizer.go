package fevalgrid

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// GridOptions configures the regular output grid.
type GridOptions struct {
	// Interval is the spacing between grid positions 1, 1+Interval, ...
	// Default: 10.
	Interval int64 `yaml:"interval"`

	// Final extends every replicate with carried-forward records up to this
	// position. 0 means do not extend.
	Final int64 `yaml:"final"`
}

// MaxGridPosition bounds counters, Interval and Final. Any grid position
// then stays below 1<<62, so stepping the grid cannot overflow int64.
const MaxGridPosition = 1 << 61

// DefaultGridOptions returns the default grid.
func DefaultGridOptions() GridOptions {
	return GridOptions{Interval: 10}
}

// Validate rejects grids the normalizer cannot walk.
func (o GridOptions) Validate() error {
	if o.Interval <= 0 || o.Interval > MaxGridPosition {
		return newArgumentError("interval", fmt.Sprint(o.Interval), ErrInvalidInterval)
	}
	if o.Final < 0 || o.Final > MaxGridPosition {
		return newArgumentError("final", fmt.Sprint(o.Final), ErrInvalidFinal)
	}
	return nil
}

// Phase is the coarse state of the normalizer.
type Phase int

const (
	// AwaitingFirst means no numeric record has been read yet.
	AwaitingFirst Phase = iota
	// InReplicate means a replicate is being resampled.
	InReplicate
)

func (p Phase) String() string {
	switch p {
	case AwaitingFirst:
		return "awaiting-first"
	case InReplicate:
		return "in-replicate"
	default:
		return "unknown"
	}
}

// State is the carry-forward state of the normalizer between lines.
// The zero value is ready to use.
type State struct {
	Phase Phase
	// LastPrinted is the last grid position emitted for the current
	// replicate, or 1-Interval before the first emission.
	LastPrinted int64
	// LastRead is the counter of the most recent numeric record.
	LastRead int64
	// LastPayload is the payload of the most recent numeric record.
	LastPayload string
	// Replicate counts the replicates started so far.
	Replicate int
}

// pending reports whether a read value has not reached the grid yet.
func (s *State) pending() bool {
	return s.Phase == InReplicate && s.LastPrinted < s.LastRead
}

// flush emits the pending value one step past LastPrinted.
func (s *State) flush(out []Record, interval int64) []Record {
	if !s.pending() {
		return out
	}
	s.LastPrinted += interval
	return append(out, gridRecord(s.LastPrinted, s.LastPayload))
}

// extend carries LastPayload forward up to and including final.
func (s *State) extend(out []Record, interval, final int64) []Record {
	if s.Phase != InReplicate {
		return out
	}
	for pos := s.LastPrinted + interval; pos <= final; pos += interval {
		out = append(out, gridRecord(pos, s.LastPayload))
		s.LastPrinted = pos
	}
	return out
}

// start opens a replicate at rec, filling the grid from 1 through rec.Counter.
func (s *State) start(out []Record, rec Record, interval int64) []Record {
	s.Phase = InReplicate
	s.Replicate++
	s.LastPrinted = 1 - interval
	for pos := int64(1); pos <= rec.Counter; pos += interval {
		out = append(out, gridRecord(pos, rec.Payload))
		s.LastPrinted = pos
	}
	s.LastPayload = rec.Payload
	s.LastRead = rec.Counter
	return out
}

// Advance is the transition function of the normalizer: it consumes one
// record and returns the next state and the records to emit, in order.
// opts must have been validated.
func Advance(st State, rec Record, opts GridOptions) (State, []Record) {
	var out []Record
	iv := opts.Interval

	if !rec.Numeric {
		out = st.flush(out, iv)
		if rec.Blank() {
			out = st.extend(out, iv, opts.Final)
		}
		return st, append(out, rec)
	}

	if st.Phase == AwaitingFirst {
		out = st.start(out, rec, iv)
		return st, out
	}

	c := rec.Counter
	if c < st.LastPrinted && st.pending() {
		out = st.flush(out, iv)
	}
	restart := c < st.LastRead
	if restart {
		out = st.extend(out, iv, opts.Final)
	}
	if c == 1 || restart {
		out = st.start(out, rec, iv)
		return st, out
	}

	steps := c - st.LastPrinted
	switch {
	case steps < iv:
		st.LastPayload = rec.Payload
		st.LastRead = c
	case steps == iv:
		out = append(out, rec)
		st.LastPrinted = c
		st.LastRead = c
		st.LastPayload = rec.Payload
	default:
		for pos := st.LastPrinted + iv; pos < c; pos += iv {
			out = append(out, gridRecord(pos, st.LastPayload))
			st.LastPrinted = pos
		}
		st.LastPayload = rec.Payload
		st.LastRead = c
		if c-st.LastPrinted == iv {
			out = append(out, rec)
			st.LastPrinted = c
		}
	}
	return st, out
}

// Finish is the end-of-stream transition.
func Finish(st State, opts GridOptions) (State, []Record) {
	var out []Record
	out = st.flush(out, opts.Interval)
	out = st.extend(out, opts.Interval, opts.Final)
	return st, out
}

// NormalizeStats summarizes one Normalize call.
type NormalizeStats struct {
	Lines      int
	Replicates int
	Records    int
}

// Normalize resamples every replicate in r onto the grid described by opts
// and writes the result to w. It reads r once and holds one line at a time.
func Normalize(ctx context.Context, r io.Reader, w io.Writer, opts GridOptions) (NormalizeStats, error) {
	var ns NormalizeStats
	if err := opts.Validate(); err != nil {
		return ns, err
	}

	bw := bufio.NewWriter(w)
	emit := func(recs []Record) error {
		for _, rec := range recs {
			if rec.Numeric {
				ns.Records++
			}
			if _, err := bw.WriteString(rec.Text); err != nil {
				return fmt.Errorf("write normalized output: %w", err)
			}
			if err := bw.WriteByte('\n'); err != nil {
				return fmt.Errorf("write normalized output: %w", err)
			}
		}
		return nil
	}

	var st State
	err := scanLines(ctx, r, func(line string) error {
		ns.Lines++
		prev := st.Replicate
		var out []Record
		st, out = Advance(st, ParseRecord(line), opts)
		if st.Replicate != prev {
			slog.Debug("replicate started", "replicate", st.Replicate, "line", ns.Lines)
		}
		return emit(out)
	})
	if err != nil {
		return ns, err
	}

	st, out := Finish(st, opts)
	if err := emit(out); err != nil {
		return ns, err
	}
	if err := bw.Flush(); err != nil {
		return ns, fmt.Errorf("write normalized output: %w", err)
	}
	ns.Replicates = st.Replicate
	return ns, nil
}

// scanLines calls fn for every line of r without its line terminator.
// Lines have no length limit.
func scanLines(ctx context.Context, r io.Reader, fn func(line string) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if ferr := fn(strings.TrimRight(line, "\r\n")); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	}
}
