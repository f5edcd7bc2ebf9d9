package fevalgrid

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/copasi-utils/fevalgrid/internal/stats"
)

// StatsHeader is the header line of a statistics table.
const StatsHeader = "#fevals\tMean\tStd dev\tN\tMin\tMax"

// Row is one grid position of a statistics table.
type Row struct {
	Position int64
	Mean     float64
	Stdev    float64
	Count    int
	Min      float64
	Max      float64
}

// Table holds cross-replicate statistics keyed by ordinal grid index.
//
// Replicates are aligned by the ordinal position of a record within its
// replicate, not by counter value, so every replicate must come from the
// same grid. A shorter replicate only contributes to a prefix of the rows.
type Table struct {
	series     *stats.Series
	Replicates int
	Records    int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{series: stats.NewSeries(64)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return t.series.Len()
}

// Rows returns the table rows in grid order.
func (t *Table) Rows() []Row {
	slots := t.series.Slots()
	rows := make([]Row, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, Row{
			Position: s.Position,
			Mean:     s.Acc.Mean,
			Stdev:    s.Acc.Stdev(),
			Count:    s.Acc.Count,
			Min:      s.Acc.Min,
			Max:      s.Acc.Max,
		})
	}
	return rows
}

// WriteTSV writes the table as tab-separated text with StatsHeader.
func (t *Table) WriteTSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(StatsHeader)
	bw.WriteByte('\n')
	for _, r := range t.Rows() {
		fmt.Fprintf(bw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			r.Position, formatFloat(r.Mean), formatFloat(r.Stdev), r.Count,
			formatFloat(r.Min), formatFloat(r.Max))
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write statistics: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// aggregator is the per-call state of Aggregate.
type aggregator struct {
	table   *Table
	started bool
	n       int
	last    int64
}

func (a *aggregator) add(rec Record) {
	v, ok := rec.Value()
	if !ok {
		return
	}
	if !a.started || rec.Counter < a.last {
		a.started = true
		a.table.Replicates++
		a.n = 0
	} else {
		a.n++
	}
	a.last = rec.Counter
	a.table.series.Add(a.n, rec.Counter, v)
	a.table.Records++
}

// Aggregate computes per-position statistics across the replicates of a
// normalized stream. A counter decrease starts a new replicate; other
// non-numeric lines are ignored.
func Aggregate(ctx context.Context, r io.Reader) (*Table, error) {
	a := &aggregator{table: NewTable()}
	err := scanLines(ctx, r, func(line string) error {
		a.add(ParseRecord(line))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.table, nil
}
