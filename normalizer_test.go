package fevalgrid

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/copasi-utils/fevalgrid/internal/testutil"
)

func normalizeString(t *testing.T, input string, opts GridOptions) string {
	t.Helper()
	var out bytes.Buffer
	if _, err := Normalize(context.Background(), strings.NewReader(input), &out, opts); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	return out.String()
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		interval int64
		final    int64
		want     string
	}{
		{
			name:     "two replicates separated by blank line",
			input:    "1 10.0\n5 8.0\n\n1 9.0\n6 7.0",
			interval: 5,
			want:     testutil.Lines("1 10.0", "6 8.0", "", "1 9.0", "6 7.0"),
		},
		{
			name:     "regular grid is reproduced",
			input:    testutil.Lines("1 a", "11 b", "21 c", "", "1 d", "11 e"),
			interval: 10,
			want:     testutil.Lines("1 a", "11 b", "21 c", "", "1 d", "11 e"),
		},
		{
			name:     "overshoot fills with previous payload",
			input:    testutil.Lines("1 a", "3 b", "17 c"),
			interval: 5,
			want:     testutil.Lines("1 a", "6 b", "11 b", "16 b", "21 c"),
		},
		{
			name:     "overshoot landing on grid emits record as is",
			input:    testutil.Lines("1 a", "11 b"),
			interval: 5,
			want:     testutil.Lines("1 a", "6 a", "11 b"),
		},
		{
			name:     "final extends last replicate",
			input:    testutil.Lines("1 a", "7 b"),
			interval: 5,
			final:    20,
			want:     testutil.Lines("1 a", "6 a", "11 b", "16 b"),
		},
		{
			name:     "final below last counter has no effect",
			input:    testutil.Lines("1 a", "7 b"),
			interval: 5,
			final:    5,
			want:     testutil.Lines("1 a", "6 a", "11 b"),
		},
		{
			name:     "restart without delimiter extends previous replicate",
			input:    testutil.Lines("1 a", "6 b", "1 c", "6 d"),
			interval: 5,
			final:    11,
			want:     testutil.Lines("1 a", "6 b", "11 b", "1 c", "6 d", "11 d"),
		},
		{
			name:     "restart flushes pending value",
			input:    testutil.Lines("1 a", "8 b", "2 c"),
			interval: 5,
			want:     testutil.Lines("1 a", "6 a", "11 b", "1 c", "6 c"),
		},
		{
			name:     "blank line closes replicate up to final",
			input:    testutil.Lines("1 a", "4 b", "", "1 c"),
			interval: 5,
			final:    16,
			want:     testutil.Lines("1 a", "6 b", "11 b", "16 b", "", "1 c", "6 c", "11 c", "16 c"),
		},
		{
			name:     "restart above one back-fills the grid",
			input:    testutil.Lines("1 a", "11 b", "7 c"),
			interval: 5,
			want:     testutil.Lines("1 a", "6 a", "11 b", "1 c", "6 c", "11 c"),
		},
		{
			name:     "replicate starting at zero",
			input:    testutil.Lines("0 a", "3 b"),
			interval: 5,
			want:     testutil.Lines("1 a", "6 b"),
		},
		{
			name:     "annotations pass through",
			input:    testutil.Lines("# Evals\tBest", "1 a", "3 b"),
			interval: 5,
			want:     testutil.Lines("# Evals\tBest", "1 a", "6 b"),
		},
		{
			name:     "no numeric records",
			input:    testutil.Lines("# header", "", "text"),
			interval: 5,
			final:    30,
			want:     testutil.Lines("# header", "", "text"),
		},
		{
			name:     "empty input",
			input:    "",
			interval: 10,
			want:     "",
		},
		{
			name:     "crlf line endings",
			input:    "1 a\r\n11 b\r\n",
			interval: 10,
			want:     testutil.Lines("1 a", "11 b"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeString(t, tt.input, GridOptions{Interval: tt.interval, Final: tt.final})
			if got != tt.want {
				t.Errorf("unexpected output\n got: %q\nwant: %q", got, tt.want)
			}
		})
	}
}

func TestAdvanceTransitions(t *testing.T) {
	opts := GridOptions{Interval: 5}

	st, out := Advance(State{}, ParseRecord("1 10.0"), opts)
	if st.Phase != InReplicate {
		t.Fatalf("expected InReplicate, got %s", st.Phase)
	}
	if len(out) != 1 || out[0].Text != "1 10.0" {
		t.Fatalf("unexpected emission %v", out)
	}

	st, out = Advance(st, ParseRecord("3 9.0"), opts)
	if len(out) != 0 {
		t.Fatalf("expected no emission below interval, got %v", out)
	}
	if st.LastRead != 3 || st.LastPayload != " 9.0" || st.LastPrinted != 1 {
		t.Fatalf("unexpected state %+v", st)
	}

	st, out = Advance(st, ParseRecord("# note"), opts)
	if len(out) != 2 || out[0].Text != "6 9.0" || out[1].Text != "# note" {
		t.Fatalf("expected flush then passthrough, got %v", out)
	}
	if st.LastPrinted != 6 {
		t.Errorf("expected LastPrinted 6, got %d", st.LastPrinted)
	}

	_, out = Finish(st, opts)
	if len(out) != 0 {
		t.Errorf("expected nothing pending at end, got %v", out)
	}
}

func TestAdvanceDoesNotMutateInput(t *testing.T) {
	opts := GridOptions{Interval: 5}
	st, _ := Advance(State{}, ParseRecord("1 a"), opts)
	before := st
	Advance(st, ParseRecord("20 b"), opts)
	if st != before {
		t.Errorf("state changed: %+v -> %+v", before, st)
	}
}

func TestFinishAwaitingFirst(t *testing.T) {
	_, out := Finish(State{}, GridOptions{Interval: 5, Final: 100})
	if len(out) != 0 {
		t.Errorf("expected no output before first record, got %v", out)
	}
}

func TestNormalizeStats(t *testing.T) {
	var out bytes.Buffer
	ns, err := Normalize(context.Background(),
		strings.NewReader(testutil.Lines("1 a", "8 b", "", "1 c", "3 d", "1 e")),
		&out, GridOptions{Interval: 5})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ns.Lines != 6 {
		t.Errorf("expected 6 lines, got %d", ns.Lines)
	}
	if ns.Replicates != 3 {
		t.Errorf("expected 3 replicates, got %d", ns.Replicates)
	}
	if ns.Records != strings.Count(out.String(), "\n")-1 {
		t.Errorf("record count %d does not match output %q", ns.Records, out.String())
	}
}

func TestNormalizeRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts GridOptions
		want error
	}{
		{"zero interval", GridOptions{Interval: 0}, ErrInvalidInterval},
		{"negative interval", GridOptions{Interval: -5}, ErrInvalidInterval},
		{"negative final", GridOptions{Interval: 5, Final: -1}, ErrInvalidFinal},
		{"max int interval", GridOptions{Interval: math.MaxInt64}, ErrInvalidInterval},
		{"interval above bound", GridOptions{Interval: MaxGridPosition + 1}, ErrInvalidInterval},
		{"max int final", GridOptions{Interval: 5, Final: math.MaxInt64}, ErrInvalidFinal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			_, err := Normalize(context.Background(), strings.NewReader("1 a\n"), &out, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !IsArgumentError(err) {
				t.Errorf("expected argument error, got %T", err)
			}
			if out.Len() != 0 {
				t.Errorf("expected no partial output, got %q", out.String())
			}
		})
	}
}

func TestNormalizeLargeGrid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  GridOptions
		want  string
	}{
		{
			name:  "widest interval",
			input: testutil.Lines("1 a", "5 b"),
			opts:  GridOptions{Interval: MaxGridPosition},
			want:  testutil.Lines("1 a", "2305843009213693953 b"),
		},
		{
			name:  "widest interval with final",
			input: testutil.Lines("1 a", "5 b"),
			opts:  GridOptions{Interval: MaxGridPosition, Final: MaxGridPosition},
			want:  testutil.Lines("1 a", "2305843009213693953 b"),
		},
		{
			name:  "counter at bound",
			input: testutil.Lines("1 a", "2305843009213693952 b"),
			opts:  GridOptions{Interval: MaxGridPosition},
			want:  testutil.Lines("1 a", "2305843009213693953 b"),
		},
		{
			name:  "counter above bound passes through",
			input: testutil.Lines("1 a", "2305843009213693953 b"),
			opts:  GridOptions{Interval: MaxGridPosition},
			want:  testutil.Lines("1 a", "2305843009213693953 b"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeString(t, tt.input, tt.opts)
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			prev := int64(math.MinInt64)
			for _, line := range strings.Split(strings.TrimSuffix(got, "\n"), "\n") {
				rec := ParseRecord(line)
				if !rec.Numeric {
					continue
				}
				if rec.Counter <= prev || (rec.Counter-1)%tt.opts.Interval != 0 {
					t.Fatalf("position %d breaks the grid after %d", rec.Counter, prev)
				}
				prev = rec.Counter
			}
		})
	}
}

func TestNormalizeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Normalize(ctx, strings.NewReader("1 a\n"), &bytes.Buffer{}, DefaultGridOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// randomRunLog builds replicates that start at 1 with strictly increasing
// counters, separated by blank lines.
func randomRunLog(rng *rand.Rand, replicates int) string {
	var b strings.Builder
	for r := 0; r < replicates; r++ {
		if r > 0 {
			b.WriteString("\n")
		}
		c := int64(1)
		for i := 0; i < 1+rng.Intn(30); i++ {
			b.WriteString(strconv.FormatInt(c, 10))
			b.WriteString(" ")
			b.WriteString(strconv.FormatFloat(rng.Float64()*100, 'f', 3, 64))
			b.WriteString("\n")
			c += 1 + int64(rng.Intn(40))
		}
	}
	return b.String()
}

func TestNormalizeGridProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		interval := int64(1 + rng.Intn(15))
		final := int64(0)
		if rng.Intn(2) == 0 {
			final = int64(rng.Intn(400))
		}
		input := randomRunLog(rng, 1+rng.Intn(4))
		got := normalizeString(t, input, GridOptions{Interval: interval, Final: final})

		blocks := strings.Split(strings.TrimSuffix(got, "\n"), "\n\n")
		for _, block := range blocks {
			prev := int64(0)
			for _, line := range strings.Split(block, "\n") {
				rec := ParseRecord(line)
				if !rec.Numeric {
					t.Fatalf("unexpected non-numeric line %q in %q", line, got)
				}
				if (rec.Counter-1)%interval != 0 {
					t.Fatalf("position %d is off the grid (interval %d)", rec.Counter, interval)
				}
				if rec.Counter <= prev {
					t.Fatalf("positions not increasing: %d after %d", rec.Counter, prev)
				}
				prev = rec.Counter
			}
			if final > 0 && prev+interval <= final {
				t.Fatalf("replicate ends at %d, short of final %d (interval %d)", prev, final, interval)
			}
		}
	}
}

func TestNormalizeIdempotentOnGrid(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		interval := int64(1 + rng.Intn(10))
		once := normalizeString(t, randomRunLog(rng, 3), GridOptions{Interval: interval})
		twice := normalizeString(t, once, GridOptions{Interval: interval})
		if once != twice {
			t.Fatalf("normalizing a regular grid changed it\nonce:  %q\ntwice: %q", once, twice)
		}
	}
}
