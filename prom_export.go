package fevalgrid

import (
	"fmt"
	"sort"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// PromExportConfig configures export of statistics as a Prometheus
// remote-write payload.
type PromExportConfig struct {
	// Path is the location the snappy-compressed WriteRequest is written to.
	Path string `yaml:"path"`

	// Metric is the series name prefix.
	// Default: feval_progress.
	Metric string `yaml:"metric"`

	// Labels are attached to every series.
	Labels map[string]string `yaml:"labels"`
}

// DefaultPromMetric is the series name prefix used when none is configured.
const DefaultPromMetric = "feval_progress"

var promStats = []struct {
	suffix string
	value  func(Row) float64
}{
	{"mean", func(r Row) float64 { return r.Mean }},
	{"stdev", func(r Row) float64 { return r.Stdev }},
	{"count", func(r Row) float64 { return float64(r.Count) }},
	{"min", func(r Row) float64 { return r.Min }},
	{"max", func(r Row) float64 { return r.Max }},
}

// BuildWriteRequest converts a statistics table into one series per
// statistic. The sample timestamp is the grid position, so the x axis of a
// dashboard is the function evaluation counter.
func BuildWriteRequest(t *Table, metric string, labels map[string]string) *prompb.WriteRequest {
	if metric == "" {
		metric = DefaultPromMetric
	}
	rows := t.Rows()
	req := &prompb.WriteRequest{Timeseries: make([]prompb.TimeSeries, 0, len(promStats))}
	for _, st := range promStats {
		ls := make([]prompb.Label, 0, len(labels)+1)
		ls = append(ls, prompb.Label{Name: "__name__", Value: metric + "_" + st.suffix})
		for k, v := range labels {
			ls = append(ls, prompb.Label{Name: k, Value: v})
		}
		sort.Slice(ls, func(i, j int) bool { return ls[i].Name < ls[j].Name })

		samples := make([]prompb.Sample, 0, len(rows))
		for _, r := range rows {
			samples = append(samples, prompb.Sample{Value: st.value(r), Timestamp: r.Position})
		}
		req.Timeseries = append(req.Timeseries, prompb.TimeSeries{Labels: ls, Samples: samples})
	}
	return req
}

// EncodeWriteRequest marshals req and compresses it with snappy block
// encoding, the remote-write wire format.
func EncodeWriteRequest(req *prompb.WriteRequest) ([]byte, error) {
	data, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal write request: %w", err)
	}
	return snappy.Encode(nil, data), nil
}

// DecodeWriteRequest reverses EncodeWriteRequest.
func DecodeWriteRequest(b []byte) (*prompb.WriteRequest, error) {
	decoded, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, fmt.Errorf("decode snappy: %w", err)
	}
	var req prompb.WriteRequest
	if err := req.Unmarshal(decoded); err != nil {
		return nil, fmt.Errorf("unmarshal write request: %w", err)
	}
	return &req, nil
}
