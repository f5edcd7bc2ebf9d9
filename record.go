package fevalgrid

import (
	"strconv"
	"strings"
)

// Record is one line of a run log.
type Record struct {
	// Numeric is true when the line starts with a decimal counter.
	Numeric bool
	// Counter is the function evaluation counter of a numeric record.
	Counter int64
	// Payload is the verbatim rest of a numeric line after the counter.
	Payload string
	// Text is the original line.
	Text string
}

// ParseRecord classifies a single line (without its trailing newline).
// Counters above MaxGridPosition make the line non-numeric.
func ParseRecord(line string) Record {
	end := 0
	for end < len(line) && line[end] >= '0' && line[end] <= '9' {
		end++
	}
	if end == 0 {
		return Record{Text: line}
	}
	c, err := strconv.ParseInt(line[:end], 10, 64)
	if err != nil || c > MaxGridPosition {
		return Record{Text: line}
	}
	return Record{Numeric: true, Counter: c, Payload: line[end:], Text: line}
}

// gridRecord synthesizes a numeric record at position carrying payload.
func gridRecord(position int64, payload string) Record {
	return Record{
		Numeric: true,
		Counter: position,
		Payload: payload,
		Text:    strconv.FormatInt(position, 10) + payload,
	}
}

// Blank reports whether the line is empty or whitespace-only.
func (r Record) Blank() bool {
	return !r.Numeric && strings.TrimSpace(r.Text) == ""
}

// Value returns the first payload column as a float.
func (r Record) Value() (float64, bool) {
	if !r.Numeric || r.Payload == "" || (r.Payload[0] != ' ' && r.Payload[0] != '\t') {
		return 0, false
	}
	fields := strings.Fields(r.Payload)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// String renders the record as an output line.
func (r Record) String() string {
	return r.Text
}
