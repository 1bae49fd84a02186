// Package timing decodes script(1) timing files into timestamped log
// segments. The in-pod builder runs commands under
// `script --log-out logs.txt --log-timing timings.txt`; the timing file
// records one "{seconds} {length}" pair per output burst, which this
// package joins back against the raw log text.
package timing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Entry is one decoded timing line: the wall-clock moment a burst was
// written and its signed byte length. Negative lengths are cursor
// adjustments emitted by script(1); readers slice |Length| bytes and
// advance the cursor by the signed value.
type Entry struct {
	Timestamp string
	Length    int
}

// Segment pairs a decoded timestamp with the log bytes it covers.
type Segment struct {
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

// LogOffset returns the byte length of the first line of a log file
// plus one for its terminator. script(1) prepends a
// "Script started on ..." banner that the timing entries do not cover.
func LogOffset(logs string) int {
	if i := strings.IndexByte(logs, '\n'); i >= 0 {
		return i + 1
	}
	return len(logs)
}

// Parse decodes a timing file. Each non-empty line is a
// space-separated "{seconds} {length}" pair where seconds is the
// floating-point delta since start. Timestamps are rendered ISO-8601
// with an explicit +00:00 offset.
func Parse(timings string, start time.Time) ([]Entry, error) {
	var entries []Entry
	for _, line := range strings.Split(timings, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed timing line %q", line)
		}
		seconds, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("timing seconds %q: %w", fields[0], err)
		}
		length, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("timing length %q: %w", fields[1], err)
		}
		at := start.Add(time.Duration(seconds * float64(time.Second)))
		entries = append(entries, Entry{
			Timestamp: FormatTimestamp(at),
			Length:    length,
		})
	}
	return entries, nil
}

// Segments joins a complete log file with its timing file. The banner
// line is skipped via LogOffset; each entry slices |Length| bytes from
// the current cursor and advances by the signed length.
func Segments(logs, timings string, start time.Time) ([]Segment, error) {
	entries, err := Parse(timings, start)
	if err != nil {
		return nil, err
	}
	intro := LogOffset(logs)
	var out []Segment
	cursor := 0
	for _, e := range entries {
		size := e.Length
		if size < 0 {
			size = -size
		}
		from := intro + cursor
		if from < 0 {
			from = 0
		}
		if from > len(logs) {
			break
		}
		to := from + size
		if to > len(logs) {
			to = len(logs)
		}
		out = append(out, Segment{Timestamp: e.Timestamp, Content: logs[from:to]})
		cursor += e.Length
		// The timing file comes from inside the pod; a run of negative
		// adjustments must never rewind past the start of the log.
		if intro+cursor < 0 {
			cursor = -intro
		}
	}
	return out, nil
}

// FormatTimestamp renders t in UTC as ISO-8601 with a +00:00 offset
// rather than the Z shorthand.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000") + "+00:00"
}
