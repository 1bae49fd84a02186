package timing

import (
	"strings"
	"testing"
	"time"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLogOffset(t *testing.T) {
	tests := []struct {
		logs string
		want int
	}{
		{"Script started on 2025-03-01\nhello", 29},
		{"banner\n", 7},
		{"no newline at all", 17},
		{"", 0},
	}
	for _, tt := range tests {
		if got := LogOffset(tt.logs); got != tt.want {
			t.Errorf("LogOffset(%q) = %d, want %d", tt.logs, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	entries, err := Parse("0.5 5\n1.25 3\n\n2 -2\n", testStart)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Timestamp != "2025-03-01T12:00:00.500000+00:00" {
		t.Errorf("entries[0].Timestamp = %q", entries[0].Timestamp)
	}
	if entries[0].Length != 5 {
		t.Errorf("entries[0].Length = %d", entries[0].Length)
	}
	if entries[1].Timestamp != "2025-03-01T12:00:01.250000+00:00" {
		t.Errorf("entries[1].Timestamp = %q", entries[1].Timestamp)
	}
	if entries[2].Length != -2 {
		t.Errorf("entries[2].Length = %d, want -2", entries[2].Length)
	}
}

func TestParse_OffsetIsNotZulu(t *testing.T) {
	entries, err := Parse("0 1", testStart)
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasSuffix(entries[0].Timestamp, "Z") {
		t.Errorf("timestamp %q uses Z shorthand, want +00:00", entries[0].Timestamp)
	}
	if !strings.HasSuffix(entries[0].Timestamp, "+00:00") {
		t.Errorf("timestamp %q missing +00:00 offset", entries[0].Timestamp)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, timings := range []string{"notanumber 5", "0.5", "0.5 x"} {
		if _, err := Parse(timings, testStart); err == nil {
			t.Errorf("Parse(%q): expected error", timings)
		}
	}
}

func TestSegments(t *testing.T) {
	logs := "Script started\nhelloworld!"
	timings := "0.1 5\n0.2 5\n0.3 1\n"
	segs, err := Segments(logs, timings, testStart)
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	if segs[0].Content != "hello" || segs[1].Content != "world" || segs[2].Content != "!" {
		t.Errorf("contents = %q %q %q", segs[0].Content, segs[1].Content, segs[2].Content)
	}
}

func TestSegments_NegativeLengthAdjustsCursor(t *testing.T) {
	logs := "banner\nabcdef"
	// Read 4, back up 2, read 4 again: "abcd", "cd", "cdef".
	timings := "0.1 4\n0.2 -2\n0.3 4\n"
	segs, err := Segments(logs, timings, testStart)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	if segs[0].Content != "abcd" {
		t.Errorf("segs[0] = %q", segs[0].Content)
	}
	if segs[2].Content != "cdef" {
		t.Errorf("segs[2] = %q", segs[2].Content)
	}
}

func TestSegments_NegativeCursorClamped(t *testing.T) {
	// A leading negative entry drives the cursor below the log start;
	// the reader clamps to the beginning instead of panicking.
	segs, err := Segments("ban\nxxxx", "0.1 -5\n0.2 3\n", testStart)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Content != "xxxx" {
		t.Errorf("segs[0] = %q", segs[0].Content)
	}
	if segs[1].Content != "ban" {
		t.Errorf("segs[1] = %q", segs[1].Content)
	}
}

func TestSegments_TruncatedLog(t *testing.T) {
	// Timing file claims more bytes than the log holds; the reader
	// clamps instead of panicking.
	segs, err := Segments("banner\nab", "0.1 10\n", testStart)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0].Content != "ab" {
		t.Errorf("segs = %+v", segs)
	}
}

func TestRoundTrip(t *testing.T) {
	// Render a timing file from known entries and parse it back.
	timings := "0.100000 5\n1.500000 7\n3.250000 -1\n"
	entries, err := Parse(timings, testStart)
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{"2025-03-01T12:00:00.100000+00:00", 5},
		{"2025-03-01T12:00:01.500000+00:00", 7},
		{"2025-03-01T12:00:03.250000+00:00", -1},
	}
	for i, e := range entries {
		if e != want[i] {
			t.Errorf("entries[%d] = %+v, want %+v", i, e, want[i])
		}
	}
}
