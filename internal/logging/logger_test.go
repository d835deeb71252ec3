package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
	if logger.level != LevelInfo {
		t.Errorf("default level = %v, want LevelInfo", logger.level)
	}
	if len(logger.ring) != DefaultRingSize {
		t.Errorf("ring size = %d, want %d", len(logger.ring), DefaultRingSize)
	}
}

func TestLevelFiltering(t *testing.T) {
	logger := NewLogger(&Config{Level: LevelWarn, RingSize: 8})

	logger.Debugf("switch pid %d -> pid %d", 1, 2)
	logger.Infof("pid %d sleeping on %q", 1, "buffer 3")
	logger.Warnf("no free buffers for dev %d block %d", 1, 7)
	logger.Errorf("bad block")

	recs := logger.Records(0)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2 (debug and info filtered)", len(recs))
	}
	if recs[0].Level != LevelWarn || !strings.Contains(recs[0].Msg, "no free buffers") {
		t.Errorf("first record = %+v, want the warn", recs[0])
	}
	if recs[1].Level != LevelError {
		t.Errorf("second record level = %v, want LevelError", recs[1].Level)
	}
}

func TestRingRetainsNewest(t *testing.T) {
	logger := NewLogger(&Config{Level: LevelDebug, RingSize: 4})

	for i := 0; i < 10; i++ {
		logger.Debugf("record %d", i)
	}

	recs := logger.Records(0)
	if len(recs) != 4 {
		t.Fatalf("got %d records, want the 4 newest", len(recs))
	}
	if recs[0].Msg != "record 6" || recs[3].Msg != "record 9" {
		t.Errorf("ring kept %q..%q, want \"record 6\"..\"record 9\"", recs[0].Msg, recs[3].Msg)
	}
	if recs[0].Seq != 7 || recs[3].Seq != 10 {
		t.Errorf("sequences %d..%d, want 7..10", recs[0].Seq, recs[3].Seq)
	}
}

func TestConsoleMirror(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Console: &buf, RingSize: 8})

	logger.Warnf("no free buffers for dev %d block %d", 1, 42)

	if got := buf.String(); got != "[WARN] no free buffers for dev 1 block 42\n" {
		t.Errorf("console output = %q", got)
	}
}

func TestDrainIncremental(t *testing.T) {
	logger := NewLogger(&Config{Level: LevelDebug, RingSize: 8})

	logger.Infof("one")
	logger.Infof("two")

	var buf bytes.Buffer
	last := logger.Drain(&buf, 0)
	if last != 2 {
		t.Errorf("Drain returned %d, want 2", last)
	}
	if buf.String() != "[INFO] one\n[INFO] two\n" {
		t.Errorf("drained %q", buf.String())
	}

	// A second drain from the same point writes only what is new.
	logger.Infof("three")
	buf.Reset()
	last = logger.Drain(&buf, last)
	if last != 3 {
		t.Errorf("Drain returned %d, want 3", last)
	}
	if buf.String() != "[INFO] three\n" {
		t.Errorf("incremental drain got %q", buf.String())
	}

	// Nothing new: no output, cursor unchanged.
	buf.Reset()
	if got := logger.Drain(&buf, last); got != 3 || buf.Len() != 0 {
		t.Errorf("idle drain wrote %q, returned %d", buf.String(), got)
	}
}

func TestSetDefault(t *testing.T) {
	old := Default()
	defer SetDefault(old)

	logger := NewLogger(&Config{Level: LevelDebug, RingSize: 8})
	SetDefault(logger)
	Default().Infof("through the default logger")

	recs := logger.Records(0)
	if len(recs) != 1 || recs[0].Msg != "through the default logger" {
		t.Errorf("default logger not used: %+v", recs)
	}
}
