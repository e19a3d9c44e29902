package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := &Logger{
		areaEnabled:   make(map[LogArea]*int32),
		logPath:       filepath.Join(t.TempDir(), "debug.log"),
		maxSizeMB:     1,
		rotationCount: 2,
		enabled:       1,
		level:         int32(INFO),
	}
	for _, area := range allAreas {
		l.areaEnabled[area] = new(int32)
	}
	if err := l.openLogFile(); err != nil {
		t.Fatalf("openLogFile: %v", err)
	}
	t.Cleanup(func() { l.file.Close() })
	return l
}

func TestAreaFiltering(t *testing.T) {
	l := newTestLogger(t)
	if l.shouldLog(INFO, AreaRoom) {
		t.Error("disabled area should not log")
	}
	*l.areaEnabled[AreaRoom] = 1
	if !l.shouldLog(INFO, AreaRoom) {
		t.Error("enabled area should log")
	}
	if l.shouldLog(DEBUG, AreaRoom) {
		t.Error("entries below the level should be dropped")
	}
	if l.shouldLog(INFO, LogArea("unknown")) {
		t.Error("unknown areas should not log")
	}
}

func TestWriteAndRotate(t *testing.T) {
	l := newTestLogger(t)
	l.writeLog(INFO, AreaRoom, "level %d loaded", 3)

	data, err := os.ReadFile(l.logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[ROOM] level 3 loaded") {
		t.Errorf("unexpected entry: %q", data)
	}

	l.mutex.Lock()
	err = l.rotateLogFile()
	l.mutex.Unlock()
	if err != nil {
		t.Fatalf("rotateLogFile: %v", err)
	}
	if _, err := os.Stat(l.logPath + ".1"); err != nil {
		t.Errorf("rotated file missing: %v", err)
	}
	if l.currentSize != 0 {
		t.Errorf("size after rotation = %d", l.currentSize)
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{"debug": DEBUG, "WARN": WARN, "error": ERROR, "bogus": INFO} {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
