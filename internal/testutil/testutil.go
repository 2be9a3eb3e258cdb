// Package testutil implements testing utilities shared across veloxdb's
// internal packages.
package testutil

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
)

// LogWriter returns an io.Writer that logs each Write using t.Log.
func LogWriter(t *testing.T) io.Writer {
	return testWriter{t}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(b []byte) (int, error) {
	w.t.Logf("%s", b)
	return len(b), nil
}

// Slogger returns a *slog.Logger that writes each message using t.Log.
func Slogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(LogWriter(t), nil))
}

// SlogBuffer returns a *slog.Logger that writes each message to out, for
// tests that need to assert on logged fields.
func SlogBuffer() (lg *slog.Logger, out *bytes.Buffer) {
	var buf bytes.Buffer
	lg = slog.New(slog.NewTextHandler(&buf, nil))
	return lg, &buf
}

// StopPanic runs f but silently recovers from any panic f causes.
func StopPanic(f func()) {
	defer func() { recover() }()
	f()
}

// Check calls t.Fatal(err) if err is not nil.
func Check(t *testing.T, err error) {
	if err != nil {
		t.Helper()
		t.Fatal(err)
	}
}

// Checker returns a check function that calls t.Fatal if err is not nil.
func Checker(t *testing.T) (check func(err error)) {
	return func(err error) {
		if err != nil {
			t.Helper()
			t.Fatal(err)
		}
	}
}

// TempDir returns a fresh temporary directory that is removed when the
// test completes, used by storage-engine tests that need a real
// filesystem for the WAL and SSTable files.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// ExpectLog checks if the message is present in buf exactly n times, and
// calls t.Error if not.
func ExpectLog(t *testing.T, buf *bytes.Buffer, message string, n int) {
	t.Helper()
	if mentions := bytes.Count(buf.Bytes(), []byte(message)); mentions != n {
		t.Errorf("logs mention %q %d times, want %d mentions:\n%s", message, mentions, n, buf.Bytes())
	}
}
