// Package testutil contains common test utilities.
package testutil

import (
	"os"
	"strconv"
	"testing"
	"time"
)

// InTempDir changes into a new temporary directory for the duration of the
// test.
func InTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
	return dir
}

// MustWriteFile writes data to the named file, panicking on error.
func MustWriteFile(filename, data string) {
	err := os.WriteFile(filename, []byte(data), 0600)
	if err != nil {
		panic(err)
	}
}

// Scaled scales a time duration by the TEST_TIME_SCALE environment variable,
// defaulting to 1. It is useful for tests with timeouts that would be flaky
// on slow machines.
func Scaled(d time.Duration) time.Duration {
	env := os.Getenv("TEST_TIME_SCALE")
	if env == "" {
		return d
	}
	scale, err := strconv.ParseFloat(env, 64)
	if err != nil || scale <= 0 {
		return d
	}
	return time.Duration(float64(d) * scale)
}
