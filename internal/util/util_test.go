package util

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewLoggerTo(t *testing.T) {
	var buf bytes.Buffer

	NewLoggerTo(&buf, "info", "json").Info("hello", "key", "value")
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("json handler produced invalid JSON: %v", err)
	}
	if doc["msg"] != "hello" || doc["key"] != "value" {
		t.Errorf("log record = %v, want msg=hello key=value", doc)
	}

	buf.Reset()
	NewLoggerTo(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record emitted below warn level: %q", buf.String())
	}
}

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryDirected(t *testing.T) {
	attempts := 0

	err := RetryDirected(context.Background(), 5, 0, func() (time.Duration, bool, error) {
		attempts++
		if attempts < 2 {
			return time.Millisecond, false, errors.New("busy, come back later")
		}
		return 0, false, nil
	})

	if err != nil {
		t.Fatalf("RetryDirected returned unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("RetryDirected called fn %d times, want 2", attempts)
	}
}

func TestRetryDirectedTerminal(t *testing.T) {
	attempts := 0
	terminal := errors.New("captcha required")

	err := RetryDirected(context.Background(), 5, 0, func() (time.Duration, bool, error) {
		attempts++
		return 0, true, terminal
	})

	if !errors.Is(err, terminal) {
		t.Fatalf("RetryDirected error = %v, want terminal error", err)
	}
	if attempts != 1 {
		t.Errorf("RetryDirected called fn %d times after terminal failure, want 1", attempts)
	}
}

func TestPreviousBusinessDay(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		// Wednesday minus two days is Monday.
		{"midweek", time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC), time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)},
		// Monday minus two days is Saturday; walk back to Friday.
		{"monday", time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC), time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)},
		// Sunday minus two days is Friday already.
		{"sunday", time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC), time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		got := PreviousBusinessDay(c.now)
		if !got.Equal(c.want) {
			t.Errorf("%s: PreviousBusinessDay(%s) = %s, want %s", c.name, c.now.Format("2006-01-02"), got.Format("2006-01-02"), c.want.Format("2006-01-02"))
		}
	}
}
