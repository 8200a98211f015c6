package config

import (
	"testing"
	"time"
)

func TestStringEnv(t *testing.T) {
	t.Setenv("STREAM_TEST_ADDR", "  127.0.0.1:6379  ")
	if got := StringEnv("STREAM_TEST_ADDR", "fallback"); got != "127.0.0.1:6379" {
		t.Errorf("got %q", got)
	}
	if got := StringEnv("STREAM_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("STREAM_TEST_CAP", "512")
	if got := ParseIntEnv("STREAM_TEST_CAP", 256); got != 512 {
		t.Errorf("got %d", got)
	}
	t.Setenv("STREAM_TEST_CAP", "not a number")
	if got := ParseIntEnv("STREAM_TEST_CAP", 256); got != 256 {
		t.Errorf("got %d", got)
	}
	if got := ParseIntEnv("STREAM_TEST_MISSING", 256); got != 256 {
		t.Errorf("got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("STREAM_TEST_PING", "250ms")
	if got := ParseDurationEnv("STREAM_TEST_PING", time.Second); got != 250*time.Millisecond {
		t.Errorf("got %v", got)
	}
	t.Setenv("STREAM_TEST_PING", "soon")
	if got := ParseDurationEnv("STREAM_TEST_PING", time.Second); got != time.Second {
		t.Errorf("got %v", got)
	}
}

func TestParseBoolString(t *testing.T) {
	cases := []struct {
		raw      string
		fallback bool
		want     bool
	}{
		{"1", false, true},
		{"TRUE", false, true},
		{" yes ", false, true},
		{"on", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
		{"", false, false},
	}
	for _, tc := range cases {
		if got := ParseBoolString(tc.raw, tc.fallback); got != tc.want {
			t.Errorf("ParseBoolString(%q, %v) = %v, want %v", tc.raw, tc.fallback, got, tc.want)
		}
	}
}
