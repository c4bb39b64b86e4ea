package utils

import (
	"testing"
	"time"
)

func TestFormatWait(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{300 * time.Millisecond, "1s"},
		{19*time.Second + time.Millisecond, "20s"},
		{45 * time.Second, "45s"},
		{125 * time.Second, "2:05"},
		{time.Hour, "1:00:00"},
		{time.Hour + 61*time.Second, "1:01:01"},
	}
	for _, tt := range tests {
		if got := FormatWait(tt.in); got != tt.want {
			t.Errorf("FormatWait(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
