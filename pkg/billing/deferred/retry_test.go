package deferred

import (
	"testing"
	"time"
)

func TestRetryPolicy_NextDelay(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay: 30 * time.Second,
		MaxDelay:     time.Hour,
		Multiplier:   2,
		MaxAttempts:  12,
	}
	// zero jitter; bounds keep the test independent of float rounding
	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{8, time.Hour},
		{20, time.Hour},
	}

	for _, tt := range tests {
		got := policy.NextDelay(tt.attempt)
		low := time.Duration(float64(tt.base) * 0.9)
		high := time.Duration(float64(tt.base) * 1.1)
		if got < low || got > high {
			t.Errorf("NextDelay(%d) = %v, want within [%v, %v]", tt.attempt, got, low, high)
		}
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	var policy RetryPolicy

	if d := policy.NextDelay(0); d < 27*time.Second || d > 33*time.Second {
		t.Errorf("default first delay = %v, want about 30s", d)
	}
	if policy.Exhausted(11) {
		t.Error("11 attempts should not exhaust the default policy")
	}
	if !policy.Exhausted(12) {
		t.Error("12 attempts should exhaust the default policy")
	}
}
