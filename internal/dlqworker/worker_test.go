package dlqworker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBackoffDelay(t *testing.T) {
	testCases := []struct {
		name        string
		retryCount  int
		baseMinutes int
		maxMinutes  int
		expected    time.Duration
	}{
		{"zero retries uses base", 0, 1, 15, 1 * time.Minute},
		{"negative retries uses base", -1, 1, 15, 1 * time.Minute},
		{"first retry", 1, 1, 15, 1 * time.Minute},
		{"second retry doubles", 2, 1, 15, 2 * time.Minute},
		{"third retry", 3, 1, 15, 4 * time.Minute},
		{"fourth retry", 4, 1, 15, 8 * time.Minute},
		{"fifth retry hits the cap", 5, 1, 15, 15 * time.Minute},
		{"large count stays capped", 20, 1, 15, 15 * time.Minute},
		{"larger base", 2, 5, 60, 10 * time.Minute},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			delay := calculateBackoffDelay(tc.retryCount, tc.baseMinutes, tc.maxMinutes)
			assert.Equal(t, tc.expected, delay)
		})
	}
}
