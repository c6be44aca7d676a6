package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		max     time.Duration
		attempt int
		want    time.Duration
	}{
		{"first attempt", 2 * time.Second, 30 * time.Second, 1, 2 * time.Second},
		{"second attempt", 2 * time.Second, 30 * time.Second, 2, 4 * time.Second},
		{"third attempt", 2 * time.Second, 30 * time.Second, 3, 8 * time.Second},
		{"capped at max", 2 * time.Second, 30 * time.Second, 10, 30 * time.Second},
		{"zero attempt clamps to base", 2 * time.Second, 30 * time.Second, 0, 2 * time.Second},
		{"overflow clamps to max", time.Second, time.Hour, 200, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.base, tt.max, tt.attempt))
		})
	}
}
