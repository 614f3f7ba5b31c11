package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)

func TestDue(t *testing.T) {
	const day = 24 * time.Hour

	tests := []struct {
		name      string
		now       time.Time
		fetchedAt time.Time
		maxAge    time.Duration
		want      bool
	}{
		{"no artifact", t0, time.Time{}, day, true},
		{"fresh", t0.Add(time.Hour), t0, day, false},
		{"exactly max age", t0.Add(day), t0, day, true},
		{"stale", t0.Add(25 * time.Hour), t0, day, true},
		{"same instant", t0, t0, time.Nanosecond, false},
		{"clock skew", t0, t0.Add(3 * time.Hour), day, false},
		{"zero max age always due", t0, t0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Due(tt.now, tt.fetchedAt, tt.maxAge))
		})
	}
}

func TestDue_Idempotent(t *testing.T) {
	p := New(24 * time.Hour)
	now := t0.Add(12 * time.Hour)
	first := p.Due(now, t0)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.Due(now, t0))
	}
}

func TestAge_FlooredAtZero(t *testing.T) {
	assert.Equal(t, time.Duration(0), Age(t0, t0.Add(time.Minute)))
	assert.Equal(t, 90*time.Minute, Age(t0.Add(90*time.Minute), t0))
}

func TestNextDue(t *testing.T) {
	p := New(24 * time.Hour)
	assert.True(t, p.NextDue(time.Time{}).IsZero())
	assert.Equal(t, t0.Add(24*time.Hour), p.NextDue(t0))
}
