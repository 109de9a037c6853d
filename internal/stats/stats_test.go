package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	assert.Equal(t, "2024-03-01", Day(time.Date(2024, 3, 2, 7, 0, 0, 0, loc)))
	assert.Equal(t, "2024-03-02", Day(time.Date(2024, 3, 2, 9, 0, 0, 0, loc)))
	assert.True(t, ValidDay(Today()))
}

func TestValidDay(t *testing.T) {
	assert.True(t, ValidDay("2024-02-29"))
	assert.False(t, ValidDay("2023-02-29"))
	assert.False(t, ValidDay("20240101"))
	assert.False(t, ValidDay(""))
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		name       string
		start, end int64
		total      int64
		lo, hi     int64
		ok         bool
	}{
		{"all", 0, -1, 5, 0, 5, true},
		{"first two", 0, 1, 5, 0, 2, true},
		{"end past total", 3, 100, 5, 3, 5, true},
		{"negative start", -2, -1, 5, 3, 5, true},
		{"start past total", 5, 10, 5, 0, 0, false},
		{"start after end", 3, 1, 5, 0, 0, false},
		{"empty", 0, -1, 0, 0, 0, false},
		{"negative start clamps", -10, 1, 5, 0, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi, ok := pageBounds(tt.start, tt.end, tt.total)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.lo, lo)
				assert.Equal(t, tt.hi, hi)
			}
		})
	}
}
