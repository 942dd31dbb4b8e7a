package notify_test

import (
	"testing"

	"github.com/searchparty/beacon/internal/notify"
	"github.com/stretchr/testify/assert"
)

func TestHaversineKM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		lat1, lon1 float64
		lat2, lon2 float64
		expected   float64
		tolerance  float64
	}{
		{
			name: "same point",
			lat1: 55.75, lon1: 37.62,
			lat2: 55.75, lon2: 37.62,
			expected:  0,
			tolerance: 0.001,
		},
		{
			name: "moscow to tver",
			lat1: 55.7558, lon1: 37.6173,
			lat2: 56.8587, lon2: 35.9176,
			expected:  160,
			tolerance: 5,
		},
		{
			name: "short hop",
			lat1: 55.70, lon1: 37.50,
			lat2: 55.75, lon2: 37.55,
			expected:  6.4,
			tolerance: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := notify.HaversineKM(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.expected, got, tt.tolerance)
		})
	}
}

func TestBearingDeg(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		lat1, lon1 float64
		lat2, lon2 float64
		expected   float64
		tolerance  float64
	}{
		{name: "due north", lat1: 55, lon1: 37, lat2: 56, lon2: 37, expected: 0, tolerance: 0.5},
		{name: "due east", lat1: 0, lon1: 37, lat2: 0, lon2: 38, expected: 90, tolerance: 0.5},
		{name: "due south", lat1: 56, lon1: 37, lat2: 55, lon2: 37, expected: 180, tolerance: 0.5},
		{name: "due west", lat1: 0, lon1: 38, lat2: 0, lon2: 37, expected: 270, tolerance: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := notify.BearingDeg(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.expected, got, tt.tolerance)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.Less(t, got, 360.0)
		})
	}
}

func TestCompassPoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bearing  float64
		expected string
	}{
		{0, "N"},
		{22, "N"},
		{23, "NE"},
		{45, "NE"},
		{90, "E"},
		{135, "SE"},
		{180, "S"},
		{225, "SW"},
		{270, "W"},
		{315, "NW"},
		{350, "N"},
		{359.9, "N"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, notify.CompassPoint(tt.bearing), "bearing %.1f", tt.bearing)
	}
}
