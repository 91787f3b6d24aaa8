package spoof

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeOffsetNegatesTable(t *testing.T) {
	tests := []struct {
		zone string
		want int
	}{
		{"Asia/Tokyo", -540},
		{"America/New_York", 300},
		{"Asia/Kolkata", -330},
		{"UTC", 0},
	}
	for _, tt := range tests {
		got, ok := RuntimeOffset(tt.zone)
		assert.True(t, ok, tt.zone)
		assert.Equal(t, tt.want, got, tt.zone)
	}
}

func TestRuntimeOffsetFallsBackToTZDatabase(t *testing.T) {
	_, listed := timezoneOffsets["Asia/Kathmandu"]
	assert.False(t, listed)

	got, ok := RuntimeOffset("Asia/Kathmandu")
	assert.True(t, ok)
	assert.Equal(t, -345, got)

	// southern hemisphere: standard time is the winter (July) offset
	got, ok = RuntimeOffset("Australia/Hobart")
	assert.True(t, ok)
	assert.Equal(t, -600, got)
}

func TestRuntimeOffsetUnknownZone(t *testing.T) {
	_, ok := RuntimeOffset("Mars/Olympus_Mons")
	assert.False(t, ok)
	_, ok = RuntimeOffset("")
	assert.False(t, ok)
}

func TestOffsetTableIncludesProjectedZone(t *testing.T) {
	table := offsetTable("Asia/Kathmandu")
	assert.Equal(t, 345, table["Asia/Kathmandu"])
	assert.Equal(t, 540, table["Asia/Tokyo"])
	assert.NotContains(t, timezoneOffsets, "Asia/Kathmandu")
}
