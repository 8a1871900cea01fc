package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Size
		wantErr  bool
	}{
		{"bytes numeric only", "1024", 1024, false},
		{"bytes with B", "1024B", 1024, false},
		{"bytes with word", "100 bytes", 100, false},
		{"kilobytes KB", "5KB", 5 * KB, false},
		{"kilobytes KiB", "5KiB", 5 * KB, false},
		{"kilobytes with space", "5 KB", 5 * KB, false},
		{"megabytes short", "10M", 10 * MB, false},
		{"megabytes lowercase", "10mb", 10 * MB, false},
		{"gigabytes", "2GB", 2 * GB, false},
		{"terabytes", "1TiB", 1 * TB, false},
		{"float megabytes", "1.5MB", Size(1.5 * float64(MB)), false},
		{"float with space", "1.5 GB", Size(1.5 * float64(GB)), false},
		{"empty string", "", 0, true},
		{"unknown unit", "5XB", 0, true},
		{"negative not allowed", "-5MB", 0, true},
		{"garbage", "lots", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		name     string
		size     Size
		expected string
	}{
		{"zero", 0, "0B"},
		{"bytes", 512, "512B"},
		{"exact kilobytes", 5 * KB, "5KB"},
		{"exact gigabytes", 2 * GB, "2GB"},
		{"fractional", Size(1.5 * float64(GB)), "1.5GB"},
		{"negative", -2 * MB, "-2MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.size.String())
		})
	}
}

func TestUnmarshalText(t *testing.T) {
	var s Size
	require.NoError(t, s.UnmarshalText([]byte("250MB")))
	assert.Equal(t, 250*MB, s)

	assert.Error(t, s.UnmarshalText([]byte("nope")))
}
