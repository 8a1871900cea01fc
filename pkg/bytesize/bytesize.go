// Package bytesize provides human-readable byte size parsing and formatting
// using binary (1024) units. "5MB", "1.5 GB", "500KiB" and bare byte counts
// are all accepted; unit names are case-insensitive.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

var multipliers = map[string]Size{
	"":  B,
	"b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a human-readable byte size. No unit means bytes.
func Parse(s string) (Size, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", m[1], err)
	}
	mult, ok := multipliers[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", m[2])
	}
	return Size(value * float64(mult)), nil
}

// MustParse is like Parse but panics on error. For constants only.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Bytes returns the size as int64.
func (s Size) Bytes() int64 { return int64(s) }

// String formats the size with the largest unit yielding a value >= 1.
func (s Size) String() string {
	neg := ""
	if s < 0 {
		neg, s = "-", -s
	}
	switch {
	case s >= TB:
		return neg + trimmed(float64(s)/float64(TB)) + "TB"
	case s >= GB:
		return neg + trimmed(float64(s)/float64(GB)) + "GB"
	case s >= MB:
		return neg + trimmed(float64(s)/float64(MB)) + "MB"
	case s >= KB:
		return neg + trimmed(float64(s)/float64(KB)) + "KB"
	default:
		return fmt.Sprintf("%s%dB", neg, int64(s))
	}
}

// UnmarshalText lets config decoders accept human-readable sizes.
func (s *Size) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func trimmed(v float64) string {
	out := strconv.FormatFloat(v, 'f', 2, 64)
	out = strings.TrimRight(out, "0")
	return strings.TrimRight(out, ".")
}
