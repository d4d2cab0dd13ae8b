// Package kibi formats and parses byte sizes in powers of 1024
package kibi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidByteSize = errors.New("Invalid byte size")

type unit struct {
	name  string
	bytes int64
}

// Largest first
var units = []unit{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
}

// Bytes formats b with one decimal in the largest unit that it fills, eg "1.5 MB"
func Bytes(b int64) string {
	for _, u := range units {
		if b >= u.bytes {
			v := float64(b) / float64(u.bytes)
			if b%u.bytes == 0 {
				return fmt.Sprintf("%d %v", b/u.bytes, u.name)
			}
			return fmt.Sprintf("%.1f %v", v, u.name)
		}
	}
	return fmt.Sprintf("%d bytes", b)
}

// Parse accepts a number with an optional unit, eg "512", "64 kb", "1.5G", "2 MiB".
// The unit is case insensitive, and a trailing "b" or "ib" is optional.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.') {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("%w '%v'", ErrInvalidByteSize, s)
	}
	value, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, fmt.Errorf("%w '%v'", ErrInvalidByteSize, s)
	}
	suffix := strings.TrimSpace(s[end:])
	suffix = strings.TrimSuffix(suffix, "bytes")
	suffix = strings.TrimSuffix(suffix, "ib")
	suffix = strings.TrimSuffix(suffix, "b")
	if suffix == "" {
		return int64(value), nil
	}
	for _, u := range units {
		if suffix == strings.ToLower(u.name[:1]) {
			return int64(value * float64(u.bytes)), nil
		}
	}
	return 0, fmt.Errorf("%w '%v'", ErrInvalidByteSize, s)
}
