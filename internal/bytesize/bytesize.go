// Package bytesize provides a byte count type that configuration files can
// spell in human-readable form ("100MiB", "128 KiB", "1GB").
package bytesize

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a size in bytes.
type ByteSize uint64

// Common sizes.
const (
	B   ByteSize = 1
	KiB ByteSize = humanize.KiByte
	MiB ByteSize = humanize.MiByte
	GiB ByteSize = humanize.GiByte
	KB  ByteSize = humanize.KByte
	MB  ByteSize = humanize.MByte
	GB  ByteSize = humanize.GByte
)

// ParseByteSize parses sizes such as "1024", "128KiB", "100 MB" or "1Gi".
// Binary units (Ki, Mi, Gi) are powers of 1024, decimal units powers of
// 1000.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size string")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalYAML writes the size in binary units so saved files stay readable.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

// String renders the size with binary units, e.g. "100 MiB".
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Int64 returns the size as an int64, saturating at math.MaxInt64.
func (b ByteSize) Int64() int64 {
	if uint64(b) > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(b)
}

// Int returns the size as an int, saturating at math.MaxInt.
func (b ByteSize) Int() int {
	if uint64(b) > math.MaxInt {
		return math.MaxInt
	}
	return int(b)
}
