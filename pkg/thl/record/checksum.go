package record

import (
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/cespare/xxhash/v2"

	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
)

// ChecksumType selects the algorithm protecting a record payload.
type ChecksumType byte

const (
	ChecksumNone     ChecksumType = 0
	ChecksumCRC32    ChecksumType = 1
	ChecksumXXHash64 ChecksumType = 2
)

func (c ChecksumType) String() string {
	switch c {
	case ChecksumNone:
		return "none"
	case ChecksumCRC32:
		return "crc32"
	case ChecksumXXHash64:
		return "xxhash64"
	default:
		return fmt.Sprintf("ChecksumType(%d)", byte(c))
	}
}

// ParseChecksumType maps a configuration name to a checksum type.
func ParseChecksumType(name string) (ChecksumType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "crc32":
		return ChecksumCRC32, nil
	case "none":
		return ChecksumNone, nil
	case "xxhash", "xxhash64":
		return ChecksumXXHash64, nil
	default:
		return 0, thlerrors.NewInvalidArgumentError("unknown checksum algorithm %q", name)
	}
}

// Sum computes the checksum of payload. ChecksumNone always yields zero.
func Sum(ct ChecksumType, payload []byte) (uint64, error) {
	switch ct {
	case ChecksumNone:
		return 0, nil
	case ChecksumCRC32:
		return uint64(crc32.ChecksumIEEE(payload)), nil
	case ChecksumXXHash64:
		return xxhash.Sum64(payload), nil
	default:
		return 0, thlerrors.NewChecksumTypeError(byte(ct))
	}
}
