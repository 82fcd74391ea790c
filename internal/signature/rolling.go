package signature

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// ErrNoCalculator is returned by CheckCodeBuf on a rolling signature
// parsed without WithCalculator.
var ErrNoCalculator = errors.New("rolling signature has no checksum calculator")

// maxChecksumLog2 bounds the encoded log2 length; anything larger cannot
// describe a real function.
const maxChecksumLog2 = 24

// RollingSignature is a pair of rolling checksums over ChecksumLength bytes,
// the second taken ChecksumOffset bytes after the first.
type RollingSignature struct {
	typ            string
	checksumLength int
	checksumOffset int
	checksum1      [8]byte
	checksum2      [8]byte
	calculator     ChecksumCalculator
}

// ParseRolling parses <type>:<8 hex meta>:<32 hex checksums>. The meta
// field holds log2(length) in two digits and the offset in six. The
// parsed value must serialize back to exactly s.
func ParseRolling(s string) (*RollingSignature, error) {
	parts := strings.Split(s, fieldSeparator)
	if len(parts) != 3 {
		return nil, corrupt(s, fmt.Sprintf("expected 3 fields, got %d", len(parts)), nil)
	}

	typ, meta, sums := parts[0], parts[1], parts[2]
	if typ != TypeRollingV1 && typ != TypeRollingV2 {
		return nil, corrupt(s, fmt.Sprintf("unknown rolling type %q", typ), nil)
	}
	if len(meta) != 8 {
		return nil, corrupt(s, "meta field must be 8 hex digits", nil)
	}

	log2, err := strconv.ParseUint(meta[:2], 16, 8)
	if err != nil {
		return nil, corrupt(s, "bad checksum length", err)
	}
	if log2 > maxChecksumLog2 {
		return nil, corrupt(s, fmt.Sprintf("checksum length 2^%d too large", log2), nil)
	}
	offset, err := strconv.ParseUint(meta[2:], 16, 32)
	if err != nil {
		return nil, corrupt(s, "bad checksum offset", err)
	}

	raw, err := hex.DecodeString(sums)
	if err != nil {
		return nil, corrupt(s, "bad checksums", err)
	}
	if len(raw) != 2*checksumSize {
		return nil, corrupt(s, fmt.Sprintf("expected %d checksum bytes, got %d", 2*checksumSize, len(raw)), nil)
	}

	sig := &RollingSignature{
		typ:            typ,
		checksumLength: 1 << log2,
		checksumOffset: int(offset),
	}
	copy(sig.checksum1[:], raw[:checksumSize])
	copy(sig.checksum2[:], raw[checksumSize:])

	if sig.String() != s {
		return nil, corrupt(s, fmt.Sprintf("re-encodes as %q", sig.String()), nil)
	}
	return sig, nil
}

// NewRollingSignature builds a signature from its components.
func NewRollingSignature(typ string, checksumLength, checksumOffset int, c1, c2 [8]byte) (*RollingSignature, error) {
	if typ != TypeRollingV1 && typ != TypeRollingV2 {
		return nil, fmt.Errorf("unknown rolling type %q", typ)
	}
	if checksumLength <= 0 || bits.OnesCount(uint(checksumLength)) != 1 {
		return nil, fmt.Errorf("checksum length %d is not a power of two", checksumLength)
	}
	if checksumOffset < 0 || checksumOffset > 0xFFFFFF {
		return nil, fmt.Errorf("checksum offset %d out of range", checksumOffset)
	}
	return &RollingSignature{
		typ:            typ,
		checksumLength: checksumLength,
		checksumOffset: checksumOffset,
		checksum1:      c1,
		checksum2:      c2,
	}, nil
}

// Type implements Signature.
func (r *RollingSignature) Type() string {
	return r.typ
}

// CodeLength implements Signature.
func (r *RollingSignature) CodeLength() int {
	return r.checksumLength + r.checksumOffset
}

// ChecksumLength returns the number of bytes each checksum covers.
func (r *RollingSignature) ChecksumLength() int {
	return r.checksumLength
}

// ChecksumOffset returns the distance between the two checksum windows.
func (r *RollingSignature) ChecksumOffset() int {
	return r.checksumOffset
}

// Checksum1 returns the checksum of the first window.
func (r *RollingSignature) Checksum1() [8]byte {
	return r.checksum1
}

// Checksum2 returns the checksum of the second window.
func (r *RollingSignature) Checksum2() [8]byte {
	return r.checksum2
}

// ArchArg returns the sigtool architecture flag for the signature type.
func (r *RollingSignature) ArchArg() string {
	return ArchArg(r.typ)
}

// ArchArg maps a rolling signature type to its sigtool flag.
func ArchArg(typ string) string {
	switch typ {
	case TypeRollingV2:
		return "--aarch64v2"
	default:
		return "--aarch64v1"
	}
}

// CheckCodeBuf implements Signature by computing both windows with the
// attached calculator.
func (r *RollingSignature) CheckCodeBuf(ctx context.Context, code []byte) (bool, error) {
	if r.calculator == nil {
		return false, ErrNoCalculator
	}
	if len(code) < r.CodeLength() {
		return false, nil
	}

	arch := r.ArchArg()
	sum1, err := r.calculator.Checksum(ctx, arch, code, 0, r.checksumLength)
	if err != nil {
		return false, fmt.Errorf("first checksum: %w", err)
	}
	if sum1 != r.checksum1 {
		return false, nil
	}

	sum2, err := r.calculator.Checksum(ctx, arch, code, r.checksumOffset, r.checksumLength)
	if err != nil {
		return false, fmt.Errorf("second checksum: %w", err)
	}
	return sum2 == r.checksum2, nil
}

// String implements Signature.
func (r *RollingSignature) String() string {
	log2 := bits.TrailingZeros(uint(r.checksumLength))
	return fmt.Sprintf("%s:%02x%06x:%x%x", r.typ, log2, r.checksumOffset, r.checksum1[:], r.checksum2[:])
}
