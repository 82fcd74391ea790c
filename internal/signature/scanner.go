package signature

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
)

// ErrPermissionDenied is returned when the search tool could not open the target.
var ErrPermissionDenied = errors.New("search tool: permission denied")

// ErrMalformedResult is wrapped by every search result parse failure.
var ErrMalformedResult = errors.New("malformed search result")

const (
	recordSize        = 16
	maxChecksumLength = 1000000
)

// The search tool prints one of these instead of records when it cannot
// open the file.
var permissionDeniedMessages = [][]byte{
	[]byte("Failed to open file\n: Permission denied\n"),
	[]byte("Failed to open file: Permission denied\n"),
}

// Searcher runs one batched checksum search over a file.
type Searcher interface {
	Search(ctx context.Context, arch, path string, request []byte) ([]byte, error)
}

// Hit is one rolling signature found in a file.
type Hit struct {
	Signature *RollingSignature
	// Position is the file offset of the first checksum window.
	Position uint32
}

// Record is one decoded search result.
type Record struct {
	Position uint32
	Length   uint32
	Checksum [8]byte
}

// Scanner batches rolling signatures into one search per architecture.
type Scanner struct {
	searcher   Searcher
	logger     *zap.Logger
	signatures []*RollingSignature
}

// NewScanner creates an empty scanner.
func NewScanner(searcher Searcher, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{searcher: searcher, logger: logger}
}

// Add registers a signature.
func (s *Scanner) Add(sig *RollingSignature) {
	s.signatures = append(s.signatures, sig)
}

// AddString parses and registers a rolling signature string.
func (s *Scanner) AddString(str string) error {
	sig, err := ParseRolling(str)
	if err != nil {
		return err
	}
	s.Add(sig)
	return nil
}

// Len returns the number of registered signatures.
func (s *Scanner) Len() int {
	return len(s.signatures)
}

// ScanFile searches path for every registered signature and returns the
// hits ordered by position.
func (s *Scanner) ScanFile(ctx context.Context, path string) ([]Hit, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot scan %s: %w", path, err)
	}

	byArch := make(map[string][]*RollingSignature)
	var archs []string
	for _, sig := range s.signatures {
		arch := sig.ArchArg()
		if _, ok := byArch[arch]; !ok {
			archs = append(archs, arch)
		}
		byArch[arch] = append(byArch[arch], sig)
	}
	sort.Strings(archs)

	var hits []Hit
	for _, arch := range archs {
		sigs := byArch[arch]
		out, err := s.searcher.Search(ctx, arch, path, BuildRequest(sigs))
		if IsPermissionDenied(out) {
			s.logger.Warn("search tool denied access", zap.String("path", path))
			return nil, ErrPermissionDenied
		}
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", path, err)
		}

		records, err := ParseRecords(out, fi.Size())
		if err != nil {
			return nil, err
		}
		s.logger.Debug("search complete",
			zap.String("path", path),
			zap.String("arch", arch),
			zap.Int("signatures", len(sigs)),
			zap.Int("records", len(records)),
		)

		hits = append(hits, Match(sigs, records)...)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Position < hits[j].Position
	})
	return hits, nil
}

// BuildRequest encodes the search request: a u32 count of distinct
// checksum lengths, then per length a u32 checksum count, the u32 length
// and the 8-byte checksums. All integers are little-endian.
func BuildRequest(sigs []*RollingSignature) []byte {
	byLength := make(map[int]map[[8]byte]struct{})
	for _, sig := range sigs {
		set, ok := byLength[sig.checksumLength]
		if !ok {
			set = make(map[[8]byte]struct{})
			byLength[sig.checksumLength] = set
		}
		set[sig.checksum1] = struct{}{}
		set[sig.checksum2] = struct{}{}
	}

	lengths := make([]int, 0, len(byLength))
	for l := range byLength {
		lengths = append(lengths, l)
	}
	sort.Ints(lengths)

	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(lengths)))
	for _, l := range lengths {
		sums := make([][8]byte, 0, len(byLength[l]))
		for c := range byLength[l] {
			sums = append(sums, c)
		}
		sort.Slice(sums, func(i, j int) bool {
			return bytes.Compare(sums[i][:], sums[j][:]) < 0
		})

		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(sums)))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(l))
		for _, c := range sums {
			buf = append(buf, c[:]...)
		}
	}
	return buf
}

// IsPermissionDenied reports whether out is one of the denial messages.
func IsPermissionDenied(out []byte) bool {
	for _, msg := range permissionDeniedMessages {
		if bytes.Equal(out, msg) {
			return true
		}
	}
	return false
}

// ParseRecords decodes 16-byte result records, rejecting positions past
// fileSize and implausible lengths.
func ParseRecords(out []byte, fileSize int64) ([]Record, error) {
	if len(out)%recordSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrMalformedResult, len(out), recordSize)
	}

	records := make([]Record, 0, len(out)/recordSize)
	for i := 0; i < len(out); i += recordSize {
		rec := Record{
			Position: binary.LittleEndian.Uint32(out[i : i+4]),
			Length:   binary.LittleEndian.Uint32(out[i+4 : i+8]),
		}
		copy(rec.Checksum[:], out[i+8:i+16])

		if int64(rec.Position) > fileSize {
			return nil, fmt.Errorf("%w: position %d exceeds file size %d", ErrMalformedResult, rec.Position, fileSize)
		}
		if rec.Length >= maxChecksumLength {
			return nil, fmt.Errorf("%w: checksum length %d too large", ErrMalformedResult, rec.Length)
		}
		records = append(records, rec)
	}
	return records, nil
}

type recordKey struct {
	length   uint32
	checksum [8]byte
}

// Match pairs records into signature hits: checksum1 at p and checksum2
// at p+ChecksumOffset, both with the signature's checksum length.
func Match(sigs []*RollingSignature, records []Record) []Hit {
	found := make(map[recordKey]map[uint32]struct{})
	for _, rec := range records {
		k := recordKey{rec.Length, rec.Checksum}
		if found[k] == nil {
			found[k] = make(map[uint32]struct{})
		}
		found[k][rec.Position] = struct{}{}
	}

	var hits []Hit
	for _, sig := range sigs {
		l := uint32(sig.checksumLength)
		first := found[recordKey{l, sig.checksum1}]
		second := found[recordKey{l, sig.checksum2}]
		if len(first) == 0 || len(second) == 0 {
			continue
		}

		positions := make([]uint32, 0, len(first))
		for p := range first {
			positions = append(positions, p)
		}
		sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })

		for _, p := range positions {
			if _, ok := second[p+uint32(sig.checksumOffset)]; ok {
				hits = append(hits, Hit{Signature: sig, Position: p})
			}
		}
	}
	return hits
}
