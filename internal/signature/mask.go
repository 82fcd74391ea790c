package signature

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Named masks for common AArch64 instruction fields.
const (
	// MaskA keeps the ADRP/ADR opcode bits and destination register.
	MaskA uint32 = 0x9F00001F
	// MaskB keeps the LDR/STR (unsigned offset) opcode and registers.
	MaskB uint32 = 0xFFC003FF
	// MaskC keeps the B/BL opcode and drops the branch target.
	MaskC uint32 = 0xFC000000
)

var namedMasks = map[string]uint32{
	"A": MaskA,
	"B": MaskB,
	"C": MaskC,
}

const maxMaskDelta = 0xFFFF

// Mask clears the bits of the 32-bit little-endian word at Position
// that are zero in Value.
type Mask struct {
	Position int
	Value    uint32
}

// MaskSignature is the SHA-256 of a function's code after masking
// build-dependent instruction fields.
type MaskSignature struct {
	codeLength int
	digest     string
	masks      []Mask
}

// ParseMask parses MASK:<hexCodeLength>:<sha256>[:<entries>] where entries
// are '_'-joined <4 hex digit delta><A|B|C|8 hex digit mask>.
func ParseMask(s string) (*MaskSignature, error) {
	parts := strings.Split(s, fieldSeparator)
	if len(parts) != 3 && len(parts) != 4 {
		return nil, corrupt(s, fmt.Sprintf("expected 3 or 4 fields, got %d", len(parts)), nil)
	}
	if parts[0] != TypeMask {
		return nil, corrupt(s, fmt.Sprintf("unexpected type %q", parts[0]), nil)
	}

	codeLength, err := strconv.ParseUint(parts[1], 16, 31)
	if err != nil {
		return nil, corrupt(s, "bad code length", err)
	}

	digest := parts[2]
	if len(digest) != sha256HexLength {
		return nil, corrupt(s, fmt.Sprintf("digest must be %d hex digits", sha256HexLength), nil)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return nil, corrupt(s, "bad digest", err)
	}

	sig := &MaskSignature{
		codeLength: int(codeLength),
		digest:     strings.ToLower(digest),
	}
	if len(parts) == 3 {
		return sig, nil
	}

	pos := 0
	for _, entry := range strings.Split(parts[3], entrySeparator) {
		if entry == "" {
			continue
		}
		if len(entry) < 5 {
			return nil, corrupt(s, fmt.Sprintf("short mask entry %q", entry), nil)
		}

		delta, err := strconv.ParseUint(entry[:4], 16, 16)
		if err != nil {
			return nil, corrupt(s, fmt.Sprintf("bad mask offset in %q", entry), err)
		}

		code := entry[4:]
		value, ok := namedMasks[code]
		if !ok {
			if len(code) != 8 {
				return nil, corrupt(s, fmt.Sprintf("mask code %q is neither A, B, C nor 8 hex digits", code), nil)
			}
			v, err := strconv.ParseUint(code, 16, 32)
			if err != nil {
				return nil, corrupt(s, fmt.Sprintf("bad mask value in %q", entry), err)
			}
			value = uint32(v)
		}

		if len(sig.masks) > 0 && delta == 0 {
			return nil, corrupt(s, "mask positions must be strictly increasing", nil)
		}
		pos += int(delta)
		if pos%4 != 0 {
			return nil, corrupt(s, fmt.Sprintf("mask position %d is not word aligned", pos), nil)
		}
		sig.masks = append(sig.masks, Mask{Position: pos, Value: value})
	}

	return sig, nil
}

// NewMaskSignature computes the signature of code under masks. Masks must
// be word aligned, strictly increasing and no more than 0xFFFF bytes apart.
func NewMaskSignature(code []byte, masks []Mask) (*MaskSignature, error) {
	prev := 0
	for i, m := range masks {
		if m.Position%4 != 0 {
			return nil, fmt.Errorf("mask position %d is not word aligned", m.Position)
		}
		if i > 0 && m.Position <= prev {
			return nil, fmt.Errorf("mask position %d is not after %d", m.Position, prev)
		}
		if m.Position-prev > maxMaskDelta {
			return nil, fmt.Errorf("mask position %d too far from %d", m.Position, prev)
		}
		prev = m.Position
	}

	sig := &MaskSignature{
		codeLength: len(code),
		masks:      append([]Mask(nil), masks...),
	}
	sum := sha256.Sum256(sig.apply(code))
	sig.digest = hex.EncodeToString(sum[:])
	return sig, nil
}

// Type implements Signature.
func (m *MaskSignature) Type() string {
	return TypeMask
}

// CodeLength implements Signature.
func (m *MaskSignature) CodeLength() int {
	return m.codeLength
}

// Digest returns the expected SHA-256 in lower-case hex.
func (m *MaskSignature) Digest() string {
	return m.digest
}

// Masks returns the mask list with absolute positions.
func (m *MaskSignature) Masks() []Mask {
	return append([]Mask(nil), m.masks...)
}

// CheckCodeBuf implements Signature. It never returns an error.
func (m *MaskSignature) CheckCodeBuf(_ context.Context, code []byte) (bool, error) {
	sum := sha256.Sum256(m.apply(code))
	return strings.EqualFold(hex.EncodeToString(sum[:]), m.digest), nil
}

// apply returns a copy of code with every mask ANDed into its word.
// A trailing partial word is copied unchanged.
func (m *MaskSignature) apply(code []byte) []byte {
	out := make([]byte, 0, len(code))
	next := 0
	for i := 0; i < len(code); i += 4 {
		end := min(i+4, len(code))
		word := code[i:end]

		if next < len(m.masks) && m.masks[next].Position == i && len(word) == 4 {
			v := binary.LittleEndian.Uint32(word) & m.masks[next].Value
			out = binary.LittleEndian.AppendUint32(out, v)
			next++
			continue
		}
		out = append(out, word...)
	}
	return out
}

// String implements Signature.
func (m *MaskSignature) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:%x:%s", TypeMask, m.codeLength, m.digest)
	if len(m.masks) == 0 {
		return sb.String()
	}

	sb.WriteString(fieldSeparator)
	prev := 0
	for i, mask := range m.masks {
		if i > 0 {
			sb.WriteString(entrySeparator)
		}
		fmt.Fprintf(&sb, "%04x", mask.Position-prev)
		sb.WriteString(maskCode(mask.Value))
		prev = mask.Position
	}
	return sb.String()
}

func maskCode(v uint32) string {
	switch v {
	case MaskA:
		return "A"
	case MaskB:
		return "B"
	case MaskC:
		return "C"
	default:
		return fmt.Sprintf("%08x", v)
	}
}
