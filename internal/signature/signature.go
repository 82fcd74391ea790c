package signature

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Signature type discriminants (first ':'-separated field).
const (
	TypeMask        = "MASK"
	TypeRollingV1   = "R_AARCH64_V1"
	TypeRollingV2   = "R_AARCH64_V2"
	fieldSeparator  = ":"
	entrySeparator  = "_"
	checksumSize    = 8
	sha256HexLength = 64
)

// ErrCorrupt is matched by every *CorruptSignatureError.
var ErrCorrupt = errors.New("corrupt signature")

// CorruptSignatureError reports a signature string that failed to parse
// or did not survive re-serialization.
type CorruptSignatureError struct {
	// Signature is the offending input
	Signature string
	// Reason describes what was wrong
	Reason string
	// Underlying error if any
	Err error
}

func (e *CorruptSignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt signature %q: %s: %v", e.Signature, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt signature %q: %s", e.Signature, e.Reason)
}

func (e *CorruptSignatureError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCorrupt) true.
func (e *CorruptSignatureError) Is(target error) bool {
	return target == ErrCorrupt
}

func corrupt(s, reason string, err error) error {
	return &CorruptSignatureError{Signature: s, Reason: reason, Err: err}
}

// Signature is a code identity check against a buffer of machine code.
type Signature interface {
	// Type returns the discriminant, e.g. "MASK".
	Type() string
	// CodeLength is the number of code bytes the signature covers.
	CodeLength() int
	// CheckCodeBuf reports whether code matches the signature.
	CheckCodeBuf(ctx context.Context, code []byte) (bool, error)
	// String returns the canonical serialized form.
	String() string
}

// ChecksumCalculator computes the rolling checksum of
// code[offset:offset+length] for the given architecture argument.
type ChecksumCalculator interface {
	Checksum(ctx context.Context, arch string, code []byte, offset, length int) ([8]byte, error)
}

type options struct {
	calculator ChecksumCalculator
}

// Option configures Parse.
type Option func(*options)

// WithCalculator attaches the checksum collaborator used by rolling
// signatures in CheckCodeBuf.
func WithCalculator(c ChecksumCalculator) Option {
	return func(o *options) {
		o.calculator = c
	}
}

// Parse dispatches on the signature type field.
func Parse(s string, opts ...Option) (Signature, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	typ, _, _ := strings.Cut(s, fieldSeparator)
	switch typ {
	case TypeMask:
		sig, err := ParseMask(s)
		if err != nil {
			return nil, err
		}
		return sig, nil
	case TypeRollingV1, TypeRollingV2:
		sig, err := ParseRolling(s)
		if err != nil {
			return nil, err
		}
		sig.calculator = o.calculator
		return sig, nil
	default:
		return nil, corrupt(s, fmt.Sprintf("unknown signature type %q", typ), nil)
	}
}
