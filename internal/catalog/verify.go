package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// Detached signature suffixes, tried in order.
var signatureSuffixes = []string{".asc", ".sig"}

const (
	armoredSignatureHeader = "-----BEGIN PGP SIGNATURE-----"
	maxSignatureSize       = 10 * 1024
)

// ErrNoKeys is returned when verification is attempted with an empty keyring.
var ErrNoKeys = errors.New("no OpenPGP keys imported")

// Verifier checks detached OpenPGP signatures on catalog files.
type Verifier struct {
	keyring openpgp.EntityList
}

// NewVerifier creates a verifier with an empty keyring.
func NewVerifier() *Verifier {
	return &Verifier{keyring: make(openpgp.EntityList, 0)}
}

// NewVerifierFromFile creates a verifier holding the keys in keyPath.
func NewVerifierFromFile(keyPath string) (*Verifier, error) {
	v := NewVerifier()
	if err := v.ImportKeyFromFile(keyPath); err != nil {
		return nil, err
	}
	return v, nil
}

// ImportKeyFromFile imports an armored or binary keyring file.
func (v *Verifier) ImportKeyFromFile(keyPath string) error {
	//nolint:gosec // G304: keyring path comes from the user's config
	f, err := os.Open(keyPath)
	if err != nil {
		return fmt.Errorf("failed to open key file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
			return fmt.Errorf("failed to reset key file: %w", seekErr)
		}
		entities, err = openpgp.ReadKeyRing(f)
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
	}

	if len(entities) == 0 {
		return fmt.Errorf("no keys found in %s", keyPath)
	}

	v.keyring = append(v.keyring, entities...)
	return nil
}

// KeyringSize returns the number of imported keys.
func (v *Verifier) KeyringSize() int {
	return len(v.keyring)
}

// SignaturePath returns the detached signature next to path, if any.
func SignaturePath(path string) (string, bool) {
	for _, suffix := range signatureSuffixes {
		candidate := path + suffix
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// VerifyFile checks path against its detached signature (path.asc or
// path.sig). A missing signature is an error.
func (v *Verifier) VerifyFile(path string) error {
	//nolint:gosec // G304: catalog paths are derived from the configured catalog dir
	data, err := os.ReadFile(path)
	if err != nil {
		return NewNotFoundError(path, err)
	}
	return v.VerifyData(path, data)
}

// VerifyData checks data, read from path, against the signature next to path.
func (v *Verifier) VerifyData(path string, data []byte) error {
	sigPath, ok := SignaturePath(path)
	if !ok {
		return NewSignatureError(path, errors.New("no detached signature found"))
	}

	//nolint:gosec // G304: see VerifyFile
	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return NewSignatureError(sigPath, err)
	}

	if err := v.Verify(bytes.NewReader(data), sigData); err != nil {
		return NewSignatureError(path, err)
	}
	return nil
}

// Verify checks signed against an armored or binary detached signature.
func (v *Verifier) Verify(signed io.Reader, sig []byte) error {
	if len(v.keyring) == 0 {
		return ErrNoKeys
	}
	if len(sig) > maxSignatureSize {
		return fmt.Errorf("signature larger than %d bytes", maxSignatureSize)
	}
	if len(sig) < 10 {
		return errors.New("signature too small to be valid")
	}

	var err error
	if bytes.HasPrefix(bytes.TrimSpace(sig), []byte(armoredSignatureHeader)) {
		_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, signed, bytes.NewReader(sig), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(v.keyring, signed, bytes.NewReader(sig), nil)
	}
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
