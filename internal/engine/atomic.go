package engine

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
	"go.uber.org/zap"

	"github.com/muurk/patchscan/internal/buildprop"
	"github.com/muurk/patchscan/internal/catalog"
	"github.com/muurk/patchscan/internal/logic"
	"github.com/muurk/patchscan/internal/signature"
)

const systemPrefix = "/system"

// Files whose presence marks a 64-bit system image.
var arm64Indicators = []string{
	"/system/lib64/libstagefright.so",
	"/system/lib64/libskia.so",
}

var (
	errOutsideSystem = errors.New("path does not start with " + systemPrefix)
	errTraversal     = errors.New("path contains directory traversal")
	errBothNeedles   = errors.New("substring and substringB64 are mutually exclusive")
	errNoNeedle      = errors.New("neither substring nor substringB64 is set")
)

// ValidateFilename checks a catalog path before any filesystem access: it
// must start with /system and must not climb out with "..".
func ValidateFilename(name string) error {
	if !strings.HasPrefix(name, systemPrefix) {
		return errOutsideSystem
	}
	if strings.Contains(name, "/../") || strings.HasSuffix(name, "/..") {
		return errTraversal
	}
	return nil
}

// Localize maps a firmware path onto the firmware root.
func (e *Engine) Localize(name string) string {
	return filepath.Join(e.root, filepath.FromSlash(strings.TrimLeft(name, "/")))
}

// Is64Bit reports whether the image ships 64-bit system libraries.
func (e *Engine) Is64Bit() bool {
	for _, name := range arm64Indicators {
		if _, err := os.Stat(e.Localize(name)); err == nil {
			return true
		}
	}
	return false
}

// runAtomic evaluates one atomic test. Any failed precondition is
// Unknown with a logged reason.
func (w *worker) runAtomic(ctx context.Context, id string, t *catalog.AtomicTest) logic.Value {
	log := w.logger.With(zap.String("test", id), zap.String("type", string(t.TestType)))
	props := w.e.props

	switch t.TestType {
	case catalog.TestFileExists:
		path, ok := w.checkPath(log, t.Filename)
		if !ok {
			return logic.Unknown
		}
		_, err := os.Stat(path)
		if err == nil {
			return logic.True
		}
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug("File does not exist", zap.String("path", path))
			return logic.False
		}
		log.Warn("Cannot stat file", zap.Error(err))
		return logic.Unknown

	case catalog.TestFileContainsSubstring:
		return w.fileContains(log, t, func(f *os.File, needle []byte) (bool, error) {
			return readerContains(f, needle)
		})

	case catalog.TestXZContainsSubstring:
		return w.fileContains(log, t, xzContains)

	case catalog.TestZipContainsSubstring:
		return w.zipContains(log, t)

	case catalog.TestZipEntryExists:
		path, ok := w.checkExisting(log, t.ZipFile)
		if !ok {
			return logic.Unknown
		}
		zr, err := zip.OpenReader(path)
		if err != nil {
			log.Warn("Cannot open zip archive", zap.String("path", path), zap.Error(err))
			return logic.Unknown
		}
		defer func() { _ = zr.Close() }()
		return logic.FromBool(findZipEntry(&zr.Reader, t.ZipItem) != nil)

	case catalog.TestBuildPropEquals:
		return logic.FromBool(props.CheckBuildProperty(t.BuildProperty, t.Value))

	case catalog.TestChipsetVendor:
		return logic.FromBool(props.ChipVendor() == t.Vendor)

	case catalog.TestChipsetVendorOrUnknown:
		vendor := props.ChipVendor()
		return logic.FromBool(vendor == buildprop.VendorUnknown || vendor == t.Vendor)

	case catalog.TestAndroidVersionEquals:
		version := props.AndroidVersion()
		if version == "" {
			log.Debug("No Android version in build properties")
			return logic.Unknown
		}
		return logic.FromBool(version == t.AndroidVersion)

	case catalog.TestBinaryContainsSymbol:
		return w.binaryContainsSymbol(ctx, log, t)

	case catalog.TestDisasContainsString:
		return w.disasContains(ctx, log, t)

	case catalog.TestMaskSignatureSymbol:
		return w.maskSignature(ctx, log, t)

	case catalog.TestRollingSignature:
		return w.rollingSignature(ctx, log, t)

	default:
		log.Warn("Unsupported test type")
		return logic.Unknown
	}
}

// checkPath validates name and returns its localized path.
func (w *worker) checkPath(log *zap.Logger, name string) (string, bool) {
	if err := ValidateFilename(name); err != nil {
		log.Warn("Rejected test path", zap.String("filename", name), zap.Error(err))
		return "", false
	}
	return w.e.Localize(name), true
}

// checkExisting validates name and requires the file to exist.
func (w *worker) checkExisting(log *zap.Logger, name string) (string, bool) {
	path, ok := w.checkPath(log, name)
	if !ok {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		log.Debug("Test file unavailable", zap.String("path", path), zap.Error(err))
		return "", false
	}
	return path, true
}

// needle returns the search bytes: substring or decoded substringB64,
// never both.
func needle(t *catalog.AtomicTest) ([]byte, error) {
	switch {
	case t.Substring != nil && t.SubstringB64 != nil:
		return nil, errBothNeedles
	case t.Substring != nil:
		return []byte(*t.Substring), nil
	case t.SubstringB64 != nil:
		b, err := base64.StdEncoding.DecodeString(*t.SubstringB64)
		if err != nil {
			return nil, fmt.Errorf("invalid substringB64: %w", err)
		}
		return b, nil
	default:
		return nil, errNoNeedle
	}
}

func (w *worker) fileContains(log *zap.Logger, t *catalog.AtomicTest, search func(*os.File, []byte) (bool, error)) logic.Value {
	n, err := needle(t)
	if err != nil {
		log.Warn("Malformed substring test", zap.Error(err))
		return logic.Unknown
	}
	path, ok := w.checkExisting(log, t.Filename)
	if !ok {
		return logic.Unknown
	}

	f, err := os.Open(path)
	if err != nil {
		log.Warn("Cannot open file", zap.String("path", path), zap.Error(err))
		return logic.Unknown
	}
	defer func() { _ = f.Close() }()

	found, err := search(f, n)
	if err != nil {
		log.Warn("Cannot search file", zap.String("path", path), zap.Error(err))
		return logic.Unknown
	}
	return logic.FromBool(found)
}

// readerContains searches r for needle in fixed-size windows that overlap
// by len(needle)-1 bytes, so large files are never held in memory.
func readerContains(r io.Reader, needle []byte) (bool, error) {
	if len(needle) == 0 {
		return true, nil
	}
	const window = 1 << 20
	buf := make([]byte, 0, window+len(needle))
	chunk := make([]byte, window)
	br := bufio.NewReaderSize(r, window)

	for {
		n, err := io.ReadFull(br, chunk)
		buf = append(buf, chunk[:n]...)
		if bytes.Contains(buf, needle) {
			return true, nil
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		keep := len(needle) - 1
		if keep > len(buf) {
			keep = len(buf)
		}
		buf = append(buf[:0], buf[len(buf)-keep:]...)
	}
}

// xzContains decompresses an xz stream, falling back to the legacy lzma
// format, and searches the output.
func xzContains(f *os.File, n []byte) (bool, error) {
	xr, err := xz.ReaderConfig{SingleStream: true}.NewReader(bufio.NewReader(f))
	if err == nil {
		return readerContains(xr, n)
	}
	if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
		return false, seekErr
	}
	lr, lzmaErr := lzma.NewReader(bufio.NewReader(f))
	if lzmaErr != nil {
		return false, fmt.Errorf("not an xz or lzma stream: %w", errors.Join(err, lzmaErr))
	}
	return readerContains(lr, n)
}

func findZipEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (w *worker) zipContains(log *zap.Logger, t *catalog.AtomicTest) logic.Value {
	n, err := needle(t)
	if err != nil {
		log.Warn("Malformed substring test", zap.Error(err))
		return logic.Unknown
	}
	path, ok := w.checkExisting(log, t.ZipFile)
	if !ok {
		return logic.Unknown
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		log.Warn("Cannot open zip archive", zap.String("path", path), zap.Error(err))
		return logic.Unknown
	}
	defer func() { _ = zr.Close() }()

	entry := findZipEntry(&zr.Reader, t.ZipItem)
	if entry == nil {
		log.Debug("Zip entry not found", zap.String("path", path), zap.String("item", t.ZipItem))
		return logic.Unknown
	}
	rc, err := entry.Open()
	if err != nil {
		log.Warn("Cannot open zip entry", zap.String("item", t.ZipItem), zap.Error(err))
		return logic.Unknown
	}
	defer func() { _ = rc.Close() }()

	found, err := readerContains(rc, n)
	if err != nil {
		log.Warn("Cannot read zip entry", zap.String("item", t.ZipItem), zap.Error(err))
		return logic.Unknown
	}
	return logic.FromBool(found)
}

func (w *worker) binaryContainsSymbol(ctx context.Context, log *zap.Logger, t *catalog.AtomicTest) logic.Value {
	path, ok := w.checkExisting(log, t.Filename)
	if !ok {
		return logic.Unknown
	}
	lines, err := w.symbols(ctx, path)
	if err != nil {
		log.Warn("Cannot dump symbols", zap.String("path", path), zap.Error(err))
		return logic.Unknown
	}
	_, found, err := w.parser.FindEntry(lines, t.Symbol)
	if err != nil {
		log.Warn("Malformed symbol entry", zap.String("symbol", t.Symbol), zap.Error(err))
		return logic.Unknown
	}
	return logic.FromBool(found)
}

func (w *worker) disasContains(ctx context.Context, log *zap.Logger, t *catalog.AtomicTest) logic.Value {
	n, err := needle(t)
	if err != nil {
		log.Warn("Malformed disassembly test", zap.Error(err))
		return logic.Unknown
	}
	path, ok := w.checkExisting(log, t.Filename)
	if !ok {
		return logic.Unknown
	}
	lines, err := w.symbols(ctx, path)
	if err != nil {
		log.Warn("Cannot dump symbols", zap.String("path", path), zap.Error(err))
		return logic.Unknown
	}
	sym, found, err := w.parser.FindEntry(lines, t.Symbol)
	if err != nil {
		log.Warn("Malformed symbol entry", zap.String("symbol", t.Symbol), zap.Error(err))
		return logic.Unknown
	}
	if !found {
		return logic.False
	}
	if w.e.tools.Disassembler == nil {
		log.Warn("No disassembler configured")
		return logic.Unknown
	}

	text, err := w.e.tools.Disassembler.DisassembleRange(ctx, path, sym.Address, sym.End())
	if err != nil {
		log.Warn("Disassembly failed", zap.String("symbol", t.Symbol), zap.Error(err))
		return logic.Unknown
	}
	return logic.FromBool(strings.Contains(text, string(n)))
}

func (w *worker) maskSignature(ctx context.Context, log *zap.Logger, t *catalog.AtomicTest) logic.Value {
	path, ok := w.checkExisting(log, t.Filename)
	if !ok {
		return logic.Unknown
	}
	sig, err := signature.Parse(t.Signature, w.signatureOptions()...)
	if err != nil {
		log.Warn("Corrupt signature", zap.Error(err))
		return logic.Unknown
	}
	table, err := w.table(ctx, path)
	if err != nil {
		log.Warn("Symbol table unavailable", zap.String("path", path), zap.Error(err))
		return logic.Unknown
	}
	sym, found := table.Lookup(t.Symbol)
	if !found {
		log.Debug("Symbol not in table", zap.String("symbol", t.Symbol))
		return logic.Unknown
	}

	code, err := readAt(path, sym.FilePosition, sym.Length)
	if err != nil {
		log.Warn("Cannot read symbol code", zap.String("symbol", t.Symbol), zap.Error(err))
		return logic.Unknown
	}

	match, err := sig.CheckCodeBuf(ctx, code)
	if err != nil {
		log.Warn("Signature check failed", zap.Error(err))
		return logic.Unknown
	}
	return logic.FromBool(match)
}

func (w *worker) rollingSignature(ctx context.Context, log *zap.Logger, t *catalog.AtomicTest) logic.Value {
	path, ok := w.checkExisting(log, t.Filename)
	if !ok {
		return logic.Unknown
	}
	sig, err := signature.ParseRolling(t.RollingSignature)
	if err != nil {
		log.Warn("Corrupt rolling signature", zap.Error(err))
		return logic.Unknown
	}
	if w.e.tools.Searcher == nil {
		log.Warn("No checksum tool configured")
		return logic.Unknown
	}

	scanner := signature.NewScanner(w.e.tools.Searcher, w.logger)
	scanner.Add(sig)
	hits, err := scanner.ScanFile(ctx, path)
	if err != nil {
		if errors.Is(err, signature.ErrPermissionDenied) {
			log.Warn("Checksum tool was denied access", zap.String("path", path))
		} else {
			log.Warn("Signature scan failed", zap.String("path", path), zap.Error(err))
		}
		return logic.Unknown
	}

	want := sig.String()
	for _, hit := range hits {
		if hit.Signature.String() == want {
			return logic.True
		}
	}
	return logic.False
}

// readAt reads exactly length bytes at pos.
func readAt(path string, pos, length uint64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := uint64(info.Size())
	if pos > size || length > size-pos {
		return nil, fmt.Errorf("range 0x%x+0x%x outside file of 0x%x bytes", pos, length, size)
	}

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(pos)); err != nil && !(errors.Is(err, io.EOF) && length == 0) {
		return nil, err
	}
	return buf, nil
}
