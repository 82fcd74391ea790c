package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/muurk/patchscan/internal/buildprop"
	"github.com/muurk/patchscan/internal/catalog"
	"github.com/muurk/patchscan/internal/logic"
	"github.com/muurk/patchscan/internal/signature"
)

const libfoo = "/system/lib64/libfoo.so"

// Symbol and section views for libfoo.so: parse_header lives at 0x1050 in
// a .text section mapped from file offset 0x400, so its code sits at 0x450.
var (
	fooSymbols = []string{
		"SYMBOL TABLE:",
		"0000000000001000 l    d  .text\t0000000000000000 .text",
		"0000000000001050 g     F .text\t0000000000000010 parse_header",
		"DYNAMIC SYMBOL TABLE:",
		"0000000000001050 g    DF .text\t0000000000000010  Base        parse_header",
		"0000000000000000      DF *UND*\t0000000000000000  LIBC        memcpy",
	}
	fooSections = []string{
		"Idx Name          Size      VMA               LMA               File off  Algn  Flags",
		" 10 .text         00000100  0000000000001000  0000000000001000  00000400  2**2  CONTENTS, ALLOC, LOAD, READONLY, CODE",
	}
	fooCode = []byte{
		0x00, 0x00, 0x00, 0x90,
		0x21, 0x43, 0x65, 0x97,
		0x00, 0x04, 0x40, 0xf9,
		0xc0, 0x03, 0x5f, 0xd6,
	}
)

func fooBinary() []byte {
	b := make([]byte, 0x600)
	copy(b[0x450:], fooCode)
	return b
}

type fakeDumper struct {
	mu       sync.Mutex
	symbols  map[string][]string
	sections map[string][]string
	err      error
	calls    map[string]int
}

func (d *fakeDumper) SymbolLines(_ context.Context, path string) ([]string, error) {
	d.count("symbols:" + filepath.Base(path))
	if d.err != nil {
		return nil, d.err
	}
	return d.symbols[filepath.Base(path)], nil
}

func (d *fakeDumper) SectionLines(_ context.Context, path string) ([]string, error) {
	d.count("sections:" + filepath.Base(path))
	if d.err != nil {
		return nil, d.err
	}
	return d.sections[filepath.Base(path)], nil
}

func (d *fakeDumper) count(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[key]++
}

func (d *fakeDumper) Calls(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[key]
}

func newFooDumper() *fakeDumper {
	return &fakeDumper{
		symbols:  map[string][]string{"libfoo.so": fooSymbols},
		sections: map[string][]string{"libfoo.so": fooSections},
	}
}

type fakeDisassembler struct {
	text        string
	err         error
	start, stop uint64
}

func (d *fakeDisassembler) DisassembleRange(_ context.Context, _ string, start, stop uint64) (string, error) {
	d.start, d.stop = start, stop
	return d.text, d.err
}

type fakeSearcher struct {
	out []byte
	err error
}

func (s *fakeSearcher) Search(context.Context, string, string, []byte) ([]byte, error) {
	return s.out, s.err
}

// writeFirmware lays out files under a temporary firmware root.
func writeFirmware(t *testing.T, files map[string][]byte) string {
	t.Helper()
	root := t.TempDir()
	for name, data := range files {
		path := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(name, "/")))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, data, 0644))
	}
	return root
}

func zipArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func xzData(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func lzmaData(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// evalOne evaluates a single atomic test against root.
func evalOne(t *testing.T, root string, props *buildprop.Properties, tools Tools, test *catalog.AtomicTest) logic.Value {
	t.Helper()
	cat := catalog.New()
	cat.AddTest("t1", test)
	v, err := New(root, props, cat, tools, Options{}).EvaluateTest(context.Background(), "t1")
	require.NoError(t, err)
	return v
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name    string
		wantErr error
	}{
		{"/system/lib/libc.so", nil},
		{"/system", nil},
		{"/system/lib/../lib64/libc.so", errTraversal},
		{"/system/..", errTraversal},
		{"/vendor/lib/libc.so", errOutsideSystem},
		{"system/lib/libc.so", errOutsideSystem},
		{"", errOutsideSystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.name)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLocalize(t *testing.T) {
	e := New("/fw", nil, nil, Tools{}, Options{})
	assert.Equal(t, filepath.FromSlash("/fw/system/lib/libc.so"), e.Localize("/system/lib/libc.so"))
	assert.Equal(t, filepath.FromSlash("/fw/system/lib/libc.so"), e.Localize("//system/lib/libc.so"))
}

func TestIs64Bit(t *testing.T) {
	root := writeFirmware(t, map[string][]byte{"/system/lib/libskia.so": nil})
	assert.False(t, New(root, nil, nil, Tools{}, Options{}).Is64Bit())

	root = writeFirmware(t, map[string][]byte{"/system/lib64/libskia.so": nil})
	assert.True(t, New(root, nil, nil, Tools{}, Options{}).Is64Bit())
}

func strp(s string) *string { return &s }

func TestFileTests(t *testing.T) {
	root := writeFirmware(t, map[string][]byte{
		"/system/bin/app_process":   []byte("prefix MARKER_1234 suffix"),
		"/system/etc/update.xz":     xzData(t, "compressed MARKER_1234 payload"),
		"/system/etc/legacy.lzma":   lzmaData(t, "legacy MARKER_1234 payload"),
		"/system/etc/garbage.xz":    bytes.Repeat([]byte{0xff}, 32),
		"/system/framework/fw.jar":  zipArchive(t, map[string]string{"classes.dex": "dex MARKER_1234"}),
		"/system/framework/bad.jar": []byte("not a zip"),
	})
	b64 := base64.StdEncoding.EncodeToString([]byte("MARKER_1234"))

	tests := []struct {
		name string
		test catalog.AtomicTest
		want logic.Value
	}{
		{"exists", catalog.AtomicTest{TestType: catalog.TestFileExists, Filename: "/system/bin/app_process"}, logic.True},
		{"missing", catalog.AtomicTest{TestType: catalog.TestFileExists, Filename: "/system/bin/nope"}, logic.False},
		{"exists outside system", catalog.AtomicTest{TestType: catalog.TestFileExists, Filename: "/data/x"}, logic.Unknown},
		{"exists traversal", catalog.AtomicTest{TestType: catalog.TestFileExists, Filename: "/system/../etc/passwd"}, logic.Unknown},

		{"contains", catalog.AtomicTest{TestType: catalog.TestFileContainsSubstring, Filename: "/system/bin/app_process", Substring: strp("MARKER_1234")}, logic.True},
		{"contains b64", catalog.AtomicTest{TestType: catalog.TestFileContainsSubstring, Filename: "/system/bin/app_process", SubstringB64: strp(b64)}, logic.True},
		{"does not contain", catalog.AtomicTest{TestType: catalog.TestFileContainsSubstring, Filename: "/system/bin/app_process", Substring: strp("OTHER")}, logic.False},
		{"contains missing file", catalog.AtomicTest{TestType: catalog.TestFileContainsSubstring, Filename: "/system/bin/nope", Substring: strp("x")}, logic.Unknown},
		{"contains both needles", catalog.AtomicTest{TestType: catalog.TestFileContainsSubstring, Filename: "/system/bin/app_process", Substring: strp("x"), SubstringB64: strp(b64)}, logic.Unknown},
		{"contains no needle", catalog.AtomicTest{TestType: catalog.TestFileContainsSubstring, Filename: "/system/bin/app_process"}, logic.Unknown},
		{"contains empty substring", catalog.AtomicTest{TestType: catalog.TestFileContainsSubstring, Filename: "/system/bin/app_process", Substring: strp("")}, logic.True},
		{"contains empty substring and b64", catalog.AtomicTest{TestType: catalog.TestFileContainsSubstring, Filename: "/system/bin/app_process", Substring: strp(""), SubstringB64: strp(b64)}, logic.Unknown},
		{"contains bad b64", catalog.AtomicTest{TestType: catalog.TestFileContainsSubstring, Filename: "/system/bin/app_process", SubstringB64: strp("!!")}, logic.Unknown},

		{"xz", catalog.AtomicTest{TestType: catalog.TestXZContainsSubstring, Filename: "/system/etc/update.xz", Substring: strp("MARKER_1234")}, logic.True},
		{"xz absent", catalog.AtomicTest{TestType: catalog.TestXZContainsSubstring, Filename: "/system/etc/update.xz", Substring: strp("OTHER")}, logic.False},
		{"lzma fallback", catalog.AtomicTest{TestType: catalog.TestXZContainsSubstring, Filename: "/system/etc/legacy.lzma", SubstringB64: strp(b64)}, logic.True},
		{"xz garbage", catalog.AtomicTest{TestType: catalog.TestXZContainsSubstring, Filename: "/system/etc/garbage.xz", Substring: strp("MARKER")}, logic.Unknown},

		{"zip contains", catalog.AtomicTest{TestType: catalog.TestZipContainsSubstring, ZipFile: "/system/framework/fw.jar", ZipItem: "classes.dex", Substring: strp("MARKER_1234")}, logic.True},
		{"zip not contains", catalog.AtomicTest{TestType: catalog.TestZipContainsSubstring, ZipFile: "/system/framework/fw.jar", ZipItem: "classes.dex", Substring: strp("OTHER")}, logic.False},
		{"zip missing item", catalog.AtomicTest{TestType: catalog.TestZipContainsSubstring, ZipFile: "/system/framework/fw.jar", ZipItem: "classes2.dex", Substring: strp("x")}, logic.Unknown},
		{"zip bad archive", catalog.AtomicTest{TestType: catalog.TestZipContainsSubstring, ZipFile: "/system/framework/bad.jar", ZipItem: "classes.dex", Substring: strp("x")}, logic.Unknown},

		{"zip entry exists", catalog.AtomicTest{TestType: catalog.TestZipEntryExists, ZipFile: "/system/framework/fw.jar", ZipItem: "classes.dex"}, logic.True},
		{"zip entry absent", catalog.AtomicTest{TestType: catalog.TestZipEntryExists, ZipFile: "/system/framework/fw.jar", ZipItem: "classes2.dex"}, logic.False},
		{"zip entry missing archive", catalog.AtomicTest{TestType: catalog.TestZipEntryExists, ZipFile: "/system/framework/none.jar", ZipItem: "classes.dex"}, logic.Unknown},
		{"zip entry bad archive", catalog.AtomicTest{TestType: catalog.TestZipEntryExists, ZipFile: "/system/framework/bad.jar", ZipItem: "classes.dex"}, logic.Unknown},

		{"unknown type", catalog.AtomicTest{TestType: "DISAS_FUNCTION_MATCHES_REGEX", Filename: "/system/bin/app_process"}, logic.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			test := tt.test
			assert.Equal(t, tt.want, evalOne(t, root, nil, Tools{}, &test))
		})
	}
}

func TestXZContains_SingleStream(t *testing.T) {
	blob := append(xzData(t, "first stream"), xzData(t, "second MARKER_1234")...)
	root := writeFirmware(t, map[string][]byte{"/system/etc/two.xz": blob})

	test := &catalog.AtomicTest{TestType: catalog.TestXZContainsSubstring, Filename: "/system/etc/two.xz", Substring: strp("MARKER_1234")}
	assert.NotEqual(t, logic.True, evalOne(t, root, nil, Tools{}, test), "only the first stream is searched")

	test = &catalog.AtomicTest{TestType: catalog.TestXZContainsSubstring, Filename: "/system/etc/two.xz", Substring: strp("first")}
	assert.NotEqual(t, logic.False, evalOne(t, root, nil, Tools{}, test))
}

func TestReaderContains_AcrossWindows(t *testing.T) {
	data := make([]byte, (1<<20)+10)
	copy(data[(1<<20)-3:], "NEEDLE")

	found, err := readerContains(bytes.NewReader(data), []byte("NEEDLE"))
	require.NoError(t, err)
	assert.True(t, found)

	found, err = readerContains(bytes.NewReader(data), []byte("MISSING"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPropertyTests(t *testing.T) {
	props := buildprop.FromMap(map[string]string{
		buildprop.KeyBoardPlatform:  "msm8996",
		buildprop.KeyVersionRelease: "7.0",
		"ro.product.brand":          "acme",
	})
	noPlatform := buildprop.FromMap(map[string]string{"ro.product.brand": "acme"})

	tests := []struct {
		name  string
		props *buildprop.Properties
		test  catalog.AtomicTest
		want  logic.Value
	}{
		{"prop equals", props, catalog.AtomicTest{TestType: catalog.TestBuildPropEquals, BuildProperty: "ro.product.brand", Value: "acme"}, logic.True},
		{"prop differs", props, catalog.AtomicTest{TestType: catalog.TestBuildPropEquals, BuildProperty: "ro.product.brand", Value: "other"}, logic.False},
		{"prop missing", props, catalog.AtomicTest{TestType: catalog.TestBuildPropEquals, BuildProperty: "ro.nope", Value: "acme"}, logic.False},
		{"vendor", props, catalog.AtomicTest{TestType: catalog.TestChipsetVendor, Vendor: buildprop.VendorQualcomm}, logic.True},
		{"vendor differs", props, catalog.AtomicTest{TestType: catalog.TestChipsetVendor, Vendor: buildprop.VendorMTK}, logic.False},
		{"vendor or unknown match", props, catalog.AtomicTest{TestType: catalog.TestChipsetVendorOrUnknown, Vendor: buildprop.VendorQualcomm}, logic.True},
		{"vendor or unknown differs", props, catalog.AtomicTest{TestType: catalog.TestChipsetVendorOrUnknown, Vendor: buildprop.VendorMTK}, logic.False},
		{"vendor or unknown unknown", noPlatform, catalog.AtomicTest{TestType: catalog.TestChipsetVendorOrUnknown, Vendor: buildprop.VendorMTK}, logic.True},
		{"android version", props, catalog.AtomicTest{TestType: catalog.TestAndroidVersionEquals, AndroidVersion: "7.0"}, logic.True},
		{"android version differs", props, catalog.AtomicTest{TestType: catalog.TestAndroidVersionEquals, AndroidVersion: "8.0"}, logic.False},
		{"android version absent", noPlatform, catalog.AtomicTest{TestType: catalog.TestAndroidVersionEquals, AndroidVersion: "7.0"}, logic.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			test := tt.test
			assert.Equal(t, tt.want, evalOne(t, t.TempDir(), tt.props, Tools{}, &test))
		})
	}
}

func TestBinaryContainsSymbol(t *testing.T) {
	root := writeFirmware(t, map[string][]byte{libfoo: fooBinary()})
	tools := Tools{Dumper: newFooDumper()}

	test := &catalog.AtomicTest{TestType: catalog.TestBinaryContainsSymbol, Filename: libfoo, Symbol: "parse_header"}
	assert.Equal(t, logic.True, evalOne(t, root, nil, tools, test))

	test = &catalog.AtomicTest{TestType: catalog.TestBinaryContainsSymbol, Filename: libfoo, Symbol: "memcpy"}
	assert.Equal(t, logic.False, evalOne(t, root, nil, tools, test), "undefined imports do not count")

	test = &catalog.AtomicTest{TestType: catalog.TestBinaryContainsSymbol, Filename: "/system/lib64/none.so", Symbol: "parse_header"}
	assert.Equal(t, logic.Unknown, evalOne(t, root, nil, tools, test))

	failing := Tools{Dumper: &fakeDumper{err: errors.New("objdump: file format not recognized")}}
	test = &catalog.AtomicTest{TestType: catalog.TestBinaryContainsSymbol, Filename: libfoo, Symbol: "parse_header"}
	assert.Equal(t, logic.Unknown, evalOne(t, root, nil, failing, test))

	assert.Equal(t, logic.Unknown, evalOne(t, root, nil, Tools{}, test), "no dumper configured")
}

func TestDisasContainsString(t *testing.T) {
	root := writeFirmware(t, map[string][]byte{libfoo: fooBinary()})
	disas := &fakeDisassembler{text: "    1050:\t90000000 \tadrp\tx0, 0x1000\n    105c:\td65f03c0 \tret\n"}
	tools := Tools{Dumper: newFooDumper(), Disassembler: disas}

	test := &catalog.AtomicTest{TestType: catalog.TestDisasContainsString, Filename: libfoo, Symbol: "parse_header", Substring: strp("adrp")}
	assert.Equal(t, logic.True, evalOne(t, root, nil, tools, test))
	assert.Equal(t, uint64(0x1050), disas.start)
	assert.Equal(t, uint64(0x1060), disas.stop)

	test = &catalog.AtomicTest{TestType: catalog.TestDisasContainsString, Filename: libfoo, Symbol: "parse_header", Substring: strp("blr")}
	assert.Equal(t, logic.False, evalOne(t, root, nil, tools, test))

	test = &catalog.AtomicTest{TestType: catalog.TestDisasContainsString, Filename: libfoo, Symbol: "missing_func", Substring: strp("adrp")}
	assert.Equal(t, logic.False, evalOne(t, root, nil, tools, test), "absent symbol")

	noDisas := Tools{Dumper: newFooDumper()}
	test = &catalog.AtomicTest{TestType: catalog.TestDisasContainsString, Filename: libfoo, Symbol: "parse_header", Substring: strp("adrp")}
	assert.Equal(t, logic.Unknown, evalOne(t, root, nil, noDisas, test))

	broken := Tools{Dumper: newFooDumper(), Disassembler: &fakeDisassembler{err: errors.New("boom")}}
	assert.Equal(t, logic.Unknown, evalOne(t, root, nil, broken, test))
}

func TestMaskSignatureSymbol(t *testing.T) {
	root := writeFirmware(t, map[string][]byte{libfoo: fooBinary()})
	tools := Tools{Dumper: newFooDumper()}

	sig, err := signature.NewMaskSignature(fooCode, []signature.Mask{{Position: 0, Value: signature.MaskA}})
	require.NoError(t, err)

	other := append([]byte(nil), fooCode...)
	other[12] = 0x1f
	otherSig, err := signature.NewMaskSignature(other, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		tools Tools
		test  catalog.AtomicTest
		want  logic.Value
	}{
		{"match", tools, catalog.AtomicTest{Filename: libfoo, Symbol: "parse_header", Signature: sig.String()}, logic.True},
		{"mismatch", tools, catalog.AtomicTest{Filename: libfoo, Symbol: "parse_header", Signature: otherSig.String()}, logic.False},
		{"symbol missing", tools, catalog.AtomicTest{Filename: libfoo, Symbol: "nope", Signature: sig.String()}, logic.Unknown},
		{"corrupt signature", tools, catalog.AtomicTest{Filename: libfoo, Symbol: "parse_header", Signature: "MASK:zz"}, logic.Unknown},
		{"no table", Tools{Dumper: &fakeDumper{err: errors.New("boom")}}, catalog.AtomicTest{Filename: libfoo, Symbol: "parse_header", Signature: sig.String()}, logic.Unknown},
		{"missing file", tools, catalog.AtomicTest{Filename: "/system/lib64/none.so", Symbol: "parse_header", Signature: sig.String()}, logic.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			test := tt.test
			test.TestType = catalog.TestMaskSignatureSymbol
			assert.Equal(t, tt.want, evalOne(t, root, nil, tt.tools, &test))
		})
	}
}

func TestMaskSignatureSymbol_ShortFile(t *testing.T) {
	root := writeFirmware(t, map[string][]byte{libfoo: make([]byte, 0x455)})
	sig, err := signature.NewMaskSignature(fooCode, nil)
	require.NoError(t, err)

	test := &catalog.AtomicTest{TestType: catalog.TestMaskSignatureSymbol, Filename: libfoo, Symbol: "parse_header", Signature: sig.String()}
	assert.Equal(t, logic.Unknown, evalOne(t, root, nil, Tools{Dumper: newFooDumper()}, test))
}

func searchRecord(pos, length uint32, sum [8]byte) []byte {
	b := binary.LittleEndian.AppendUint32(nil, pos)
	b = binary.LittleEndian.AppendUint32(b, length)
	return append(b, sum[:]...)
}

func TestRollingSignature(t *testing.T) {
	root := writeFirmware(t, map[string][]byte{libfoo: fooBinary()})
	const rolling = "R_AARCH64_V1:06000040:aaaaaaaaaaaaaaaabbbbbbbbbbbbbbbb"

	aa := [8]byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	bb := [8]byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
	hit := append(searchRecord(0x100, 64, aa), searchRecord(0x140, 64, bb)...)
	miss := append(searchRecord(0x100, 64, aa), searchRecord(0x150, 64, bb)...)

	tests := []struct {
		name     string
		searcher signature.Searcher
		sig      string
		want     logic.Value
	}{
		{"hit", &fakeSearcher{out: hit}, rolling, logic.True},
		{"wrong distance", &fakeSearcher{out: miss}, rolling, logic.False},
		{"no records", &fakeSearcher{}, rolling, logic.False},
		{"permission denied", &fakeSearcher{out: []byte("Failed to open file: Permission denied\n"), err: errors.New("exit status 1")}, rolling, logic.Unknown},
		{"tool error", &fakeSearcher{err: errors.New("exit status 2")}, rolling, logic.Unknown},
		{"corrupt", &fakeSearcher{out: hit}, "R_AARCH64_V1:zz", logic.Unknown},
		{"no searcher", nil, rolling, logic.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tools := Tools{}
			if tt.searcher != nil {
				tools.Searcher = tt.searcher
			}
			test := &catalog.AtomicTest{TestType: catalog.TestRollingSignature, Filename: libfoo, RollingSignature: tt.sig}
			assert.Equal(t, tt.want, evalOne(t, root, nil, tools, test))
		})
	}
}

func TestEvaluateTest_Unknown(t *testing.T) {
	_, err := New(t.TempDir(), nil, nil, Tools{}, Options{}).EvaluateTest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownTest)
}
