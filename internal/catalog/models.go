package catalog

import (
	"github.com/muurk/patchscan/internal/logic"
)

// TestType identifies the kind of an atomic test.
type TestType string

const (
	TestFileExists             TestType = "FILE_EXISTS"
	TestFileContainsSubstring  TestType = "FILE_CONTAINS_SUBSTRING"
	TestXZContainsSubstring    TestType = "XZ_CONTAINS_SUBSTRING"
	TestZipContainsSubstring   TestType = "ZIP_CONTAINS_SUBSTRING"
	TestZipEntryExists         TestType = "ZIP_ENTRY_EXISTS"
	TestBuildPropEquals        TestType = "BUILD_PROP_EQUALS"
	TestChipsetVendor          TestType = "CHIPSET_VENDOR"
	TestChipsetVendorOrUnknown TestType = "CHIPSET_VENDOR_OR_UNKNOWN"
	TestAndroidVersionEquals   TestType = "ANDROID_VERSION_EQUALS"
	TestBinaryContainsSymbol   TestType = "BINARY_CONTAINS_SYMBOL"
	TestDisasContainsString    TestType = "DISAS_FUNCTION_CONTAINS_STRING"
	TestMaskSignatureSymbol    TestType = "MASK_SIGNATURE_SYMBOL"
	TestRollingSignature       TestType = "ROLLING_SIGNATURE"
)

// KnownTestTypes lists every test type the engine evaluates.
var KnownTestTypes = []TestType{
	TestFileExists,
	TestFileContainsSubstring,
	TestXZContainsSubstring,
	TestZipContainsSubstring,
	TestZipEntryExists,
	TestBuildPropEquals,
	TestChipsetVendor,
	TestChipsetVendorOrUnknown,
	TestAndroidVersionEquals,
	TestBinaryContainsSymbol,
	TestDisasContainsString,
	TestMaskSignatureSymbol,
	TestRollingSignature,
}

// Known reports whether t is evaluated by the engine.
func (t TestType) Known() bool {
	for _, k := range KnownTestTypes {
		if k == t {
			return true
		}
	}
	return false
}

// AtomicTest is one basic test definition. Which fields are meaningful
// depends on TestType.
type AtomicTest struct {
	TestType TestType `json:"testType"`

	Filename string `json:"filename,omitempty"`
	// Substring and SubstringB64 are pointers so that a present empty
	// value is told apart from an absent key.
	Substring    *string `json:"substring,omitempty"`
	SubstringB64 *string `json:"substringB64,omitempty"`

	ZipFile string `json:"zipFile,omitempty"`
	ZipItem string `json:"zipItem,omitempty"`

	Symbol string `json:"symbol,omitempty"`

	BuildProperty string `json:"buildProperty,omitempty"`
	Value         string `json:"value,omitempty"`

	Vendor         string `json:"VENDOR,omitempty"`
	AndroidVersion string `json:"androidVersion,omitempty"`

	Signature        string `json:"signature,omitempty"`
	RollingSignature string `json:"rollingSignature,omitempty"`
}

// Vulnerability holds the three logic trees for one vulnerability id.
type Vulnerability struct {
	TestNotAffected *logic.Node `json:"testNotAffected"`
	TestVulnerable  *logic.Node `json:"testVulnerable"`
	TestFixed       *logic.Node `json:"testFixed"`
	PatchlevelDate  string      `json:"patchlevelDate,omitempty"`
	Category        string      `json:"category,omitempty"`
}

// ReferenceDate is the patch date after which a missing fix is counted as
// claimed: patchlevelDate, falling back to category.
func (v *Vulnerability) ReferenceDate() string {
	if v.PatchlevelDate != "" {
		return v.PatchlevelDate
	}
	return v.Category
}

// References lists every atomic test id used by the three trees.
func (v *Vulnerability) References() []string {
	seen := make(map[string]bool)
	var out []string
	for _, tree := range []*logic.Node{v.TestNotAffected, v.TestVulnerable, v.TestFixed} {
		if tree == nil {
			continue
		}
		for _, id := range tree.References() {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// Suite lists the chunk URLs for one API level.
type Suite struct {
	BasicTestURLs       []string `json:"basicTestUrls"`
	VulnerabilitiesURLs []string `json:"vulnerabilitiesUrls"`
}

// URLs returns basic test chunks followed by vulnerability chunks.
func (s Suite) URLs() []string {
	out := make([]string, 0, len(s.BasicTestURLs)+len(s.VulnerabilitiesURLs))
	out = append(out, s.BasicTestURLs...)
	return append(out, s.VulnerabilitiesURLs...)
}

// Suites maps API level (as a decimal string) to its suite.
type Suites map[string]Suite

// Chunk is one catalog document. A chunk carries basic tests or
// vulnerabilities.
type Chunk struct {
	BasicTests      map[string]*AtomicTest    `json:"basicTests,omitempty"`
	Vulnerabilities map[string]*Vulnerability `json:"vulnerabilities,omitempty"`
}
