package buildprop

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Chip vendor classifications returned by ChipVendor.
const (
	VendorQualcomm   = "QUALCOMM"
	VendorMTK        = "MTK"
	VendorNvidia     = "NVIDIA"
	VendorSamsung    = "SAMSUNG"
	VendorSpreadtrum = "SPREADTRUM"
	VendorUnknown    = "UNKNOWN"
)

// Well-known property keys.
const (
	KeyBoardPlatform        = "ro.board.platform"
	KeyVersionRelease       = "ro.build.version.release"
	KeySystemVersionRelease = "ro.system.build.version.release"
	KeyVersionSDK           = "ro.build.version.sdk"
	KeySecurityPatch        = "ro.build.version.security_patch"
	KeyFingerprint          = "ro.build.fingerprint"
	KeyProductModel         = "ro.product.model"
	KeyDisplayID            = "ro.build.display.id"
	KeyBuildDateUTC         = "ro.build.date.utc"
)

// MinSupportedAPIVersion is the oldest API level the vulnerability catalog covers.
const MinSupportedAPIVersion = 21

// androidVersionToSDK maps release strings to SDK levels for firmware
// that does not declare ro.build.version.sdk.
var androidVersionToSDK = map[string]int{
	"11":    30,
	"10":    29,
	"9":     28,
	"8.1.0": 27,
	"8.0.0": 26,
	"7.1":   25,
	"7.0":   24,
	"6.0":   23,
	"5.1":   22,
	"5.0":   21,
}

// vendorPrefixes is checked in order against the upper-cased board platform.
var vendorPrefixes = []struct {
	prefix string
	vendor string
}{
	{"MSM", VendorQualcomm},
	{"MT", VendorMTK},
	{"TEGRA", VendorNvidia},
	{"EXYNOS", VendorSamsung},
	{"UNIVERSAL98", VendorSamsung},
	{"SC", VendorSpreadtrum},
}

// Properties is an immutable set of build properties.
type Properties struct {
	values map[string]string
	order  []string
	path   string
}

// Load reads a build.prop file from disk.
func Load(path string) (*Properties, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open build properties: %w", err)
	}
	defer f.Close()

	props, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	props.path = path
	return props, nil
}

// Parse reads key=value lines. Blank lines, comments and lines without
// '=' are skipped. A repeated key keeps its last value.
func Parse(r io.Reader) (*Properties, error) {
	props := &Properties{values: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, seen := props.values[key]; !seen {
			props.order = append(props.order, key)
		}
		props.values[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return props, nil
}

// FromMap builds Properties from an in-memory map. Keys are ordered
// lexically since a map carries no order.
func FromMap(m map[string]string) *Properties {
	props := &Properties{values: make(map[string]string, len(m))}
	for k, v := range m {
		props.values[k] = v
		props.order = append(props.order, k)
	}
	sort.Strings(props.order)
	return props
}

// Find locates the build.prop of an extracted firmware tree. The
// system partition copy is preferred over any other match.
func Find(root string) (string, error) {
	preferred := filepath.Join(root, "system", "build.prop")
	if fi, err := os.Stat(preferred); err == nil && fi.Mode().IsRegular() {
		return preferred, nil
	}

	var candidates []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are common in extracted images.
			return nil
		}
		if !d.IsDir() && d.Name() == "build.prop" {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to search %s: %w", root, err)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no build.prop found under %s", root)
	}

	for _, c := range candidates {
		if strings.HasSuffix(filepath.ToSlash(c), "/system/build.prop") {
			return c, nil
		}
	}
	return candidates[0], nil
}

// Path returns the file the properties were loaded from, if any.
func (p *Properties) Path() string {
	return p.path
}

// Get returns the raw value of key.
func (p *Properties) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns keys in order of first appearance.
func (p *Properties) Keys() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Len returns the number of distinct keys.
func (p *Properties) Len() int {
	return len(p.values)
}

// CheckBuildProperty reports whether key is present with exactly the expected value.
func (p *Properties) CheckBuildProperty(key, expected string) bool {
	v, ok := p.values[key]
	return ok && v == expected
}

// ChipVendor classifies ro.board.platform.
func (p *Properties) ChipVendor() string {
	platform := strings.ToUpper(p.values[KeyBoardPlatform])
	for _, rule := range vendorPrefixes {
		if strings.HasPrefix(platform, rule.prefix) {
			return rule.vendor
		}
	}
	return VendorUnknown
}

// AndroidVersion returns the release string or "" when neither key is set.
func (p *Properties) AndroidVersion() string {
	if v := p.values[KeyVersionRelease]; v != "" {
		return v
	}
	return p.values[KeySystemVersionRelease]
}

// APIVersion returns the SDK level, derived from the release string
// when the SDK key is absent. Returns 0 if it cannot be determined.
func (p *Properties) APIVersion() int {
	if v := p.values[KeyVersionSDK]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if sdk, ok := androidVersionToSDK[p.AndroidVersion()]; ok {
		return sdk
	}
	return 0
}

// IsTooOldAPIVersion reports whether the firmware predates the catalog.
func (p *Properties) IsTooOldAPIVersion() bool {
	return p.APIVersion() < MinSupportedAPIVersion
}

// PatchlevelDate returns the declared security patch level when it
// looks like a date ("20..."), otherwise "".
func (p *Properties) PatchlevelDate() string {
	v := p.values[KeySecurityPatch]
	if strings.HasPrefix(v, "20") {
		return v
	}
	return ""
}

// IsPatchDateClaimed reports whether the declared patch level is on or
// after requested. Missing or unparseable dates yield false.
func (p *Properties) IsPatchDateClaimed(requested string) bool {
	claimed := p.PatchlevelDate()
	if claimed == "" {
		return false
	}
	claimedDate, err := ParseDate(claimed)
	if err != nil {
		return false
	}
	requestedDate, err := ParseDate(requested)
	if err != nil {
		return false
	}
	return !claimedDate.Before(requestedDate)
}

// Fingerprint returns ro.build.fingerprint or "None".
func (p *Properties) Fingerprint() string {
	if v, ok := p.values[KeyFingerprint]; ok {
		return v
	}
	return "None"
}

// DeviceModel returns ro.product.model.
func (p *Properties) DeviceModel() string {
	return p.values[KeyProductModel]
}

// DisplayID returns ro.build.display.id.
func (p *Properties) DisplayID() string {
	return p.values[KeyDisplayID]
}

// BuildDateUTC returns the build timestamp, or the zero time if absent.
func (p *Properties) BuildDateUTC() time.Time {
	v := p.values[KeyBuildDateUTC]
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// ParseDate parses YYYY-MM-DD, or YYYY-MM as the first day of the month.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}
