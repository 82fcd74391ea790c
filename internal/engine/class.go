package engine

import (
	"fmt"
	"time"

	"github.com/muurk/patchscan/internal/logic"
)

// Class is the one-character classification of a vulnerability.
type Class byte

const (
	// ClassPatched: the fix is present and the vulnerable code is not.
	ClassPatched Class = 'T'
	// ClassMissing: the vulnerable code is present and the fix is not.
	ClassMissing Class = 'F'
	// ClassClaimed: missing, but the firmware claims a patch level that
	// covers the vulnerability.
	ClassClaimed Class = 'D'
	// ClassNotAffected: the firmware does not contain the affected component.
	ClassNotAffected Class = 'N'
	// ClassInconclusive: unknown or contradictory test results.
	ClassInconclusive Class = '_'
)

// Classes lists every class in summary order.
var Classes = []Class{ClassPatched, ClassMissing, ClassClaimed, ClassInconclusive, ClassNotAffected}

func (c Class) String() string {
	return string(c)
}

// Label returns the summary name of the class.
func (c Class) Label() string {
	switch c {
	case ClassPatched:
		return "Patched"
	case ClassMissing:
		return "Missing"
	case ClassClaimed:
		return "Claimed"
	case ClassNotAffected:
		return "NotAffected"
	case ClassInconclusive:
		return "Inconclusive"
	default:
		return fmt.Sprintf("Class(%q)", byte(c))
	}
}

// MarshalText encodes the class as its character.
func (c Class) MarshalText() ([]byte, error) {
	return []byte{byte(c)}, nil
}

// UnmarshalText decodes a single class character.
func (c *Class) UnmarshalText(text []byte) error {
	if len(text) != 1 {
		return fmt.Errorf("invalid class %q", text)
	}
	switch v := Class(text[0]); v {
	case ClassPatched, ClassMissing, ClassClaimed, ClassNotAffected, ClassInconclusive:
		*c = v
		return nil
	default:
		return fmt.Errorf("invalid class %q", text)
	}
}

// Decide maps the vulnerable and fixed tree values to a class. claimed is
// consulted only for a missing fix.
func Decide(vulnerable, fixed logic.Value, claimed func() bool) Class {
	switch {
	case !vulnerable.Known() || !fixed.Known():
		return ClassInconclusive
	case fixed == logic.True && vulnerable == logic.True:
		return ClassInconclusive
	case fixed == logic.True && vulnerable == logic.False:
		return ClassPatched
	case fixed == logic.False && vulnerable == logic.True:
		if claimed != nil && claimed() {
			return ClassClaimed
		}
		return ClassMissing
	default:
		return ClassInconclusive
	}
}

// Summary counts classifications.
type Summary struct {
	Total        int `json:"Total"`
	Patched      int `json:"Patched"`
	Missing      int `json:"Missing"`
	Claimed      int `json:"Claimed"`
	Inconclusive int `json:"Inconclusive"`
	NotAffected  int `json:"NotAffected"`
}

// Add counts one classification.
func (s *Summary) Add(c Class) {
	switch c {
	case ClassPatched:
		s.Patched++
	case ClassMissing:
		s.Missing++
	case ClassClaimed:
		s.Claimed++
	case ClassNotAffected:
		s.NotAffected++
	case ClassInconclusive:
		s.Inconclusive++
	default:
		return
	}
	s.Total++
}

// Count returns the number of results in class c.
func (s Summary) Count(c Class) int {
	switch c {
	case ClassPatched:
		return s.Patched
	case ClassMissing:
		return s.Missing
	case ClassClaimed:
		return s.Claimed
	case ClassNotAffected:
		return s.NotAffected
	case ClassInconclusive:
		return s.Inconclusive
	}
	return 0
}

// Summarize counts a result map.
func Summarize(results map[string]Class) Summary {
	var s Summary
	for _, c := range results {
		s.Add(c)
	}
	return s
}

// Device describes the scanned firmware.
type Device struct {
	Root           string `json:"root"`
	Fingerprint    string `json:"fingerprint"`
	Model          string `json:"model,omitempty"`
	AndroidVersion string `json:"androidVersion,omitempty"`
	APILevel       int    `json:"apiLevel"`
	PatchLevel     string `json:"patchLevel,omitempty"`
	ChipVendor     string `json:"chipVendor"`
	Is64Bit        bool   `json:"is64Bit"`
}

// Report is the outcome of a catalog-wide run.
type Report struct {
	RunID    string           `json:"runId"`
	Started  time.Time        `json:"started"`
	Finished time.Time        `json:"finished"`
	Device   Device           `json:"device"`
	Results  map[string]Class `json:"results"`
	Summary  Summary          `json:"summary"`
}

// Result is one classification, as delivered to OnResult.
type Result struct {
	ID       string        `json:"id"`
	Class    Class         `json:"class"`
	Duration time.Duration `json:"duration"`
	// Panic holds the recovered value when classification crashed.
	Panic string `json:"panic,omitempty"`
}
