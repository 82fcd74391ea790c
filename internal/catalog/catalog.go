package catalog

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Catalog holds atomic tests and vulnerability records by id. It is
// read-only once loading finishes.
type Catalog struct {
	tests           map[string]*AtomicTest
	vulnerabilities map[string]*Vulnerability
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		tests:           make(map[string]*AtomicTest),
		vulnerabilities: make(map[string]*Vulnerability),
	}
}

// Merge adds the chunk's entries. Later chunks replace earlier entries
// with the same id.
func (c *Catalog) Merge(chunk *Chunk) {
	if chunk == nil {
		return
	}
	for id, t := range chunk.BasicTests {
		if t != nil {
			c.tests[id] = t
		}
	}
	for id, v := range chunk.Vulnerabilities {
		if v != nil {
			c.vulnerabilities[id] = v
		}
	}
}

// AddTest registers one atomic test.
func (c *Catalog) AddTest(id string, t *AtomicTest) {
	c.tests[id] = t
}

// AddVulnerability registers one vulnerability record.
func (c *Catalog) AddVulnerability(id string, v *Vulnerability) {
	c.vulnerabilities[id] = v
}

// Test returns the atomic test with the given UUID.
func (c *Catalog) Test(id string) (*AtomicTest, bool) {
	t, ok := c.tests[id]
	return t, ok
}

// Vulnerability returns the record for a vulnerability id.
func (c *Catalog) Vulnerability(id string) (*Vulnerability, bool) {
	v, ok := c.vulnerabilities[id]
	return v, ok
}

// VulnerabilityIDs returns all vulnerability ids, sorted.
func (c *Catalog) VulnerabilityIDs() []string {
	ids := make([]string, 0, len(c.vulnerabilities))
	for id := range c.vulnerabilities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TestCount returns the number of atomic tests.
func (c *Catalog) TestCount() int {
	return len(c.tests)
}

// VulnerabilityCount returns the number of vulnerability records.
func (c *Catalog) VulnerabilityCount() int {
	return len(c.vulnerabilities)
}

// Problem is a catalog inconsistency found by Validate. None of them stop
// a scan; the affected tests evaluate to unknown.
type Problem struct {
	ID      string
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.ID, p.Message)
}

// Validate reports malformed test ids, unknown test types, vulnerability
// records without trees and references to tests that do not exist.
func (c *Catalog) Validate() []Problem {
	var problems []Problem

	testIDs := make([]string, 0, len(c.tests))
	for id := range c.tests {
		testIDs = append(testIDs, id)
	}
	sort.Strings(testIDs)

	for _, id := range testIDs {
		if _, err := uuid.Parse(id); err != nil {
			problems = append(problems, Problem{ID: id, Message: "test id is not a UUID"})
		}
		if t := c.tests[id]; !t.TestType.Known() {
			problems = append(problems, Problem{ID: id, Message: fmt.Sprintf("unsupported test type %q", t.TestType)})
		}
	}

	for _, id := range c.VulnerabilityIDs() {
		v := c.vulnerabilities[id]
		if v.TestNotAffected == nil || v.TestVulnerable == nil || v.TestFixed == nil {
			problems = append(problems, Problem{ID: id, Message: "missing logic tree"})
		}
		for _, ref := range v.References() {
			if _, ok := c.tests[ref]; !ok {
				problems = append(problems, Problem{ID: id, Message: fmt.Sprintf("references unknown test %s", ref)})
			}
		}
	}

	return problems
}
