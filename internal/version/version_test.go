package version

import (
	"strings"
	"testing"
)

func TestPopulated(t *testing.T) {
	if Version == "" {
		t.Error("Version should never be empty after init")
	}
	if Commit == "" {
		t.Error("Commit should never be empty after init")
	}
}

func TestFull(t *testing.T) {
	if !strings.Contains(Full(), "(commit: "+Commit+")") {
		t.Errorf("Full() = %q", Full())
	}
}

func TestUserAgent(t *testing.T) {
	if !strings.HasPrefix(UserAgent(), "patchscan/"+Version) {
		t.Errorf("UserAgent() = %q", UserAgent())
	}
}
