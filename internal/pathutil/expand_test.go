package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpand_Empty(t *testing.T) {
	got, err := Expand("   ")
	if err != nil {
		t.Fatalf("Expand returned error: %v", err)
	}
	if got != "" {
		t.Fatalf("Expand(blank) = %q, want empty", got)
	}
}

func TestExpand_EnvVar(t *testing.T) {
	t.Setenv("TAPAGENT_TEST_DIR", "/var/data")

	got, err := Expand("$TAPAGENT_TEST_DIR/agents")
	if err != nil {
		t.Fatalf("Expand returned error: %v", err)
	}
	if got != filepath.Clean("/var/data/agents") {
		t.Fatalf("Expand = %q", got)
	}
}

func TestExpand_HomeShortcut(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	got, err := Expand("~/data")
	if err != nil {
		t.Fatalf("Expand returned error: %v", err)
	}
	if got != filepath.Join(home, "data") {
		t.Fatalf("Expand(~/data) = %q", got)
	}
}
