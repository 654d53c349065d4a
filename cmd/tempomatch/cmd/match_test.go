package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestMatchCommand(t *testing.T) {
	dir := t.TempDir()
	anchor := writeFile(t, dir, "insitu.csv", "2007-01-01,1\n2007-01-02,2\n2007-01-03,3\n")
	other := writeFile(t, dir, "ascat.csv", "2007-01-01 09:00,10\n2007-01-02 09:00,20\n")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"match", "--join", "--return-distance", "--window", "12h", anchor, other})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		matchJoin, matchDistance, matchWindow = false, false, 0
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("match failed: %v", err)
	}

	want := `time,insitu,ascat,dist_ascat
2007-01-01T00:00:00,1,10,0.375
2007-01-02T00:00:00,2,20,0.375
`
	if out.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestMatchCommandRejectsBadAsymmetry(t *testing.T) {
	rootCmd.SetArgs([]string{"match", "--asym", "<>", "a.csv", "b.csv"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		matchAsym = ""
	})

	if err := rootCmd.Execute(); err == nil {
		t.Error("Expected error for invalid asymmetry")
	}
}

func TestMatchCommandVerboseWritesToStderr(t *testing.T) {
	dir := t.TempDir()
	anchor := writeFile(t, dir, "insitu.csv", "2007-01-01,1\n")
	other := writeFile(t, dir, "ascat.csv", "2007-01-01 09:00,10\n")

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"match", "-v", anchor, other})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetErr(nil)
		verbose = false
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if !strings.Contains(errOut.String(), "matched 1 series against") {
		t.Errorf("Expected summary on stderr, got %q", errOut.String())
	}
	if strings.Contains(out.String(), "matched 1 series") {
		t.Error("Summary must not be mixed into the CSV output")
	}
}
