package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ivlev/nletimeline/internal/config"
)

const testScript = `
version: "1"
tracks: [video]
layers: 1
steps:
  - op: add
    name: opening
    layer: 0
    start: 0
    duration: 4
    asset: {variant: title, description: "Opening"}
  - op: add
    name: interview
    layer: 0
    start: 3
    duration: 6
    asset: {uri: "file:///media/interview.mov", max_duration: 120}
  - op: effect
    name: interview
    effect: blur
    sigma: 2
  - op: commit
`

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// setupProject writes a configuration with a journal and an edit script
// into a temporary directory.
func setupProject(t *testing.T) (configPath, scriptPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Journal.Path = filepath.Join(dir, "journal.db")
	cfg.Journal.Project = "cli"
	configPath = filepath.Join(dir, "nletimeline.yaml")
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("save config: %v", err)
	}
	scriptPath = filepath.Join(dir, "edit.yaml")
	if err := os.WriteFile(scriptPath, []byte(testScript), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return configPath, scriptPath, dir
}

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "conf", "nletimeline.yaml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote default configuration")

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("config init must not overwrite an existing file")
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestEffectsCommand(t *testing.T) {
	out, _, err := runCLI(t, []string{"effects"}, "")
	if err != nil {
		t.Fatalf("effects: %v", err)
	}
	for _, name := range []string{"zoompan", "blur", "afadeout"} {
		requireContains(t, out, name)
	}
}

func TestRunShowAndJournal(t *testing.T) {
	configPath, scriptPath, dir := setupProject(t)
	png := filepath.Join(dir, "out", "timeline.png")
	snapshots := filepath.Join(dir, "tracks")

	out, _, err := runCLI(t, []string{"run", scriptPath, "--render", png, "--snapshots", snapshots}, configPath)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	requireContains(t, out, "4 steps applied")
	requireContains(t, out, "Snapshot written")
	if _, err := os.Stat(png); err != nil {
		t.Errorf("expected a snapshot at %s: %v", png, err)
	}
	if _, err := os.Stat(filepath.Join(snapshots, "videotrack0.yaml")); err != nil {
		t.Errorf("expected a YAML track snapshot: %v", err)
	}

	out, _, err = runCLI(t, []string{"show", scriptPath}, configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "interview")
	requireContains(t, out, "Auto-transitions: 1")

	out, _, err = runCLI(t, []string{"journal"}, configPath)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	requireContains(t, out, "done")
}

func TestRunReportsFailingStep(t *testing.T) {
	configPath, _, dir := setupProject(t)
	script := filepath.Join(dir, "broken.yaml")
	body := `
layers: 1
steps:
  - op: split
    name: nothing
    position: 1
`
	if err := os.WriteFile(script, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := runCLI(t, []string{"run", script}, configPath)
	if err == nil || !strings.Contains(err.Error(), "step 1") {
		t.Fatalf("expected the failing step in the error, got %v", err)
	}
}

func TestJournalDisabled(t *testing.T) {
	if _, _, err := runCLI(t, []string{"journal"}, ""); err != errJournalDisabled {
		t.Fatalf("expected errJournalDisabled, got %v", err)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "unknown"},
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d): got %q, want %q", tt.n, got, tt.want)
		}
	}
}
