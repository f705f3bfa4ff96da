package cmd

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	process := writeFile(t, "tally.yaml", tallyProcess)

	stdout, stderr, err := executeCommand(t, "run", "--config", cfgPath, process, "-i", "subject=acme")
	if err != nil {
		t.Fatalf("Run failed: %v\nstderr: %s", err, stderr)
	}
	metadata, _ := decodeResult(t, stdout)["metadata"].(map[string]interface{})
	runID, _ := metadata["run_id"].(string)
	if runID == "" {
		t.Fatalf("Expected a run id in the result metadata, got %v", metadata)
	}

	// A failing run: the required input is present but the count is not an integer
	_, _, err = executeCommand(t, "run", "--config", cfgPath, process, "-i", "subject=acme", "-i", "count=many")
	if err == nil {
		t.Fatal("Expected the second run to fail validation")
	}

	listing, _, err := executeCommand(t, "history", "--config", cfgPath)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for _, want := range []string{"RUN", runID[:8], "tally", "succeeded", "failed (gather)"} {
		if !strings.Contains(listing, want) {
			t.Errorf("Expected listing to contain %q, got:\n%s", want, listing)
		}
	}

	limited, _, err := executeCommand(t, "history", "--config", cfgPath, "--limit", "1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if strings.Contains(limited, runID[:8]) {
		t.Errorf("Expected only the newest run with --limit 1, got:\n%s", limited)
	}

	detail, _, err := executeCommand(t, "history", "--config", cfgPath, runID[:8])
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for _, want := range []string{"Run:       " + runID, "Status:    succeeded", "count: 1", "gather", "completed"} {
		if !strings.Contains(detail, want) {
			t.Errorf("Expected run detail to contain %q, got:\n%s", want, detail)
		}
	}

	_, _, err = executeCommand(t, "history", "--config", cfgPath, "zzzz")
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Errorf("Expected run not found, got: %v", err)
	}
}

func TestHistoryCommandNoDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "none.db")

	stdout, _, err := executeCommand(t, "history", "--db", dbPath)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(stdout, "No run history at "+dbPath) {
		t.Errorf("Expected no history message, got:\n%s", stdout)
	}
}
