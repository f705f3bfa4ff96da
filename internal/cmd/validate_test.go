package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const forwardRefProcess = `id: backwards
tasks:
  - name: t
    result_schema: {type: object}
steps:
  - name: first
    task: t
    args:
      x: $steps.second.value
  - name: second
    task: t
`

func TestValidateCommand(t *testing.T) {
	valid := writeFile(t, "greet.yaml", greetProcess)
	invalid := writeFile(t, "backwards.yaml", forwardRefProcess)

	tests := []struct {
		name           string
		args           []string
		wantErr        bool
		wantErrContain string
		wantOutput     []string
	}{
		{
			name:       "valid file",
			args:       []string{"validate", valid},
			wantOutput: []string{"✓", "greet (2 tasks, 2 steps)"},
		},
		{
			name:           "forward reference",
			args:           []string{"validate", invalid},
			wantErr:        true,
			wantErrContain: "1 of 1 process files failed validation",
			wantOutput:     []string{"✗", `step "second" is not declared before this step`},
		},
		{
			name:           "mixed files",
			args:           []string{"validate", valid, invalid},
			wantErr:        true,
			wantErrContain: "1 of 2 process files failed validation",
			wantOutput:     []string{"greet (2 tasks, 2 steps)", "backwards.yaml"},
		},
		{
			name:           "unsupported extension",
			args:           []string{"validate", writeFile(t, "process.json", "{}")},
			wantErr:        true,
			wantErrContain: "failed validation",
			wantOutput:     []string{"unknown file format"},
		},
		{
			name:           "missing path",
			args:           []string{"validate", filepath.Join(t.TempDir(), "missing.yaml")},
			wantErr:        true,
			wantErrContain: "failed to access path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := executeCommand(t, tt.args...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.wantErrContain) {
					t.Errorf("Expected error containing %q, got: %v", tt.wantErrContain, err)
				}
			} else if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			for _, want := range tt.wantOutput {
				if !strings.Contains(stdout, want) {
					t.Errorf("Expected output to contain %q, got:\n%s", want, stdout)
				}
			}
		})
	}
}

func TestCollectProcessFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.yaml":            greetProcess,
		"a.md":              "---\nid: a\n---\n",
		"notes.txt":         "ignored",
		"nested/c.yml":      greetProcess,
		".relay/config.yml": "log_level: debug\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := collectProcessFiles([]string{dir, filepath.Join(dir, "b.yaml")})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{
		filepath.Join(dir, "a.md"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yml"),
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("File %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	empty := t.TempDir()
	if _, err := collectProcessFiles([]string{empty}); err == nil || !strings.Contains(err.Error(), "no process files found") {
		t.Errorf("Expected no process files error, got: %v", err)
	}
}
