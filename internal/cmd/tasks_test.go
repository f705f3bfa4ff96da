package cmd

import (
	"strings"
	"testing"
)

const labeledProcess = `id: labeled
tasks:
  - name: research
    kind: agent
    labels: [research, slow]
    result_schema: {type: object}
  - name: lint
    kind: command
    worker:
      command: [lint, --json]
    result_schema: {type: object}
steps:
  - name: look
    task: research
  - name: check
    task: lint
    when: steps.look
`

func TestTasksCommand(t *testing.T) {
	process := writeFile(t, "labeled.yaml", labeledProcess)

	stdout, _, err := executeCommand(t, "tasks", process)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) < 3 {
		t.Fatalf("Expected a task table, got:\n%s", stdout)
	}
	if !strings.HasPrefix(lines[0], "TASK") {
		t.Errorf("Expected header line, got %q", lines[0])
	}
	// Tasks are listed by name
	if !strings.HasPrefix(lines[1], "lint") || !strings.Contains(lines[1], "command") {
		t.Errorf("Expected lint command task first, got %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "research") || !strings.Contains(lines[2], "research,slow") {
		t.Errorf("Expected research task with labels, got %q", lines[2])
	}

	for _, want := range []string{"Steps of labeled:", "  look\n", "  check <- look"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, stdout)
		}
	}
}

func TestTasksCommandLabel(t *testing.T) {
	process := writeFile(t, "labeled.yaml", labeledProcess)

	stdout, _, err := executeCommand(t, "tasks", process, "--label", "slow")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(stdout, "research") || strings.Contains(stdout, "lint") {
		t.Errorf("Expected only the research task, got:\n%s", stdout)
	}
	if strings.Contains(stdout, "Steps of") {
		t.Errorf("Label listing should not print steps, got:\n%s", stdout)
	}

	stdout, _, err = executeCommand(t, "tasks", process, "--label", "missing")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(stdout, `No tasks with label "missing" in labeled`) {
		t.Errorf("Expected empty label message, got:\n%s", stdout)
	}
}

func TestTasksCommandInvalidFile(t *testing.T) {
	process := writeFile(t, "backwards.yaml", forwardRefProcess)

	_, _, err := executeCommand(t, "tasks", process)
	if err == nil || !strings.Contains(err.Error(), "failed to load process file") {
		t.Errorf("Expected load error, got: %v", err)
	}
}
