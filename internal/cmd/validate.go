package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/harrison/relay/internal/definition"
	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <process-file-or-directory>...",
		Short: "Check process definitions without running them",
		Long: `Validate process files without executing any task.

Each file is parsed and compiled: tasks and their result schemas and
templates, step references (every step may only read inputs and steps
declared before it), conditions and summary fields. Directories are
scanned for .yaml, .yml and .md process files.

Examples:
  relay validate review.yaml
  relay validate processes/`,
		Args: cobra.MinimumNArgs(1),
		RunE: validateCommand,
	}
	return cmd
}

func validateCommand(cmd *cobra.Command, args []string) error {
	files, err := collectProcessFiles(args)
	if err != nil {
		return err
	}
	return validateFiles(files, cmd.OutOrStdout())
}

// collectProcessFiles expands directories into the process files they contain.
// Explicit file arguments are kept whatever their extension, so that
// unsupported formats are reported by the loader.
func collectProcessFiles(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)

	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to access path %s: %w", path, err)
		}
		if !info.IsDir() {
			add(path)
			continue
		}

		var found []string
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if p != path && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if definition.DetectFormat(p) != definition.FormatUnknown {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan directory %s: %w", path, err)
		}
		sort.Strings(found)
		for _, p := range found {
			add(p)
		}
	}

	if len(files) == 0 {
		return nil, errors.New("no process files found")
	}
	return files, nil
}

// validateFiles loads every file and reports the result per file.
func validateFiles(files []string, output io.Writer) error {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	failed := 0
	for _, file := range files {
		proc, err := definition.LoadFile(file)
		if err != nil {
			failed++
			fmt.Fprintf(output, "%s %s\n", red("✗"), file)
			fmt.Fprintf(output, "    %v\n", err)
			continue
		}
		fmt.Fprintf(output, "%s %s: %s (%d tasks, %d steps)\n",
			green("✓"), file, proc.Definition.ID, proc.Tasks.Len(), len(proc.Definition.StepNames()))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d process files failed validation", failed, len(files))
	}
	return nil
}
