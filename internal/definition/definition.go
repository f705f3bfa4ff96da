// Package definition loads declarative process files.
//
// A process file declares tasks (named TaskSpec templates), an ordered list
// of steps binding tasks to arguments, the summary mapping and the echoed
// inputs. Files are written in YAML or in Markdown with fenced YAML blocks.
// Loading compiles every template, schema and reference up front so that
// malformed definitions fail before any step runs.
package definition

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/relay/internal/models"
)

// Format represents the format of a process file
type Format int

const (
	// FormatUnknown represents an unknown or unsupported file format
	FormatUnknown Format = iota
	// FormatMarkdown represents a Markdown (.md, .markdown) process file
	FormatMarkdown
	// FormatYAML represents a YAML (.yaml, .yml) process file
	FormatYAML
)

// String returns the string representation of the Format
func (f Format) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// DetectFormat detects the process file format from its extension
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatUnknown
	}
}

// InputDecl declares a top-level process input.
type InputDecl struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Required    bool        `yaml:"required"`
	Default     interface{} `yaml:"default"`
}

// TaskDecl declares a named task template.
type TaskDecl struct {
	Name         string                 `yaml:"name"`
	Kind         string                 `yaml:"kind"`
	Title        string                 `yaml:"title"`
	Description  string                 `yaml:"description"` // Used as worker.task when that is empty
	Worker       models.WorkerPayload   `yaml:"worker"`
	ResultSchema map[string]interface{} `yaml:"result_schema"`
	IO           models.IOContract      `yaml:"io"`
	Labels       []string               `yaml:"labels"`
}

// StepDecl declares one step, or a parallel group when Parallel is set.
type StepDecl struct {
	Name     string                 `yaml:"name"`
	Task     string                 `yaml:"task"`
	When     *Condition             `yaml:"when"`
	Args     map[string]interface{} `yaml:"args"`
	Defaults map[string]interface{} `yaml:"defaults"`
	Parallel []StepDecl             `yaml:"parallel"`
}

// SummaryDecl maps a step result field onto a summary key.
type SummaryDecl struct {
	Key      string `yaml:"key"`
	Step     string `yaml:"step"`
	Path     string `yaml:"path"`
	Required bool   `yaml:"required"`
}

// File is the decoded, uncompiled form of a process file.
type File struct {
	ID          string        `yaml:"id"`
	Description string        `yaml:"description"`
	Inputs      []InputDecl   `yaml:"inputs"`
	Echo        []string      `yaml:"echo"`
	Tasks       []TaskDecl    `yaml:"tasks"`
	Steps       []StepDecl    `yaml:"steps"`
	Summary     []SummaryDecl `yaml:"summary"`

	Path string `yaml:"-"` // Source file, when loaded from disk
}

// LoadError reports a malformed process file. It matches models.ErrDefinition.
type LoadError struct {
	Source  string // File path or process id
	Section string // e.g. "step score" or "task fetch"
	Err     error
}

// Error implements the error interface for LoadError.
func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("process definition")
	if e.Source != "" {
		b.WriteString(" ")
		b.WriteString(e.Source)
	}
	if e.Section != "" {
		b.WriteString(": ")
		b.WriteString(e.Section)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is matches models.ErrDefinition.
func (e *LoadError) Is(target error) bool {
	return target == models.ErrDefinition
}

// Parser is the interface that all process file parsers implement
type Parser interface {
	Parse(r io.Reader) (*File, error)
}

// NewParser creates a parser for the specified format
func NewParser(format Format) (Parser, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownParser(), nil
	case FormatYAML:
		return NewYAMLParser(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %v", format)
	}
}

// ParseFile detects the format of path, opens it and parses it.
func ParseFile(path string) (*File, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unknown file format: %s (supported: .md, .markdown, .yaml, .yml)", path)
	}

	parser, err := NewParser(format)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	f, err := parser.Parse(file)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	f.Path = path
	return f, nil
}

// LoadFile parses and compiles a process file.
func LoadFile(path string) (*Process, error) {
	f, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(f)
}
