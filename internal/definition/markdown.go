package definition

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// MarkdownParser parses Markdown process files.
//
// The process header is YAML frontmatter. Each "## Task: <name>",
// "## Step: <name>" and "## Summary" section carries one fenced yaml block.
// Paragraphs in a task section become the task description when the YAML
// does not set one.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

var sectionRegex = regexp.MustCompile(`^(Task|Step|Summary)(?::\s*(.*))?$`)

// NewMarkdownParser creates a MarkdownParser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		markdown: goldmark.New(),
	}
}

// section is one level 2 heading and the blocks below it.
type section struct {
	kind  string // Task, Step or Summary
	name  string
	line  int
	yaml  []byte
	prose []string
}

// Parse decodes a Markdown process file.
func (p *MarkdownParser) Parse(r io.Reader) (*File, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	f := &File{}
	body, frontmatter := extractFrontmatter(content)
	// Section line numbers refer to the whole file
	lineOffset := bytes.Count(content[:len(content)-len(body)], []byte("\n"))
	content = body
	if frontmatter != nil {
		if err := yaml.Unmarshal(frontmatter, f); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		if len(f.Tasks) > 0 || len(f.Steps) > 0 || len(f.Summary) > 0 {
			return nil, fmt.Errorf("frontmatter may not declare tasks, steps or summary; use sections")
		}
	}

	doc := p.markdown.Parser().Parse(text.NewReader(content))
	sections, title, err := collectSections(doc, content)
	if err != nil {
		return nil, err
	}
	if f.Description == "" {
		f.Description = title
	}

	for _, s := range sections {
		s.line += lineOffset
		if s.yaml == nil && s.kind != "Task" {
			return nil, fmt.Errorf("%s section %q has no yaml block", strings.ToLower(s.kind), s.name)
		}
		switch s.kind {
		case "Task":
			var decl TaskDecl
			if err := decodeSection(s, &decl); err != nil {
				return nil, err
			}
			if decl.Name != "" && decl.Name != s.name {
				return nil, fmt.Errorf("task section %q declares name %q", s.name, decl.Name)
			}
			decl.Name = s.name
			if decl.Description == "" {
				decl.Description = strings.Join(s.prose, "\n\n")
			}
			f.Tasks = append(f.Tasks, decl)
		case "Step":
			var decl StepDecl
			if err := decodeSection(s, &decl); err != nil {
				return nil, err
			}
			if decl.Name != "" && decl.Name != s.name {
				return nil, fmt.Errorf("step section %q declares name %q", s.name, decl.Name)
			}
			decl.Name = s.name
			f.Steps = append(f.Steps, decl)
		case "Summary":
			var fields []SummaryDecl
			if err := decodeSection(s, &fields); err != nil {
				return nil, err
			}
			f.Summary = append(f.Summary, fields...)
		}
	}
	return f, nil
}

// collectSections walks the top-level blocks of the document. It returns
// the recognised sections in document order and the first level 1 heading.
func collectSections(doc ast.Node, source []byte) ([]*section, string, error) {
	var sections []*section
	var current *section
	var title string

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			headingText := strings.TrimSpace(extractText(node, source))
			if node.Level == 1 && title == "" {
				title = headingText
			}
			if node.Level != 2 {
				continue
			}
			current = nil
			matches := sectionRegex.FindStringSubmatch(headingText)
			if matches == nil {
				continue
			}
			name := strings.TrimSpace(matches[2])
			if matches[1] != "Summary" && name == "" {
				return nil, "", fmt.Errorf("%s heading needs a name", strings.ToLower(matches[1]))
			}
			current = &section{kind: matches[1], name: name, line: lineOf(node, source)}
			sections = append(sections, current)
		case *ast.FencedCodeBlock:
			if current == nil {
				continue
			}
			lang := string(node.Language(source))
			if lang != "yaml" && lang != "yml" {
				continue
			}
			if current.yaml != nil {
				return nil, "", fmt.Errorf("%s section %q has more than one yaml block", strings.ToLower(current.kind), current.name)
			}
			current.yaml = blockLines(node, source)
		case *ast.Paragraph:
			if current != nil && current.kind == "Task" {
				current.prose = append(current.prose, strings.TrimSpace(extractText(node, source)))
			}
		}
	}
	return sections, title, nil
}

func decodeSection(s *section, into interface{}) error {
	if s.yaml == nil {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(s.yaml))
	dec.KnownFields(true)
	if err := dec.Decode(into); err != nil && err != io.EOF {
		label := strings.ToLower(s.kind)
		if s.name != "" {
			label += " " + s.name
		}
		return fmt.Errorf("%s (line %d): failed to parse yaml: %w", label, s.line, err)
	}
	return nil
}

// extractText extracts plain text from an AST node
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
			continue
		}
		buf.WriteString(extractText(c, source))
	}
	return buf.String()
}

// blockLines returns the raw source lines of a block node.
func blockLines(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.Bytes()
}

func lineOf(n ast.Node, source []byte) int {
	lines := n.Lines()
	if lines.Len() == 0 {
		return 0
	}
	return bytes.Count(source[:lines.At(0).Start], []byte("\n")) + 1
}

// extractFrontmatter extracts YAML frontmatter from markdown content
// Returns the content without frontmatter and the frontmatter bytes
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := bytes.Split(content, []byte("\n"))

	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return content, nil
	}

	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			frontmatter := bytes.Join(lines[1:i], []byte("\n"))
			body := bytes.Join(lines[i+1:], []byte("\n"))
			return body, frontmatter
		}
	}

	// No closing delimiter found
	return content, nil
}
