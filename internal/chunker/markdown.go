package chunker

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// section is a markdown region between two H1/H2 boundaries.
type section struct {
	headerPath string // "# Doc Title > ## Section Name"
	text       string
}

func newMarkdownParser() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
}

// markdownSections splits source at H1 and H2 boundaries. A document without
// headings is returned as a single section with an empty header path.
func (c *Chunker) markdownSections(source []byte) ([]section, error) {
	doc := c.markdown.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	if len(tree.Items) == 0 {
		return []section{{text: strings.TrimSpace(string(source))}}, nil
	}

	var sections []section
	if first := findHeaderByID(doc, string(tree.Items[0].ID)); first != nil {
		preamble := strings.TrimSpace(string(source[:lineStart(source, first.Lines().At(0).Start)]))
		if preamble != "" {
			sections = append(sections, section{text: preamble})
		}
	}
	collectSections(doc, source, tree.Items, nil, &sections)
	return sections, nil
}

// collectSections walks TOC items depth-first, cutting the source at the next
// sibling heading or, for the last sibling, the next heading of equal or
// higher level.
func collectSections(doc ast.Node, source []byte, items toc.Items, ancestors []string, out *[]section) {
	for i, item := range items {
		path := make([]string, len(ancestors), len(ancestors)+1)
		copy(path, ancestors)
		path = append(path, string(item.Title))

		headerNode := findHeaderByID(doc, string(item.ID))
		if headerNode == nil {
			continue
		}

		start := headerNode.Lines().At(0)
		var end text.Segment
		if len(item.Items) > 0 {
			// parent text stops where its first child section starts
			if child := findHeaderByID(doc, string(item.Items[0].ID)); child != nil {
				end = child.Lines().At(0)
			}
		} else if i+1 < len(items) {
			if next := findHeaderByID(doc, string(items[i+1].ID)); next != nil {
				end = next.Lines().At(0)
			}
		} else {
			end = findNextHeaderBoundary(doc, headerNode, headerNode.(*ast.Heading).Level)
		}

		*out = append(*out, section{
			headerPath: formatHeaderPath(path),
			text:       extractContent(source, start, end),
		})

		if len(item.Items) > 0 {
			collectSections(doc, source, item.Items, path, out)
		}
	}
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	parts := make([]string, 0, len(path))
	for i, segment := range path {
		parts = append(parts, strings.Repeat("#", i+1)+" "+segment)
	}
	return strings.Join(parts, " > ")
}

// findHeaderByID locates a heading node by its auto-generated ID.
func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok {
				if b, isBytes := headingID.([]byte); isBytes && string(b) == id {
					found = n
					return ast.WalkStop, nil
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

// findNextHeaderBoundary finds the next heading at the same or a higher level
// than current. A zero segment means "until end of document".
func findNextHeaderBoundary(root ast.Node, current ast.Node, currentLevel int) text.Segment {
	var nextHeader ast.Node
	foundCurrent := false

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		if !foundCurrent {
			foundCurrent = n == current
			return ast.WalkContinue, nil
		}
		if n.(*ast.Heading).Level <= currentLevel {
			nextHeader = n
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	if nextHeader != nil {
		return nextHeader.Lines().At(0)
	}
	return text.Segment{}
}

// extractContent returns the source between the lines holding start and end,
// so each section begins with its own heading line.
func extractContent(source []byte, start, end text.Segment) string {
	from := lineStart(source, start.Start)
	if end.Start == 0 && end.Stop == 0 {
		return strings.TrimSpace(string(source[from:]))
	}
	return strings.TrimSpace(string(source[from:lineStart(source, end.Start)]))
}

func lineStart(source []byte, pos int) int {
	for pos > 0 && source[pos-1] != '\n' {
		pos--
	}
	return pos
}
