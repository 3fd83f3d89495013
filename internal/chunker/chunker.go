// Package chunker splits documents into embedding-sized chunks. Markdown is
// cut at heading boundaries; everything else is cut into overlapping line
// windows.
package chunker

import (
	"fmt"
	"path"
	"strings"

	"github.com/yuin/goldmark"
)

const (
	// DefaultMaxChars keeps a chunk near 1000 tokens (4 chars per token).
	DefaultMaxChars = 4000
	// DefaultOverlapChars is carried over between consecutive line windows.
	DefaultOverlapChars = 800
)

// Chunk is one embeddable piece of a document.
type Chunk struct {
	Index      int    // position in document (0, 1, 2...)
	HeaderPath string // "# Title > ## Section" for markdown, "L10-L52" for code
	StartLine  int    // 0 when unknown (markdown sections)
	EndLine    int
	Content    string // text WITH file and section context prepended; this is what gets embedded
	RawContent string // original text without context
}

// Options tunes chunk sizes.
type Options struct {
	MaxChars     int
	OverlapChars int
}

// Chunker splits documents.
type Chunker struct {
	markdown goldmark.Markdown
	maxChars int
	overlap  int
}

// New creates a Chunker. Zero options use the defaults.
func New(opts Options) *Chunker {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.OverlapChars < 0 || opts.OverlapChars >= opts.MaxChars {
		opts.OverlapChars = 0
	} else if opts.OverlapChars == 0 {
		opts.OverlapChars = min(DefaultOverlapChars, opts.MaxChars/4)
	}
	return &Chunker{
		markdown: newMarkdownParser(),
		maxChars: opts.MaxChars,
		overlap:  opts.OverlapChars,
	}
}

// Split chunks the content of the file at filePath. Whitespace-only content
// yields no chunks.
func (c *Chunker) Split(filePath, content string) ([]Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	if isMarkdown(filePath) {
		return c.splitMarkdown(filePath, content)
	}
	return c.splitCode(filePath, content), nil
}

func (c *Chunker) splitMarkdown(filePath, content string) ([]Chunk, error) {
	sections, err := c.markdownSections([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", filePath, err)
	}

	var chunks []Chunk
	for _, s := range sections {
		if s.text == "" {
			continue
		}
		if len(s.text) <= c.maxChars {
			chunks = append(chunks, c.newChunk(len(chunks), filePath, s.headerPath, s.text, 0, 0))
			continue
		}
		// oversized section: fall back to line windows under the same heading
		for part, w := range splitLines(s.text, c.maxChars, c.overlap) {
			header := fmt.Sprintf("%s (part %d)", s.headerPath, part+1)
			if s.headerPath == "" {
				header = fmt.Sprintf("part %d", part+1)
			}
			chunks = append(chunks, c.newChunk(len(chunks), filePath, header, w.text, 0, 0))
		}
	}
	return chunks, nil
}

func (c *Chunker) splitCode(filePath, content string) []Chunk {
	windows := splitLines(content, c.maxChars, c.overlap)
	chunks := make([]Chunk, 0, len(windows))
	for i, w := range windows {
		header := fmt.Sprintf("L%d-L%d", w.startLine, w.endLine)
		chunks = append(chunks, c.newChunk(i, filePath, header, w.text, w.startLine, w.endLine))
	}
	return chunks
}

func (c *Chunker) newChunk(index int, filePath, headerPath, raw string, startLine, endLine int) Chunk {
	var b strings.Builder
	b.WriteString("File: ")
	b.WriteString(filePath)
	b.WriteString("\n")
	if headerPath != "" {
		b.WriteString("Section: ")
		b.WriteString(headerPath)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(raw)

	return Chunk{
		Index:      index,
		HeaderPath: headerPath,
		StartLine:  startLine,
		EndLine:    endLine,
		Content:    b.String(),
		RawContent: raw,
	}
}

func isMarkdown(filePath string) bool {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".md", ".markdown":
		return true
	}
	return false
}
