// Package markdown splits knowledge-base documents into retrieval-sized
// chunks. Documents are divided at H1/H2 boundaries so chunks stay on one
// topic, then packed toward a target size so each chunk carries enough
// context to embed well (~800 characters).
package markdown

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// DefaultTargetSize is the chunk packing target in characters.
const DefaultTargetSize = 800

// Chunk is one retrieval unit produced from a source document.
type Chunk struct {
	Index   int    // position in document (0, 1, 2...)
	Section string // header hierarchy: "Getting Started > Accounts"
	Content string
}

// section is an intermediate slice of the document between header boundaries.
type section struct {
	path    string
	content string
}

// Chunker splits markdown at header boundaries and packs the pieces.
type Chunker struct {
	parser     goldmark.Markdown
	targetSize int
}

// NewChunker creates a Chunker. A non-positive targetSize selects
// DefaultTargetSize.
func NewChunker(targetSize int) *Chunker {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Chunker{parser: md, targetSize: targetSize}
}

// ChunkFile reads and chunks a markdown file.
func (c *Chunker) ChunkFile(path string) ([]Chunk, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return c.ChunkDocument(source)
}

// ChunkDocument splits the document at H1/H2 boundaries, then packs each
// section into chunks near the target size. A document without headers is
// packed as one unlabeled section.
func (c *Chunker) ChunkDocument(source []byte) ([]Chunk, error) {
	reader := text.NewReader(source)
	doc := c.parser.Parser().Parse(reader)

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	var sections []section
	if len(tree.Items) == 0 {
		sections = []section{{content: string(source)}}
	} else {
		collectSections(doc, source, tree.Items, nil, &sections)
	}

	var chunks []Chunk
	for _, sec := range sections {
		for _, piece := range c.pack(sec.content) {
			chunks = append(chunks, Chunk{
				Index:   len(chunks),
				Section: sec.path,
				Content: piece,
			})
		}
	}
	return chunks, nil
}

// pack accumulates lines until the target size is reached, then emits a
// chunk. Blank-only accumulations are dropped.
func (c *Chunker) pack(content string) []string {
	var pieces []string
	var current strings.Builder

	flush := func() {
		if piece := strings.TrimSpace(current.String()); piece != "" {
			pieces = append(pieces, piece)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		current.WriteString(line)
		current.WriteString("\n")
		if current.Len() >= c.targetSize {
			flush()
		}
	}
	flush()
	return pieces
}

// collectSections walks the TOC tree gathering each section's header path
// and the source text between its header and the next boundary.
func collectSections(doc ast.Node, source []byte, items toc.Items, ancestors []string, sections *[]section) {
	for i, item := range items {
		path := append(ancestors, string(item.Title))

		headerNode := findHeaderByID(doc, string(item.ID))
		if headerNode == nil {
			continue
		}

		// A section ends at the next header boundary in document order:
		// its first child when it has children, otherwise its next
		// sibling, otherwise the next same-or-higher-level heading.
		start := headerNode.Lines().At(0)
		var end text.Segment
		switch {
		case len(item.Items) > 0:
			if child := findHeaderByID(doc, string(item.Items[0].ID)); child != nil {
				end = child.Lines().At(0)
			}
		case i+1 < len(items):
			if next := findHeaderByID(doc, string(items[i+1].ID)); next != nil {
				end = next.Lines().At(0)
			}
		default:
			end = nextBoundary(doc, headerNode, headerNode.(*ast.Heading).Level)
		}

		*sections = append(*sections, section{
			path:    strings.Join(path, " > "),
			content: sliceBetween(source, start, end),
		})

		if len(item.Items) > 0 {
			collectSections(doc, source, item.Items, path, sections)
		}
	}
}

// findHeaderByID locates a heading node by its auto-generated ID.
func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

// nextBoundary finds the first heading after current at the same or a
// higher level. Returns an empty segment when the section runs to EOF.
func nextBoundary(root ast.Node, current ast.Node, level int) text.Segment {
	var next ast.Node
	passed := false

	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		if !passed {
			if n == current {
				passed = true
			}
			return ast.WalkContinue, nil
		}
		if n.(*ast.Heading).Level <= level {
			next = n
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	if next != nil {
		return next.Lines().At(0)
	}
	return text.Segment{}
}

// sliceBetween extracts source text from the start of one segment to the
// start of the next, or to EOF for a zero end segment. The header line
// itself is included so chunks carry their own title.
func sliceBetween(source []byte, start, end text.Segment) string {
	from := lineStart(source, start.Start)
	to := len(source)
	if end.Start > 0 {
		to = lineStart(source, end.Start)
	}
	if from >= to {
		return ""
	}
	return string(source[from:to])
}

// lineStart walks back from offset to the beginning of its line, so the
// "## " marker stripped by the parser segment is retained.
func lineStart(source []byte, offset int) int {
	if offset > len(source) {
		offset = len(source)
	}
	i := bytes.LastIndexByte(source[:offset], '\n')
	return i + 1
}
