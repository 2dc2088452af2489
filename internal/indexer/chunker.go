package indexer

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/gitsleuth/internal/repo"
)

// Chunk is one indexable fragment of a source file, carrying the denormalized
// metadata the retrieval layer filters on.
type Chunk struct {
	ChunkID   string            `json:"chunk_id"`
	FilePath  string            `json:"file_path"`
	Content   string            `json:"content"`
	StartLine int               `json:"start_line"`
	EndLine   int               `json:"end_line"`
	Metadata  map[string]string `json:"metadata"`
}

// Chunker splits file contents into fixed-budget fragments.
type Chunker struct {
	chunkSize int
}

// NewChunker creates a chunker with the given content budget in bytes.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &Chunker{chunkSize: chunkSize}
}

// Chunk splits content line-wise, flushing whenever the accumulated joined
// content reaches the budget. Whitespace-only fragments are dropped. If line
// splitting yields nothing for non-whitespace content (a single enormous
// line), a byte-window fallback is used instead.
func (c *Chunker) Chunk(content string, file repo.FileInfo) []Chunk {
	chunks := c.chunkLines(content, file)
	if len(chunks) == 0 && strings.TrimSpace(content) != "" {
		chunks = c.chunkByteWindows(content, file)
	}
	return chunks
}

func (c *Chunker) chunkLines(content string, file repo.FileInfo) []Chunk {
	lines := strings.Split(content, "\n")

	var chunks []Chunk
	var buf []string
	bufLen := 0
	startLine := 1

	flush := func(endLine int) {
		text := strings.Join(buf, "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, newChunk(text, file, startLine, endLine))
		}
		buf = buf[:0]
		bufLen = 0
	}

	for i, line := range lines {
		if len(buf) == 0 {
			startLine = i + 1
			bufLen = len(line)
		} else {
			bufLen += 1 + len(line)
		}
		buf = append(buf, line)

		if bufLen >= c.chunkSize {
			flush(i + 1)
		}
	}
	if len(buf) > 0 {
		flush(len(lines))
	}
	return chunks
}

// chunkByteWindows slices raw byte windows of chunkSize, preferring to break
// at the last newline inside the window.
func (c *Chunker) chunkByteWindows(content string, file repo.FileInfo) []Chunk {
	var chunks []Chunk
	line := 1
	for pos := 0; pos < len(content); {
		end := pos + c.chunkSize
		if end > len(content) {
			end = len(content)
		}
		window := content[pos:end]
		if end < len(content) {
			if idx := strings.LastIndex(window, "\n"); idx > 0 {
				window = window[:idx+1]
				end = pos + idx + 1
			}
		}

		endLine := line + strings.Count(window, "\n")
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, newChunk(strings.TrimRight(window, "\n"), file, line, endLine))
		}
		line = endLine
		pos = end
	}
	return chunks
}

func newChunk(content string, file repo.FileInfo, startLine, endLine int) Chunk {
	return Chunk{
		ChunkID:   uuid.NewString(),
		FilePath:  file.Path,
		Content:   content,
		StartLine: startLine,
		EndLine:   endLine,
		Metadata: map[string]string{
			"file_path":  file.Path,
			"language":   file.Language,
			"extension":  file.Extension,
			"start_line": strconv.Itoa(startLine),
			"end_line":   strconv.Itoa(endLine),
			"chunk_size": strconv.Itoa(len(content)),
		},
	}
}
