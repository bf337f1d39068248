package ingest

import "strings"

// Chunk is a line range of a file.
type Chunk struct {
	Content   string
	StartLine int // 1-indexed
	EndLine   int // 1-indexed, inclusive
	Index     int
}

// lineChunker splits text into windows of size lines that overlap by overlap lines.
type lineChunker struct {
	size    int
	overlap int
}

func newLineChunker(size, overlap int) *lineChunker {
	if size <= 0 {
		size = 200
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &lineChunker{size: size, overlap: overlap}
}

// Chunk returns nil for blank content and a single chunk when the text fits.
func (c *lineChunker) Chunk(content string) []Chunk {
	content = strings.TrimRight(content, "\r\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	if len(lines) <= c.size {
		return []Chunk{{Content: content, StartLine: 1, EndLine: len(lines)}}
	}

	var chunks []Chunk
	step := c.size - c.overlap
	for start := 0; start < len(lines); start += step {
		end := min(start+c.size, len(lines))
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				Content:   text,
				StartLine: start + 1,
				EndLine:   end,
				Index:     len(chunks),
			})
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}
