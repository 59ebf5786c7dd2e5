package chunker

import (
	"fmt"
	"strings"

	"arbitration-rag/internal/domain"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50

	// breakThreshold is the fraction of the window a sentence break must
	// pass before the chunk is cut there.
	breakThreshold = 0.7
)

// WindowChunker splits case sections into character windows, preferring to
// end a chunk on a period or newline near the end of the window.
type WindowChunker struct {
	chunkSize int
	overlap   int
}

// NewWindowChunker creates a chunker. Non-positive sizes fall back to the
// defaults and an overlap that would stall the window is reduced.
func NewWindowChunker(chunkSize, overlap int) *WindowChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 10
	}
	return &WindowChunker{chunkSize: chunkSize, overlap: overlap}
}

// ChunkSize returns the configured window length in characters.
func (c *WindowChunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap in characters.
func (c *WindowChunker) Overlap() int { return c.overlap }

// Chunk produces the chunks of every decision, nested opinion and case-level
// opinion of the document, in that order.
func (c *WindowChunker) Chunk(document domain.CaseDocument) []domain.Chunk {
	var chunks []domain.Chunk
	for i, decision := range document.Decisions {
		chunks = append(chunks, c.section(document, section{
			idPrefix: fmt.Sprintf("%s-decision-%d", document.Identifier, i),
			docType:  domain.DocumentTypeDecision,
			title:    decision.Title,
			date:     decision.Date,
			text:     decision.Content,
		})...)
		for j, opinion := range decision.Opinions {
			chunks = append(chunks, c.section(document, section{
				idPrefix: fmt.Sprintf("%s-opinion-%d-%d", document.Identifier, i, j),
				docType:  domain.DocumentTypeOpinion,
				title:    opinion.Title,
				date:     opinion.Date,
				text:     opinion.Content,
			})...)
		}
	}
	for j, opinion := range document.Opinions {
		chunks = append(chunks, c.section(document, section{
			idPrefix: fmt.Sprintf("%s-case-opinion-%d", document.Identifier, j),
			docType:  domain.DocumentTypeOpinion,
			title:    opinion.Title,
			date:     opinion.Date,
			text:     opinion.Content,
		})...)
	}
	return chunks
}

// ChunkAll concatenates the chunks of every document, preserving order.
func (c *WindowChunker) ChunkAll(documents []domain.CaseDocument) []domain.Chunk {
	var chunks []domain.Chunk
	for _, d := range documents {
		chunks = append(chunks, c.Chunk(d)...)
	}
	return chunks
}

type section struct {
	idPrefix string
	docType  string
	title    string
	date     string
	text     string
}

func (c *WindowChunker) section(document domain.CaseDocument, s section) []domain.Chunk {
	parts := c.Split(s.text)
	chunks := make([]domain.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = domain.Chunk{
			ID:      fmt.Sprintf("%s-%d", s.idPrefix, i),
			Content: part,
			Metadata: domain.ChunkMetadata{
				CaseID:        document.Identifier,
				CaseTitle:     document.Title,
				DocumentType:  s.docType,
				DocumentTitle: s.title,
				Date:          s.date,
				ChunkIndex:    i,
				TotalChunks:   len(parts),
			},
		}
	}
	return chunks
}

// Split returns the trimmed, non-empty segments of text. Lengths are counted
// in runes.
func (c *WindowChunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) <= c.chunkSize {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	minBreak := int(breakThreshold * float64(c.chunkSize))
	var out []string
	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		window := runes[start:end]
		next := start + c.chunkSize - c.overlap
		if bp := lastBreak(window); bp > minBreak {
			window = window[:bp+1]
			next = start + bp + 1
		}
		if trimmed := strings.TrimSpace(string(window)); trimmed != "" {
			out = append(out, trimmed)
		}
		start = next
	}
	return out
}

func lastBreak(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '\n' {
			return i
		}
	}
	return -1
}
