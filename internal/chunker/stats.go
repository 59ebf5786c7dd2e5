package chunker

import (
	"unicode/utf8"

	"arbitration-rag/internal/domain"
)

// Stats reports count, length distribution and per-type counts of chunks.
func Stats(chunks []domain.Chunk) domain.ChunkStats {
	stats := domain.ChunkStats{ByDocumentType: make(map[string]int)}
	if len(chunks) == 0 {
		return stats
	}
	total := 0
	stats.MinLength = -1
	for _, ch := range chunks {
		n := utf8.RuneCountInString(ch.Content)
		total += n
		if stats.MinLength < 0 || n < stats.MinLength {
			stats.MinLength = n
		}
		if n > stats.MaxLength {
			stats.MaxLength = n
		}
		stats.ByDocumentType[ch.Metadata.DocumentType]++
	}
	stats.TotalChunks = len(chunks)
	stats.AverageLength = float64(total) / float64(len(chunks))
	return stats
}
