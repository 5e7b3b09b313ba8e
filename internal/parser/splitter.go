package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"quizzify/internal/config"
	"quizzify/internal/models"
)

// Splitter breaks page text into bounded, overlapping chunks.
// Sizes are counted in runes.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separator    string
}

type piece struct {
	text    string
	overlap int
}

func NewSplitter(chunkSize, chunkOverlap int, separator string) *Splitter {
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2 // Reasonable default to avoid excessive overlap
	}
	if separator == "" {
		separator = config.DefaultSeparator
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separator:    separator,
	}
}

// NewSplitterFromConfig builds a splitter from the rag section of the config
func NewSplitterFromConfig(cfg *config.Config) *Splitter {
	if cfg == nil {
		return NewSplitter(config.DefaultChunkSize, config.DefaultChunkOverlap, config.DefaultSeparator)
	}
	return NewSplitter(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, cfg.RAG.Separator)
}

// Split chunks the ordered pages of one source document. Positions restart at 0 on
// every page and increase strictly within it; pages keep their input order.
func (s *Splitter) Split(source string, pages []string) ([]models.Chunk, error) {
	if len(pages) == 0 {
		return nil, models.ErrEmptyInput
	}

	var chunks []models.Chunk
	for i, page := range pages {
		sourceID := models.PageSourceID(source, i+1)
		for pos, p := range s.splitPage(page) {
			chunks = append(chunks, models.Chunk{
				Text:     p.text,
				SourceID: sourceID,
				Position: pos,
				Overlap:  p.overlap,
			})
		}
	}
	return chunks, nil
}

// splitPage splits on the separator, merges small units up to chunkSize and
// windows any unit that is still too long
func (s *Splitter) splitPage(page string) []piece {
	page = strings.ReplaceAll(page, "\r\n", "\n")
	sepLen := utf8.RuneCountInString(s.separator)

	var (
		out        []piece
		current    []string
		currentLen int
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, piece{text: strings.Join(current, s.separator)})
			current = nil
			currentLen = 0
		}
	}

	for _, unit := range strings.Split(page, s.separator) {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}
		n := utf8.RuneCountInString(unit)
		if n > s.chunkSize {
			flush()
			out = append(out, s.window(unit)...)
			continue
		}
		if len(current) > 0 && currentLen+sepLen+n > s.chunkSize {
			flush()
		}
		if len(current) > 0 {
			currentLen += sepLen
		}
		current = append(current, unit)
		currentLen += n
	}
	flush()
	return out
}

// window cuts an oversized unit into chunkSize windows, each starting chunkOverlap
// runes before the previous one ended
func (s *Splitter) window(text string) []piece {
	runes := []rune(text)
	total := len(runes)

	var out []piece
	start, carried := 0, 0
	for start < total {
		end := min(start+s.chunkSize, total)

		// Find a clean break point within the last 10% of the window
		if end < total {
			lookBack := max(s.chunkSize/10, 1)
			for i := end - 1; i >= end-lookBack && i > start+s.chunkOverlap; i-- {
				if unicode.IsSpace(runes[i]) {
					end = i + 1
					break
				}
			}
		}

		out = append(out, piece{text: string(runes[start:end]), overlap: carried})
		if end >= total {
			break
		}
		start = end - s.chunkOverlap
		carried = s.chunkOverlap
	}
	return out
}
