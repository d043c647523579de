// ABOUTME: Splits extracted document text into bounded word-count chunks
// ABOUTME: Preserves byte offsets so sibling spans partition the source text

package chunker

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ErrExtractionEmpty is returned when a document contains no indexable text.
var ErrExtractionEmpty = errors.New("no text to index")

// DefaultChunkSizeWords is the target word count per chunk.
const DefaultChunkSizeWords = 500

// Chunk is one bounded text unit of a source document
type Chunk struct {
	DocID       string // Owning document identifier
	Index       int    // Position in document order
	Text        string // Chunk text (trimmed of surrounding whitespace)
	StartOffset int    // Byte offset of span start in the source text
	EndOffset   int    // Byte offset of span end (exclusive)
	WordCount   int    // Number of words in the chunk
}

// Chunker splits raw document text into ordered chunks
type Chunker struct {
	chunkSizeWords int
}

// New creates a chunker with the given word budget per chunk
func New(chunkSizeWords int) *Chunker {
	if chunkSizeWords <= 0 {
		chunkSizeWords = DefaultChunkSizeWords
	}
	return &Chunker{chunkSizeWords: chunkSizeWords}
}

// wordSpan is the byte range of a single word in the source text
type wordSpan struct {
	start int
	end   int
}

// Chunk splits text into ordered chunks of at most chunkSizeWords words.
// Chunk spans are contiguous: each chunk starts where the previous one
// ended, so the union of sibling spans has no gaps or overlaps.
func (c *Chunker) Chunk(docID, text string) ([]Chunk, error) {
	words := scanWords(text)
	if len(words) == 0 {
		return nil, fmt.Errorf("document %q: %w", docID, ErrExtractionEmpty)
	}

	var chunks []Chunk
	spanStart := words[0].start
	for i := 0; i < len(words); i += c.chunkSizeWords {
		end := i + c.chunkSizeWords
		if end > len(words) {
			end = len(words)
		}
		spanEnd := words[end-1].end
		chunks = append(chunks, Chunk{
			DocID:       docID,
			Index:       len(chunks),
			Text:        text[words[i].start:spanEnd],
			StartOffset: spanStart,
			EndOffset:   spanEnd,
			WordCount:   end - i,
		})
		spanStart = spanEnd
	}
	return chunks, nil
}

// scanWords returns the byte spans of all whitespace-delimited words
func scanWords(text string) []wordSpan {
	var spans []wordSpan
	inWord := false
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if inWord {
				spans = append(spans, wordSpan{start: start, end: i})
				inWord = false
			}
		} else if !inWord {
			start = i
			inWord = true
		}
		i += size
	}
	if inWord {
		spans = append(spans, wordSpan{start: start, end: len(text)})
	}
	return spans
}
