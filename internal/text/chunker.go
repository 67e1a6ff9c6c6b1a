package text

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultWindow  = 500
	DefaultOverlap = 50
)

var ErrInvalidWindow = errors.New("invalid chunk window")

// Chunk is a contiguous run of normalized words taken from one document.
type Chunk struct {
	Text             string `json:"text"`
	SourceDocumentID string `json:"source_document_id"`
	Ordinal          int    `json:"ordinal"`
}

// Normalize collapses every run of whitespace (newlines included) into a single
// space and trims both ends. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Chunker splits text into overlapping fixed-size word windows.
type Chunker struct {
	window  int
	overlap int
}

func NewChunker(window, overlap int) (*Chunker, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %d", ErrInvalidWindow, window)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidWindow, overlap)
	}
	if overlap >= window {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than window %d", ErrInvalidWindow, overlap, window)
	}
	return &Chunker{window: window, overlap: overlap}, nil
}

func (c *Chunker) Window() int  { return c.window }
func (c *Chunker) Overlap() int { return c.overlap }

// Step is the number of words between the starts of two consecutive windows.
func (c *Chunker) Step() int {
	return c.window - c.overlap
}

// Split emits one window for every multiple of Step below the word count. Each window
// holds up to Window words, so the trailing windows may be shorter.
func (c *Chunker) Split(s, documentID string) []Chunk {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}

	step := c.Step()
	chunks := make([]Chunk, 0, (len(words)+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := min(start+c.window, len(words))
		chunks = append(chunks, Chunk{
			Text:             strings.Join(words[start:end], " "),
			SourceDocumentID: documentID,
			Ordinal:          len(chunks),
		})
	}
	return chunks
}
