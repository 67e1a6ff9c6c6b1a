package document

import (
	"context"
	"log/slog"

	"policyeval/internal/text"
)

type Processor struct {
	fetcher *Fetcher
	chunker *text.Chunker
}

func NewProcessor(f *Fetcher, c *text.Chunker) *Processor {
	return &Processor{fetcher: f, chunker: c}
}

// ExtractAndChunk resolves, extracts, normalizes and chunks one document. Errors are
// *FetchError or *DecodeError.
func (p *Processor) ExtractAndChunk(ctx context.Context, doc Document) ([]text.Chunk, error) {
	data, err := p.fetcher.Resolve(ctx, doc)
	if err != nil {
		return nil, err
	}

	format := DetectFormat(doc.Hint(), data)
	raw, err := ExtractText(format, data)
	if err != nil {
		return nil, err
	}

	chunks := p.chunker.Split(text.Normalize(raw), doc.ID)
	slog.DebugContext(ctx, "document chunked",
		"document_id", doc.ID, "format", format, "bytes", len(data), "chunks", len(chunks))
	return chunks, nil
}
