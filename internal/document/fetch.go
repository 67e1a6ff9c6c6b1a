package document

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultFetchTimeout = 15 * time.Second
	DefaultMaxBytes     = 50 << 20
)

var errTooLarge = errors.New("content exceeds size limit")

// Fetcher resolves a Document's content into raw bytes.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (f *Fetcher) Resolve(ctx context.Context, doc Document) ([]byte, error) {
	switch {
	case doc.Kind == KindDocumentID:
		return nil, &DecodeError{Format: "reference", Err: errors.New("document references cannot be resolved")}
	case doc.IsRemote():
		return f.fetch(ctx, doc.Content)
	default:
		return f.decode(doc.Content)
	}
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &FetchError{URL: url, Err: errTooLarge}
	}
	return body, nil
}

func (f *Fetcher) decode(content string) ([]byte, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &DecodeError{Format: "base64", Err: errors.New("empty content")}
	}
	if int64(base64.StdEncoding.DecodedLen(len(content))) > f.maxBytes+2 {
		return nil, &DecodeError{Format: "base64", Err: errTooLarge}
	}

	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, &DecodeError{Format: "base64", Err: fmt.Errorf("malformed base64: %w", err)}
	}
	return data, nil
}
