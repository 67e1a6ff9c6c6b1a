package document

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

type Kind string

const (
	KindAuto       Kind = ""
	KindURL        Kind = "url"
	KindBase64     Kind = "base64"
	KindDocumentID Kind = "document_id"
)

// Document is one transport-supplied payload. Content is either a URL or a base64
// string depending on Kind; KindAuto decides by the http(s) prefix.
type Document struct {
	ID        string
	Kind      Kind
	Content   string
	MediaHint string
	Metadata  map[string]string
}

func (d Document) IsRemote() bool {
	switch d.Kind {
	case KindURL:
		return true
	case KindAuto:
		return strings.HasPrefix(d.Content, "http://") || strings.HasPrefix(d.Content, "https://")
	default:
		return false
	}
}

// Hint returns the best available filename or content type for format selection.
func (d Document) Hint() string {
	if d.MediaHint != "" {
		return d.MediaHint
	}
	for _, key := range []string{"filename", "content_type", "media_type"} {
		if v := d.Metadata[key]; v != "" {
			return v
		}
	}
	if d.IsRemote() {
		if u, err := url.Parse(d.Content); err == nil && u.Path != "" {
			return path.Base(u.Path)
		}
	}
	return ""
}

// FetchError is a failure to retrieve remote content.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError is a payload that could not be turned into text.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s content: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
