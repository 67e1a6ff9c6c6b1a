package document

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	ooxml "baliance.com/gooxml/document"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatText Format = "text"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// DetectFormat picks an extractor from the hint and falls back to sniffing the payload
// when the hint is missing or unrecognized.
func DetectFormat(hint string, data []byte) Format {
	if f, ok := formatFromHint(hint); ok {
		return f
	}

	m := mimetype.Detect(data)
	switch {
	case m.Is("application/pdf"):
		return FormatPDF
	case m.Is(docxMIME):
		return FormatDOCX
	default:
		return FormatText
	}
}

func formatFromHint(hint string) (Format, bool) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return "", false
	}

	switch path.Ext(hint) {
	case ".pdf":
		return FormatPDF, true
	case ".docx":
		return FormatDOCX, true
	case ".txt", ".text", ".md", ".markdown", ".csv":
		return FormatText, true
	}

	if !strings.Contains(hint, "/") {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(hint)
	if err != nil {
		return "", false
	}
	switch {
	case mediaType == "application/pdf":
		return FormatPDF, true
	case mediaType == docxMIME:
		return FormatDOCX, true
	case strings.HasPrefix(mediaType, "text/"):
		return FormatText, true
	}
	return "", false
}

// ExtractText turns raw bytes into text using the given format.
func ExtractText(format Format, data []byte) (string, error) {
	switch format {
	case FormatPDF:
		return extractPDF(data)
	case FormatDOCX:
		return extractDOCX(data)
	default:
		return strings.ToValidUTF8(string(data), ""), nil
	}
}

func extractPDF(data []byte) (text string, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = &DecodeError{Format: string(FormatPDF), Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &DecodeError{Format: string(FormatPDF), Err: err}
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", &DecodeError{Format: string(FormatPDF), Err: fmt.Errorf("page %d: %w", i, err)}
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func extractDOCX(data []byte) (string, error) {
	if len(data) == 0 {
		return "", &DecodeError{Format: string(FormatDOCX), Err: errors.New("empty document")}
	}

	doc, err := ooxml.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &DecodeError{Format: string(FormatDOCX), Err: err}
	}

	paragraphs := doc.Paragraphs()
	lines := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		var sb strings.Builder
		for _, r := range p.Runs() {
			sb.WriteString(r.Text())
		}
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, "\n"), nil
}
