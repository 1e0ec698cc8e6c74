// Package extract pulls plain text out of uploaded documents.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/ledongthuc/pdf"
)

// Supported file types.
const (
	TypePDF      = "pdf"
	TypeDOCX     = "docx"
	TypeText     = "txt"
	TypeMarkdown = "md"
)

// ErrUnsupported is returned for file types with no extractor.
var ErrUnsupported = errors.New("unsupported file type")

// Document is the text pulled from one file.
type Document struct {
	Text     string
	FileType string
	Pages    int
}

var typeAliases = map[string]string{
	".pdf":      TypePDF,
	"pdf":       TypePDF,
	".docx":     TypeDOCX,
	"docx":      TypeDOCX,
	".txt":      TypeText,
	"txt":       TypeText,
	".text":     TypeText,
	".md":       TypeMarkdown,
	"md":        TypeMarkdown,
	".markdown": TypeMarkdown,
	"markdown":  TypeMarkdown,

	"application/pdf": TypePDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": TypeDOCX,
	"text/plain":    TypeText,
	"text/markdown": TypeMarkdown,
}

// DetectType maps a file name, extension or MIME content type to one of the
// supported types.
func DetectType(nameOrType string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(nameOrType))
	if mt, _, err := mime.ParseMediaType(key); err == nil && strings.Contains(mt, "/") {
		key = mt
	}
	if t, ok := typeAliases[key]; ok {
		return t, true
	}
	if t, ok := typeAliases[filepath.Ext(key)]; ok {
		return t, true
	}
	return "", false
}

// SupportedExtensions lists the extensions DetectType accepts.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".txt", ".text", ".md", ".markdown"}
}

// File extracts text from the file at path, picking the extractor by extension.
func File(path string) (*Document, error) {
	fileType, ok := DetectType(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return Extract(f, info.Size(), fileType)
}

// Bytes extracts text from an in-memory upload.
func Bytes(data []byte, nameOrType string) (*Document, error) {
	fileType, ok := DetectType(nameOrType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, nameOrType)
	}
	return Extract(bytes.NewReader(data), int64(len(data)), fileType)
}

// Extract reads size bytes from r as fileType. Runs of whitespace in the
// result are collapsed to single spaces.
func Extract(r io.ReaderAt, size int64, fileType string) (*Document, error) {
	t, ok := DetectType(fileType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, fileType)
	}

	var (
		doc *Document
		err error
	)
	switch t {
	case TypePDF:
		doc, err = extractPDF(r, size)
	case TypeDOCX:
		doc, err = extractDOCX(r, size)
	default:
		doc, err = extractText(r, size)
	}
	if err != nil {
		return nil, err
	}

	doc.FileType = t
	doc.Text = Collapse(doc.Text)
	log.Debug("Extracted text", "type", t, "pages", doc.Pages, "chars", utf8.RuneCountInString(doc.Text))
	return doc, nil
}

// Collapse replaces every whitespace run with one space and trims the ends.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func extractPDF(r io.ReaderAt, size int64) (*Document, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("PDF parsing failed: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Debug("Skipping unreadable PDF page", "page", i, "error", err)
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	return &Document{Text: buf.String(), Pages: numPages}, nil
}

func extractDOCX(r io.ReaderAt, size int64) (*Document, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("DOCX parsing failed: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("DOCX parsing failed: %w", err)
		}
		defer rc.Close()

		paragraphs, err := docxParagraphs(rc)
		if err != nil {
			return nil, fmt.Errorf("DOCX parsing failed: %w", err)
		}
		return &Document{Text: strings.Join(paragraphs, "\n"), Pages: 1}, nil
	}

	return nil, fmt.Errorf("DOCX parsing failed: word/document.xml not found")
}

// docxParagraphs returns the text of each w:p element. Tabs and breaks
// inside a paragraph become spaces.
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var (
		paragraphs []string
		cur        strings.Builder
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab", "br", "cr":
				cur.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				paragraphs = append(paragraphs, cur.String())
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	if cur.Len() > 0 {
		paragraphs = append(paragraphs, cur.String())
	}
	return paragraphs, nil
}

func extractText(r io.ReaderAt, size int64) (*Document, error) {
	data, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("text file parsing failed: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("text file parsing failed: invalid UTF-8")
	}
	return &Document{Text: string(data), Pages: 1}, nil
}
