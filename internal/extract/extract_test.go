package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectType(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		ok       bool
	}{
		{"report.pdf", TypePDF, true},
		{"REPORT.PDF", TypePDF, true},
		{".docx", TypeDOCX, true},
		{"docs/notes.md", TypeMarkdown, true},
		{"README.markdown", TypeMarkdown, true},
		{"text/plain; charset=utf-8", TypeText, true},
		{"application/pdf", TypePDF, true},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", TypeDOCX, true},
		{"image/png", "", false},
		{"main.go", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := DetectType(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCollapse(t *testing.T) {
	assert.Equal(t, "a b c", Collapse("  a\n\tb   c \r\n"))
	assert.Equal(t, "", Collapse(" \n "))
}

func TestBytesText(t *testing.T) {
	doc, err := Bytes([]byte("First line.\n\nSecond   line.\n"), "notes.txt")
	require.NoError(t, err)

	assert.Equal(t, "First line. Second line.", doc.Text)
	assert.Equal(t, TypeText, doc.FileType)
	assert.Equal(t, 1, doc.Pages)
}

func TestBytesInvalidUTF8(t *testing.T) {
	_, err := Bytes([]byte{0xff, 0xfe, 0xfd}, "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid UTF-8")
}

func TestBytesUnsupported(t *testing.T) {
	_, err := Bytes([]byte("x"), "image/png")
	require.ErrorIs(t, err, ErrUnsupported)
}

// buildDOCX writes a minimal docx archive holding body as word/document.xml.
func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?><Types/>`))
	require.NoError(t, err)

	w, err = zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestBytesDOCX(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve"> report.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Revenue</w:t><w:tab/><w:t>grew.</w:t></w:r></w:p>
    <w:p/>
    <w:p><w:r><w:t>Tom &amp; Jerry.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	doc, err := Bytes(buildDOCX(t, body), "report.docx")
	require.NoError(t, err)

	assert.Equal(t, "Quarterly report. Revenue grew. Tom & Jerry.", doc.Text)
	assert.Equal(t, TypeDOCX, doc.FileType)
}

func TestDocxParagraphs(t *testing.T) {
	body := `<w:document xmlns:w="w"><w:body>` +
		`<w:p><w:r><w:t>one</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>two</w:t><w:br/><w:t>lines</w:t></w:r></w:p>` +
		`</w:body></w:document>`

	paragraphs, err := docxParagraphs(bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two lines"}, paragraphs)
}

func TestBytesDOCXMissingDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Bytes(buf.Bytes(), ".docx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "word/document.xml not found")
}

func TestBytesCorruptFiles(t *testing.T) {
	_, err := Bytes([]byte("not a zip"), ".docx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCX parsing failed")

	_, err = Bytes([]byte("not a pdf"), ".pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PDF parsing failed")
}

func TestFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# Guide\n\nInstall it. Run it.\n"), 0644))

	doc, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, "# Guide Install it. Run it.", doc.Text)
	assert.Equal(t, TypeMarkdown, doc.FileType)

	_, err = File(filepath.Join(dir, "image.png"))
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = File(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open file")
}

func TestSupportedExtensions(t *testing.T) {
	for _, ext := range SupportedExtensions() {
		_, ok := DetectType(ext)
		assert.True(t, ok, ext)
	}
}
