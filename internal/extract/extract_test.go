package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	local "optimizer-backend/internal/shared/storage/object/local"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create document.xml entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write document.xml: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractTextFromBytesDocxParagraphs(t *testing.T) {
	docx := buildDocx(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Staff Engineer</w:t></w:r></w:p>
    <w:p><w:r><w:t>Led the platform team.</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	text, err := ExtractTextFromBytes(context.Background(), docx, mimeDOCX, "resume.docx")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(text, "Staff Engineer") || !strings.Contains(text, "Led the platform team.") {
		t.Fatalf("missing content: %q", text)
	}
	if !strings.Contains(text, "Staff Engineer\n") {
		t.Fatalf("expected paragraph break after heading: %q", text)
	}
}

func TestExtractTextFromBytesZipDocxNormalizes(t *testing.T) {
	docx := buildDocx(t, `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>hello</w:t></w:r></w:p></w:body></w:document>`)

	// Browsers frequently report .docx uploads as application/zip.
	text, err := ExtractTextFromBytes(context.Background(), docx, "application/zip", "resume.docx")
	if err != nil {
		t.Fatalf("expected docx to extract from zip mime, got error: %v", err)
	}
	if text != "hello" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractTextFromBytesRealZipRejected(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("notes.txt")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	_, err = ExtractTextFromBytes(context.Background(), buf.Bytes(), "application/zip", "notes.zip")
	if err == nil {
		t.Fatal("expected unsupported mime error for zip")
	}
	if !strings.Contains(err.Error(), "unsupported mime type: application/zip") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExtractTextFromBytesPlainText(t *testing.T) {
	text, err := ExtractTextFromBytes(context.Background(), []byte("  plain resume text\n"), "text/plain; charset=utf-8", "resume.txt")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "plain resume text" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractTextPersistsDerivedCopy(t *testing.T) {
	store := local.New(t.TempDir())
	key, _, _, err := store.Save(context.Background(), "guest:u1", "resume.txt", strings.NewReader("resume body"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	text, err := ExtractText(context.Background(), store, key, "text/plain", "resume.txt")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "resume body" {
		t.Fatalf("unexpected text: %q", text)
	}

	derived, err := store.Open(context.Background(), key+".extracted.txt")
	if err != nil {
		t.Fatalf("open derived copy: %v", err)
	}
	defer derived.Close()
	content, err := io.ReadAll(derived)
	if err != nil {
		t.Fatalf("read derived copy: %v", err)
	}
	if string(content) != "resume body" {
		t.Fatalf("unexpected derived content: %q", content)
	}
}
