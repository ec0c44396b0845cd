package parser

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahdiyar-oraei/rag/internal/document"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported(".pdf"))
	assert.True(t, Supported(".TXT"))
	assert.True(t, Supported(".md"))
	assert.False(t, Supported(".exe"))
	assert.False(t, Supported(""))
}

func TestExtensions(t *testing.T) {
	exts := Extensions()
	assert.Len(t, exts, 7)
	assert.Contains(t, exts, ".docx")
}

func TestParseText(t *testing.T) {
	path := writeFile(t, "notes.txt", "  hello world\nsecond line  \n")

	docs, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "hello world\nsecond line", docs[0].Content)
	assert.Equal(t, "upload", docs[0].Metadata[document.MetaSource])
	assert.Equal(t, "notes.txt", docs[0].Metadata[document.MetaFilename])
	assert.Equal(t, "1", docs[0].Metadata[document.MetaPage])
}

func TestParseTextEmpty(t *testing.T) {
	path := writeFile(t, "empty.txt", "   \n\t\n")

	docs, err := Parse(path)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestParseMarkdownStripsFormatting(t *testing.T) {
	md := "# Title\n\nSome **bold** and *italic* text.\n\n```\ncode line\n```\n"
	path := writeFile(t, "doc.md", md)

	docs, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Contains(t, docs[0].Content, "Title")
	assert.Contains(t, docs[0].Content, "bold")
	assert.Contains(t, docs[0].Content, "code line")
	assert.NotContains(t, docs[0].Content, "**")
	assert.NotContains(t, docs[0].Content, "# ")
}

func TestParsePPTX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	slides := map[string]string{
		"ppt/slides/slide1.xml": `<p:sld><a:t>First slide</a:t><a:t>more text</a:t></p:sld>`,
		"ppt/slides/slide2.xml": `<p:sld><a:t>Second slide</a:t></p:sld>`,
		"ppt/media/image1.png":  "not a slide",
	}
	for name, body := range slides {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	docs, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	var contents []string
	for _, d := range docs {
		contents = append(contents, d.Content)
	}
	assert.Contains(t, contents[0]+contents[1], "First slide")
	assert.Contains(t, contents[0]+contents[1], "Second slide")
}

func TestParseUnsupported(t *testing.T) {
	path := writeFile(t, "binary.exe", "MZ")

	_, err := Parse(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file format")
}

func TestParseMissingFile(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "gone.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}
