package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/mahdiyar-oraei/rag/internal/document"
)

var supportedExtensions = map[string]bool{
	".pdf":  true,
	".md":   true,
	".txt":  true,
	".docx": true,
	".pptx": true,
	".xlsx": true,
	".ods":  true,
}

// Supported reports whether the file extension (including the dot) can be
// parsed.
func Supported(ext string) bool {
	return supportedExtensions[strings.ToLower(ext)]
}

// Extensions returns the supported extension list for error messages and the
// upload UI.
func Extensions() []string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// Parse loads a file into page-level Documents based on its extension.
// Pagination metadata is per-page for PDFs, per-slide for PPTX and per-sheet
// for spreadsheets; flat formats produce a single document.
func Parse(filePath string) ([]document.Document, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("file not found: %s", filePath)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return parsePDF(filePath)
	case ".md":
		return parseMarkdown(filePath)
	case ".txt":
		return parseText(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".ods":
		return parseODS(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func baseMetadata(filePath string, page int) map[string]string {
	return map[string]string{
		document.MetaSource:   "upload",
		document.MetaFilename: filepath.Base(filePath),
		document.MetaPage:     strconv.Itoa(page),
	}
}

func parsePDF(filePath string) ([]document.Document, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	var docs []document.Document
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		docs = append(docs, document.New(pageText, baseMetadata(filePath, i)))
	}
	return docs, nil
}

// parseMarkdown extracts plain text from a markdown file by walking the
// goldmark AST, so headings and emphasis markers don't end up in the index.
func parseMarkdown(filePath string) ([]document.Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	root := goldmark.DefaultParser().Parse(text.NewReader(data))

	var sb strings.Builder
	err = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && sb.Len() > 0 {
				sb.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(data))
			if t.HardLineBreak() || t.SoftLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(data))
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk markdown: %w", err)
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, nil
	}
	return []document.Document{document.New(content, baseMetadata(filePath, 1))}, nil
}

func parseText(filePath string) ([]document.Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}
	return []document.Document{document.New(content, baseMetadata(filePath, 1))}, nil
}

func parseDOCX(filePath string) ([]document.Document, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	var paragraphs []string
	for _, p := range strings.Split(content, "\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		return nil, nil
	}
	return []document.Document{
		document.New(strings.Join(paragraphs, "\n"), baseMetadata(filePath, 1)),
	}, nil
}

func parsePPTX(filePath string) ([]document.Document, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("read pptx: %w", err)
	}
	defer f.Close()

	var docs []document.Document
	slide := 0
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") {
			continue
		}
		slide++
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		slideText := extractTextFromXML(string(data))
		if strings.TrimSpace(slideText) == "" {
			continue
		}
		docs = append(docs, document.New(slideText, baseMetadata(filePath, slide)))
	}
	return docs, nil
}

func parseXLSX(filePath string) ([]document.Document, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read xlsx: %w", err)
	}

	var docs []document.Document
	for sheetNum, sheet := range f.Sheets {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				sb.WriteString(cell.String() + "\t")
			}
			sb.WriteString("\n")
		}
		if strings.TrimSpace(sb.String()) == "" {
			continue
		}
		docs = append(docs, document.New(sb.String(), baseMetadata(filePath, sheetNum+1)))
	}
	return docs, nil
}

func parseODS(filePath string) ([]document.Document, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read ods: %w", err)
	}
	defer f.Close()

	var docs []document.Document
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			for _, cell := range row {
				sb.WriteString(cell + "\t")
			}
			sb.WriteString("\n")
		}
		docs = append(docs, document.New(sb.String(), baseMetadata(filePath, sheetNum+1)))
	}
	return docs, nil
}

// extractTextFromXML pulls the <a:t> runs out of a slide's XML without a
// full XML parse.
func extractTextFromXML(xmlContent string) string {
	var sb strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		if endIdx := strings.Index(part, "</a:t>"); endIdx >= 0 {
			sb.WriteString(part[:endIdx] + " ")
		}
	}
	return sb.String()
}
