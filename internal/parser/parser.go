package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"quizzify/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Extractor turns a raw document into its ordered page texts
type Extractor interface {
	ExtractPages(doc models.Document) ([]string, error)
}

// FileExtractor dispatches on the document's file extension
type FileExtractor struct{}

const pageSeparator = "\f"

var (
	wordParagraphRe  = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	wordTextRe       = regexp.MustCompile(`(?s)<w:t(?:\s[^>]*)?>(.*?)</w:t>`)
	slideParagraphRe = regexp.MustCompile(`(?s)<a:p>.*?</a:p>`)
	slideTextRe      = regexp.MustCompile(`(?s)<a:t(?:\s[^>]*)?>(.*?)</a:t>`)
	slideNameRe      = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

func (FileExtractor) ExtractPages(doc models.Document) ([]string, error) {
	return ExtractPages(doc)
}

// ExtractPages returns one entry per page in document order
func ExtractPages(doc models.Document) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(doc.Name))
	log.Debug().Str("document", doc.Name).Str("format", ext).Int("bytes", len(doc.Data)).Msg("Extracting pages")

	switch ext {
	case ".pdf":
		return parsePDF(doc.Data)
	case ".docx":
		return parseDOCX(doc.Data)
	case ".pptx":
		return parsePPTX(doc.Data)
	case ".xlsx":
		return parseXLSX(doc.Data)
	case ".xlsm", ".xltx", ".xltm":
		return parseWorkbook(doc.Data)
	case ".md", ".markdown":
		return parseMarkdown(doc.Data)
	case ".txt", "":
		return parseText(doc.Data), nil
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, ext)
	}
}

func parsePDF(data []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		pages = append(pages, pageText)
	}
	return pages, nil
}

// DOCX has no page numbers, the whole body is one page
func parseDOCX(data []byte) ([]string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	paragraphs := extractTextFromXML(content, wordParagraphRe, wordTextRe)
	return []string{strings.Join(paragraphs, "\n\n")}, nil
}

func parsePPTX(data []byte) ([]string, error) {
	f, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pptx: %w", err)
	}

	type slide struct {
		number int
		file   *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{number: n, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })

	pages := make([]string, 0, len(slides))
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open slide %d: %w", s.number, err)
		}
		xmlData, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read slide %d: %w", s.number, err)
		}
		paragraphs := extractTextFromXML(string(xmlData), slideParagraphRe, slideTextRe)
		pages = append(pages, strings.Join(paragraphs, "\n\n"))
	}
	return pages, nil
}

// one page per sheet
func parseXLSX(data []byte) ([]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}

	pages := make([]string, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			var cells []string
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		pages = append(pages, sheetText(sheet.Name, rows))
	}
	return pages, nil
}

func parseWorkbook(data []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	var pages []string
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
		}
		pages = append(pages, sheetText(sheetName, rows))
	}
	return pages, nil
}

func sheetText(name string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("Sheet: " + name + "\n")
	for _, row := range rows {
		b.WriteString(strings.TrimRight(strings.Join(row, "\t"), "\t"))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// parseMarkdown flattens markdown to plain paragraphs; a thematic break starts a new page
func parseMarkdown(data []byte) ([]string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(data))

	var (
		pages      []string
		paragraphs []string
		buf        strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			paragraphs = append(paragraphs, s)
		}
		buf.Reset()
	}
	endPage := func() {
		flush()
		pages = append(pages, strings.Join(paragraphs, "\n\n"))
		paragraphs = nil
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.ThematicBreak:
			if entering {
				endPage()
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := node.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(data))
				}
				flush()
			}
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(data))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *east.TableCell:
			if !entering {
				buf.WriteByte('\t')
			}
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock, *east.TableRow, *east.TableHeader:
			if !entering {
				flush()
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk markdown: %w", err)
	}
	endPage()
	return pages, nil
}

// plain text pages are separated by form feeds
func parseText(data []byte) []string {
	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.Split(content, pageSeparator)
}

// extractTextFromXML collects the text runs of every paragraph element
func extractTextFromXML(xmlContent string, paragraphRe, textRe *regexp.Regexp) []string {
	var paragraphs []string
	for _, p := range paragraphRe.FindAllString(xmlContent, -1) {
		var b strings.Builder
		for _, m := range textRe.FindAllStringSubmatch(p, -1) {
			b.WriteString(html.UnescapeString(m[1]))
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			paragraphs = append(paragraphs, s)
		}
	}
	return paragraphs
}
