package extract

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	odfContentPath      = "content.xml"
)

var (
	// <w:t>text</w:t> with any attributes.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// <a:t>text</a:t> with any attributes.
	atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	// OpenDocument paragraphs, headings and spans in document order.
	odfText = regexp.MustCompile(`<text:(p|h|span)[^>]*>([^<]*)</text:(?:p|h|span)>`)

	mainPartName = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	// ContentType before PartName.
	mainPartNameReversed = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

	slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// extractDOCX collects every <w:t> run of the main document part. The part is located
// through [Content_Types].xml and defaults to word/document.xml.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	docPath := docxDocumentXMLPath
	if types, _ := readZipFile(zr, contentTypesPath); types != nil {
		s := string(types)
		if m := mainPartName.FindStringSubmatch(s); len(m) > 1 {
			docPath = strings.TrimPrefix(m[1], "/")
		} else if m := mainPartNameReversed.FindStringSubmatch(s); len(m) > 1 {
			docPath = strings.TrimPrefix(m[1], "/")
		}
	}
	docXML, err := readZipFile(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}
	var b strings.Builder
	appendSubmatches(&b, wtTag, string(docXML), 1)
	return html.UnescapeString(b.String()), nil
}

// extractPPTX collects <a:t> runs slide by slide in slide-number order.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return "", err
	}
	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var b strings.Builder
	for _, s := range slides {
		data, err := readZipFile(zr, s.name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		appendSubmatches(&b, atTag, string(data), 1)
	}
	return html.UnescapeString(b.String()), nil
}

// extractODF reads content.xml of an OpenDocument package (text, presentation or spreadsheet).
func extractODF(content []byte) (string, error) {
	zr, err := openZip(content, "OpenDocument")
	if err != nil {
		return "", err
	}
	data, err := readZipFile(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract OpenDocument: %w", err)
	}
	if data == nil {
		return "", fmt.Errorf("extract OpenDocument: %s not found", odfContentPath)
	}
	var b strings.Builder
	appendSubmatches(&b, odfText, string(data), 2)
	return html.UnescapeString(b.String()), nil
}
