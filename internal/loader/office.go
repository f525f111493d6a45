package loader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

const (
	contentTypesPath    = "[Content_Types].xml"
	docxDefaultPath     = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	pptxSlidePrefix     = "ppt/slides/slide"
	odfContentPath      = "content.xml"
)

var (
	// <w:p ...> paragraphs and their <w:t ...> runs.
	wParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	wText      = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	aText      = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	// Paragraphs and headings of ODF content; nested spans are flattened by stripping tags.
	odfBlock  = regexp.MustCompile(`(?s)<text:(?:p|h)[ >].*?</text:(?:p|h)>`)
	anyTag    = regexp.MustCompile(`<[^>]+>`)
	partNames = regexp.MustCompile(`<Override[^>]*>`)
	partName  = regexp.MustCompile(`PartName="/?([^"]+)"`)
)

type zipDoc struct {
	r *zip.Reader
}

func openZip(content []byte, format string) (*zipDoc, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return &zipDoc{r: zr}, nil
}

// read returns the named member, or nil when it is absent.
func (z *zipDoc) read(name string) ([]byte, error) {
	for _, f := range z.r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

// docxMainPart finds the main document part from [Content_Types].xml, whatever the
// attribute order.
func (z *zipDoc) docxMainPart() string {
	ct, err := z.read(contentTypesPath)
	if err != nil || ct == nil {
		return docxDefaultPath
	}
	for _, o := range partNames.FindAllString(string(ct), -1) {
		if !strings.Contains(o, `ContentType="`+docxMainContentType+`"`) {
			continue
		}
		if m := partName.FindStringSubmatch(o); m != nil {
			return m[1]
		}
	}
	return docxDefaultPath
}

// extractDOCX returns one line per paragraph built from its text runs.
func extractDOCX(content []byte) (string, error) {
	z, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	part := z.docxMainPart()
	doc, err := z.read(part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if doc == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", part)
	}
	var lines []string
	for _, p := range wParagraph.FindAllString(string(doc), -1) {
		if line := joinRuns(wText.FindAllStringSubmatch(p, -1), ""); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// extractPPTX returns one block per slide, in slide order.
func extractPPTX(content []byte) (string, error) {
	z, err := openZip(content, "PPTX")
	if err != nil {
		return "", err
	}
	var names []string
	for _, f := range z.r.File {
		if strings.HasPrefix(f.Name, pptxSlidePrefix) && strings.HasSuffix(f.Name, ".xml") {
			names = append(names, f.Name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	var slides []string
	for _, name := range names {
		data, err := z.read(name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		if s := joinRuns(aText.FindAllStringSubmatch(string(data), -1), " "); s != "" {
			slides = append(slides, s)
		}
	}
	return strings.Join(slides, "\n\n"), nil
}

// extractODF reads the paragraphs and headings of an OpenDocument presentation or spreadsheet.
func extractODF(content []byte) (string, error) {
	z, err := openZip(content, "ODF")
	if err != nil {
		return "", err
	}
	data, err := z.read(odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract ODF: %w", err)
	}
	if data == nil {
		return "", fmt.Errorf("extract ODF: %s not found", odfContentPath)
	}
	var lines []string
	for _, block := range odfBlock.FindAllString(string(data), -1) {
		if line := strings.TrimSpace(unescapeXML(anyTag.ReplaceAllString(block, ""))); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func joinRuns(matches [][]string, sep string) string {
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, m[1])
	}
	return strings.Join(strings.Fields(unescapeXML(strings.Join(parts, sep))), " ")
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}
