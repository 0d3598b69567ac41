package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultPart = "word/document.xml"
	docxMainType    = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// wtTag matches <w:t>text</w:t> with any attributes.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// overrideTag matches one Override element of [Content_Types].xml.
	overrideTag  = regexp.MustCompile(`<Override\s[^>]*>`)
	partNameAttr = regexp.MustCompile(`PartName="([^"]+)"`)
)

// extractDOCX collects every <w:t> run of the main document part. The part is
// located through [Content_Types].xml, falling back to word/document.xml.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	part := docxDefaultPart
	if types, err := readZipMember(zr, "[Content_Types].xml"); err == nil {
		if p := mainDocumentPart(types); p != "" {
			part = p
		}
	}
	body, err := readZipMember(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}

	runs := wtTag.FindAllSubmatch(body, -1)
	words := make([]string, 0, len(runs))
	for _, m := range runs {
		words = append(words, strings.TrimSpace(string(m[1])))
	}
	return strings.TrimSpace(strings.Join(words, " ")), nil
}

func mainDocumentPart(types []byte) string {
	for _, tag := range overrideTag.FindAll(types, -1) {
		if !bytes.Contains(tag, []byte(`ContentType="`+docxMainType+`"`)) {
			continue
		}
		if m := partNameAttr.FindSubmatch(tag); m != nil {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return ""
}

func readZipMember(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
