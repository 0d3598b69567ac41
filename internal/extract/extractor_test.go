package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractBytes_plain(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		ext     string
		want    string
	}{
		{"txt", []byte("Hello world\nLine 2"), ".txt", "Hello world\nLine 2"},
		{"markdown utf8", []byte("caf\xc3\xa9"), ".markdown", "café"},
		{"invalid utf8", []byte("hello\x80world"), ".md", "hello\ufffdworld"},
		{"unknown extension", []byte("raw content"), ".xyz", "raw content"},
		{"upper case extension", []byte("shout"), ".TXT", "shout"},
	}
	e := NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExtractBytes(tt.content, tt.ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractBytes_json(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("{\n  \"title\": \"Doc\",\n  \"tags\": [1, 2]\n}\n"), ".json")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != `{"title":"Doc","tags":[1,2]}` {
		t.Errorf("got %q", got)
	}
	if _, err := e.ExtractBytes([]byte("{broken"), ".json"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	if _, err := f.NewSheet("Empty"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.NewSheet("Totals"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Totals", "A1", "Sum")
	f.SetCellValue("Totals", "B1", 3)
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if want := "## Sheet1\nTitle\nValue 1\tValue 2\n\n## Totals\nSum\t3"; got != want {
		t.Errorf("got %q", got)
	}
}

func TestExtract_plainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")
	if err := os.WriteFile(path, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "File content" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	if _, err := NewExtractor().Extract("/nonexistent/path/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func docxZip(files map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, _ := w.Create(name)
		_, _ = fw.Write([]byte(body))
	}
	_ = w.Close()
	return buf.Bytes()
}

func docBody(text string) string {
	return `<w:document><w:body><w:p w:rsidR="00A1"><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p></w:body></w:document>`
}

func TestExtractBytes_docx(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"default part", map[string]string{"word/document.xml": docBody("Default part")}, "Default part"},
		{"content types", map[string]string{
			"[Content_Types].xml": `<Types><Override PartName="/word/document2.xml" ContentType="` + docxMainType + `"/></Types>`,
			"word/document2.xml":  docBody("From document2"),
		}, "From document2"},
		{"reversed attributes", map[string]string{
			"[Content_Types].xml": `<Types><Override ContentType="` + docxMainType + `" PartName="/word/document3.xml"/></Types>`,
			"word/document3.xml":  docBody("Reversed order"),
		}, "Reversed order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewExtractor().ExtractBytes(docxZip(tt.files), ".docx")
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractBytes_docxErrors(t *testing.T) {
	e := NewExtractor()
	if _, err := e.ExtractBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error for invalid docx")
	}
	if _, err := e.ExtractBytes(docxZip(map[string]string{"other.xml": "x"}), ".docx"); err == nil {
		t.Error("expected error when document part is missing")
	}
}

func TestExtractBytes_pdfInvalid(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("%PDF-garbage"), ".pdf"); err == nil {
		t.Error("expected error for invalid PDF")
	}
}

func TestSupported(t *testing.T) {
	exts := Supported()
	for _, want := range []string{".json", ".md", ".odt", ".pdf", ".rtf", ".txt"} {
		if !slices.Contains(exts, want) {
			t.Errorf("Supported() missing %s: %v", want, exts)
		}
	}
	if !slices.IsSorted(exts) {
		t.Errorf("Supported() not sorted: %v", exts)
	}
}
