package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		asRecord bool
		want     string
		wantErr  bool
	}{
		{"single word", []string{"hyperjump"}, false, "hyperjump", false},
		{"multiple words", []string{"hyperjump", "profile"}, false, "hyperjump profile", false},
		{"quoted phrase", []string{"hyperjump profile"}, false, "hyperjump profile", false},
		{"blank args", []string{"  ", "  "}, false, "", true},
		{"record", []string{`{"description": "x", "n": 1}`}, true, "description: x, n: 1", false},
		{"record not object", []string{`[1, 2]`}, true, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildQuery(tt.args, tt.asRecord)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got.String(), tt.want)
			}
			if err == nil && got.IsRecord() != tt.asRecord {
				t.Errorf("IsRecord() = %v", got.IsRecord())
			}
		})
	}
}

func TestParseIndices(t *testing.T) {
	got, err := parseIndices([]string{"2", "7", "0", "7"})
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{7, 2, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("parseIndices = %v, want %v", got, want)
	}
	for _, bad := range []string{"-1", "x"} {
		if _, err := parseIndices([]string{bad}); err == nil {
			t.Errorf("parseIndices(%q) should fail", bad)
		}
	}
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("store:\n  metric: dot\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != path || cfg.Store.Metric != "dot" {
		t.Errorf("resolved=%s metric=%s", resolved, cfg.Store.Metric)
	}
	if _, _, err := loadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("explicit missing config should fail")
	}
}

// workspace writes a mock-embedder config and a small data directory.
func workspace(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"OLLAMA_BASE_URL", "OLLAMA_EMBEDDINGS_MODEL", "EMBEDDINGS_DATA_PATH"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	cfg := `
store:
  snapshot_path: ./embeddings/store.hdb
  initial_capacity: 16
embedding:
  provider: mock
  dimensions: 8
  cache_size: 0
ingest:
  data_path: ./data
  extensions: [".txt", ".md"]
`
	files := map[string]string{
		"config.yaml":     cfg,
		"data/alpha.txt":  "alpha text",
		"data/beta.md":    "beta notes",
		"data/gamma.txt":  "gamma facts",
		"data/ignore.bin": "binary",
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", filepath.Join(dir, "config.yaml")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCommands_EndToEnd(t *testing.T) {
	dir := workspace(t)

	out, err := run(t, dir, "build")
	if err != nil {
		t.Fatalf("build: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Built 3 documents") {
		t.Errorf("build output: %s", out)
	}
	if _, err := run(t, dir, "build"); err == nil {
		t.Error("second build without --force should fail")
	}

	out, err = run(t, dir, "query", "--top-k", "1", "--output", "json", "beta", "notes")
	if err != nil {
		t.Fatalf("query: %v\n%s", err, out)
	}
	var q struct {
		Results []struct {
			Document map[string]any `json:"document"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &q); err != nil {
		t.Fatalf("query output not JSON: %v\n%s", err, out)
	}
	if len(q.Results) != 1 || q.Results[0].Document["description"] != "beta notes" {
		t.Errorf("query results = %+v", q.Results)
	}

	out, err = run(t, dir, "list")
	if err != nil || !strings.Contains(out, "3 documents") {
		t.Fatalf("list: %v\n%s", err, out)
	}

	export := filepath.Join(dir, "export.db")
	if out, err := run(t, dir, "export", export); err != nil {
		t.Fatalf("export: %v\n%s", err, out)
	}

	out, err = run(t, dir, "remove", "0", "1")
	if err != nil || !strings.Contains(out, "1 remain") {
		t.Fatalf("remove: %v\n%s", err, out)
	}

	out, err = run(t, dir, "import", export)
	if err != nil || !strings.Contains(out, "store holds 4") {
		t.Fatalf("import: %v\n%s", err, out)
	}

	out, err = run(t, dir, "status", "--output", "json")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	var st struct {
		Documents  int    `json:"documents"`
		Dimensions int    `json:"dimensions"`
		Metric     string `json:"metric"`
	}
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status output not JSON: %v\n%s", err, out)
	}
	if st.Documents != 4 || st.Dimensions != 8 || st.Metric != "cosine" {
		t.Errorf("status = %+v", st)
	}
}

func TestCommands_QueryWithoutSnapshot(t *testing.T) {
	dir := workspace(t)
	if _, err := run(t, dir, "query", "anything"); err == nil {
		t.Error("query without a snapshot should fail")
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, t.TempDir(), "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "hyperdb version dev") {
		t.Errorf("version output: %s", out)
	}
}
