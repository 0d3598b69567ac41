package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/hyperdb/internal/config"
	"github.com/hyperjump/hyperdb/internal/document"
	"github.com/hyperjump/hyperdb/internal/embedding"
	"github.com/hyperjump/hyperdb/internal/search"
	"github.com/hyperjump/hyperdb/internal/store"
	"github.com/hyperjump/hyperdb/internal/vector"
)

func newTestServer(t *testing.T, withEmbedder bool) (*Server, *store.Store) {
	t.Helper()
	var opts []store.Option
	if withEmbedder {
		opts = append(opts, store.WithEmbedder(embedding.NewBatcher(embedding.NewMockEmbedder(8), embedding.WithFieldPath("description"))))
	}
	st, err := store.New(vector.MetricCosine, opts...)
	if err != nil {
		t.Fatal(err)
	}
	engine := search.NewEngine(st, nil,
		search.WithSnapshotPath(filepath.Join(t.TempDir(), "store.hdb")),
		search.WithDefaultTopK(2))
	srv := NewServer(engine, &config.ServerConfig{Host: "localhost", Port: 8000, DefaultTopK: 3}, zap.NewNop())
	return srv, st
}

func seed(t *testing.T, st *store.Store, texts ...string) {
	t.Helper()
	docs := make([]document.Document, len(texts))
	for i, text := range texts {
		docs[i] = document.FromRecord(document.NewRecord().Set("description", text))
	}
	if err := st.AddDocuments(context.Background(), docs, nil); err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHandleEmbeddings(t *testing.T) {
	srv, st := newTestServer(t, true)
	seed(t, st, "red apples", "green pears", "blue berries")

	conv, _ := json.Marshal(map[string]any{"messages": []map[string]string{
		{"role": "user", "content": "old question"},
		{"role": "assistant", "content": "answer"},
		{"role": "user", "content": "green pears"},
	}})
	w := do(t, srv, http.MethodPost, "/embeddings", map[string]string{"text": string(conv)})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[embeddingsResponse](t, w)
	if !resp.Result || resp.StatusCode != 200 || resp.Exception != nil {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Messages) != 3 {
		t.Fatalf("messages = %+v, want 2 snippets + prompt", resp.Messages)
	}
	if resp.Messages[0].Content != "green pears" {
		t.Errorf("top snippet = %q", resp.Messages[0].Content)
	}
	if last := resp.Messages[2]; last.Role != "user" || last.Content != "green pears" {
		t.Errorf("last message = %+v", last)
	}
}

func TestHandleEmbeddings_Failures(t *testing.T) {
	srv, _ := newTestServer(t, true)
	tests := []struct {
		name string
		body any
	}{
		{"bad body", "{"},
		{"text not json", map[string]string{"text": "plain words"}},
		{"no user message", map[string]string{"text": `{"messages":[{"role":"system","content":"x"}]}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/embeddings", tt.body)
			if w.Code != http.StatusInternalServerError {
				t.Errorf("status: got %d", w.Code)
			}
			resp := decode[embeddingsResponse](t, w)
			if resp.Result || resp.StatusCode != 500 || resp.Exception == nil || resp.Messages != nil {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

type scoredResponse struct {
	Results []struct {
		Index    int            `json:"index"`
		Score    float32        `json:"score"`
		Document map[string]any `json:"document"`
	} `json:"results"`
}

func TestHandleQuery(t *testing.T) {
	srv, st := newTestServer(t, true)
	seed(t, st, "one", "two", "three", "four")

	w := do(t, srv, http.MethodPost, "/api/v1/query", map[string]any{"query": "two", "with_scores": true})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	scored := decode[scoredResponse](t, w)
	if len(scored.Results) != 3 {
		t.Fatalf("got %d results, want server default 3", len(scored.Results))
	}
	if scored.Results[0].Index != 1 || scored.Results[0].Document["description"] != "two" {
		t.Errorf("top result = %+v", scored.Results[0])
	}

	w = do(t, srv, http.MethodPost, "/api/v1/query", map[string]any{"query": map[string]any{"description": "four"}, "top_k": 1, "with_scores": false})
	docs := decode[struct {
		Documents []map[string]any `json:"documents"`
	}](t, w)
	if len(docs.Documents) != 1 || docs.Documents[0]["description"] != "four" {
		t.Errorf("documents = %+v", docs.Documents)
	}
}

func TestHandleQuery_ScoresByDefault(t *testing.T) {
	srv, st := newTestServer(t, true)
	seed(t, st, "alpha", "beta")

	w := do(t, srv, http.MethodPost, "/api/v1/query", `{"query":"alpha"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["documents"]; ok {
		t.Fatalf("omitted with_scores returned bare documents: %s", w.Body.String())
	}
	var scored scoredResponse
	if err := json.Unmarshal(raw["results"], &scored.Results); err != nil {
		t.Fatal(err)
	}
	if len(scored.Results) != 2 || scored.Results[0].Document["description"] != "alpha" {
		t.Errorf("results = %+v", scored.Results)
	}
	if scored.Results[0].Score < scored.Results[1].Score {
		t.Errorf("scores not descending: %+v", scored.Results)
	}
}

func TestHandleQuery_Errors(t *testing.T) {
	srv, st := newTestServer(t, false)
	if err := st.AddDocument(context.Background(), document.Text("x"), []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad body", "nope", http.StatusBadRequest},
		{"missing query", map[string]any{"top_k": 2}, http.StatusBadRequest},
		{"no embedder", map[string]any{"query": "x"}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, srv, http.MethodPost, "/api/v1/query", tt.body); w.Code != tt.want {
				t.Errorf("status: got %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestHandleAddListDelete(t *testing.T) {
	srv, st := newTestServer(t, false)

	w := do(t, srv, http.MethodPost, "/api/v1/documents", map[string]any{
		"documents": []any{"plain", map[string]any{"id": "r", "description": "rec"}},
		"vectors":   [][]float32{{1, 0}, {0, 1}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status: got %d, body %s", w.Code, w.Body.String())
	}
	if st.Len() != 2 {
		t.Fatalf("Len() = %d", st.Len())
	}

	w = do(t, srv, http.MethodGet, "/api/v1/documents?vectors=true", nil)
	list := decode[struct {
		Count   int `json:"count"`
		Entries []struct {
			Index    int       `json:"index"`
			Document any       `json:"document"`
			Vector   []float32 `json:"vector"`
		} `json:"entries"`
	}](t, w)
	if list.Count != 2 || list.Entries[0].Document != "plain" || len(list.Entries[1].Vector) != 2 {
		t.Errorf("listing = %+v", list)
	}

	if w := do(t, srv, http.MethodDelete, "/api/v1/documents/0", nil); w.Code != http.StatusOK {
		t.Errorf("delete status: got %d", w.Code)
	}
	if st.Len() != 1 {
		t.Errorf("Len() after delete = %d", st.Len())
	}
	if w := do(t, srv, http.MethodDelete, "/api/v1/documents/5", nil); w.Code != http.StatusNotFound {
		t.Errorf("out of range delete: got %d", w.Code)
	}
	if w := do(t, srv, http.MethodDelete, "/api/v1/documents/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("non-integer delete: got %d", w.Code)
	}
}

func TestHandleAddDocuments_Errors(t *testing.T) {
	srv, st := newTestServer(t, false)
	if err := st.AddDocument(context.Background(), document.Text("seed"), []float32{1, 2}); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		body any
		want int
	}{
		{"empty", map[string]any{"documents": []any{}}, http.StatusBadRequest},
		{"count mismatch", map[string]any{"documents": []any{"a", "b"}, "vectors": [][]float32{{1, 1}}}, http.StatusBadRequest},
		{"dimension mismatch", map[string]any{"documents": []any{"a"}, "vectors": [][]float32{{1, 1, 1}}}, http.StatusBadRequest},
		{"no embedder", map[string]any{"documents": []any{"a"}}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, srv, http.MethodPost, "/api/v1/documents", tt.body); w.Code != tt.want {
				t.Errorf("status: got %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
	if st.Len() != 1 {
		t.Errorf("failed adds changed the store: Len() = %d", st.Len())
	}
}

func TestHandleSnapshotAndStatus(t *testing.T) {
	srv, st := newTestServer(t, true)
	seed(t, st, "a", "b")

	w := do(t, srv, http.MethodPost, "/api/v1/snapshot", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot status: got %d, body %s", w.Code, w.Body.String())
	}
	saved := decode[struct {
		Status string `json:"status"`
		Bytes  int64  `json:"bytes"`
	}](t, w)
	if saved.Status != "saved" || saved.Bytes <= 0 {
		t.Errorf("snapshot response = %+v", saved)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/status", nil)
	status := decode[search.Status](t, w)
	if status.Documents != 2 || status.Dimensions != 8 || status.Metric != "cosine" {
		t.Errorf("status = %+v", status)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, false)
	w := do(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}
