package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/hyperdb/internal/document"
	"github.com/hyperjump/hyperdb/internal/search"
	"github.com/hyperjump/hyperdb/internal/store"
)

type embeddingsRequest struct {
	Text string `json:"text"`
}

type conversation struct {
	Messages []search.Message `json:"messages"`
}

type embeddingsResponse struct {
	Result     bool             `json:"result"`
	Messages   []search.Message `json:"messages"`
	StatusCode int              `json:"status_code"`
	Exception  *string          `json:"exception"`
}

// handleEmbeddings answers a chat conversation with retrieved context. The
// request text is itself a JSON document holding the messages.
func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	fail := func(err error) {
		s.logger.Error("embeddings request failed", zap.Error(err))
		msg := err.Error()
		s.respondJSON(w, http.StatusInternalServerError, embeddingsResponse{
			StatusCode: http.StatusInternalServerError,
			Exception:  &msg,
		})
	}

	var req embeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(err)
		return
	}
	var conv conversation
	if err := json.Unmarshal([]byte(req.Text), &conv); err != nil {
		fail(err)
		return
	}
	messages, err := s.engine.ChatContext(r.Context(), conv.Messages)
	if err != nil {
		fail(err)
		return
	}
	s.logger.Debug("embeddings request", zap.Int("context_messages", len(messages)-1))
	s.respondJSON(w, http.StatusOK, embeddingsResponse{
		Result:     true,
		Messages:   messages,
		StatusCode: http.StatusOK,
	})
}

type queryRequest struct {
	Query      *document.Document `json:"query"`
	TopK       int                `json:"top_k"`
	WithScores bool               `json:"with_scores"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req := queryRequest{WithScores: true}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == nil {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.config.DefaultTopK
	}
	results, err := s.engine.Query(r.Context(), *req.Query, topK)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	if req.WithScores {
		s.respondJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}
	docs := make([]document.Document, len(results))
	for i, res := range results {
		docs[i] = res.Document
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

type addRequest struct {
	Documents []document.Document `json:"documents"`
	Vectors   [][]float32         `json:"vectors,omitempty"`
}

func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		s.respondError(w, http.StatusBadRequest, "documents are required")
		return
	}
	if req.Vectors != nil && len(req.Vectors) != len(req.Documents) {
		s.respondError(w, http.StatusBadRequest, "vectors must match documents one to one")
		return
	}
	st := s.engine.Store()
	s.logger.Debug("add documents request", zap.Int("documents", len(req.Documents)), zap.Bool("vectors", req.Vectors != nil))
	if err := st.AddDocuments(r.Context(), req.Documents, req.Vectors); err != nil {
		s.logger.Error("add documents failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]int{"added": len(req.Documents), "count": st.Len()})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	withVectors, _ := strconv.ParseBool(r.URL.Query().Get("vectors"))
	entries := []store.Entry{}
	for e := range s.engine.Store().Listing(withVectors) {
		entries = append(entries, e)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	s.logger.Debug("delete document request", zap.Int("index", index))
	if err := s.engine.Store().RemoveDocument(index); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "deleted", "index": index})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Save(); err != nil {
		s.logger.Error("snapshot failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	st := s.engine.Status()
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "saved", "path": st.SnapshotPath, "bytes": st.SnapshotBytes})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, store.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrDimensionMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
