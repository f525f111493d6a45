package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
)

// documentRequest is the body of POST /documents.
type documentRequest struct {
	Title     string `json:"title"`
	Source    string `json:"source,omitempty"`
	Text      string `json:"text"`
	Delimiter string `json:"delimiter,omitempty"`
}

// consolidateRequest is the body of POST /consolidate.
type consolidateRequest struct {
	Hits    []*models.SearchHit `json:"hits"`
	Padding *int                `json:"padding,omitempty"`
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	delimiter := req.Delimiter
	if delimiter == "" {
		delimiter = s.delimiter
	}
	doc, err := indexer.NewDocument(req.Text, req.Title, req.Source, delimiter)
	if err != nil {
		s.fail(w, "chunk document", err)
		return
	}
	s.logger.Debug("index document request", zap.String("title", doc.Title), zap.String("hash", doc.Hash))
	res, err := s.engine.IndexDocument(r.Context(), doc, userFrom(r))
	if err != nil {
		s.fail(w, "index document", err)
		return
	}
	status := http.StatusOK
	if res.Status == models.StatusIndexed {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, res)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.GetDocument(r.Context(), chi.URLParam(r, "hash"), userFrom(r))
	if err != nil {
		s.fail(w, "get document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if err := s.engine.DeleteDocument(r.Context(), hash, userFrom(r)); err != nil {
		s.fail(w, "delete document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"hash": hash, "status": "deleted"})
}

func (s *Server) handleChunkRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := intParam(q.Get("start"), 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "start must be an integer")
		return
	}
	end, err := intParam(q.Get("end"), math.MaxInt32)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "end must be an integer")
		return
	}
	chunks, err := s.engine.GetChunkRange(r.Context(), chi.URLParam(r, "hash"), start, end, userFrom(r))
	if err != nil {
		s.fail(w, "chunk range", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (s *Server) handleTopWeighted(w http.ResponseWriter, r *http.Request) {
	k, err := intParam(r.URL.Query().Get("k"), 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "k must be an integer")
		return
	}
	chunks, err := s.engine.TopWeighted(r.Context(), chi.URLParam(r, "hash"), userFrom(r), k)
	if err != nil {
		s.fail(w, "top weighted", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearch(w, r)
	if !ok {
		return
	}
	hits, err := s.engine.Search(r.Context(), req.Query, userFrom(r), req.SearchOptions)
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearch(w, r)
	if !ok {
		return
	}
	passages, err := s.engine.Retrieve(r.Context(), req.Query, userFrom(r), req.SearchOptions, req.Padding)
	if err != nil {
		s.fail(w, "retrieve", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"passages": passages})
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	var req consolidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, h := range req.Hits {
		if h == nil {
			s.respondError(w, http.StatusBadRequest, "hits must not contain null")
			return
		}
	}
	passages, err := s.engine.Consolidate(r.Context(), req.Hits, userFrom(r), req.Padding)
	if err != nil {
		s.fail(w, "consolidate", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"passages": passages})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	k, err := intParam(q.Get("k"), 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "k must be an integer")
		return
	}
	opts := models.SearchOptions{K: k}
	if raw := q.Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "threshold must be a number")
			return
		}
		opts.Threshold = &v
	}
	hits, err := s.engine.Similar(r.Context(), chi.URLParam(r, "id"), userFrom(r), opts)
	if err != nil {
		s.fail(w, "similar", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.fail(w, "status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWatchDirectories(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.watch.Directories()})
}

func (s *Server) decodeSearch(w http.ResponseWriter, r *http.Request) (*models.SearchRequest, bool) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := req.Validate(); err != nil {
		s.fail(w, "search", err)
		return nil, false
	}
	return &req, true
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEmptyContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error(), "code": models.ErrorCode(err)})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
