package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/c360studio/draftloop/citation"
	"github.com/c360studio/draftloop/workflow"
)

// maxRequestBody bounds a JSON request body.
const maxRequestBody = 1 << 20 // 1MB

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return false
	}
	return true
}

// getOwnedDocument loads the document named by the route and enforces the
// ownership boundary.
func (s *Server) getOwnedDocument(w http.ResponseWriter, r *http.Request) *workflow.Document {
	return s.ownedDocument(w, r, chi.URLParam(r, "documentID"))
}

// ownedDocument loads a document and enforces the ownership boundary. A
// document owned by another caller answers 404; writing the error here
// keeps the handlers to a single guard line.
func (s *Server) ownedDocument(w http.ResponseWriter, r *http.Request, documentID string) *workflow.Document {
	doc, err := s.deps.Store.GetDocument(r.Context(), documentID)
	if err != nil {
		respondDomainError(w, s.logger, err)
		return nil
	}
	if doc.UserID != userID(r) {
		respondError(w, s.logger, http.StatusNotFound, "not_found", "resource not found")
		return nil
	}
	return doc
}

type createDocumentRequest struct {
	Title   string               `json:"title"`
	Content string               `json:"content,omitempty"`
	Prompt  string               `json:"prompt,omitempty"`
	Config  *workflow.LoopConfig `json:"config,omitempty"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if !decodeBody(w, r, &req) {
		respondError(w, s.logger, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.Title == "" {
		respondError(w, s.logger, http.StatusBadRequest, "validation", "title is required")
		return
	}

	now := time.Now().UTC()
	doc := &workflow.Document{
		ID:        uuid.NewString(),
		UserID:    userID(r),
		Title:     req.Title,
		Content:   req.Content,
		Status:    workflow.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Config != nil {
		doc.Config = *req.Config
	}

	if err := s.deps.Store.CreateDocument(r.Context(), doc); err != nil {
		respondDomainError(w, s.logger, err)
		return
	}
	s.logger.Info("document created", "document_id", doc.ID, "user_id", doc.UserID)

	if doc.Config.AutoRun {
		if _, err := s.deps.Engine.Start(r.Context(), doc.ID, req.Prompt, nil); err != nil {
			s.logger.Warn("auto-run start failed", "document_id", doc.ID, "error", err)
		}
	}

	respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Store.ListDocuments(r.Context(), userID(r))
	if err != nil {
		respondDomainError(w, s.logger, err)
		return
	}
	if docs == nil {
		docs = []*workflow.Document{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc := s.getOwnedDocument(w, r)
	if doc == nil {
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

type importDocumentRequest struct {
	URL    string               `json:"url"`
	Title  string               `json:"title,omitempty"`
	Config *workflow.LoopConfig `json:"config,omitempty"`
}

func (s *Server) handleImportDocument(w http.ResponseWriter, r *http.Request) {
	var req importDocumentRequest
	if !decodeBody(w, r, &req) {
		respondError(w, s.logger, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.URL == "" {
		respondError(w, s.logger, http.StatusBadRequest, "validation", "url is required")
		return
	}

	article, err := s.deps.Importer.Import(r.Context(), req.URL)
	if err != nil {
		respondError(w, s.logger, http.StatusBadGateway, "import_failed", err.Error())
		return
	}

	title := req.Title
	if title == "" {
		title = article.Title
	}
	if title == "" {
		title = req.URL
	}

	now := time.Now().UTC()
	doc := &workflow.Document{
		ID:        uuid.NewString(),
		UserID:    userID(r),
		Title:     title,
		Content:   article.Markdown,
		Status:    workflow.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Config != nil {
		doc.Config = *req.Config
	}

	if err := s.deps.Store.CreateDocument(r.Context(), doc); err != nil {
		respondDomainError(w, s.logger, err)
		return
	}
	s.logger.Info("document imported",
		"document_id", doc.ID,
		"url", req.URL,
		"words", article.WordCount)

	respondJSON(w, http.StatusCreated, map[string]any{
		"document": doc,
		"article":  article,
	})
}

type startRequest struct {
	DocumentID string               `json:"document_id"`
	Prompt     string               `json:"prompt,omitempty"`
	Config     *workflow.LoopConfig `json:"config,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) || req.DocumentID == "" {
		respondError(w, s.logger, http.StatusBadRequest, "validation", "document_id is required")
		return
	}
	doc := s.ownedDocument(w, r, req.DocumentID)
	if doc == nil {
		return
	}

	taskID, err := s.deps.Engine.Start(r.Context(), doc.ID, req.Prompt, req.Config)
	if err != nil {
		respondDomainError(w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusAccepted, actionResponse{
		Success: true,
		Message: "workflow started",
		Data:    map[string]any{"task_id": taskID},
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	doc := s.getOwnedDocument(w, r)
	if doc == nil {
		return
	}
	if err := s.deps.Engine.Stop(r.Context(), doc.ID); err != nil {
		respondDomainError(w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, actionResponse{
		Success: true,
		Message: "workflow stopped",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc := s.getOwnedDocument(w, r)
	if doc == nil {
		return
	}
	report, err := s.deps.Engine.StatusSnapshot(r.Context(), doc.ID)
	if err != nil {
		respondDomainError(w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// nodeView is a node joined with its metrics for the history listing.
type nodeView struct {
	*workflow.Node
	Metrics *workflow.NodeMetrics `json:"metrics,omitempty"`
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	doc := s.getOwnedDocument(w, r)
	if doc == nil {
		return
	}
	nodes, err := s.deps.Store.ListNodes(r.Context(), doc.ID)
	if err != nil {
		respondDomainError(w, s.logger, err)
		return
	}

	views := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		view := nodeView{Node: n}
		if m, err := s.deps.Store.GetMetrics(r.Context(), n.ID); err == nil {
			view.Metrics = m
		} else if !errors.Is(err, workflow.ErrNotFound) {
			s.logger.Warn("failed to load node metrics", "node_id", n.ID, "error", err)
		}
		views = append(views, view)
	}
	respondJSON(w, http.StatusOK, map[string]any{"nodes": views})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	doc := s.getOwnedDocument(w, r)
	if doc == nil {
		return
	}

	nodeID := chi.URLParam(r, "nodeID")
	if err := s.deps.Engine.RollbackTo(r.Context(), doc.ID, nodeID); err != nil {
		respondDomainError(w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusAccepted, actionResponse{
		Success: true,
		Message: "rolled back to node " + nodeID,
	})
}

func (s *Server) handleCitationSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		respondError(w, s.logger, http.StatusBadRequest, "validation", "query is required")
		return
	}
	rows := 10
	if v := r.URL.Query().Get("rows"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 50 {
			rows = n
		}
	}

	records, err := s.deps.Citations.Search(r.Context(), query, rows)
	if err != nil {
		respondError(w, s.logger, http.StatusBadGateway, "search_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": records,
	})
}

type formatRequest struct {
	DOI   string `json:"doi"`
	Style string `json:"style,omitempty"`
}

func (s *Server) handleCitationFormat(w http.ResponseWriter, r *http.Request) {
	var req formatRequest
	if !decodeBody(w, r, &req) || req.DOI == "" {
		respondError(w, s.logger, http.StatusBadRequest, "validation", "doi is required")
		return
	}

	record, err := s.deps.Citations.Resolve(r.Context(), req.DOI)
	if err != nil {
		if errors.Is(err, citation.ErrNotFound) {
			respondError(w, s.logger, http.StatusNotFound, "not_found", "citation record not found")
			return
		}
		respondError(w, s.logger, http.StatusBadGateway, "lookup_failed", err.Error())
		return
	}

	style := citation.ParseStyle(req.Style)
	respondJSON(w, http.StatusOK, map[string]any{
		"doi":       record.DOI,
		"style":     style,
		"formatted": citation.Format(record, style),
		"record":    record,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"

	components := map[string]any{
		"storage": s.deps.StoreBackend,
		"queue":   s.deps.QueueBackend,
	}
	if s.deps.LLMConfigured {
		components["llm"] = "configured"
	} else {
		components["llm"] = "mock"
	}

	if s.deps.Cache != nil {
		stats := s.deps.Cache.Stats(r.Context())
		components["cache"] = stats
		if !stats.Healthy {
			status = "degraded"
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"components": components,
		"time":       time.Now().UTC(),
	})
}
