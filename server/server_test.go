package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360studio/draftloop/cache"
	"github.com/c360studio/draftloop/citation"
	"github.com/c360studio/draftloop/config"
	"github.com/c360studio/draftloop/events"
	"github.com/c360studio/draftloop/ingest"
	"github.com/c360studio/draftloop/llm"
	"github.com/c360studio/draftloop/queue"
	"github.com/c360studio/draftloop/readability"
	"github.com/c360studio/draftloop/server"
	"github.com/c360studio/draftloop/storage"
	"github.com/c360studio/draftloop/workflow"
)

type testEnv struct {
	ts    *httptest.Server
	store *storage.MemoryStore
	bus   *events.Bus
}

// fakeCrossRef answers the two CrossRef endpoints the citation client uses.
func fakeCrossRef(t *testing.T) *httptest.Server {
	t.Helper()
	work := map[string]any{
		"DOI":             "10.1000/xyz",
		"title":           []string{"A Study of Things"},
		"container-title": []string{"Journal of Things"},
		"author":          []map[string]string{{"given": "Jane", "family": "Smith"}},
		"published-print": map[string]any{"date-parts": [][]int{{2021}}},
		"score":           95,
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/works" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]any{"items": []any{work}},
			})
			return
		}
		if strings.HasSuffix(r.URL.Path, "10.1000/xyz") {
			_ = json.NewEncoder(w).Encode(map[string]any{"message": work})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	crossrefSrv := fakeCrossRef(t)
	t.Cleanup(crossrefSrv.Close)

	store := storage.NewMemoryStore()
	c := cache.New(cache.NewMemory(), "test", nil)

	registry := llm.NewRegistry(config.LLMConfig{Provider: "none"})
	gateway := llm.NewGateway(llm.NewClient(registry), registry, 0.7, 0, nil)

	crossref := citation.NewClient(crossrefSrv.URL, "", 5*time.Second, nil)
	validator := citation.NewValidator(crossref, nil)

	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)

	engine := workflow.NewEngine(store, gateway, validator, readability.New(nil), bus,
		workflow.Defaults{
			ReadabilityThreshold: 5,
			MaxRetries:           2,
			GrammarErrorLimit:    5,
			CitationMinRate:      0.8,
			TimeoutSeconds:       30,
			WritingMode:          "academic",
			TargetWordCount:      1000,
		}, nil, workflow.WithCache(c))

	dispatcher := queue.NewDispatcher(engine, queue.Options{
		RetryLimit:  1,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}, nil)
	t.Cleanup(dispatcher.Close)
	engine.SetRunner(dispatcher)

	cfg := config.DefaultConfig().Server
	srv := server.New(cfg, server.Deps{
		Engine:        engine,
		Store:         store,
		Bus:           bus,
		Citations:     crossref,
		Importer:      ingest.NewImporter(5*time.Second, "draftloop-test", nil),
		Cache:         c,
		LLMConfigured: gateway.Configured(),
		QueueBackend:  "inproc",
		StoreBackend:  "memory",
	}, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: store, bus: bus}
}

func (env *testEnv) do(t *testing.T, method, path, user string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, env.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, buf.Bytes()
}

func (env *testEnv) createDocument(t *testing.T, user, title string) workflow.Document {
	t.Helper()
	resp, body := env.do(t, http.MethodPost, "/workflow/documents", user, map[string]string{"title": title})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create document: status %d: %s", resp.StatusCode, body)
	}
	var doc workflow.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	return doc
}

func decodeError(t *testing.T, body []byte) (code, errorID string) {
	t.Helper()
	var envlp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			ErrorID string `json:"error_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envlp); err != nil {
		t.Fatalf("decode error envelope: %v\n%s", err, body)
	}
	return envlp.Error.Code, envlp.Error.ErrorID
}

func TestCreateDocument(t *testing.T) {
	env := newTestEnv(t)

	doc := env.createDocument(t, "", "My Draft")
	if doc.ID == "" || doc.Title != "My Draft" {
		t.Errorf("document = %+v", doc)
	}
	if doc.Status != workflow.StatusIdle {
		t.Errorf("status = %s, want idle", doc.Status)
	}
	if doc.UserID != "local" {
		t.Errorf("user = %q, want default identity", doc.UserID)
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/workflow/documents", "", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	code, errorID := decodeError(t, body)
	if code != "validation" {
		t.Errorf("code = %q", code)
	}
	if errorID == "" {
		t.Error("error envelope missing error_id")
	}
}

func TestListDocumentsScopedToUser(t *testing.T) {
	env := newTestEnv(t)
	env.createDocument(t, "alice", "Alice One")
	env.createDocument(t, "alice", "Alice Two")
	env.createDocument(t, "bob", "Bob One")

	resp, body := env.do(t, http.MethodGet, "/workflow/documents", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Documents []workflow.Document `json:"documents"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Documents) != 2 {
		t.Errorf("listed %d documents for alice, want 2", len(out.Documents))
	}
}

func TestGetDocumentOwnership(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "alice", "Private")

	resp, _ := env.do(t, http.MethodGet, "/workflow/documents/"+doc.ID, "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("owner access: status = %d", resp.StatusCode)
	}

	// Someone else's document answers 404, not 403.
	resp, body := env.do(t, http.MethodGet, "/workflow/documents/"+doc.ID, "mallory", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign access: status = %d, want 404", resp.StatusCode)
	}
	if code, _ := decodeError(t, body); code != "not_found" {
		t.Errorf("code = %q", code)
	}

	resp, _ = env.do(t, http.MethodGet, "/workflow/documents/nope", "alice", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing document: status = %d, want 404", resp.StatusCode)
	}
}

func TestStartConflict(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "alice", "Busy")

	// Force a non-terminal status without racing the pipeline.
	stored, err := env.store.GetDocument(t.Context(), doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	stored.Status = workflow.StatusDrafting
	if err := env.store.UpdateDocument(t.Context(), stored); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	resp, body := env.do(t, http.MethodPost, "/workflow/start", "alice",
		map[string]string{"document_id": doc.ID})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", resp.StatusCode, body)
	}
	if code, _ := decodeError(t, body); code != "conflict" {
		t.Errorf("code = %q", code)
	}
}

func TestStartValidation(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "alice", "Guarded")

	resp, body := env.do(t, http.MethodPost, "/workflow/start", "alice", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing document_id: status = %d, want 400: %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/workflow/start", "alice",
		map[string]string{"document_id": "ghost"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown document: status = %d, want 404", resp.StatusCode)
	}

	// Someone else's document answers 404, not 403.
	resp, _ = env.do(t, http.MethodPost, "/workflow/start", "mallory",
		map[string]string{"document_id": doc.ID})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign document: status = %d, want 404", resp.StatusCode)
	}
}

func TestStopIdleDocument(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "alice", "Quiet")

	resp, body := env.do(t, http.MethodPost, "/workflow/"+doc.ID+"/stop", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stop idle: status = %d, want 200", resp.StatusCode)
	}
	var ack struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Success || ack.Message == "" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestStatusIdle(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "alice", "Fresh")

	resp, body := env.do(t, http.MethodGet, "/workflow/"+doc.ID+"/status", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var report workflow.StatusReport
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != workflow.StatusIdle || report.Progress != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestRollbackValidation(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "alice", "History")

	resp, _ := env.do(t, http.MethodPost, "/workflow/"+doc.ID+"/rollback/ghost", "alice", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown node: status = %d, want 404", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/workflow/ghost/rollback/ghost", "alice", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown document: status = %d, want 404", resp.StatusCode)
	}
}

func TestWorkflowEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "alice", "The History of Tea")

	resp, body := env.do(t, http.MethodPost, "/workflow/start", "alice",
		map[string]string{"document_id": doc.ID, "prompt": "The History of Tea"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start: status = %d: %s", resp.StatusCode, body)
	}
	var started struct {
		Success bool `json:"success"`
		Data    struct {
			TaskID string `json:"task_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &started); err != nil {
		t.Fatalf("decode start ack: %v", err)
	}
	if !started.Success || started.Data.TaskID == "" {
		t.Fatalf("start ack = %+v", started)
	}

	var report workflow.StatusReport
	deadline := time.Now().Add(15 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("workflow did not finish: %+v", report)
		}
		_, body := env.do(t, http.MethodGet, "/workflow/"+doc.ID+"/status", "alice", nil)
		if err := json.Unmarshal(body, &report); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if report.Status == workflow.StatusDone || report.Status == workflow.StatusFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if report.Status != workflow.StatusDone {
		t.Fatalf("status = %s, want done", report.Status)
	}
	if report.Progress != 100 {
		t.Errorf("progress = %v, want 100", report.Progress)
	}

	// The node history carries all five stages with their metrics.
	resp, body = env.do(t, http.MethodGet, "/workflow/"+doc.ID+"/nodes", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("nodes: status = %d", resp.StatusCode)
	}
	var out struct {
		Nodes []struct {
			Type    workflow.NodeType     `json:"type"`
			Status  workflow.NodeStatus   `json:"status"`
			Metrics *workflow.NodeMetrics `json:"metrics"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode nodes: %v", err)
	}
	if len(out.Nodes) != len(workflow.Stages) {
		t.Fatalf("history has %d nodes, want %d", len(out.Nodes), len(workflow.Stages))
	}
	for i, stage := range workflow.Stages {
		node := out.Nodes[i]
		if node.Type != stage || node.Status != workflow.NodePass {
			t.Errorf("node %d = %s/%s, want %s/pass", i, node.Type, node.Status, stage)
		}
		if node.Metrics == nil {
			t.Errorf("node %d missing metrics", i)
		}
	}

	// The final artifact lands on the document.
	resp, body = env.do(t, http.MethodGet, "/workflow/documents/"+doc.ID, "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get document: status = %d", resp.StatusCode)
	}
	var finished workflow.Document
	if err := json.Unmarshal(body, &finished); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if !strings.Contains(finished.Content, "The History of Tea") {
		t.Error("final content missing the document topic")
	}
}

func TestImportValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/workflow/documents/import", "", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing url: status = %d, want 400", resp.StatusCode)
	}

	// Plain HTTP is refused by the SSRF guard before any fetch happens.
	resp, body := env.do(t, http.MethodPost, "/workflow/documents/import", "",
		map[string]string{"url": "http://example.com/article"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("http url: status = %d, want 502: %s", resp.StatusCode, body)
	}
}

func TestCitationSearch(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/workflow/citations/search", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing query: status = %d, want 400", resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodGet, "/workflow/citations/search?query=things&rows=5", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Query   string            `json:"query"`
		Results []citation.Record `json:"results"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Query != "things" || len(out.Results) != 1 {
		t.Errorf("out = %+v", out)
	}
}

func TestCitationFormat(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/workflow/citations/format", "",
		map[string]string{"doi": "10.1000/xyz", "style": "apa"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		DOI       string `json:"doi"`
		Style     string `json:"style"`
		Formatted string `json:"formatted"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.DOI != "10.1000/xyz" || out.Style != "apa" {
		t.Errorf("out = %+v", out)
	}
	if !strings.Contains(out.Formatted, "Smith") || !strings.Contains(out.Formatted, "2021") {
		t.Errorf("formatted = %q", out.Formatted)
	}

	resp, _ = env.do(t, http.MethodPost, "/workflow/citations/format", "",
		map[string]string{"doi": "10.9999/missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown doi: status = %d, want 404", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/workflow/citations/format", "", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing doi: status = %d, want 400", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Status     string `json:"status"`
		Components struct {
			Storage string `json:"storage"`
			Queue   string `json:"queue"`
			LLM     string `json:"llm"`
			Cache   struct {
				Healthy bool `json:"healthy"`
			} `json:"cache"`
		} `json:"components"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "ok" {
		t.Errorf("status = %q", out.Status)
	}
	if out.Components.Storage != "memory" || out.Components.Queue != "inproc" {
		t.Errorf("components = %+v", out.Components)
	}
	if out.Components.LLM != "mock" {
		t.Errorf("llm = %q, want mock without a provider key", out.Components.LLM)
	}
	if !out.Components.Cache.Healthy {
		t.Error("memory cache reported unhealthy")
	}
}

func TestWebSocketSubscribe(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "alice", "Live")

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := fmt.Sprintf(`{"type":"subscribe_workflow","document_id":%q}`, doc.ID)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var greeting struct {
		Type         string `json:"type"`
		DocumentID   string `json:"document_id"`
		ConnectionID string `json:"connection_id"`
	}
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if greeting.Type != string(events.KindConnectionEstablished) || greeting.DocumentID != doc.ID {
		t.Fatalf("greeting = %+v", greeting)
	}
	if greeting.ConnectionID == "" {
		t.Error("greeting missing connection_id")
	}

	// Bus events for the subscribed document arrive on the socket.
	env.bus.Publish(doc.ID, events.NewWorkflowStatus(doc.ID, "planning", 0, nil))

	var status struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status event: %v", err)
	}
	if status.Type != string(events.KindWorkflowStatus) || status.Status != "planning" {
		t.Errorf("event = %+v", status)
	}
}

func TestWebSocketPing(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("ping: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var pong struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != string(events.KindPong) {
		t.Errorf("type = %q, want pong", pong.Type)
	}
}
