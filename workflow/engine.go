package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/draftloop/cache"
	"github.com/c360studio/draftloop/citation"
	"github.com/c360studio/draftloop/events"
	"github.com/c360studio/draftloop/llm"
	"github.com/c360studio/draftloop/readability"
)

// TextGenerator is the generation surface the stages use. *llm.Gateway
// implements it.
type TextGenerator interface {
	GenerateOutline(ctx context.Context, prompt, mode string) (*llm.Generation, error)
	GenerateContent(ctx context.Context, outline, mode string, targetWords int) (*llm.Generation, error)
	CheckGrammar(ctx context.Context, content string) (*llm.GrammarReport, error)
}

// CitationChecker validates a document's citations. *citation.Validator
// implements it.
type CitationChecker interface {
	ValidateBibliography(ctx context.Context, text string) (*citation.Report, error)
}

// ReadabilityScorer scores text. *readability.Analyzer implements it.
type ReadabilityScorer interface {
	Analyze(text string) readability.Metrics
}

// EventPublisher fans workflow activity out to subscribers. *events.Bus
// implements it.
type EventPublisher interface {
	Publish(documentID string, ev events.Event)
}

// Hooks are optional observers the engine calls on stage and workflow
// outcomes. Nil fields are skipped. The metrics package wires these to
// Prometheus collectors.
type Hooks struct {
	StageDuration     func(stage NodeType, d time.Duration)
	GateFailure       func(stage NodeType)
	WorkflowCompleted func(outcome string)
}

// StatusReport is the status surface for one document. Snapshots are
// cached briefly and invalidated on every state change.
type StatusReport struct {
	DocumentID  string  `json:"document_id"`
	Status      Status  `json:"status"`
	Progress    float64 `json:"progress"`
	RetryCount  int     `json:"retry_count"`
	CurrentNode *Node   `json:"current_node,omitempty"`
	Nodes       []*Node `json:"nodes"`
}

// run tracks a document's in-process execution state. The generation
// counter outlives individual runs: Stop and Start bump it, and tasks
// stamped with an older generation are dropped on delivery.
type run struct {
	generation int
	cancel     context.CancelFunc
	lastStamp  time.Time
}

// Engine drives documents through the Plan, Draft, Citation, Grammar, and
// Readability stages. Gate failures roll the document back to Draft by
// appending a fresh draft node with the retry count incremented; the
// history is append-only and earlier nodes are never mutated. Errors
// returned from ExecuteTask are infrastructure failures for the runner to
// retry; gate outcomes are absorbed here.
type Engine struct {
	store       Store
	generator   TextGenerator
	citations   CitationChecker
	readability ReadabilityScorer
	bus         EventPublisher
	cache       *cache.Cache
	logger      *slog.Logger
	hooks       Hooks

	mu       sync.Mutex
	runner   Runner
	defaults Defaults
	runs     map[string]*run
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCache enables status and readability caching.
func WithCache(c *cache.Cache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithHooks registers outcome observers.
func WithHooks(h Hooks) EngineOption {
	return func(e *Engine) { e.hooks = h }
}

// NewEngine creates an engine. Call SetRunner before starting workflows;
// the runner is injected late because it needs the engine as its
// executor.
func NewEngine(store Store, generator TextGenerator, citations CitationChecker, scorer ReadabilityScorer, bus EventPublisher, defaults Defaults, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:       store,
		generator:   generator,
		citations:   citations,
		readability: scorer,
		bus:         bus,
		defaults:    defaults,
		logger:      logger,
		runs:        make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetRunner injects the task runner.
func (e *Engine) SetRunner(r Runner) {
	e.mu.Lock()
	e.runner = r
	e.mu.Unlock()
}

// SetDefaults replaces the service-level gate defaults. Running documents
// keep the config they started with; new starts pick up the change.
func (e *Engine) SetDefaults(d Defaults) {
	e.mu.Lock()
	e.defaults = d
	e.mu.Unlock()
}

// Defaults returns the current service-level defaults.
func (e *Engine) Defaults() Defaults {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.defaults
}

// Start launches the pipeline for a document and returns the ID of the
// plan task it enqueued. The prompt seeds the plan stage; when empty the
// document title is used. A non-nil override is stored as the document's
// config before normalization. Returns ErrConflict when a workflow is
// already running.
func (e *Engine) Start(ctx context.Context, documentID, prompt string, override *LoopConfig) (string, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	if !doc.Status.Terminal() {
		return "", ErrConflict
	}

	if override != nil {
		doc.Config = *override
	}
	if prompt == "" {
		prompt = doc.Title
	}

	doc.Status = StatusPlanning
	doc.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("update document: %w", err)
	}

	gen := e.bumpGeneration(documentID)
	e.invalidateStatus(documentID)

	e.logger.Info("workflow started",
		"document_id", documentID,
		"generation", gen)

	task := Task{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Stage:      NodePlan,
		Generation: gen,
		Payload:    prompt,
	}
	if err := e.submit(task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Stop cancels a running workflow. The generation bump makes any queued
// or in-flight tasks from the old run stale, so they are dropped rather
// than raced. Stopping an idle document is a no-op.
func (e *Engine) Stop(ctx context.Context, documentID string) error {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status.Terminal() {
		return nil
	}

	e.bumpGeneration(documentID)

	doc.Status = StatusIdle
	doc.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	e.invalidateStatus(documentID)

	e.logger.Info("workflow stopped", "document_id", documentID)
	e.publishStatus(ctx, documentID, StatusIdle, nil)
	return nil
}

// RollbackTo restores the document to an earlier node and resumes the
// pipeline from the following stage. The target node is copied into a new
// node rather than reactivated, keeping the history append-only. Rolling
// back to the final stage completes the workflow with the restored
// content.
func (e *Engine) RollbackTo(ctx context.Context, documentID, nodeID string) error {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	target, err := e.store.GetNode(ctx, documentID, nodeID)
	if err != nil {
		return err
	}
	if !target.Type.IsStage() {
		return fmt.Errorf("cannot roll back to %s node", target.Type)
	}

	gen := e.bumpGeneration(documentID)

	restored := &Node{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Type:       target.Type,
		Status:     NodePass,
		Content:    target.Content,
		ParentID:   target.ID,
		CreatedAt:  e.stamp(documentID),
	}
	if err := e.store.CreateNode(ctx, restored); err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	e.publishNode(ctx, documentID, restored)

	doc.Content = target.Content
	doc.UpdatedAt = time.Now().UTC()

	next := target.Type.Next()
	if next == "" {
		doc.Status = StatusDone
		if err := e.store.UpdateDocument(ctx, doc); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		e.invalidateStatus(documentID)
		e.publishStatus(ctx, documentID, StatusDone, restored)
		e.bus.Publish(documentID, events.NewContentUpdate(documentID, doc.Content, false, restored.ID))
		return nil
	}

	doc.Status = next.RunningStatus()
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	e.invalidateStatus(documentID)

	e.logger.Info("workflow rolled back",
		"document_id", documentID,
		"node_id", nodeID,
		"resume_stage", next)

	return e.submit(Task{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Stage:      next,
		Generation: gen,
		Payload:    target.Content,
	})
}

// StatusSnapshot assembles the document's status report. Snapshots are
// cached for a few minutes and invalidated on every transition, so
// polling clients mostly hit the cache.
func (e *Engine) StatusSnapshot(ctx context.Context, documentID string) (*StatusReport, error) {
	if e.cache != nil {
		var cached StatusReport
		if e.cache.Get(ctx, cache.NamespaceWorkflowStatus, documentID, &cached) {
			return &cached, nil
		}
	}

	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.store.ListNodes(ctx, documentID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		DocumentID: documentID,
		Status:     doc.Status,
		Progress:   Progress(nodes),
		Nodes:      nodes,
	}
	if len(nodes) > 0 {
		last := nodes[len(nodes)-1]
		report.CurrentNode = last
		report.RetryCount = last.RetryCount
	}

	if e.cache != nil {
		e.cache.Set(ctx, cache.NamespaceWorkflowStatus, documentID, report)
	}
	return report, nil
}

// TaskExhausted is the runner's callback for tasks that used up their
// infrastructure retries. The workflow fails; infrastructure retries do
// not touch the gate retry count.
func (e *Engine) TaskExhausted(task Task, cause error) {
	ctx := context.Background()
	if !e.currentGeneration(task.DocumentID, task.Generation) {
		return
	}
	e.logger.Error("workflow failed on infrastructure error",
		"document_id", task.DocumentID,
		"stage", task.Stage,
		"error", cause)
	e.failWorkflow(ctx, task.DocumentID, fmt.Sprintf("%s stage failed: %v", task.Stage, cause), task.Stage)
}

// ExecuteTask runs one stage task. A nil return means the task is done
// with, whether it passed, failed a gate, or was dropped as stale; an
// error means an infrastructure failure the runner should retry.
func (e *Engine) ExecuteTask(ctx context.Context, task Task) error {
	if !e.currentGeneration(task.DocumentID, task.Generation) {
		e.logger.Debug("dropping stale task",
			"task", task.Key(),
			"generation", task.Generation)
		return nil
	}

	doc, err := e.store.GetDocument(ctx, task.DocumentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.logger.Warn("dropping task for missing document", "task", task.Key())
			return nil
		}
		return fmt.Errorf("load document: %w", err)
	}
	cfg := doc.Config.Normalize(e.Defaults())

	stageCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
	e.setCancel(task.DocumentID, cancel)
	defer func() {
		e.setCancel(task.DocumentID, nil)
		cancel()
	}()

	start := time.Now()
	err = e.runStage(stageCtx, task, doc, cfg)
	if e.hooks.StageDuration != nil {
		e.hooks.StageDuration(task.Stage, time.Since(start))
	}

	if err != nil {
		// A cancelled stage from a stopped run is dropped, not retried.
		if errors.Is(err, context.Canceled) && !e.currentGeneration(task.DocumentID, task.Generation) {
			e.logger.Debug("dropping cancelled task", "task", task.Key())
			return nil
		}
		return err
	}
	return nil
}

func (e *Engine) runStage(ctx context.Context, task Task, doc *Document, cfg LoopConfig) error {
	switch task.Stage {
	case NodePlan:
		return e.runPlan(ctx, task, doc, cfg)
	case NodeDraft:
		return e.runDraft(ctx, task, doc, cfg)
	case NodeCitation:
		return e.runCitation(ctx, task, doc, cfg)
	case NodeGrammar:
		return e.runGrammar(ctx, task, doc, cfg)
	case NodeReadability:
		return e.runReadability(ctx, task, doc, cfg)
	default:
		e.logger.Warn("dropping task with unknown stage", "task", task.Key())
		return nil
	}
}

// runPlan generates the outline from the user prompt.
func (e *Engine) runPlan(ctx context.Context, task Task, doc *Document, cfg LoopConfig) error {
	node, err := e.beginStage(ctx, task, doc)
	if err != nil {
		return err
	}

	start := time.Now()
	gen, err := e.generator.GenerateOutline(ctx, task.Payload, cfg.WritingMode)
	if err != nil {
		return fmt.Errorf("generate outline: %w", err)
	}

	node.Status = NodePass
	node.Content = gen.Content
	if err := e.store.UpdateNode(ctx, node); err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	e.recordMetrics(ctx, task.DocumentID, &NodeMetrics{
		NodeID:           node.ID,
		WordCount:        WordCount(gen.Content),
		TokenUsage:       gen.TokensUsed,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	})
	e.publishNode(ctx, task.DocumentID, node)
	e.invalidateStatus(task.DocumentID)

	return e.advance(task, NodeDraft, gen.Content)
}

// runDraft expands the outline into the draft. Draft has no gate; its
// output becomes the document's working content and flows to the checks.
func (e *Engine) runDraft(ctx context.Context, task Task, doc *Document, cfg LoopConfig) error {
	node, err := e.beginStage(ctx, task, doc)
	if err != nil {
		return err
	}

	start := time.Now()
	gen, err := e.generator.GenerateContent(ctx, task.Payload, cfg.WritingMode, cfg.TargetWordCount)
	if err != nil {
		return fmt.Errorf("generate content: %w", err)
	}

	node.Status = NodePass
	node.Content = gen.Content
	if err := e.store.UpdateNode(ctx, node); err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	e.recordMetrics(ctx, task.DocumentID, &NodeMetrics{
		NodeID:           node.ID,
		WordCount:        WordCount(gen.Content),
		TokenUsage:       gen.TokensUsed,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	})

	doc.Content = gen.Content
	doc.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	e.publishNode(ctx, task.DocumentID, node)
	e.bus.Publish(task.DocumentID, events.NewContentUpdate(task.DocumentID, gen.Content, true, node.ID))
	e.invalidateStatus(task.DocumentID)

	return e.advance(task, NodeCitation, gen.Content)
}

// runCitation validates the draft's citations. Unresolvable citations
// count as invalid; only the validation rate decides the gate. A document
// with no citations passes.
func (e *Engine) runCitation(ctx context.Context, task Task, doc *Document, cfg LoopConfig) error {
	node, err := e.beginStage(ctx, task, doc)
	if err != nil {
		return err
	}

	start := time.Now()
	report, err := e.citations.ValidateBibliography(ctx, task.Payload)
	if err != nil {
		return fmt.Errorf("validate citations: %w", err)
	}

	count := report.Total
	metrics := &NodeMetrics{
		NodeID:           node.ID,
		CitationCount:    &count,
		WordCount:        WordCount(task.Payload),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}

	if report.ValidationRate < cfg.CitationMinRate {
		reason := fmt.Sprintf("citation validation rate %.2f below %.2f (%d of %d valid)",
			report.ValidationRate, cfg.CitationMinRate, report.Valid, report.Total)
		return e.gateFailed(ctx, task, doc, cfg, node, metrics, reason)
	}

	node.Status = NodePass
	node.Content = task.Payload
	if err := e.store.UpdateNode(ctx, node); err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	e.recordMetrics(ctx, task.DocumentID, metrics)
	e.publishNode(ctx, task.DocumentID, node)
	e.invalidateStatus(task.DocumentID)

	return e.advance(task, NodeGrammar, task.Payload)
}

// runGrammar checks grammar and, when the gate passes, carries the
// model's corrected content forward.
func (e *Engine) runGrammar(ctx context.Context, task Task, doc *Document, cfg LoopConfig) error {
	node, err := e.beginStage(ctx, task, doc)
	if err != nil {
		return err
	}

	start := time.Now()
	report, err := e.generator.CheckGrammar(ctx, task.Payload)
	if err != nil {
		return fmt.Errorf("check grammar: %w", err)
	}

	errCount := report.ErrorCount
	metrics := &NodeMetrics{
		NodeID:           node.ID,
		GrammarErrors:    &errCount,
		WordCount:        WordCount(task.Payload),
		TokenUsage:       report.TokensUsed,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}

	if report.ErrorCount > cfg.GrammarErrorLimit {
		reason := fmt.Sprintf("%d grammar errors exceed limit %d", report.ErrorCount, cfg.GrammarErrorLimit)
		return e.gateFailed(ctx, task, doc, cfg, node, metrics, reason)
	}

	corrected := report.Corrected
	if corrected == "" {
		corrected = task.Payload
	}

	node.Status = NodePass
	node.Content = corrected
	if err := e.store.UpdateNode(ctx, node); err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	e.recordMetrics(ctx, task.DocumentID, metrics)

	doc.Content = corrected
	doc.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	e.publishNode(ctx, task.DocumentID, node)
	e.bus.Publish(task.DocumentID, events.NewContentUpdate(task.DocumentID, corrected, true, node.ID))
	e.invalidateStatus(task.DocumentID)

	return e.advance(task, NodeReadability, corrected)
}

// runReadability scores the content and completes the workflow when the
// gate passes. Scores are cached by content hash since rollback often
// re-checks similar text.
func (e *Engine) runReadability(ctx context.Context, task Task, doc *Document, cfg LoopConfig) error {
	node, err := e.beginStage(ctx, task, doc)
	if err != nil {
		return err
	}

	start := time.Now()
	var m readability.Metrics
	key := contentHash(task.Payload)
	cached := false
	if e.cache != nil {
		cached = e.cache.Get(ctx, cache.NamespaceReadability, key, &m)
	}
	if !cached {
		m = e.readability.Analyze(task.Payload)
		if e.cache != nil {
			e.cache.Set(ctx, cache.NamespaceReadability, key, m)
		}
	}

	score := m.Score
	metrics := &NodeMetrics{
		NodeID:           node.ID,
		ReadabilityScore: &score,
		WordCount:        WordCount(task.Payload),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}

	if m.Score < cfg.ReadabilityThreshold {
		reason := fmt.Sprintf("readability score %.1f below threshold %.1f", m.Score, cfg.ReadabilityThreshold)
		return e.gateFailed(ctx, task, doc, cfg, node, metrics, reason)
	}

	node.Status = NodePass
	node.Content = task.Payload
	if err := e.store.UpdateNode(ctx, node); err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	e.recordMetrics(ctx, task.DocumentID, metrics)

	doc.Content = task.Payload
	doc.Status = StatusDone
	doc.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	e.publishNode(ctx, task.DocumentID, node)
	e.bus.Publish(task.DocumentID, events.NewContentUpdate(task.DocumentID, task.Payload, false, node.ID))
	e.invalidateStatus(task.DocumentID)
	e.publishStatus(ctx, task.DocumentID, StatusDone, node)

	if e.hooks.WorkflowCompleted != nil {
		e.hooks.WorkflowCompleted("done")
	}
	e.logger.Info("workflow completed",
		"document_id", task.DocumentID,
		"readability_score", m.Score,
		"retry_count", task.RetryCount)
	return nil
}

// beginStage appends the stage's running node, moves the document status,
// and announces both.
func (e *Engine) beginStage(ctx context.Context, task Task, doc *Document) (*Node, error) {
	node := &Node{
		ID:         uuid.NewString(),
		DocumentID: task.DocumentID,
		Type:       task.Stage,
		Status:     NodeRunning,
		RetryCount: task.RetryCount,
		CreatedAt:  e.stamp(task.DocumentID),
	}
	if err := e.store.CreateNode(ctx, node); err != nil {
		return nil, fmt.Errorf("create node: %w", err)
	}

	status := task.Stage.RunningStatus()
	if doc.Status != status {
		doc.Status = status
		doc.UpdatedAt = time.Now().UTC()
		if err := e.store.UpdateDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("update document: %w", err)
		}
	}
	e.invalidateStatus(task.DocumentID)
	e.publishNode(ctx, task.DocumentID, node)
	e.publishStatus(ctx, task.DocumentID, status, node)
	return node, nil
}

// gateFailed records the failing node and either rolls the document back
// to Draft or, when retries are exhausted, fails the workflow. The retry
// count rides on the new draft task so later gate failures in the same
// pass keep incrementing it.
func (e *Engine) gateFailed(ctx context.Context, task Task, doc *Document, cfg LoopConfig, node *Node, metrics *NodeMetrics, reason string) error {
	node.Status = NodeFail
	node.Content = task.Payload
	if err := e.store.UpdateNode(ctx, node); err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	e.recordMetrics(ctx, task.DocumentID, metrics)
	e.publishNode(ctx, task.DocumentID, node)
	e.bus.Publish(task.DocumentID, events.NewError(task.DocumentID, reason, string(task.Stage)))
	e.invalidateStatus(task.DocumentID)

	if e.hooks.GateFailure != nil {
		e.hooks.GateFailure(task.Stage)
	}

	gateErr := &GateError{Stage: task.Stage, Reason: reason}
	retry := task.RetryCount + 1
	if retry > cfg.MaxRetries {
		e.logger.Warn("workflow retries exhausted",
			"document_id", task.DocumentID,
			"stage", task.Stage,
			"retries", task.RetryCount,
			"error", gateErr)
		e.failWorkflow(ctx, task.DocumentID, fmt.Sprintf("retries exhausted: %s", reason), task.Stage)
		return nil
	}

	outline, err := e.latestOutline(ctx, task.DocumentID)
	if err != nil {
		return fmt.Errorf("load outline for rollback: %w", err)
	}

	e.logger.Info("rolling back to draft",
		"document_id", task.DocumentID,
		"failed_stage", task.Stage,
		"retry", retry,
		"reason", reason)

	return e.submit(Task{
		ID:         uuid.NewString(),
		DocumentID: task.DocumentID,
		Stage:      NodeDraft,
		Generation: task.Generation,
		Payload:    outline,
		RetryCount: retry,
	})
}

// latestOutline returns the content of the most recent passed plan node.
func (e *Engine) latestOutline(ctx context.Context, documentID string) (string, error) {
	nodes, err := e.store.ListNodes(ctx, documentID)
	if err != nil {
		return "", err
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].Type == NodePlan && nodes[i].Status == NodePass {
			return nodes[i].Content, nil
		}
	}
	return "", errors.New("no passed plan node")
}

// failWorkflow moves the document to Failed and announces it.
func (e *Engine) failWorkflow(ctx context.Context, documentID, reason string, stage NodeType) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		e.logger.Error("failed to load document for failure", "document_id", documentID, "error", err)
		return
	}
	doc.Status = StatusFailed
	doc.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		e.logger.Error("failed to mark workflow failed", "document_id", documentID, "error", err)
		return
	}
	e.invalidateStatus(documentID)
	e.bus.Publish(documentID, events.NewError(documentID, reason, string(stage)))
	e.publishStatus(ctx, documentID, StatusFailed, nil)
	if e.hooks.WorkflowCompleted != nil {
		e.hooks.WorkflowCompleted("failed")
	}
}

// advance enqueues the next stage, carrying the artifact and the retry
// count forward.
func (e *Engine) advance(task Task, next NodeType, payload string) error {
	return e.submit(Task{
		ID:         uuid.NewString(),
		DocumentID: task.DocumentID,
		Stage:      next,
		Generation: task.Generation,
		Payload:    payload,
		RetryCount: task.RetryCount,
	})
}

func (e *Engine) submit(task Task) error {
	e.mu.Lock()
	runner := e.runner
	e.mu.Unlock()
	if runner == nil {
		return errors.New("no runner configured")
	}
	if err := runner.Submit(task); err != nil {
		return fmt.Errorf("submit %s task: %w", task.Stage, err)
	}
	return nil
}

// recordMetrics stores and announces a node's measurements.
func (e *Engine) recordMetrics(ctx context.Context, documentID string, m *NodeMetrics) {
	if err := e.store.PutMetrics(ctx, m); err != nil {
		e.logger.Warn("failed to store node metrics", "node_id", m.NodeID, "error", err)
	}
	e.bus.Publish(documentID, events.NewMetricsUpdate(documentID, m.NodeID, events.MetricsSummary{
		ReadabilityScore: m.ReadabilityScore,
		GrammarErrors:    m.GrammarErrors,
		CitationCount:    m.CitationCount,
		WordCount:        m.WordCount,
		TokenUsage:       m.TokenUsage,
		ProcessingTimeMS: m.ProcessingTimeMS,
	}))
}

func (e *Engine) publishNode(ctx context.Context, documentID string, node *Node) {
	e.bus.Publish(documentID, events.NewNodeStatus(documentID, nodeSummary(node)))
}

func (e *Engine) publishStatus(ctx context.Context, documentID string, status Status, current *Node) {
	nodes, err := e.store.ListNodes(ctx, documentID)
	if err != nil {
		e.logger.Warn("failed to list nodes for status event", "document_id", documentID, "error", err)
	}
	var summary *events.NodeSummary
	if current != nil {
		s := nodeSummary(current)
		summary = &s
	}
	e.bus.Publish(documentID, events.NewWorkflowStatus(documentID, string(status), Progress(nodes), summary))
}

func nodeSummary(node *Node) events.NodeSummary {
	return events.NodeSummary{
		ID:         node.ID,
		Type:       string(node.Type),
		Status:     string(node.Status),
		Content:    node.Content,
		RetryCount: node.RetryCount,
		CreatedAt:  node.CreatedAt.Format(time.RFC3339Nano),
	}
}

// bumpGeneration advances the document's generation and cancels any
// in-flight stage.
func (e *Engine) bumpGeneration(documentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.runs[documentID]
	if r == nil {
		r = &run{}
		e.runs[documentID] = r
	}
	r.generation++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	return r.generation
}

// currentGeneration reports whether the generation matches the
// document's latest.
func (e *Engine) currentGeneration(documentID string, generation int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.runs[documentID]
	return r != nil && r.generation == generation
}

func (e *Engine) setCancel(documentID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r := e.runs[documentID]; r != nil {
		r.cancel = cancel
	}
}

// stamp issues a node timestamp that is strictly after the document's
// previous one, so history order survives equal clock readings.
func (e *Engine) stamp(documentID string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.runs[documentID]
	if r == nil {
		r = &run{}
		e.runs[documentID] = r
	}
	now := time.Now().UTC()
	if !now.After(r.lastStamp) {
		now = r.lastStamp.Add(time.Millisecond)
	}
	r.lastStamp = now
	return now
}

// invalidateStatus drops the cached status snapshot.
func (e *Engine) invalidateStatus(documentID string) {
	if e.cache != nil {
		e.cache.Delete(context.Background(), cache.NamespaceWorkflowStatus, documentID)
	}
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
