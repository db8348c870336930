// Package workflow implements the quality-gated document pipeline: the
// Plan → Draft → Citation → Grammar → Readability stage graph, the node and
// document state model, gate evaluation, and the bounded-retry rollback
// policy.
package workflow

import (
	"strings"
	"time"
)

// Status is the document-level workflow state. It always reflects the most
// recently started stage; Done and Failed are terminal.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusPlanning         Status = "planning"
	StatusDrafting         Status = "drafting"
	StatusCitationCheck    Status = "citation_check"
	StatusGrammarCheck     Status = "grammar_check"
	StatusReadabilityCheck Status = "readability_check"
	StatusDone             Status = "done"
	StatusFailed           Status = "failed"
)

// Terminal reports whether the status admits a new workflow start.
func (s Status) Terminal() bool {
	return s == StatusIdle || s == StatusDone || s == StatusFailed
}

// NodeType identifies the stage (or external event) that produced a node.
type NodeType string

const (
	NodePlan        NodeType = "plan"
	NodeDraft       NodeType = "draft"
	NodeCitation    NodeType = "citation"
	NodeGrammar     NodeType = "grammar"
	NodeReadability NodeType = "readability"
	NodeUserEdit    NodeType = "user_edit"
	NodePlugin      NodeType = "plugin"
)

// Stages lists the pipeline stages in execution order.
var Stages = []NodeType{NodePlan, NodeDraft, NodeCitation, NodeGrammar, NodeReadability}

// ParseNodeType maps a string to a NodeType, or returns "" for unknown input.
func ParseNodeType(s string) NodeType {
	switch NodeType(strings.ToLower(s)) {
	case NodePlan, NodeDraft, NodeCitation, NodeGrammar, NodeReadability, NodeUserEdit, NodePlugin:
		return NodeType(strings.ToLower(s))
	default:
		return ""
	}
}

// IsStage reports whether the node type is one of the five pipeline stages.
func (t NodeType) IsStage() bool {
	for _, s := range Stages {
		if s == t {
			return true
		}
	}
	return false
}

// RunningStatus returns the document status that marks this stage as started.
func (t NodeType) RunningStatus() Status {
	switch t {
	case NodePlan:
		return StatusPlanning
	case NodeDraft:
		return StatusDrafting
	case NodeCitation:
		return StatusCitationCheck
	case NodeGrammar:
		return StatusGrammarCheck
	case NodeReadability:
		return StatusReadabilityCheck
	default:
		return StatusIdle
	}
}

// Next returns the stage that follows this one, or "" after the last stage.
func (t NodeType) Next() NodeType {
	for i, s := range Stages {
		if s == t && i+1 < len(Stages) {
			return Stages[i+1]
		}
	}
	return ""
}

// NodeStatus is the lifecycle state of a single node.
type NodeStatus string

const (
	NodePending NodeStatus = "pending"
	NodeRunning NodeStatus = "running"
	NodePass    NodeStatus = "pass"
	NodeFail    NodeStatus = "fail"
)

// Document is a workflow document. Content holds the last accepted artifact;
// failing stages never overwrite it.
type Document struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Status    Status     `json:"status"`
	Config    LoopConfig `json:"config"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LoopConfig is the per-document pipeline configuration. Zero-valued fields
// fall back to the service defaults; Normalize applies that folding.
type LoopConfig struct {
	// ReadabilityThreshold is the readability gate floor (0-100).
	ReadabilityThreshold float64 `json:"readability_threshold,omitempty"`
	// MaxRetries bounds gate-failure rollbacks per stage.
	MaxRetries int `json:"max_retries,omitempty"`
	// GrammarErrorLimit is the grammar gate ceiling.
	GrammarErrorLimit int `json:"grammar_error_limit,omitempty"`
	// CitationMinRate is the citation gate floor (0-1).
	CitationMinRate float64 `json:"citation_min_rate,omitempty"`
	// AutoRun starts the workflow as soon as the document is created.
	AutoRun bool `json:"auto_run,omitempty"`
	// TimeoutSeconds bounds a single stage's wall time.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// WritingMode is one of academic, blog, social.
	WritingMode string `json:"writing_mode,omitempty"`
	// TargetWordCount is the draft length hint.
	TargetWordCount int `json:"target_word_count,omitempty"`
}

// Defaults carries the service-level gate and retry settings a document's
// LoopConfig is folded onto.
type Defaults struct {
	ReadabilityThreshold float64
	MaxRetries           int
	GrammarErrorLimit    int
	CitationMinRate      float64
	TimeoutSeconds       int
	WritingMode          string
	TargetWordCount      int
}

// Normalize fills zero-valued fields from the defaults and returns the
// effective configuration.
func (c LoopConfig) Normalize(d Defaults) LoopConfig {
	if c.ReadabilityThreshold <= 0 {
		c.ReadabilityThreshold = d.ReadabilityThreshold
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = d.MaxRetries
	}
	if c.GrammarErrorLimit <= 0 {
		c.GrammarErrorLimit = d.GrammarErrorLimit
	}
	if c.CitationMinRate <= 0 {
		c.CitationMinRate = d.CitationMinRate
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = d.TimeoutSeconds
	}
	if c.WritingMode == "" {
		c.WritingMode = d.WritingMode
	}
	switch c.WritingMode {
	case "academic", "blog", "social":
	default:
		c.WritingMode = "academic"
	}
	if c.TargetWordCount <= 0 {
		c.TargetWordCount = d.TargetWordCount
	}
	return c
}

// Node is one stage execution in a document's append-only history. Rollback
// never mutates existing nodes; it appends a new node of the earlier type
// with RetryCount incremented.
type Node struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	Type       NodeType   `json:"type"`
	Status     NodeStatus `json:"status"`
	Content    string     `json:"content"`
	ParentID   string     `json:"parent_id,omitempty"`
	Branch     string     `json:"branch,omitempty"`
	RetryCount int        `json:"retry_count"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NodeMetrics holds the measurements recorded for one node.
type NodeMetrics struct {
	NodeID           string   `json:"node_id"`
	ReadabilityScore *float64 `json:"readability_score,omitempty"`
	GrammarErrors    *int     `json:"grammar_errors,omitempty"`
	CitationCount    *int     `json:"citation_count,omitempty"`
	WordCount        int      `json:"word_count"`
	TokenUsage       int      `json:"token_usage"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
}

// Progress computes workflow completion as passed stages out of five,
// scaled to [0,100]. Each stage type counts once however many times it ran.
func Progress(nodes []*Node) float64 {
	passed := make(map[NodeType]bool)
	for _, n := range nodes {
		if n.Status == NodePass && n.Type.IsStage() {
			passed[n.Type] = true
		}
	}
	return float64(len(passed)) / float64(len(Stages)) * 100
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
