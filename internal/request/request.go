// Package request defines the neutral DTOs describing what to generate
// (GenerationParams) and how to run it (ConduitOptions), and the
// GenerationRequest/GenerationResponse pair the pipeline threads through the
// cache, provider adapters, and repository.
package request

import (
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/session"
	"github.com/acesanderson/conduit/internal/telemetry"
)

// OutputType selects the kind of payload a generation call produces.
type OutputType string

const (
	OutputText                OutputType = "text"
	OutputImage               OutputType = "image"
	OutputAudio               OutputType = "audio"
	OutputTranscription       OutputType = "transcription"
	OutputStructuredResponse  OutputType = "structured_response"
)

// StopReason is the terminal classification of a model's reply.
type StopReason string

const (
	StopStop         StopReason = "STOP"
	StopLength       StopReason = "LENGTH"
	StopToolCalls    StopReason = "TOOL_CALLS"
	StopContentFilter StopReason = "CONTENT_FILTER"
)

// Verbosity gates batch/pipeline progress rendering (§4.10, SPEC_FULL.md §3).
type Verbosity int

const (
	Silent Verbosity = iota
	Normal
	Verbose
)

// Params describes what to generate: the model, sampling knobs, and the
// requested output shape. Temperature must lie in the provider-declared
// range for Model; that check is performed by the pipeline against the
// ModelRegistry, not here.
type Params struct {
	Model          string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	ResponseModel  any // JSON Schema (map[string]any or a compiled schema)
	OutputType     OutputType
	Stream         bool
	ClientParams   map[string]any
	System         string
}

// CacheHandle is the pluggable cache interface the core consumes (§6).
type CacheHandle interface {
	Get(req *Request) (*Response, bool, error)
	Set(req *Request, resp *Response) error
	Wipe() error
}

// RepositoryHandle is the pluggable conversation-repository interface the
// core consumes (§6).
type RepositoryHandle interface {
	Save(sess *session.Session, title string) error
	Load(sessionID string) (*session.Session, bool, error)
	RehydrateFromLeaf(leafID string) (*session.Conversation, bool, error)
	List(limit int) ([]SessionSummary, error)
	Delete(sessionID string) error
	Wipe() error
}

// SessionSummary is the list-view projection RepositoryHandle.List returns.
type SessionSummary struct {
	SessionID   string
	Title       string
	LastUpdated int64
}

// ToolHandle describes one callable tool, grounded on the original's tool
// signature (name, JSON-schema payload, thread-safety flag, timeout).
type ToolHandle struct {
	Name        string
	InputSchema any
	ThreadSafe  bool
	Timeout     int64 // milliseconds; 0 means the Tool-Call Loop's 30s default applies
	Invoke      func(args map[string]any) (string, error)
}

// ToolRegistry resolves tool calls by function name for the Tool-Call Loop (C11).
type ToolRegistry interface {
	Resolve(name string) (ToolHandle, bool)
}

// Options is ConduitOptions: how to run a generation call.
type Options struct {
	ProjectName        string
	Cache              CacheHandle
	Repository         RepositoryHandle
	Logger             telemetry.Logger
	Metrics            telemetry.Metrics
	Tracer             telemetry.Tracer
	Verbosity          Verbosity
	ToolRegistry       ToolRegistry
	ParallelToolCalls  bool
	DebugPayload       bool
	IncludeHistory     bool
	MaxToolHops        int
	Conversation       *session.Conversation
}

// Request is GenerationRequest: the Request exclusively owns a borrowed
// reference to each input message and is serialized (via cache_key) before
// any mutation.
type Request struct {
	Messages []model.Message
	Params   Params
	Options  Options
}

// ResponseMetadata mirrors provider call metadata.
type ResponseMetadata struct {
	DurationMs   int64
	ModelSlug    string
	InputTokens  int
	OutputTokens int
	StopReason   StopReason
	CacheHit     bool
}

// Response is GenerationResponse: independently ownable and serializable
// once produced; it outlives the Request that produced it.
type Response struct {
	Message  model.AssistantMessage
	Request  *Request
	Metadata ResponseMetadata
}
