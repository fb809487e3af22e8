package config

import "time"

// Default runtime limits and guardrails for the MCP sheet query server.
// They are referenced by internal/runtime, internal/query, and pkg/pagination.

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 10
	DefaultMaxConcurrentEvals    = 4

	// Result and payload bounds
	DefaultResultCap       = 50 // hard ceiling for rows, matches, distinct values, groups
	DefaultMaxPayloadBytes = 128 * 1024
	DefaultLoadParallelism = 4 // sheets converted concurrently at load
)

const (
	// Timeouts
	DefaultOperationTimeout      = 30 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second
	DefaultEvaluationTimeout     = 10 * time.Second
	DefaultShutdownTimeout       = 5 * time.Second
)

const (
	// Expression languages
	LanguageJavaScript = "javascript"
	LanguageCEL        = "cel"

	DefaultLanguage = LanguageJavaScript
)
