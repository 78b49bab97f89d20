// Package errors provides structured error handling for the indexing engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors (not retried automatically)
//   - 2XX: Per-entity content errors (logged and skipped)
//   - 3XX: Transient network/IO errors (safe to retry)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration errors: no usable embedding
	// model, unreachable stores. Surfaced to the operator, never retried.
	CategoryConfig Category = "CONFIG"
	// CategoryContent indicates per-entity content errors. The worker logs
	// and continues the batch.
	CategoryContent Category = "CONTENT"
	// CategoryTransient indicates network/IO errors safe to retry; index
	// operations are idempotent by design.
	CategoryTransient Category = "TRANSIENT"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Configuration errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeNoEmbeddingModel = "ERR_103_NO_EMBEDDING_MODEL"
	ErrCodeModelMismatch    = "ERR_104_MODEL_MISMATCH"
	ErrCodeStoreUnreachable = "ERR_105_STORE_UNREACHABLE"

	// Content errors (200-299)
	ErrCodeEntityNotFound = "ERR_201_ENTITY_NOT_FOUND"
	ErrCodeContentDecode  = "ERR_202_CONTENT_DECODE"
	ErrCodeCorruptIndex   = "ERR_203_CORRUPT_INDEX"

	// Transient errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeEmbeddingTimeout   = "ERR_303_EMBEDDING_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed  = "ERR_504_CHUNKING_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
	ErrCodeConsistency     = "ERR_506_CONSISTENCY_VIOLATION"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryContent
	case '3':
		return CategoryTransient
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeConsistency:
		// Consistency violations must never be produced by correct code
		// paths; treat detection as fatal and rebuild from the relational
		// store.
		return SeverityFatal
	}

	switch categoryFromCode(code) {
	case CategoryContent, CategoryTransient:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	return categoryFromCode(code) == CategoryTransient
}
