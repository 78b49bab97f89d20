package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"config", ErrCodeNoEmbeddingModel, CategoryConfig, SeverityError, false},
		{"content", ErrCodeEntityNotFound, CategoryContent, SeverityWarning, false},
		{"transient", ErrCodeNetworkTimeout, CategoryTransient, SeverityWarning, true},
		{"validation", ErrCodeDimensionMismatch, CategoryValidation, SeverityError, false},
		{"internal", ErrCodeEmbeddingFailed, CategoryInternal, SeverityError, false},
		{"consistency is fatal", ErrCodeConsistency, CategoryInternal, SeverityFatal, false},
		{"corrupt index is fatal", ErrCodeCorruptIndex, CategoryContent, SeverityFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestEngineError_ErrorFormat(t *testing.T) {
	err := New(ErrCodeConfigInvalid, "bad config", nil)
	assert.Equal(t, "[ERR_102_CONFIG_INVALID] bad config", err.Error())
}

func TestEngineError_UnwrapChain(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(ErrCodeNetworkUnavailable, cause)

	require.NotNil(t, err)
	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, IsRetryable(err))
}

func TestEngineError_IsMatchesByCode(t *testing.T) {
	a := New(ErrCodeModelMismatch, "query model differs from index model", nil)
	b := New(ErrCodeModelMismatch, "other message", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, New(ErrCodeConfigInvalid, "x", nil)))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := New(ErrCodeStoreUnreachable, "vector store down", nil).
		WithDetail("host", "localhost:6333").
		WithSuggestion("check that the vector store process is running")

	assert.Equal(t, "localhost:6333", err.Details["host"])
	assert.NotEmpty(t, err.Suggestion)
}

func TestHelpers_SeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("event evt-1: %w", TransientError("store unreachable", nil))

	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrCodeNetworkUnavailable, GetCode(wrapped))
	assert.Equal(t, CategoryTransient, GetCategory(wrapped))
}

func TestHelpers_NonEngineErrors(t *testing.T) {
	plain := stderrors.New("plain")
	assert.False(t, IsRetryable(plain))
	assert.False(t, IsFatal(plain))
	assert.Empty(t, GetCode(plain))
	assert.Empty(t, GetCategory(plain))
	assert.False(t, IsRetryable(nil))
}
