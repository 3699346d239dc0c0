package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with IndexError
	ie := New(ErrCodeIndexFailed, "merge failed", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, ie)
	assert.Equal(t, originalErr, errors.Unwrap(ie))
	assert.True(t, errors.Is(ie, originalErr))
}

func TestIndexError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config error", ErrCodeConfigNotFound, "config file not found", "[ERR_101_CONFIG_NOT_FOUND] config file not found"},
		{"folder error", ErrCodeFileNotFound, "index folder does not exist", "[ERR_201_FILE_NOT_FOUND] index folder does not exist"},
		{"not ready", ErrCodeNotReady, "library not initialized", "[ERR_407_NOT_READY] library not initialized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestIndexError_Is_MatchesByCodeThroughWrapping(t *testing.T) {
	// Given: a coded error wrapped with fmt
	err := fmt.Errorf("search: %w", MissingFolderError("/tmp/idx"))

	// Then: a sentinel with the same code matches
	assert.True(t, errors.Is(err, Sentinel(ErrCodeFileNotFound)))
	assert.False(t, errors.Is(err, Sentinel(ErrCodeNotReady)))
	assert.Equal(t, ErrCodeFileNotFound, GetCode(err))
	assert.True(t, HasCode(err, ErrCodeFileNotFound))
}

func TestIndexError_CategoryAndSeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
		wantSeverity Severity
		retryable    bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeFileNotFound, CategoryIO, SeverityError, false},
		{ErrCodeDiskFull, CategoryIO, SeverityWarning, false},
		{ErrCodeCorruptIndex, CategoryIO, SeverityFatal, false},
		{ErrCodeInvalidInput, CategoryValidation, SeverityError, false},
		{ErrCodeNotReady, CategoryValidation, SeverityWarning, true},
		{ErrCodeIndexFailed, CategoryInternal, SeverityWarning, true},
		{ErrCodeSearchFailed, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
			assert.Equal(t, tt.wantSeverity, err.Severity)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestIndexError_WithDetailAndSuggestion(t *testing.T) {
	err := MissingFolderError("/data/search_index_1_v1").WithSuggestion("run init first")

	assert.Equal(t, "/data/search_index_1_v1", err.Details["path"])
	assert.Equal(t, "run init first", err.Suggestion)
}

func TestHelpers_NonIndexError(t *testing.T) {
	plain := errors.New("boom")

	assert.False(t, IsRetryable(plain))
	assert.False(t, IsFatal(plain))
	assert.Equal(t, "", GetCode(plain))
	assert.Equal(t, Category(""), GetCategory(plain))
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestFormatForCLI_IncludesCodeAndHint(t *testing.T) {
	out := FormatForCLI(NotReadyError("library not initialized"))

	assert.Contains(t, out, "Error: library not initialized")
	assert.Contains(t, out, "Hint: retry after the index has finished initializing")
	assert.Contains(t, out, "Code: ERR_407_NOT_READY")

	assert.Contains(t, FormatForCLI(errors.New("plain")), "Code: ERR_501_INTERNAL")
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatJSON_RoundTripsFields(t *testing.T) {
	data, err := FormatJSON(PrimitiveError("merge", errors.New("disk gone")))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ErrCodeIndexFailed, got["code"])
	assert.Equal(t, "disk gone", got["cause"])
	assert.Equal(t, true, got["retryable"])
}

func TestLogAttrs(t *testing.T) {
	attrs := LogAttrs(PrimitiveError("search", errors.New("x")))
	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, a.Key)
	}
	assert.Contains(t, keys, "error_code")
	assert.Contains(t, keys, "cause")
	assert.Contains(t, keys, "detail_op")
	assert.Nil(t, LogAttrs(nil))
}
