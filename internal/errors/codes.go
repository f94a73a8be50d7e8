// Package errors provides structured error handling for shelf.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (library files, manifest, index artifacts)
//   - 3XX: Network errors (embedding providers)
//   - 4XX: Validation errors (queries, library layout)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates embedding provider connectivity errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input or layout validation errors.
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
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeLibraryMissing = "ERR_103_LIBRARY_MISSING"

	// IO errors (200-299)
	ErrCodeFileNotFound      = "ERR_201_FILE_NOT_FOUND"
	ErrCodeManifestCorrupt   = "ERR_202_MANIFEST_CORRUPT"
	ErrCodeExtractFailed     = "ERR_203_EXTRACT_FAILED"
	ErrCodeIndexCorrupt      = "ERR_204_INDEX_CORRUPT"
	ErrCodeUnsupportedFormat = "ERR_205_UNSUPPORTED_FORMAT"
	ErrCodeModelMismatch     = "ERR_206_MODEL_MISMATCH"
	ErrCodeLockHeld          = "ERR_207_LOCK_HELD"

	// Network errors (300-399)
	ErrCodeEmbedderTimeout     = "ERR_301_EMBEDDER_TIMEOUT"
	ErrCodeEmbedderUnavailable = "ERR_302_EMBEDDER_UNAVAILABLE"
	ErrCodeEmbedderRejected    = "ERR_303_EMBEDDER_REJECTED"

	// Validation errors (400-499)
	ErrCodeTopicNotFound  = "ERR_401_TOPIC_NOT_FOUND"
	ErrCodeBookNotFound   = "ERR_402_BOOK_NOT_FOUND"
	ErrCodeInvalidQuery   = "ERR_403_INVALID_QUERY"
	ErrCodeTopicLayout    = "ERR_404_TOPIC_LAYOUT"
	ErrCodeInvalidInput   = "ERR_405_INVALID_INPUT"
	ErrCodeNoIndexedTopic = "ERR_406_NO_INDEXED_TOPIC"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeIndexFailed     = "ERR_503_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_NOT_FOUND"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexCorrupt, ErrCodeManifestCorrupt, ErrCodeLibraryMissing:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a transient failure.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbedderTimeout, ErrCodeEmbedderUnavailable:
		return true
	default:
		return false
	}
}
