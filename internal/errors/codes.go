// Package errors provides structured error handling for docindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and storage errors
//   - 3XX: Network errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and storage errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
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
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO and storage errors (200-299)
	ErrCodeFileNotFound       = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission     = "ERR_202_FILE_PERMISSION"
	ErrCodeCorruptIndex       = "ERR_205_CORRUPT_INDEX"
	ErrCodeCollectionNotFound = "ERR_207_COLLECTION_NOT_FOUND"
	ErrCodeElementNotFound    = "ERR_208_ELEMENT_NOT_FOUND"
	ErrCodeCollectionExists   = "ERR_209_COLLECTION_EXISTS"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeConnectionFailed   = "ERR_304_CONNECTION_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeUnsupportedFormat = "ERR_407_UNSUPPORTED_FORMAT"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed  = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed     = "ERR_503_SEARCH_FAILED"
	ErrCodeRenderFailed     = "ERR_505_RENDER_FAILED"
	ErrCodeExtractionFailed = "ERR_506_EXTRACTION_FAILED"
	ErrCodePartialInsert    = "ERR_507_PARTIAL_INSERT"
	ErrCodeMigrationFailed  = "ERR_508_MIGRATION_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "207" from "ERR_207_COLLECTION_NOT_FOUND"
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
	case ErrCodeCorruptIndex, ErrCodeConnectionFailed:
		return SeverityFatal
	case ErrCodePartialInsert:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeExtractionFailed:
		return true
	default:
		return false
	}
}
