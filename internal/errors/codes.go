// Package errors provides structured error handling for driftsync.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Scan errors (local or remote tree traversal)
//   - 3XX: Compare errors (hashing, signature resolution)
//   - 4XX: Apply errors (copy, chmod, delete, transfer)
//   - 5XX: State store errors (persistence)
//   - 6XX: Remote channel errors (SSH, helper process)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryScan indicates tree traversal errors.
	CategoryScan Category = "SCAN"
	// CategoryCompare indicates content/metadata comparison errors.
	CategoryCompare Category = "COMPARE"
	// CategoryApply indicates plan execution errors.
	CategoryApply Category = "APPLY"
	// CategoryState indicates state store persistence errors.
	CategoryState Category = "STATE"
	// CategoryRemote indicates remote control channel errors.
	CategoryRemote Category = "REMOTE"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort the run.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the run can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeRootNotFound   = "ERR_103_ROOT_NOT_FOUND"

	// Scan errors (200-299), always path-scoped and never fatal.
	ErrCodeScanPermission = "ERR_201_SCAN_PERMISSION"
	ErrCodeScanIO         = "ERR_202_SCAN_IO"
	ErrCodeBadRecord      = "ERR_203_BAD_RECORD"

	// Compare errors (300-399)
	ErrCodeHashFailed  = "ERR_301_HASH_FAILED"
	ErrCodeBadBaseline = "ERR_302_BAD_BASELINE"

	// Apply errors (400-499)
	ErrCodeCopyFailed    = "ERR_401_COPY_FAILED"
	ErrCodeChmodFailed   = "ERR_402_CHMOD_FAILED"
	ErrCodeMkdirFailed   = "ERR_403_MKDIR_FAILED"
	ErrCodeDeleteFailed  = "ERR_404_DELETE_FAILED"
	ErrCodeTargetChanged = "ERR_405_TARGET_CHANGED"

	// State store errors (500-599), fatal for the current run.
	ErrCodeStateCorrupt = "ERR_501_STATE_CORRUPT"
	ErrCodeStateLocked  = "ERR_502_STATE_LOCKED"
	ErrCodeStateIO      = "ERR_503_STATE_IO"

	// Remote channel errors (600-699)
	ErrCodeSSHConnect   = "ERR_601_SSH_CONNECT"
	ErrCodeHelperFailed = "ERR_602_HELPER_FAILED"
	ErrCodeStreamLost   = "ERR_603_STREAM_LOST"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryState
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryScan
	case '3':
		return CategoryCompare
	case '4':
		return CategoryApply
	case '5':
		return CategoryState
	case '6':
		return CategoryRemote
	default:
		return CategoryState
	}
}

// severityFromCode determines severity based on error code.
// State corruption and total loss of the remote stream abort the run;
// everything else is path-scoped and the run continues around it.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStateCorrupt, ErrCodeStateLocked, ErrCodeStateIO,
		ErrCodeStreamLost, ErrCodeSSHConnect:
		return SeverityFatal
	case ErrCodeBadRecord, ErrCodeBadBaseline:
		return SeverityWarning
	default:
		return SeverityError
	}
}
