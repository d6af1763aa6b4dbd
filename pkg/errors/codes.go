package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrTimeout: {
		Code:            ErrTimeout,
		Retryable:       true,
		Description:     "Operation exceeded time limit",
		SuggestedAction: "Check AI timeout configuration: caravel db config, or retry the batch",
	},
	ErrRateLimit: {
		Code:            ErrRateLimit,
		Retryable:       true,
		Description:     "API rate limit exceeded",
		SuggestedAction: "Wait and retry automatically, or check quota limits with the AI provider",
	},
	ErrModelUnavailable: {
		Code:            ErrModelUnavailable,
		Retryable:       true,
		Description:     "AI model or service unavailable",
		SuggestedAction: "Verify the AI endpoint is reachable; the circuit breaker re-opens automatically",
	},
	ErrStoreError: {
		Code:            ErrStoreError,
		Retryable:       true,
		Description:     "Transient database failure",
		SuggestedAction: "Check database health: caravel db health; the batch resumes from its cursor",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Retryable:       false,
		Description:     "Operation cancelled by user or system",
		SuggestedAction: "Check if cancellation was intentional, or re-run the job to resume",
	},
	ErrParseError: {
		Code:            ErrParseError,
		Retryable:       false,
		Description:     "Document record parsing failed (malformed structure)",
		SuggestedAction: "Inspect the source record; fix the upstream extractor output",
	},
	ErrEmptyDocument: {
		Code:            ErrEmptyDocument,
		Retryable:       false,
		Description:     "Document has no body excerpt and no attachment text",
		SuggestedAction: "Verify upstream OCR/extraction produced output for this message",
	},
	ErrDuplicateDocument: {
		Code:            ErrDuplicateDocument,
		Retryable:       false,
		Description:     "Document already ingested (duplicate source_message_id)",
		SuggestedAction: "This is expected for re-ingested mail; no action needed",
	},
	ErrLinkAmbiguous: {
		Code:            ErrLinkAmbiguous,
		Retryable:       false,
		Description:     "Multiple candidate shipments matched one cascade step",
		SuggestedAction: "Review flagged documents: caravel orphans list --status ambiguous",
	},
	ErrClassifyFailed: {
		Code:            ErrClassifyFailed,
		Retryable:       false,
		Description:     "Pattern rules and AI classification both inconclusive",
		SuggestedAction: "Document stored as general_correspondence; re-run: caravel reclassify",
	},
	ErrProcessingFailed: {
		Code:            ErrProcessingFailed,
		Retryable:       false,
		Description:     "Unclassified processing error",
		SuggestedAction: "Check logs for the document id, then re-run the affected job",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check logs for more details"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
