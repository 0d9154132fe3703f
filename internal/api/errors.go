package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"docinsight/internal/extractor"
	"docinsight/internal/service/insight"
)

var (
	errMissingFile  = errors.New("no file was uploaded")
	errFileTooLarge = errors.New("uploaded file is too large")
	errRateLimited  = errors.New("too many requests")
)

// apiError is what a failed request is rendered as.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func classify(err error) apiError {
	switch {
	case errors.Is(err, errMissingFile):
		return apiError{http.StatusBadRequest, "missing_file", "Please choose a PDF or DOCX file to upload."}
	case errors.Is(err, errFileTooLarge):
		return apiError{http.StatusRequestEntityTooLarge, "file_too_large", "The file exceeds the upload size limit."}
	case errors.Is(err, errRateLimited):
		return apiError{http.StatusTooManyRequests, "rate_limited", "Too many analyses requested. Please retry in a minute."}
	case errors.Is(err, extractor.ErrUnsupportedFormat):
		return apiError{http.StatusBadRequest, "unsupported_format", "Only PDF and DOCX files can be uploaded."}
	case errors.Is(err, extractor.ErrCorruptDocument):
		return apiError{http.StatusUnprocessableEntity, "corrupt_document", "The document could not be opened. It may be damaged or not a real PDF/DOCX file."}
	case errors.Is(err, insight.ErrEmptyText):
		return apiError{http.StatusUnprocessableEntity, "empty_document", "No text could be extracted from the document. Image-only PDFs are not supported."}
	case errors.Is(err, insight.ErrProviderUnavailable):
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		return apiError{status, "provider_unavailable", "The AI provider could not complete the analysis: " + sanitizeProviderError(err)}
	case errors.Is(err, insight.ErrUnparsableResponse):
		return apiError{http.StatusBadGateway, "unparsable_response", "The AI provider returned a response in an unexpected format."}
	default:
		return apiError{http.StatusInternalServerError, "internal_error", "An internal error occurred while analyzing the document."}
	}
}

// Ordered so the first match wins for errors mentioning several patterns.
var clientSafePatterns = []struct {
	pattern string
	message string
}{
	{"deadline exceeded", "request timed out"},
	{"timeout", "request timed out"},
	{"rate limit", "rate limit exceeded"},
	{"429", "rate limit exceeded"},
	{"quota", "quota exceeded"},
	{"invalid api", "authentication failed with provider"},
	{"api key", "authentication failed with provider"},
	{"unauthorized", "authentication failed with provider"},
	{"401", "authentication failed with provider"},
	{"forbidden", "access denied by provider"},
	{"context canceled", "request cancelled"},
}

// sanitizeProviderError maps a provider failure to a message safe to show
// clients. The full error is only ever logged.
func sanitizeProviderError(err error) string {
	if err == nil {
		return ""
	}
	lower := strings.ToLower(err.Error())
	for _, p := range clientSafePatterns {
		if strings.Contains(lower, p.pattern) {
			return p.message
		}
	}
	return "provider temporarily unavailable"
}
