package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"odatacheck/internal/data"
	"odatacheck/internal/odata"
)

// presentDependencyError turns a shared-document fetch error into the
// message reported on every rule that needed the document. Request URLs
// are dropped unless verbose.
func presentDependencyError(key data.DependencyKey, err error, verbose bool) string {
	if err == nil {
		return "unknown error"
	}
	full := err.Error()
	if verbose {
		return full
	}

	var se *odata.StatusError
	switch {
	case errors.As(err, &se):
		msg := strings.TrimSpace(se.Message)
		status := fmt.Sprintf("%d %s", se.StatusCode, http.StatusText(se.StatusCode))
		if msg == "" || msg == http.StatusText(se.StatusCode) {
			return fmt.Sprintf("%s request failed (%s)", documentName(key), status)
		}
		return fmt.Sprintf("%s request failed (%s): %s", documentName(key), status, msg)
	case errors.Is(err, odata.ErrCircuitOpen):
		return "Service unavailable: circuit open after repeated transport failures"
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s request timed out", documentName(key))
	case errors.Is(err, context.Canceled):
		return fmt.Sprintf("%s request cancelled", documentName(key))
	}

	if scrubbed := scrubRequestFromErrorString(strings.TrimSpace(full)); scrubbed != "" {
		return fmt.Sprintf("%s request failed: %s", documentName(key), scrubbed)
	}
	return fmt.Sprintf("%s request failed", documentName(key))
}

func documentName(key data.DependencyKey) string {
	switch key {
	case data.DepServiceRoot:
		return "Service document"
	case data.DepServiceMetadata:
		return "Metadata document"
	case data.DepServiceVersion:
		return "Version probe"
	default:
		return string(key)
	}
}

// scrubRequestFromErrorString drops a leading "METHOD url: " from transport
// errors, e.g. `Get "https://host/svc/$metadata": dial tcp ...`.
func scrubRequestFromErrorString(s string) string {
	methods := []string{"GET ", "POST ", "PUT ", "PATCH ", "DELETE ", "Get ", "Post ", "Put ", "Patch ", "Delete "}
	for _, m := range methods {
		if strings.HasPrefix(s, m) {
			if j := strings.Index(s, ": "); j >= 0 {
				return strings.TrimSpace(s[j+2:])
			}
			break
		}
	}
	if strings.Contains(s, "://") {
		return ""
	}
	return s
}
