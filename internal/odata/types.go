package odata

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"
)

// Supported protocol versions.
const (
	Version40  = "4.0"
	Version401 = "4.01"
)

// ErrCircuitOpen is returned when the target service has failed enough
// consecutive probes that further requests are refused locally.
var ErrCircuitOpen = errors.New("odata: circuit open for target service")

// Service identifies one target OData service.
type Service struct {
	// Root is the service root URL, always with a trailing slash.
	Root string `json:"root"`

	// Version is the negotiated OData version (from the OData-Version header
	// of the service document), or empty when it could not be determined.
	Version string `json:"version,omitempty"`

	// Headers are sent with every probe (e.g. tenant or API-key headers).
	Headers map[string]string `json:"headers,omitempty"`
}

// NormalizeRoot validates a service root URL and ensures a trailing slash.
func NormalizeRoot(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("service root is empty")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "", fmt.Errorf("service root %q must be an absolute http(s) URL", raw)
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw, nil
}

// Request is a single probe issued against a service. URL may be absolute
// or relative to the service root.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Get builds a GET request.
func Get(url string) Request {
	return Request{Method: http.MethodGet, URL: url}
}

// Post builds a POST request carrying body as contentType.
func Post(url, contentType string, body []byte) Request {
	return withBody(http.MethodPost, url, contentType, body)
}

// Patch builds a PATCH request carrying body as contentType.
func Patch(url, contentType string, body []byte) Request {
	return withBody(http.MethodPatch, url, contentType, body)
}

// Delete builds a DELETE request.
func Delete(url string) Request {
	return Request{Method: http.MethodDelete, URL: url}
}

func withBody(method, url, contentType string, body []byte) Request {
	r := Request{Method: method, URL: url, Body: body}
	if contentType != "" {
		r = r.WithHeader("Content-Type", contentType)
	}
	return r
}

// WithHeader returns a copy of the request with an additional header.
func (r Request) WithHeader(key, value string) Request {
	h := make(map[string]string, len(r.Headers)+1)
	maps.Copy(h, r.Headers)
	h[key] = value
	r.Headers = h
	return r
}

// Redacted replaces the value of a header that may carry a credential.
const Redacted = "<redacted>"

var credentialHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
	"X-Api-Key":           true,
}

// RedactHeaders returns a copy of h with the values of credential headers
// and of the canonical names in private replaced by Redacted. It returns
// nil for an empty h.
func RedactHeaders(h map[string]string, private map[string]bool) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		ck := http.CanonicalHeaderKey(k)
		if credentialHeaders[ck] || private[ck] {
			v = Redacted
		}
		out[k] = v
	}
	return out
}

// Response is what a probe observed.
type Response struct {
	// URL is the absolute URL that was requested.
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	// RequestHeaders are the headers actually sent, after defaults applied,
	// with configured and credential header values redacted.
	RequestHeaders map[string]string
	Duration       time.Duration
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// ContentType returns the media type without parameters, lower-cased.
func (r *Response) ContentType() string {
	if r == nil {
		return ""
	}
	ct := r.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// StatusError reports a non-successful response to a document fetch.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, msg)
}
