package rules

import (
	"maps"
	"net/url"
	"strings"

	"odatacheck/internal/odata"
)

// maxPayload bounds the response body kept in a detail.
const maxPayload = 64 << 10

// Detail is one recorded probe attached to an outcome.
type Detail struct {
	// Rule is the owning rule. Leaf checks stamp their own name; composites
	// overwrite it with theirs when merging.
	Rule           string            `json:"rule"`
	URL            string            `json:"url,omitempty"`
	Method         string            `json:"method,omitempty"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	Response       *ResponseInfo     `json:"response,omitempty"`
	ErrorMessage   string            `json:"error,omitempty"`
}

type ResponseInfo struct {
	StatusCode int               `json:"status"`
	Headers    map[string]string `json:"headers,omitempty"`
	Payload    string            `json:"payload,omitempty"`
}

// Clone returns a deep copy.
func (d Detail) Clone() Detail {
	out := d
	if d.RequestHeaders != nil {
		out.RequestHeaders = maps.Clone(d.RequestHeaders)
	}
	if d.Response != nil {
		r := *d.Response
		if r.Headers != nil {
			r.Headers = maps.Clone(r.Headers)
		}
		out.Response = &r
	}
	return out
}

// WithError returns a copy carrying msg as its error message.
func (d Detail) WithError(msg string) Detail {
	out := d.Clone()
	out.ErrorMessage = msg
	return out
}

// NewDetail records a probe. resp may be nil when the request never
// completed.
func NewDetail(req odata.Request, resp *odata.Response) Detail {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = "GET"
	}
	d := Detail{
		URL:    req.URL,
		Method: method,
	}
	if resp == nil {
		d.RequestHeaders = odata.RedactHeaders(req.Headers, nil)
		return d
	}
	if resp.URL != "" {
		d.URL = resp.URL
	}
	if len(resp.RequestHeaders) > 0 {
		d.RequestHeaders = odata.RedactHeaders(resp.RequestHeaders, nil)
	} else {
		d.RequestHeaders = odata.RedactHeaders(req.Headers, nil)
	}
	info := &ResponseInfo{StatusCode: resp.StatusCode}
	if len(resp.Header) > 0 {
		info.Headers = make(map[string]string, len(resp.Header))
		for k, v := range resp.Header {
			info.Headers[k] = strings.Join(v, ", ")
		}
	}
	body := resp.Body
	if len(body) > maxPayload {
		body = body[:maxPayload]
	}
	info.Payload = string(body)
	d.Response = info
	return d
}

// resolveURL makes a root-relative reference absolute for reporting.
func resolveURL(root, ref string) string {
	if root == "" {
		return ref
	}
	base, err := url.Parse(root)
	if err != nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// Outcome is the result of evaluating one rule. Outcomes are values: every
// method that changes one returns a copy and never touches shared details.
type Outcome struct {
	Rule    string   `json:"rule,omitempty"`
	Verdict Verdict  `json:"verdict"`
	Message string   `json:"message,omitempty"`
	Waived  bool     `json:"waived,omitempty"`
	Details []Detail `json:"details,omitempty"`
}

// Pass builds a passing outcome. Details form the audit trail of requests
// issued and never carry an error message.
func Pass(details ...Detail) Outcome {
	return Outcome{Verdict: VerdictPass, Details: clearErrors(cloneDetails(details))}
}

func clearErrors(details []Detail) []Detail {
	for i := range details {
		details[i].ErrorMessage = ""
	}
	return details
}

// PassWithMessage builds a passing outcome with a message.
func PassWithMessage(msg string, details ...Detail) Outcome {
	out := Pass(details...)
	out.Message = msg
	return out
}

// Fail builds a failing outcome. If no detail carries an error message, the
// last detail gets msg, or a bare detail is added when there are none.
func Fail(msg string, details ...Detail) Outcome {
	return withExplanation(VerdictFail, msg, details)
}

// Inconclusive builds an outcome for a rule that could not be verified.
// The explanation is attached the same way as for Fail.
func Inconclusive(msg string, details ...Detail) Outcome {
	return withExplanation(VerdictInconclusive, msg, details)
}

func withExplanation(v Verdict, msg string, details []Detail) Outcome {
	out := Outcome{Verdict: v, Message: msg, Details: cloneDetails(details)}
	if msg == "" || out.HasError() {
		return out
	}
	if n := len(out.Details); n > 0 {
		out.Details[n-1].ErrorMessage = msg
	} else {
		out.Details = []Detail{{ErrorMessage: msg}}
	}
	return out
}

// HasError reports whether any detail carries an error message.
func (o Outcome) HasError() bool {
	for _, d := range o.Details {
		if d.ErrorMessage != "" {
			return true
		}
	}
	return false
}

// Tagged returns a copy owned by name: the outcome and every detail are
// stamped with it.
func (o Outcome) Tagged(name string) Outcome {
	out := o
	out.Rule = name
	out.Details = make([]Detail, len(o.Details))
	for i, d := range o.Details {
		c := d.Clone()
		c.Rule = name
		out.Details[i] = c
	}
	if len(out.Details) == 0 {
		out.Details = nil
	}
	return out
}

// ErrorMessages returns the non-empty error messages in detail order.
func (o Outcome) ErrorMessages() []string {
	var out []string
	for _, d := range o.Details {
		if d.ErrorMessage != "" {
			out = append(out, d.ErrorMessage)
		}
	}
	return out
}

func cloneDetails(in []Detail) []Detail {
	if len(in) == 0 {
		return nil
	}
	out := make([]Detail, len(in))
	for i, d := range in {
		out[i] = d.Clone()
	}
	return out
}
