package engine

import "odatacheck/internal/rules"

// Evidence levels for --evidence.
const (
	EvidenceMinimal  = "minimal"
	EvidenceStandard = "standard"
	EvidenceFull     = "full"
)

// standardPayloadLimit bounds response payloads kept at standard evidence.
const standardPayloadLimit = 2 << 10

// trimEvidence reduces the probe detail kept on a reported result. Minimal
// keeps the request line, status and error; standard also keeps headers and
// a truncated payload; full keeps everything the probe recorded.
func trimEvidence(r rules.Result, level string) rules.Result {
	if level == EvidenceFull || len(r.Details) == 0 {
		return r
	}
	details := make([]rules.Detail, len(r.Details))
	for i, d := range r.Details {
		d = d.Clone()
		switch level {
		case EvidenceMinimal:
			d.RequestHeaders = nil
			if d.Response != nil {
				d.Response.Headers = nil
				d.Response.Payload = ""
			}
		default:
			if d.Response != nil && len(d.Response.Payload) > standardPayloadLimit {
				d.Response.Payload = d.Response.Payload[:standardPayloadLimit] + "..."
			}
		}
		details[i] = d
	}
	r.Details = details
	return r
}
