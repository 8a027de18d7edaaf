package odata

import (
	"encoding/json"
	"strings"

	"odatacheck/internal/data/models"
)

type errorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message json.RawMessage `json:"message"`
	} `json:"error"`
}

// errorMessageFromBody extracts error.message from an OData JSON error
// payload. Older services nest the text as {"lang":..,"value":..}.
func errorMessageFromBody(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error.Message) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(env.Error.Message, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var nested struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(env.Error.Message, &nested); err == nil {
		return strings.TrimSpace(nested.Value)
	}
	return ""
}

// ErrorCode returns error.code from an OData JSON error payload, or "".
func ErrorCode(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Error.Code
}

// IsErrorPayload reports whether body is a well-formed OData error
// response: a single "error" object carrying code and message.
func IsErrorPayload(body []byte) bool {
	return models.ValidateErrorPayload(body) == nil
}
