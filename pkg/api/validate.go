package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// SuccessCode is the only status code treated as a successful response.
const SuccessCode = http.StatusOK

// errorBody captures the application-level error field of a response.
// The field is either a plain string or an object carrying a message.
type errorBody struct {
	Error json.RawMessage `json:"error"`
}

// Validate enforces the response contract: an embedded "error" field fails
// the call even on a 200, a non-JSON body is itself the error message, and
// any status other than 200 fails with a description of the request. A body
// that starts like JSON but does not parse fails with an unclassified error.
// On success the (possibly empty) body is returned unchanged.
func Validate(resp *http.Response, body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)

	if len(trimmed) > 0 {
		if !looksLikeJSON(trimmed) {
			return nil, UserError(string(trimmed))
		}
		if err := checkJSON(trimmed); err != nil {
			return nil, fmt.Errorf("malformed response%s: %w", describeRequest(resp), err)
		}
		if msg, ok := embeddedError(trimmed); ok {
			return nil, UserError(msg)
		}
	}

	if resp.StatusCode != SuccessCode {
		msg := fmt.Sprintf("Invalid response code (%d)", resp.StatusCode) + describeRequest(resp)
		if len(trimmed) > 0 {
			msg += " body: " + string(trimmed)
		}
		return nil, UserError(msg)
	}
	return body, nil
}

// describeRequest returns " to METHOD: URL" for resp's request, if known.
func describeRequest(resp *http.Response) string {
	if req := resp.Request; req != nil && req.URL != nil {
		return fmt.Sprintf(" to %s: %s", req.Method, req.URL)
	}
	return ""
}

func checkJSON(b []byte) error {
	var v any
	return json.Unmarshal(b, &v)
}

func looksLikeJSON(b []byte) bool {
	return b[0] == '{' || b[0] == '['
}

// embeddedError extracts the application error message, if the body has one.
func embeddedError(b []byte) (string, bool) {
	if b[0] != '{' {
		return "", false
	}
	var eb errorBody
	if err := json.Unmarshal(b, &eb); err != nil {
		return "", false
	}
	raw := bytes.TrimSpace(eb.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", false
		}
		return s, true
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message, true
	}
	// Truthy error without a usable message: surface it raw.
	return string(raw), true
}
