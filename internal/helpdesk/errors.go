package helpdesk

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorDetail is the normalized form of a helpdesk error response.
type ErrorDetail struct {
	Code        string
	Description string
	Details     json.RawMessage // nil when the response carried none
}

// ValidationError is one field-level message from a RecordInvalid response.
type ValidationError struct {
	Description string `json:"description"`
}

// ValidationErrors returns the details.base messages of a RecordInvalid
// error, or nil for any other code or shape.
func (d ErrorDetail) ValidationErrors() []ValidationError {
	if d.Code != "RecordInvalid" || len(d.Details) == 0 {
		return nil
	}
	var details struct {
		Base []ValidationError `json:"base"`
	}
	if err := json.Unmarshal(d.Details, &details); err != nil {
		return nil
	}
	out := make([]ValidationError, 0, len(details.Base))
	for _, v := range details.Base {
		if v.Description != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ClassifyError normalizes err when it is an *APIError. The second result is
// false when err is not an API error or its body matches no known shape.
func ClassifyError(err error) (ErrorDetail, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return ErrorDetail{}, false
	}
	return ClassifyResponse(apiErr.StatusCode, apiErr.Status, apiErr.Body)
}

// ClassifyResponse normalizes a raw error response. The status check runs
// before the body is inspected; body shapes are tried in a fixed order and
// the first match wins.
func ClassifyResponse(statusCode int, reason string, body []byte) (ErrorDetail, bool) {
	if statusCode == http.StatusUnsupportedMediaType {
		if reason == "" {
			reason = http.StatusText(statusCode)
		}
		return ErrorDetail{Code: "UnsupportedMediaType", Description: reason}, true
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ErrorDetail{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ErrorDetail{}, false
	}

	for _, shape := range errorShapes {
		if detail, ok := shape(fields); ok {
			return detail, true
		}
	}
	return ErrorDetail{}, false
}

var errorShapes = []func(map[string]json.RawMessage) (ErrorDetail, bool){
	flatErrorShape,
	nestedErrorShape,
	arrayErrorShape,
}

// {"error": "RecordInvalid", "description": "...", "details": {...}}
func flatErrorShape(fields map[string]json.RawMessage) (ErrorDetail, bool) {
	var code string
	if err := json.Unmarshal(fields["error"], &code); err != nil || code == "" {
		return ErrorDetail{}, false
	}
	detail := ErrorDetail{Code: code}
	_ = json.Unmarshal(fields["description"], &detail.Description)
	if raw, ok := fields["details"]; ok && !isJSONNull(raw) {
		detail.Details = raw
	}
	return detail, true
}

type errorObject struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func (o errorObject) toDetail() (ErrorDetail, bool) {
	code := o.Code
	if code == "" {
		code = o.Title
	}
	desc := o.Detail
	if desc == "" {
		desc = o.Message
	}
	if code == "" && desc == "" {
		return ErrorDetail{}, false
	}
	return ErrorDetail{Code: code, Description: desc}, true
}

// {"error": {"code"|"title": "...", "detail"|"message": "..."}}
func nestedErrorShape(fields map[string]json.RawMessage) (ErrorDetail, bool) {
	raw, ok := fields["error"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return ErrorDetail{}, false
	}
	var obj errorObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ErrorDetail{}, false
	}
	return obj.toDetail()
}

// {"errors": [{"code"|"title": "...", "detail": "..."}, ...]}
func arrayErrorShape(fields map[string]json.RawMessage) (ErrorDetail, bool) {
	raw, ok := fields["errors"]
	if !ok {
		return ErrorDetail{}, false
	}
	var list []errorObject
	if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
		return ErrorDetail{}, false
	}
	return list[0].toDetail()
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// StatusCode returns the HTTP status of an API error, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports a 404 from the helpdesk.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsGone reports whether err means the remote object is already gone or
// unreachable, which cleanup treats as success.
func IsGone(err error) bool {
	switch StatusCode(err) {
	case http.StatusNotFound, http.StatusUnauthorized:
		return true
	}
	return false
}
