package helpdesk

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		reason  string
		body    string
		want    ErrorDetail
		found   bool
		details bool
	}{
		{
			name:   "flat object",
			status: http.StatusBadRequest,
			body:   `{"error":"Bad","description":"oops"}`,
			want:   ErrorDetail{Code: "Bad", Description: "oops"},
			found:  true,
		},
		{
			name:    "flat object with details",
			status:  http.StatusUnprocessableEntity,
			body:    `{"error":"RecordInvalid","description":"Record validation errors","details":{"base":[{"description":"Requester is invalid"}]}}`,
			want:    ErrorDetail{Code: "RecordInvalid", Description: "Record validation errors"},
			found:   true,
			details: true,
		},
		{
			name:   "nested object with code and message",
			status: http.StatusForbidden,
			body:   `{"error":{"code":"Forbidden","message":"You do not have access"}}`,
			want:   ErrorDetail{Code: "Forbidden", Description: "You do not have access"},
			found:  true,
		},
		{
			name:   "nested object with title and detail",
			status: http.StatusForbidden,
			body:   `{"error":{"title":"Forbidden","detail":"Nope"}}`,
			want:   ErrorDetail{Code: "Forbidden", Description: "Nope"},
			found:  true,
		},
		{
			name:   "array form uses first element",
			status: http.StatusBadRequest,
			body:   `{"errors":[{"title":"X","detail":"Y"},{"title":"Z","detail":"W"}]}`,
			want:   ErrorDetail{Code: "X", Description: "Y"},
			found:  true,
		},
		{
			name:   "array form with code",
			status: http.StatusBadRequest,
			body:   `{"errors":[{"code":"InvalidEndpoint","detail":"bad url"}]}`,
			want:   ErrorDetail{Code: "InvalidEndpoint", Description: "bad url"},
			found:  true,
		},
		{
			name:   "empty array",
			status: http.StatusBadRequest,
			body:   `{"errors":[]}`,
		},
		{
			name:   "unsupported media type with empty body",
			status: http.StatusUnsupportedMediaType,
			reason: "Unsupported Media Type",
			want:   ErrorDetail{Code: "UnsupportedMediaType", Description: "Unsupported Media Type"},
			found:  true,
		},
		{
			name:   "unsupported media type ignores body",
			status: http.StatusUnsupportedMediaType,
			reason: "Unsupported Media Type",
			body:   `{"error":"Other","description":"ignored"}`,
			want:   ErrorDetail{Code: "UnsupportedMediaType", Description: "Unsupported Media Type"},
			found:  true,
		},
		{
			name:   "unparseable body",
			status: http.StatusInternalServerError,
			body:   `<html>oops</html>`,
		},
		{
			name:   "unknown shape",
			status: http.StatusBadRequest,
			body:   `{"message":"something"}`,
		},
		{
			name:   "empty body",
			status: http.StatusBadGateway,
		},
		{
			name:   "json array body",
			status: http.StatusBadRequest,
			body:   `[1,2,3]`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, found := ClassifyResponse(tc.status, tc.reason, []byte(tc.body))
			require.Equal(t, tc.found, found)
			if !tc.found {
				return
			}
			assert.Equal(t, tc.want.Code, got.Code)
			assert.Equal(t, tc.want.Description, got.Description)
			if tc.details {
				assert.NotEmpty(t, got.Details)
			} else {
				assert.Nil(t, got.Details)
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	detail, ok := ClassifyResponse(http.StatusUnprocessableEntity, "", []byte(
		`{"error":"RecordInvalid","description":"Record validation errors","details":{"base":[{"description":"Email is invalid"},{"description":"Name is too long"}]}}`))
	require.True(t, ok)
	assert.Equal(t, []ValidationError{{Description: "Email is invalid"}, {Description: "Name is too long"}}, detail.ValidationErrors())

	t.Run("other code", func(t *testing.T) {
		d := ErrorDetail{Code: "Invalid", Details: []byte(`{"base":[{"description":"x"}]}`)}
		assert.Nil(t, d.ValidationErrors())
	})

	t.Run("base is not an array", func(t *testing.T) {
		d := ErrorDetail{Code: "RecordInvalid", Details: []byte(`{"base":"x"}`)}
		assert.Nil(t, d.ValidationErrors())
	})

	t.Run("no details", func(t *testing.T) {
		assert.Nil(t, ErrorDetail{Code: "RecordInvalid"}.ValidationErrors())
	})
}

func TestClassifyErrorNonAPIError(t *testing.T) {
	_, ok := ClassifyError(errors.New("dial tcp: connection refused"))
	assert.False(t, ok)

	wrapped := fmt.Errorf("update ticket: %w", &APIError{StatusCode: 400, Body: []byte(`{"error":"Bad","description":"oops"}`)})
	detail, ok := ClassifyError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "Bad", detail.Code)
}

func TestIsGone(t *testing.T) {
	assert.True(t, IsGone(&APIError{StatusCode: http.StatusNotFound}))
	assert.True(t, IsGone(&APIError{StatusCode: http.StatusUnauthorized}))
	assert.False(t, IsGone(&APIError{StatusCode: http.StatusForbidden}))
	assert.False(t, IsGone(errors.New("boom")))
	assert.False(t, IsGone(nil))
}
