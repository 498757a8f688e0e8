package apiclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	apperrors "github.com/seedclub/seednet-mcp/internal/errors"
)

// APIError is a non-2xx response other than the handled 401. Message
// and Details are the server's, verbatim.
type APIError struct {
	Status  int             `json:"status"`
	Message string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

// newAPIError extracts {"error": ..., "details": ...} from the body. A
// body that is not JSON still yields an error carrying the status.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}

	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error"); msg.Type == gjson.String && msg.Str != "" {
			e.Message = msg.Str
		} else if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String && msg.Str != "" {
			e.Message = msg.Str
		}

		if details := gjson.GetBytes(body, "details"); details.Exists() {
			e.Details = json.RawMessage(details.Raw)
		}
	}

	if e.Message == "" {
		e.Message = fmt.Sprintf("Request failed with status %d", status)
	}

	return e
}

// NetworkError is a transport failure or a response that could not be
// decoded. It matches ErrNetwork.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is matches ErrNetwork so callers can test the error kind without
// unwrapping to the concrete type.
func (e *NetworkError) Is(target error) bool { return target == apperrors.ErrNetwork }

// sanitizeBody truncates a response body for an error message and
// replaces control characters to keep logs single-line.
func sanitizeBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var b strings.Builder
	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		switch {
		case r == utf8.RuneError && size <= 1:
			b.WriteByte('?')
		case r < 0x20 && r != '\t':
			b.WriteByte('?')
		default:
			b.Write(body[:size])
		}
		body = body[size:]
	}

	return b.String()
}
