package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TransportError is a network failure or a non-success HTTP status.
// StatusCode is zero when no response status was obtained.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %d: %s", e.StatusCode, msg)
	}
	return "transport: " + msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError describes a line that violates the stream framing.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %q", e.Reason, truncate(e.Line, 80))
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// ErrorFromResponse builds a TransportError from a non-success response,
// extracting the backend's human-readable message when present. It does not
// close the body.
func ErrorFromResponse(resp *http.Response) *TransportError {
	te := &TransportError{StatusCode: resp.StatusCode}
	if resp.Body != nil {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		te.Message = errorMessage(data)
	}
	if te.Message == "" {
		te.Message = http.StatusText(resp.StatusCode)
	}
	return te
}

// errorBody covers the shapes the backend uses for failures: a plain
// {"detail": "..."}, a validation list {"detail": [{"msg": "..."}]}, or
// {"message": "..."}.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

type validationDetail struct {
	Msg string `json:"msg"`
	Loc []any  `json:"loc"`
}

func errorMessage(data []byte) string {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return ""
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return truncate(string(data), 200)
	}

	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		var list []validationDetail
		if err := json.Unmarshal(body.Detail, &list); err == nil && len(list) > 0 {
			msgs := make([]string, 0, len(list))
			for _, d := range list {
				if d.Msg != "" {
					msgs = append(msgs, d.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	if body.Message != "" {
		return body.Message
	}
	return truncate(string(data), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
