package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound is matched by any RequestError carrying a 404.
var ErrNotFound = errors.New("not found")

// RequestError is a non-2xx answer from the job service.
type RequestError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *RequestError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Detail)
}

// Is lets errors.Is(err, ErrNotFound) see through the status code.
func (e *RequestError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err is a 404 from the job service.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func newRequestError(op string, statusCode int, body []byte) *RequestError {
	var payload struct {
		Detail any `json:"detail"`
	}
	detail := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != nil {
		switch d := payload.Detail.(type) {
		case string:
			detail = d
		default:
			if b, err := json.Marshal(d); err == nil {
				detail = string(b)
			}
		}
	}
	return &RequestError{Op: op, StatusCode: statusCode, Detail: detail}
}
