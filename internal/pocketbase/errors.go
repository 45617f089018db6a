package pocketbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
)

// FieldError is a per-field validation detail reported by the store.
type FieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseError is a failure reported by the store with an HTTP status.
type ResponseError struct {
	Status  int                   `json:"code"`
	Message string                `json:"message"`
	Data    map[string]FieldError `json:"data"`
}

func (e *ResponseError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("unexpected status %d", e.Status)
	}
	if len(e.Data) == 0 {
		return msg
	}
	fields := make([]string, 0, len(e.Data))
	for f := range e.Data {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	details := make([]string, 0, len(fields))
	for _, f := range fields {
		details = append(details, f+": "+e.Data[f].Message)
	}
	return msg + " (" + strings.Join(details, "; ") + ")"
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &ResponseError{}
	if err := json.Unmarshal(body, e); err != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	e.Status = resp.StatusCode
	return e
}

// IsCancelled reports whether err comes from a request whose context was
// cancelled, typically because a newer request superseded it.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsNotFound reports whether the store answered 404.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsValidation reports whether the store rejected the request as invalid
// or conflicting with existing data.
func IsValidation(err error) bool {
	switch StatusOf(err) {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// IsTransient reports whether retrying the request later may succeed.
func IsTransient(err error) bool {
	if err == nil || IsCancelled(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	status := StatusOf(err)
	return status == http.StatusTooManyRequests || status >= 500
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}
