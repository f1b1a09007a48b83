package controlplane

import (
	"fmt"
	"net/http"
)

// StatusError is returned when the control plane answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
