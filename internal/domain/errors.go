package domain

import "fmt"

// StatusError reports a non-2xx response from an upstream catalog.
type StatusError struct {
	Source Source
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream HTTP %d", e.Source, e.Code)
}

// Blocking reports whether the status indicates bot-blocking or an upstream
// outage, the cases worth escalating to a headless render.
func (e *StatusError) Blocking() bool {
	return e.Code == 403 || e.Code == 429 || e.Code >= 500
}
