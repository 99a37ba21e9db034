package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrDeadline        = errors.New("operation deadline exceeded")
	ErrInternal        = errors.New("internal client failure")
	ErrEmptyOperation  = errors.New("operation has no payload and no items")
)

// Category classifies a remote failure for retry purposes.
type Category string

const (
	CategoryUser    Category = "user"
	CategoryServer  Category = "server"
	CategoryUnknown Category = "unknown"
)

// ParseCategory maps a server-reported category string onto the known
// set, falling back to unknown for anything unrecognized.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryUser, CategoryServer, CategoryUnknown:
		return Category(s)
	default:
		return CategoryUnknown
	}
}

// API is a failure reported by the remote service, either in a Submit
// response or in a retrieved future body.
type API struct {
	Message  string   `json:"message"`
	Category Category `json:"category"`
	Status   int      `json:"-"`
}

func (e *API) Error() string {
	if e.Category == "" {
		return e.Message
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Retryable reports whether err may succeed on a later attempt. User
// errors are final; everything else, including errors of unknown
// category, is treated as retryable.
func Retryable(err error) bool {
	var api *API
	if errors.As(err, &api) {
		return api.Category != CategoryUser
	}

	return true
}

// Categorizer maps an HTTP status code to an error category. The
// remote service's category scheme is not stable across deployments,
// so clients may override the default.
type Categorizer func(status int) Category

func DefaultCategorizer(status int) Category {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return CategoryServer
	case status >= 400 && status < 500:
		return CategoryUser
	case status >= 500:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}
