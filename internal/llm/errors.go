package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/finreports/stmtsplit/internal/common"
)

// StatusError is a non-2xx response from the language-model service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service status %d: %s", e.Code, e.Body)
}

// ParseError marks a malformed or schema-violating service response.
// Retryable: a second completion usually parses.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string { return "malformed service response: " + e.Cause.Error() }

func (e *ParseError) Unwrap() error { return e.Cause }

// ClassifyServiceError maps language-model transport and decode failures to
// the retry taxonomy. It is the Classifier the invoker uses for every
// service call.
func ClassifyServiceError(err error) common.ErrorKind {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == 429:
			return common.KindTransient
		case se.Code >= 500:
			return common.KindTransient
		case se.Code == 401 || se.Code == 403:
			return common.KindAuth
		default:
			return common.KindCritical
		}
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return common.KindParse
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return common.KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.KindTransient
	}
	return common.KindOf(err)
}
