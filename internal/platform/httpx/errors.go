// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error classes understood by RespondError.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
)

type errorClass struct {
	class  error
	status int
	slug   string
	title  string
}

// First match wins.
var errorClasses = []errorClass{
	{ErrNotFound, http.StatusNotFound, "not-found", "Not Found"},
	{ErrDuplicate, http.StatusConflict, "duplicate", "Duplicate"},
	{ErrConflict, http.StatusConflict, "conflict", "Conflict"},
	{ErrValidation, http.StatusBadRequest, "validation", "Validation Failed"},
	{ErrForbidden, http.StatusForbidden, "forbidden", "Forbidden"},
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "Unauthorized"},
}

// Classify tags err with class so RespondError maps it, keeping err matchable.
func Classify(class, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", class, err)
}

// RespondError writes err as an RFC7807 problem. Unclassified errors become a
// 500 without detail.
func RespondError(w http.ResponseWriter, err error) {
	for _, c := range errorClasses {
		if errors.Is(err, c.class) {
			writeProblem(w, ProblemDetail{
				Type:   problemTypePrefix + c.slug,
				Title:  c.title,
				Status: c.status,
				Detail: err.Error(),
			})
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
