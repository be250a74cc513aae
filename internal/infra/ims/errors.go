package ims

import (
	"errors"
	"fmt"
)

var (
	ErrMissingConfig     = errors.New("ims client is missing required configuration")
	ErrEmptyAccessToken  = errors.New("ims access token is empty")
	ErrNoProductContext  = errors.New("no product context found for organization")
	ErrEmptyTokenPayload = errors.New("ims returned an empty access token")
)

// StatusError is a non-2xx answer from IMS.
type StatusError struct {
	Operation string
	Status    int
	Body      string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ims %s failed with status %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("ims %s failed with status %d: %s", e.Operation, e.Status, e.Body)
}
