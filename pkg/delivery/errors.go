package delivery

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindAuth      ErrorKind = "auth"      // Credential invalid or revoked; needs a human
	KindTransient ErrorKind = "transient" // Network failures and provider 5xx
	KindPermanent ErrorKind = "permanent" // Rejected request
)

// Error is a classified delivery failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("delivery %s error", e.Kind)

	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d", e.StatusCode)
		if e.Code != 0 {
			msg += fmt.Sprintf(", code %d", e.Code)
		}

		msg += ")"
	}

	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsAuth reports whether err is a delivery failure caused by an invalid credential.
func IsAuth(err error) bool {
	var deliveryErr *Error

	return errors.As(err, &deliveryErr) && deliveryErr.Kind == KindAuth
}

func IsTransient(err error) bool {
	var deliveryErr *Error

	return errors.As(err, &deliveryErr) && deliveryErr.Kind == KindTransient
}
