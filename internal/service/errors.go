package service

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotReady is returned by send operations while the session is not in the ready state.
	ErrNotReady = errors.New("session is not ready")
	// ErrEmptyBody is returned when a text message has nothing to send.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrStopped is returned by Start when the controller is stopped before or while starting.
	ErrStopped = errors.New("session is stopped")
)

type InvalidAddressError struct {
	Address string
	Err     error
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address %q: %v", e.Address, e.Err)
}

func (e *InvalidAddressError) Unwrap() error { return e.Err }

// SendFailedError wraps a failure of the protocol client while sending.
type SendFailedError struct {
	Err error
}

func (e *SendFailedError) Error() string {
	return "send failed: " + e.Err.Error()
}

func (e *SendFailedError) Unwrap() error { return e.Err }

type MediaFetchError struct {
	URL string
	Err error
}

func (e *MediaFetchError) Error() string {
	return fmt.Sprintf("fetch media %s: %v", e.URL, e.Err)
}

func (e *MediaFetchError) Unwrap() error { return e.Err }
