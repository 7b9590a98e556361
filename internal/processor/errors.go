package processor

import (
	"errors"
	"fmt"

	"github.com/JosineyJr/paydispatch/pkg/payments"
)

type Kind uint8

const (
	KindTimeout Kind = iota + 1
	KindTransport
	KindServer
	KindRateLimited
	KindMalformed
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindServer:
		return "server_error"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed_response"
	case KindRejected:
		return "rejected"
	}
	return "unknown"
}

var (
	// ErrTransient matches every failure that may succeed on another attempt.
	ErrTransient = errors.New("transient processor error")
	// ErrRejected matches a processor refusing the payment itself.
	ErrRejected = errors.New("payment rejected by processor")
)

type Error struct {
	Processor  payments.ProcessorID
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("processor %s: %s", e.Processor, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind != KindRejected
	case ErrRejected:
		return e.Kind == KindRejected
	}
	return false
}

// IsTransient reports whether err is worth another attempt, on this or another processor.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func statusError(id payments.ProcessorID, status int) *Error {
	kind := KindServer
	switch {
	case status == 429:
		kind = KindRateLimited
	case status == 408:
		kind = KindTimeout
	case status >= 400 && status < 500:
		kind = KindRejected
	}
	return &Error{Processor: id, Kind: kind, StatusCode: status}
}
