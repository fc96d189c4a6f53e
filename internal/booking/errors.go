package booking

import (
	"fmt"
	"strings"
)

// Kind is the closed set of booking failures
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindInvalidBus
	KindSeatsUnavailable
	KindAlreadyCancelled
	KindInvalidRequest
	KindBookingFailed
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidBus:
		return "invalid_bus"
	case KindSeatsUnavailable:
		return "seats_unavailable"
	case KindAlreadyCancelled:
		return "already_cancelled"
	case KindInvalidRequest:
		return "invalid_request"
	case KindBookingFailed:
		return "booking_failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every Service operation that fails. It names the bus
// or booking involved and the reason.
type Error struct {
	Kind      Kind
	BusNumber string
	BookingID int64
	Reason    string
	Err       error
}

// Sentinels for errors.Is; they match any *Error of the same Kind
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidBus       = &Error{Kind: KindInvalidBus}
	ErrSeatsUnavailable = &Error{Kind: KindSeatsUnavailable}
	ErrAlreadyCancelled = &Error{Kind: KindAlreadyCancelled}
	ErrInvalidRequest   = &Error{Kind: KindInvalidRequest}
	ErrBookingFailed    = &Error{Kind: KindBookingFailed}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.BusNumber != "" {
		fmt.Fprintf(&b, ": bus %s", e.BusNumber)
	}
	if e.BookingID != 0 {
		fmt.Fprintf(&b, ": booking %d", e.BookingID)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind only
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
