package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCatalogUnavailable        = errors.New("catalog unavailable")
	ErrInsufficientStock         = errors.New("insufficient stock")
	ErrUnknownProduct            = errors.New("unknown product")
	ErrReservationRejected       = errors.New("reservation rejected")
	ErrGatewayUnavailable        = errors.New("reservation service unavailable")
	ErrInvalidQuantity           = errors.New("quantity must be a positive integer")
	ErrNotInCart                 = errors.New("product not in cart")
	ErrEmptyCart                 = errors.New("cart is empty")
	ErrCheckoutInProgress        = errors.New("checkout already in progress")
	ErrTransactionCreationFailed = errors.New("transaction creation failed")
)

// GatewayError carries the reason the remote service gave for refusing a call.
// Kind is one of the sentinels above and is what errors.Is matches.
type GatewayError struct {
	Kind       error
	Reason     string
	StatusCode int
}

func (e *GatewayError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *GatewayError) Unwrap() error {
	return e.Kind
}

// Reason returns the server-provided reason of err, or err's own text when
// the server gave none.
func Reason(err error) string {
	var gerr *GatewayError
	if errors.As(err, &gerr) && gerr.Reason != "" {
		return gerr.Reason
	}
	return err.Error()
}
