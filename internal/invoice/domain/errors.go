package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument  = errors.New("invalid_argument")
	ErrEmptyBookingIDs  = fmt.Errorf("%w: booking ids must not be empty", ErrInvalidArgument)
	ErrInvalidBookingID = fmt.Errorf("%w: booking id is not valid", ErrInvalidArgument)
	ErrInvalidInvoiceID = fmt.Errorf("%w: invoice id is not valid", ErrInvalidArgument)
	ErrUnauthorized     = errors.New("unauthorized")
	ErrBookingNotFound  = errors.New("booking_not_found")
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
)

// MissingPriceConfigurationError aborts invoicing when a booking's service has no price.
type MissingPriceConfigurationError struct {
	BookingID string
	ServiceID string
}

func (e *MissingPriceConfigurationError) Error() string {
	return fmt.Sprintf("booking %s: service %s has no price configured", e.BookingID, e.ServiceID)
}

// PersistenceError is a local store failure during an invoice operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
