package service

import (
	"errors"
	"fmt"

	"workshop-service/internal/models"
)

// ErrorKind classifies failures surfaced to the presentation layer
type ErrorKind string

const (
	KindUnauthenticated         ErrorKind = "unauthenticated"
	KindWorkshopNotFound        ErrorKind = "workshop_not_found"
	KindRegistrationClosed      ErrorKind = "registration_closed"
	KindDuplicateRegistration   ErrorKind = "duplicate_registration"
	KindRegistrationFailed      ErrorKind = "registration_failed"
	KindPaymentInitiationFailed ErrorKind = "payment_initiation_failed"
	KindMissingChargeID         ErrorKind = "missing_charge_id"
)

// User-facing messages
const (
	MsgUnauthenticated     = "you must be signed in to register for a workshop"
	MsgWorkshopNotFound    = "workshop not found"
	MsgRegistrationClosed  = "registration for this workshop is closed"
	MsgAlreadyRegistered   = "you are already registered for this workshop and cannot register again"
	MsgAttemptInProgress   = "a previous registration attempt is still being processed, please wait before retrying"
	MsgAttemptFailed       = "your previous payment attempt failed, please start a new registration"
	MsgMissingChargeID     = "payment reference is missing, please try again"
	MsgVerificationFailed  = "the payment was not completed and no amount was charged"
	MsgVerificationErrored = "we could not confirm the payment yet, please retry"
	MsgPaymentConfirmed    = "payment confirmed, your seat is booked"
)

// RegistrationError is the single error type returned by the registration flow.
type RegistrationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *RegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

func newRegistrationError(kind ErrorKind, msg string, err error) *RegistrationError {
	return &RegistrationError{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the ErrorKind of err, or "" when err is not a RegistrationError.
func KindOf(err error) ErrorKind {
	var regErr *RegistrationError
	if errors.As(err, &regErr) {
		return regErr.Kind
	}
	return ""
}

// duplicateMessage picks the message for a conflicting registration. existing
// is the conflicting row when it could be loaded.
func duplicateMessage(isRetry bool, existing *models.Registration) string {
	if !isRetry {
		return MsgAlreadyRegistered
	}
	if existing == nil {
		return MsgAttemptInProgress
	}
	switch existing.PaymentStatus {
	case models.PaymentStatusPaid:
		return MsgAlreadyRegistered
	case models.PaymentStatusFailed:
		return MsgAttemptFailed
	default:
		return MsgAttemptInProgress
	}
}
