package models

import (
	"encoding/json"
	"time"
)

// Workshop represents a bookable workshop
type Workshop struct {
	ID                 int64     `db:"id" json:"id"`
	TitleAr            string    `db:"title_ar" json:"title_ar"`
	TitleEn            string    `db:"title_en" json:"title_en"`
	Price              float64   `db:"price" json:"price"`
	TotalSeats         int       `db:"total_seats" json:"total_seats"`
	AvailableSeats     int       `db:"available_seats" json:"available_seats"`
	RegistrationClosed bool      `db:"registration_closed" json:"registration_closed"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// IsFree reports whether registering requires no payment.
func (w *Workshop) IsFree() bool {
	return w.Price <= 0
}

// WorkshopSchedule is one dated session of a workshop. Times are "HH:MM[:SS]".
type WorkshopSchedule struct {
	ID          int64     `db:"id" json:"id"`
	WorkshopID  int64     `db:"workshop_id" json:"workshop_id"`
	SessionDate time.Time `db:"session_date" json:"session_date"`
	StartTime   string    `db:"start_time" json:"start_time"`
	EndTime     string    `db:"end_time" json:"end_time"`
}

// Registration is a registrant's claim on a workshop seat
type Registration struct {
	ID            int64     `db:"id" json:"id"`
	WorkshopID    int64     `db:"workshop_id" json:"workshop_id"`
	UserID        string    `db:"user_id" json:"user_id"`
	FullName      string    `db:"full_name" json:"full_name"`
	Email         string    `db:"email" json:"email"`
	Phone         string    `db:"phone" json:"phone"`
	Status        string    `db:"status" json:"status"`
	PaymentStatus string    `db:"payment_status" json:"payment_status"`
	PaymentID     *string   `db:"payment_id" json:"payment_id,omitempty"`
	Amount        float64   `db:"amount" json:"amount"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Registration statuses
const (
	RegistrationStatusPending   = "pending"
	RegistrationStatusConfirmed = "confirmed"
	RegistrationStatusCancelled = "cancelled"
)

// Payment statuses
const (
	PaymentStatusUnpaid     = "unpaid"
	PaymentStatusProcessing = "processing"
	PaymentStatusPaid       = "paid"
	PaymentStatusFailed     = "failed"
)

// StalePaymentStatuses are the payment statuses cleanup is allowed to remove.
var StalePaymentStatuses = []string{
	PaymentStatusProcessing,
	PaymentStatusFailed,
	PaymentStatusUnpaid,
}

// AllowedPaymentSources returns the statuses a registration may move from to reach target.
// paid is final; failed may only be overturned by a late capture.
func AllowedPaymentSources(target string) []string {
	switch target {
	case PaymentStatusPaid:
		return []string{PaymentStatusUnpaid, PaymentStatusProcessing, PaymentStatusFailed}
	case PaymentStatusFailed:
		return []string{PaymentStatusUnpaid, PaymentStatusProcessing}
	case PaymentStatusProcessing:
		return []string{PaymentStatusUnpaid, PaymentStatusProcessing}
	default:
		return nil
	}
}

// CanTransitionPayment reports whether from -> to is permitted.
func CanTransitionPayment(from, to string) bool {
	for _, s := range AllowedPaymentSources(to) {
		if s == from {
			return true
		}
	}
	return false
}

// PaymentLogEntry is an append-only audit record of a payment action
type PaymentLogEntry struct {
	ID              int64           `db:"id" json:"id"`
	Action          string          `db:"action" json:"action"`
	Status          string          `db:"status" json:"status"`
	PaymentID       *string         `db:"payment_id" json:"payment_id,omitempty"`
	Amount          *float64        `db:"amount" json:"amount,omitempty"`
	UserID          *string         `db:"user_id" json:"user_id,omitempty"`
	WorkshopID      *int64          `db:"workshop_id" json:"workshop_id,omitempty"`
	RegistrationID  *int64          `db:"registration_id" json:"registration_id,omitempty"`
	GatewayResponse json.RawMessage `db:"gateway_response" json:"gateway_response,omitempty"`
	ErrorMessage    *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Payment log actions
const (
	PaymentActionChargeCreated    = "charge_created"
	PaymentActionChargeFailed     = "charge_failed"
	PaymentActionVerifyAttempt    = "verify_attempt"
	PaymentActionVerifyResult     = "verify_result"
	PaymentActionWebhookReceived  = "webhook_received"
	PaymentActionStatusTransition = "status_transition"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
