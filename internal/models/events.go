package models

import "time"

// Event types
const (
	EventTypeRegistrationInitiated = "REGISTRATION_INITIATED"
	EventTypeRegistrationConfirmed = "REGISTRATION_CONFIRMED"
	EventTypePaymentCaptured       = "PAYMENT_CAPTURED"
	EventTypePaymentFailed         = "PAYMENT_FAILED"
	EventTypeWorkshopsClosed       = "WORKSHOPS_CLOSED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RegistrationInitiatedEvent published when a registration row is created
type RegistrationInitiatedEvent struct {
	BaseEvent
	RegistrationID int64   `json:"registration_id"`
	WorkshopID     int64   `json:"workshop_id"`
	UserID         string  `json:"user_id"`
	Amount         float64 `json:"amount"`
	Retry          bool    `json:"retry"`
}

// RegistrationConfirmedEvent published when a free registration is confirmed
type RegistrationConfirmedEvent struct {
	BaseEvent
	RegistrationID int64  `json:"registration_id"`
	WorkshopID     int64  `json:"workshop_id"`
	UserID         string `json:"user_id"`
}

// PaymentCapturedEvent published when a registration transitions to paid
type PaymentCapturedEvent struct {
	BaseEvent
	RegistrationID int64   `json:"registration_id"`
	WorkshopID     int64   `json:"workshop_id"`
	UserID         string  `json:"user_id"`
	ChargeID       string  `json:"charge_id"`
	Amount         float64 `json:"amount"`
	Source         string  `json:"source"`
}

// PaymentFailedEvent published when a registration transitions to failed
type PaymentFailedEvent struct {
	BaseEvent
	RegistrationID int64  `json:"registration_id"`
	WorkshopID     int64  `json:"workshop_id"`
	UserID         string `json:"user_id"`
	ChargeID       string `json:"charge_id"`
	Reason         string `json:"reason"`
}

// WorkshopsClosedEvent published by the scheduled seat-closer
type WorkshopsClosedEvent struct {
	BaseEvent
	WorkshopIDs []int64   `json:"workshop_ids"`
	Cutoff      time.Time `json:"cutoff"`
}
