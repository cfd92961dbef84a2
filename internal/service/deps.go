package service

import (
	"context"
	"time"

	"workshop-service/internal/gateway"
	"workshop-service/internal/models"
	"workshop-service/internal/redisclient"
)

// WorkshopStore is the workshop side of the store.
type WorkshopStore interface {
	GetWorkshopByID(ctx context.Context, id int64) (*models.Workshop, error)
	ListWorkshops(ctx context.Context) ([]models.Workshop, error)
	UpdateAvailableSeats(ctx context.Context, workshopID int64, seats int) error
	CloseWorkshopsStartingBefore(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// RegistrationStore is the registration side of the store.
type RegistrationStore interface {
	CreateRegistration(ctx context.Context, reg *models.Registration) error
	GetRegistrationByID(ctx context.Context, id int64) (*models.Registration, error)
	GetRegistrationByPaymentID(ctx context.Context, paymentID string) (*models.Registration, error)
	GetRegistrationByWorkshopAndUser(ctx context.Context, workshopID int64, userID string) (*models.Registration, error)
	SetRegistrationPaymentID(ctx context.Context, registrationID int64, paymentID string) error
	TransitionPaymentStatus(ctx context.Context, registrationID int64, paymentStatus, status string) (bool, error)
	CountPaidRegistrations(ctx context.Context, workshopID int64) (int, error)
	DeleteStaleRegistrations(ctx context.Context, workshopID int64, userID string, processingBefore time.Time) (int64, error)
}

type PaymentLogStore interface {
	InsertPaymentLog(ctx context.Context, entry *models.PaymentLogEntry) error
}

type ProcessedEventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// ChargeGateway creates and fetches hosted charges.
type ChargeGateway interface {
	CreateCharge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*gateway.Charge, error)
}

type SeatCache interface {
	SetSeats(ctx context.Context, workshopID int64, snap redisclient.SeatSnapshot) error
	GetSeats(ctx context.Context, workshopID int64) (*redisclient.SeatSnapshot, error)
	InvalidateSeats(ctx context.Context, workshopID int64) error
}

type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// EventPublisher publishes domain events. Failures are logged by callers, never returned.
type EventPublisher interface {
	PublishRegistrationInitiated(ctx context.Context, event *models.RegistrationInitiatedEvent) error
	PublishRegistrationConfirmed(ctx context.Context, event *models.RegistrationConfirmedEvent) error
	PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishWorkshopsClosed(ctx context.Context, event *models.WorkshopsClosedEvent) error
}
