package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"workshop-service/internal/gateway"
	"workshop-service/internal/models"
	"workshop-service/internal/store"
	"workshop-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Transition sources
const (
	SourceVerifier = "verifier"
	SourceWebhook  = "webhook"
)

// PaymentReconciler applies gateway outcomes to registrations through the
// monotonic payment status guard.
type PaymentReconciler struct {
	registrations RegistrationStore
	events        ProcessedEventStore
	seats         *SeatAccountant
	paymentLog    *PaymentLogger
	publisher     EventPublisher
	logger        *zap.Logger
}

// NewPaymentReconciler creates a reconciler. publisher may be nil.
func NewPaymentReconciler(
	registrations RegistrationStore,
	events ProcessedEventStore,
	seats *SeatAccountant,
	paymentLog *PaymentLogger,
	publisher EventPublisher,
) *PaymentReconciler {
	return &PaymentReconciler{
		registrations: registrations,
		events:        events,
		seats:         seats,
		paymentLog:    paymentLog,
		publisher:     publisher,
		logger:        util.GetLogger(),
	}
}

var errChargeMismatch = errors.New("registration is bound to another charge")

// resolveRegistration finds the registration a charge belongs to by payment
// id. Charges fetched from the gateway by the verifier may also be matched by
// the registration_id in their metadata, which webhook signatures do not cover.
func (r *PaymentReconciler) resolveRegistration(ctx context.Context, charge *gateway.Charge, source string) (*models.Registration, error) {
	reg, err := r.registrations.GetRegistrationByPaymentID(ctx, charge.ID)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, store.ErrNotFound) || source != SourceVerifier {
		return nil, err
	}

	raw := charge.Metadata["registration_id"]
	if raw == "" {
		return nil, err
	}
	id, convErr := strconv.ParseInt(raw, 10, 64)
	if convErr != nil {
		return nil, fmt.Errorf("invalid registration_id metadata %q: %w", raw, convErr)
	}
	reg, err = r.registrations.GetRegistrationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.PaymentID != nil && *reg.PaymentID != charge.ID {
		return nil, fmt.Errorf("registration %d: %w", reg.ID, errChargeMismatch)
	}
	return reg, nil
}

// transitionAllowed pre-checks the loaded row; the store guard stays authoritative.
func transitionAllowed(reg *models.Registration, target string) bool {
	if reg.Status == models.RegistrationStatusCancelled {
		return false
	}
	return models.CanTransitionPayment(reg.PaymentStatus, target)
}

// MarkPaid confirms the registration of a captured charge. Returns false
// when the registration was already paid.
func (r *PaymentReconciler) MarkPaid(ctx context.Context, charge *gateway.Charge, source string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.MarkPaid",
		attribute.String("charge.id", charge.ID),
		attribute.String("source", source))
	defer span.End()

	reg, err := r.resolveRegistration(ctx, charge, source)
	if err != nil {
		util.RecordError(span, err)
		return false, fmt.Errorf("failed to resolve registration for charge %s: %w", charge.ID, err)
	}

	applied := false
	if transitionAllowed(reg, models.PaymentStatusPaid) {
		applied, err = r.registrations.TransitionPaymentStatus(ctx, reg.ID,
			models.PaymentStatusPaid, models.RegistrationStatusConfirmed)
	}
	if err != nil {
		util.RecordError(span, err)
		return false, fmt.Errorf("failed to mark registration %d paid: %w", reg.ID, err)
	}

	if !applied {
		r.logger.Info("Paid transition skipped",
			zap.Int64("registration_id", reg.ID),
			zap.String("current_status", reg.PaymentStatus),
			zap.String("source", source))
		return false, nil
	}

	util.PaymentTransitionsTotal.WithLabelValues(models.PaymentStatusPaid, source).Inc()
	util.RegistrationsConfirmedTotal.Inc()

	entry := paymentLogEntry(models.PaymentActionStatusTransition, models.PaymentStatusPaid, reg, charge)
	r.paymentLog.Log(ctx, entry)

	r.logger.Info("Registration confirmed",
		zap.Int64("registration_id", reg.ID),
		zap.Int64("workshop_id", reg.WorkshopID),
		zap.String("charge_id", charge.ID),
		zap.String("source", source))

	if r.seats != nil {
		r.seats.RecalculateBestEffort(ctx, reg.WorkshopID)
	}

	if r.publisher != nil {
		event := &models.PaymentCapturedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentCaptured,
				Timestamp: time.Now(),
			},
			RegistrationID: reg.ID,
			WorkshopID:     reg.WorkshopID,
			UserID:         reg.UserID,
			ChargeID:       charge.ID,
			Amount:         reg.Amount,
			Source:         source,
		}
		if err := r.publisher.PublishPaymentCaptured(ctx, event); err != nil {
			r.logger.Error("Failed to publish PaymentCaptured event", zap.Error(err))
		}
	}

	return true, nil
}

// MarkFailed moves the registration of a failed charge to payment failed.
// A paid registration is left untouched.
func (r *PaymentReconciler) MarkFailed(ctx context.Context, charge *gateway.Charge, source string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.MarkFailed",
		attribute.String("charge.id", charge.ID),
		attribute.String("source", source))
	defer span.End()

	reg, err := r.resolveRegistration(ctx, charge, source)
	if err != nil {
		util.RecordError(span, err)
		return false, fmt.Errorf("failed to resolve registration for charge %s: %w", charge.ID, err)
	}

	applied := false
	if transitionAllowed(reg, models.PaymentStatusFailed) {
		applied, err = r.registrations.TransitionPaymentStatus(ctx, reg.ID, models.PaymentStatusFailed, "")
	}
	if err != nil {
		util.RecordError(span, err)
		return false, fmt.Errorf("failed to mark registration %d failed: %w", reg.ID, err)
	}

	if !applied {
		r.logger.Info("Failed transition skipped",
			zap.Int64("registration_id", reg.ID),
			zap.String("current_status", reg.PaymentStatus),
			zap.String("source", source))
		return false, nil
	}

	util.PaymentTransitionsTotal.WithLabelValues(models.PaymentStatusFailed, source).Inc()

	entry := paymentLogEntry(models.PaymentActionStatusTransition, models.PaymentStatusFailed, reg, charge)
	r.paymentLog.Log(ctx, entry)

	r.logger.Warn("Registration payment failed",
		zap.Int64("registration_id", reg.ID),
		zap.String("charge_id", charge.ID),
		zap.String("charge_status", charge.Status))

	if r.publisher != nil {
		event := &models.PaymentFailedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentFailed,
				Timestamp: time.Now(),
			},
			RegistrationID: reg.ID,
			WorkshopID:     reg.WorkshopID,
			UserID:         reg.UserID,
			ChargeID:       charge.ID,
			Reason:         charge.Status,
		}
		if err := r.publisher.PublishPaymentFailed(ctx, event); err != nil {
			r.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
		}
	}

	return true, nil
}

// webhookEventID identifies one status delivery of one charge
func webhookEventID(charge *gateway.Charge) string {
	return charge.ID + ":" + strings.ToUpper(charge.Status)
}

// HandleWebhook applies a verified gateway webhook. Replayed deliveries are no-ops.
func (r *PaymentReconciler) HandleWebhook(ctx context.Context, charge *gateway.Charge) error {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.HandleWebhook", attribute.String("charge.id", charge.ID))
	defer span.End()

	eventID := webhookEventID(charge)

	processed, err := r.events.IsEventProcessed(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		r.logger.Info("Webhook already processed", zap.String("event_id", eventID))
		return nil
	}

	r.paymentLog.Log(ctx, paymentLogEntry(models.PaymentActionWebhookReceived, charge.Status, nil, charge))

	switch charge.Outcome() {
	case gateway.OutcomeCaptured:
		if _, err := r.MarkPaid(ctx, charge, SourceWebhook); err != nil {
			util.RecordError(span, err)
			return err
		}
	case gateway.OutcomeFailed:
		if _, err := r.MarkFailed(ctx, charge, SourceWebhook); err != nil {
			util.RecordError(span, err)
			return err
		}
	default:
		r.logger.Debug("Webhook for pending charge ignored",
			zap.String("charge_id", charge.ID),
			zap.String("status", charge.Status))
	}

	if err := r.events.MarkEventProcessed(ctx, eventID, strings.ToUpper(charge.Status)); err != nil {
		r.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}
