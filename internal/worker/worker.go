package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"workshop-service/internal/broker"
	"workshop-service/internal/gateway"
	"workshop-service/internal/models"
	"workshop-service/internal/notify"
	"workshop-service/internal/util"

	"go.uber.org/zap"
)

// ConfirmationStore is what the confirmation sender reads and records
type ConfirmationStore interface {
	GetRegistrationByID(ctx context.Context, id int64) (*models.Registration, error)
	GetWorkshopByID(ctx context.Context, id int64) (*models.Workshop, error)
	GetWorkshopSchedules(ctx context.Context, workshopID int64) ([]models.WorkshopSchedule, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// ConfirmationSender emails a registrant once their seat is confirmed
type ConfirmationSender struct {
	store    ConfirmationStore
	mailer   notify.Mailer
	currency string
	logger   *zap.Logger
}

func NewConfirmationSender(store ConfirmationStore, mailer notify.Mailer, currency string) *ConfirmationSender {
	return &ConfirmationSender{
		store:    store,
		mailer:   mailer,
		currency: currency,
		logger:   util.GetLogger(),
	}
}

// HandlePaymentCaptured sends the confirmation for a paid registration
func (s *ConfirmationSender) HandlePaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error {
	return s.send(ctx, event.EventID, event.EventType, event.RegistrationID, event.ChargeID)
}

// HandleRegistrationConfirmed sends the confirmation for a free registration
func (s *ConfirmationSender) HandleRegistrationConfirmed(ctx context.Context, event *models.RegistrationConfirmedEvent) error {
	return s.send(ctx, event.EventID, event.EventType, event.RegistrationID, "")
}

func (s *ConfirmationSender) send(ctx context.Context, eventID, eventType string, registrationID int64, chargeID string) error {
	ctx, span := util.StartSpan(ctx, "ConfirmationSender.send")
	defer span.End()

	dedupeKey := "email:" + eventID
	processed, err := s.store.IsEventProcessed(ctx, dedupeKey)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		s.logger.Info("Confirmation already sent", zap.String("event_id", eventID))
		return nil
	}

	reg, err := s.store.GetRegistrationByID(ctx, registrationID)
	if err != nil {
		return fmt.Errorf("failed to load registration: %w", err)
	}
	workshop, err := s.store.GetWorkshopByID(ctx, reg.WorkshopID)
	if err != nil {
		return fmt.Errorf("failed to load workshop: %w", err)
	}
	sessions, err := s.store.GetWorkshopSchedules(ctx, reg.WorkshopID)
	if err != nil {
		s.logger.Warn("Failed to load workshop schedule, sending without it",
			zap.Int64("workshop_id", reg.WorkshopID),
			zap.Error(err))
	}

	data := notify.ConfirmationData{
		FullName:       reg.FullName,
		TitleAr:        workshop.TitleAr,
		TitleEn:        workshop.TitleEn,
		ChargeID:       chargeID,
		Sessions:       sessions,
		RegistrationID: reg.ID,
	}
	if reg.Amount > 0 {
		data.Amount = gateway.FormatAmount(reg.Amount, s.currency) + " " + strings.ToUpper(s.currency)
	}

	msg, err := notify.ConfirmationMessage(reg.Email, data)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := s.mailer.Send(sendCtx, msg); err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to send confirmation: %w", err)
	}

	if err := s.store.MarkEventProcessed(ctx, dedupeKey, eventType); err != nil {
		s.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	s.logger.Info("Confirmation email sent",
		zap.Int64("registration_id", reg.ID),
		zap.String("event_type", eventType))
	return nil
}

// ConfirmationWorker consumes domain events and sends confirmation emails
type ConfirmationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewConfirmationWorker creates a new confirmation worker
func NewConfirmationWorker(consumer *broker.Consumer, sender *ConfirmationSender) *ConfirmationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentCaptured(sender.HandlePaymentCaptured)
	eventHandler.OnRegistrationConfirmed(sender.HandleRegistrationConfirmed)

	return &ConfirmationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *ConfirmationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting confirmation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ConfirmationWorker) Stop() error {
	w.logger.Info("Stopping confirmation worker")
	return w.consumer.Close()
}
