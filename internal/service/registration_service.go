package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
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

var errMissingRedirect = errors.New("gateway returned no payment page URL")

// RegistrationOptions configures payment initiation
type RegistrationOptions struct {
	Currency         string
	CallbackURL      string
	WebhookURL       string
	PhoneCountryCode string
	LockTTL          time.Duration
}

// RegistrationService drives a registration from submission to the hosted
// payment page, or straight to confirmation for free workshops.
type RegistrationService struct {
	workshops     WorkshopStore
	registrations RegistrationStore
	gateway       ChargeGateway
	cleanup       *RegistrationCleanup
	seats         *SeatAccountant
	paymentLog    *PaymentLogger
	publisher     EventPublisher
	locker        Locker
	opts          RegistrationOptions
	logger        *zap.Logger
}

// NewRegistrationService creates the registration orchestrator. publisher
// and locker may be nil.
func NewRegistrationService(
	workshops WorkshopStore,
	registrations RegistrationStore,
	gw ChargeGateway,
	cleanup *RegistrationCleanup,
	seats *SeatAccountant,
	paymentLog *PaymentLogger,
	publisher EventPublisher,
	locker Locker,
	opts RegistrationOptions,
) *RegistrationService {
	return &RegistrationService{
		workshops:     workshops,
		registrations: registrations,
		gateway:       gw,
		cleanup:       cleanup,
		seats:         seats,
		paymentLog:    paymentLog,
		publisher:     publisher,
		locker:        locker,
		opts:          opts,
		logger:        util.GetLogger(),
	}
}

// ContactDetails is the registrant's contact snapshot
type ContactDetails struct {
	FullName string `json:"full_name" binding:"required,max=200"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone" binding:"required,max=32"`
}

// InitiateRegistrationRequest represents a registration submission
type InitiateRegistrationRequest struct {
	WorkshopID   int64
	RegistrantID string
	Contact      ContactDetails
	IsRetry      bool
}

// RegistrationResult is returned on a successful submission
type RegistrationResult struct {
	RegistrationID int64  `json:"registration_id"`
	Status         string `json:"status"`
	PaymentStatus  string `json:"payment_status"`
	RedirectURL    string `json:"redirect_url,omitempty"`
	ChargeID       string `json:"charge_id,omitempty"`
}

// InitiateRegistration validates the submission, creates the registration row
// and, for priced workshops, starts a hosted charge.
func (s *RegistrationService) InitiateRegistration(ctx context.Context, req *InitiateRegistrationRequest) (*RegistrationResult, error) {
	ctx, span := util.StartSpan(ctx, "RegistrationService.InitiateRegistration",
		attribute.Int64("workshop.id", req.WorkshopID),
		attribute.Bool("retry", req.IsRetry))
	defer span.End()

	result, err := s.initiate(ctx, req)
	if err != nil {
		util.RecordError(span, err)
		util.RegistrationsRejectedTotal.WithLabelValues(string(KindOf(err))).Inc()
		return nil, err
	}
	return result, nil
}

func (s *RegistrationService) initiate(ctx context.Context, req *InitiateRegistrationRequest) (*RegistrationResult, error) {
	if strings.TrimSpace(req.RegistrantID) == "" {
		return nil, newRegistrationError(KindUnauthenticated, MsgUnauthenticated, nil)
	}

	workshop, err := s.workshops.GetWorkshopByID(ctx, req.WorkshopID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newRegistrationError(KindWorkshopNotFound, MsgWorkshopNotFound, err)
	}
	if err != nil {
		return nil, newRegistrationError(KindRegistrationFailed, "could not load workshop", err)
	}

	if workshop.RegistrationClosed {
		return nil, newRegistrationError(KindRegistrationClosed, MsgRegistrationClosed, nil)
	}

	release, held := s.acquireSubmissionLock(ctx, req)
	if held {
		return nil, newRegistrationError(KindDuplicateRegistration, duplicateMessage(req.IsRetry, nil), nil)
	}
	defer release()

	attempt := "first"
	if req.IsRetry {
		attempt = "retry"
	}
	util.RegistrationsInitiatedTotal.WithLabelValues(attempt).Inc()

	if !req.IsRetry && s.cleanup != nil {
		if _, err := s.cleanup.CleanupAbandoned(ctx, workshop.ID, req.RegistrantID); err != nil {
			s.logger.Warn("Pre-registration cleanup failed",
				zap.Int64("workshop_id", workshop.ID),
				zap.String("registrant_id", req.RegistrantID),
				zap.Error(err))
		}
	}

	reg := &models.Registration{
		WorkshopID: workshop.ID,
		UserID:     req.RegistrantID,
		FullName:   strings.TrimSpace(req.Contact.FullName),
		Email:      strings.TrimSpace(req.Contact.Email),
		Phone:      strings.TrimSpace(req.Contact.Phone),
		Amount:     workshop.Price,
	}
	if workshop.IsFree() {
		reg.Status = models.RegistrationStatusConfirmed
		reg.PaymentStatus = models.PaymentStatusPaid
		reg.Amount = 0
	} else {
		reg.Status = models.RegistrationStatusPending
		reg.PaymentStatus = models.PaymentStatusProcessing
	}

	if err := s.registrations.CreateRegistration(ctx, reg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, newRegistrationError(KindDuplicateRegistration, s.conflictMessage(ctx, req), err)
		}
		if s.seats != nil {
			s.seats.RecalculateBestEffort(ctx, workshop.ID)
		}
		return nil, newRegistrationError(KindRegistrationFailed, "could not create the registration, please try again", err)
	}

	s.logger.Info("Registration created",
		zap.Int64("registration_id", reg.ID),
		zap.Int64("workshop_id", workshop.ID),
		zap.String("registrant_id", reg.UserID),
		zap.String("payment_status", reg.PaymentStatus),
		zap.Bool("retry", req.IsRetry))

	s.publishInitiated(ctx, reg, req.IsRetry)

	if workshop.IsFree() {
		return s.confirmFree(ctx, reg), nil
	}
	return s.initiatePayment(ctx, workshop, reg, req.IsRetry)
}

// conflictMessage describes the registrant's existing row. A failed lookup
// falls back to the message for the retry flag alone.
func (s *RegistrationService) conflictMessage(ctx context.Context, req *InitiateRegistrationRequest) string {
	if !req.IsRetry {
		return duplicateMessage(false, nil)
	}
	existing, err := s.registrations.GetRegistrationByWorkshopAndUser(ctx, req.WorkshopID, req.RegistrantID)
	if err != nil {
		s.logger.Warn("Failed to load conflicting registration",
			zap.Int64("workshop_id", req.WorkshopID),
			zap.String("registrant_id", req.RegistrantID),
			zap.Error(err))
		return duplicateMessage(true, nil)
	}
	return duplicateMessage(true, existing)
}

// acquireSubmissionLock guards against concurrent submissions by the same
// registrant. A Redis failure does not block registration.
func (s *RegistrationService) acquireSubmissionLock(ctx context.Context, req *InitiateRegistrationRequest) (release func(), held bool) {
	noop := func() {}
	if s.locker == nil {
		return noop, false
	}

	key := fmt.Sprintf("registration:%d:%s", req.WorkshopID, req.RegistrantID)
	token, err := s.locker.AcquireLock(ctx, key, s.opts.LockTTL)
	if err != nil {
		s.logger.Warn("Submission lock unavailable, continuing without it",
			zap.String("lock_key", key),
			zap.Error(err))
		return noop, false
	}
	if token == "" {
		return noop, true
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.locker.ReleaseLock(ctx, key, token); err != nil {
			s.logger.Warn("Failed to release submission lock",
				zap.String("lock_key", key),
				zap.Error(err))
		}
	}, false
}

func (s *RegistrationService) confirmFree(ctx context.Context, reg *models.Registration) *RegistrationResult {
	util.RegistrationsConfirmedTotal.Inc()

	if s.seats != nil {
		s.seats.RecalculateBestEffort(ctx, reg.WorkshopID)
	}

	if s.publisher != nil {
		event := &models.RegistrationConfirmedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeRegistrationConfirmed,
				Timestamp: time.Now(),
			},
			RegistrationID: reg.ID,
			WorkshopID:     reg.WorkshopID,
			UserID:         reg.UserID,
		}
		if err := s.publisher.PublishRegistrationConfirmed(ctx, event); err != nil {
			s.logger.Error("Failed to publish RegistrationConfirmed event", zap.Error(err))
		}
	}

	return &RegistrationResult{
		RegistrationID: reg.ID,
		Status:         reg.Status,
		PaymentStatus:  reg.PaymentStatus,
	}
}

func (s *RegistrationService) publishInitiated(ctx context.Context, reg *models.Registration, retry bool) {
	if s.publisher == nil {
		return
	}
	event := &models.RegistrationInitiatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeRegistrationInitiated,
			Timestamp: time.Now(),
		},
		RegistrationID: reg.ID,
		WorkshopID:     reg.WorkshopID,
		UserID:         reg.UserID,
		Amount:         reg.Amount,
		Retry:          retry,
	}
	if err := s.publisher.PublishRegistrationInitiated(ctx, event); err != nil {
		s.logger.Error("Failed to publish RegistrationInitiated event", zap.Error(err))
	}
}

// initiatePayment creates a hosted charge for reg and returns the page to
// redirect the browser to. Any failure leaves the row in payment failed.
func (s *RegistrationService) initiatePayment(ctx context.Context, workshop *models.Workshop, reg *models.Registration, retry bool) (*RegistrationResult, error) {
	ctx, span := util.StartSpan(ctx, "RegistrationService.initiatePayment", attribute.Int64("registration.id", reg.ID))
	defer span.End()

	chargeReq := s.buildChargeRequest(workshop, reg, retry)

	charge, err := s.gateway.CreateCharge(ctx, chargeReq)
	if err == nil && charge.RedirectURL() == "" {
		err = errMissingRedirect
	}
	if err != nil {
		util.ChargesCreatedTotal.WithLabelValues("failed").Inc()
		util.RecordError(span, err)

		s.paymentLog.Log(ctx, withError(paymentLogEntry(models.PaymentActionChargeFailed, "", reg, charge), err))

		if _, tErr := s.registrations.TransitionPaymentStatus(ctx, reg.ID, models.PaymentStatusFailed, ""); tErr != nil {
			s.logger.Error("Failed to mark registration payment failed",
				zap.Int64("registration_id", reg.ID),
				zap.Error(tErr))
		}

		s.logger.Error("Charge creation failed",
			zap.Int64("registration_id", reg.ID),
			zap.Error(err))
		return nil, newRegistrationError(KindPaymentInitiationFailed, gatewayMessage(err), err)
	}

	util.ChargesCreatedTotal.WithLabelValues("success").Inc()

	if err := s.registrations.SetRegistrationPaymentID(ctx, reg.ID, charge.ID); err != nil {
		s.logger.Error("Failed to record charge id on registration",
			zap.Int64("registration_id", reg.ID),
			zap.String("charge_id", charge.ID),
			zap.Error(err))
	} else {
		id := charge.ID
		reg.PaymentID = &id
	}

	s.paymentLog.Log(ctx, paymentLogEntry(models.PaymentActionChargeCreated, charge.Status, reg, charge))

	s.logger.Info("Charge created",
		zap.Int64("registration_id", reg.ID),
		zap.String("charge_id", charge.ID),
		zap.String("charge_status", charge.Status))

	return &RegistrationResult{
		RegistrationID: reg.ID,
		Status:         reg.Status,
		PaymentStatus:  reg.PaymentStatus,
		RedirectURL:    charge.RedirectURL(),
		ChargeID:       charge.ID,
	}, nil
}

func (s *RegistrationService) buildChargeRequest(workshop *models.Workshop, reg *models.Registration, retry bool) *gateway.ChargeRequest {
	attempt := "first"
	if retry {
		attempt = "retry"
	}

	firstName, lastName := splitName(reg.FullName)
	customer := gateway.Customer{
		FirstName: firstName,
		LastName:  lastName,
		Email:     reg.Email,
	}
	if number := phoneNumber(reg.Phone, s.opts.PhoneCountryCode); number != "" {
		customer.Phone = &gateway.Phone{CountryCode: s.opts.PhoneCountryCode, Number: number}
	}

	description := workshop.TitleEn
	if workshop.TitleAr != "" {
		description = workshop.TitleAr + " / " + workshop.TitleEn
	}

	req := &gateway.ChargeRequest{
		Amount:            workshop.Price,
		Currency:          s.opts.Currency,
		CustomerInitiated: true,
		ThreeDSecure:      true,
		Description:       strings.Trim(description, " /"),
		Metadata: map[string]string{
			"workshop_id":     strconv.FormatInt(workshop.ID, 10),
			"registrant_id":   reg.UserID,
			"registration_id": strconv.FormatInt(reg.ID, 10),
		},
		Reference: gateway.Reference{
			Transaction: fmt.Sprintf("ws%d-u%s-%s-%s", workshop.ID, reg.UserID, attempt, uuid.New().String()[:8]),
			Order:       strconv.FormatInt(reg.ID, 10),
		},
		Receipt:  gateway.Receipt{Email: true},
		Customer: customer,
		Source:   gateway.Source{ID: "src_all"},
		Redirect: gateway.Endpoint{URL: callbackURL(s.opts.CallbackURL, workshop.ID)},
	}
	if s.opts.WebhookURL != "" {
		req.Post = &gateway.Endpoint{URL: s.opts.WebhookURL}
	}
	return req
}

// callbackURL appends workshop_id to the configured callback
func callbackURL(base string, workshopID int64) string {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Sprintf("%s?workshop_id=%d", base, workshopID)
	}
	q := u.Query()
	q.Set("workshop_id", strconv.FormatInt(workshopID, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// phoneNumber keeps the digits of phone and drops a leading country code
func phoneNumber(phone, countryCode string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	digits = strings.TrimPrefix(digits, "00")
	if countryCode != "" && len(digits) > len(countryCode)+6 {
		digits = strings.TrimPrefix(digits, countryCode)
	}
	return digits
}

// gatewayMessage turns a charge creation error into a user-facing message
func gatewayMessage(err error) string {
	var apiErr *gateway.APIError
	switch {
	case errors.Is(err, gateway.ErrMissingSecretKey):
		return "payment service is not configured, please contact support"
	case errors.Is(err, gateway.ErrInvalidSecretKey):
		return "payment service authentication failed, please contact support"
	case errors.Is(err, errMissingRedirect):
		return "payment gateway did not return a payment page, please try again"
	case errors.As(err, &apiErr) && apiErr.Description != "":
		return apiErr.Description
	default:
		return "payment gateway is unavailable, please try again"
	}
}
