package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"workshop-service/internal/gateway"
	"workshop-service/internal/models"
	"workshop-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// VerificationState is the terminal state of a payment verification
type VerificationState string

const (
	VerificationSuccess VerificationState = "success"
	VerificationFailed  VerificationState = "failed"
	VerificationError   VerificationState = "error"
)

// VerificationResult is what the callback page needs to render
type VerificationResult struct {
	State        VerificationState `json:"state"`
	Attempts     int               `json:"attempts"`
	ChargeStatus string            `json:"charge_status,omitempty"`
	Kind         ErrorKind         `json:"kind,omitempty"`
	Message      string            `json:"message"`
}

// RetryPolicy bounds how often a pending charge is re-fetched
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy polls twice, 1.5s apart
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Delay: 1500 * time.Millisecond}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// wait sleeps for Delay or until ctx is done
func (p RetryPolicy) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PaymentVerifier resolves the outcome of a charge after the browser returns
// from the hosted payment page.
type PaymentVerifier struct {
	gateway    ChargeGateway
	reconciler *PaymentReconciler
	seats      *SeatAccountant
	paymentLog *PaymentLogger
	policy     RetryPolicy
	logger     *zap.Logger
}

func NewPaymentVerifier(
	gw ChargeGateway,
	reconciler *PaymentReconciler,
	seats *SeatAccountant,
	paymentLog *PaymentLogger,
	policy RetryPolicy,
) *PaymentVerifier {
	return &PaymentVerifier{
		gateway:    gw,
		reconciler: reconciler,
		seats:      seats,
		paymentLog: paymentLog,
		policy:     policy,
		logger:     util.GetLogger(),
	}
}

// VerifyPayment resolves chargeID to success, failed or error. statusHint is
// the status the gateway appended to the redirect; workshopID, when positive,
// has its seats recalculated on success.
func (v *PaymentVerifier) VerifyPayment(ctx context.Context, chargeID, statusHint string, workshopID int64) VerificationResult {
	ctx, span := util.StartSpan(ctx, "PaymentVerifier.VerifyPayment",
		attribute.String("charge.id", chargeID),
		attribute.String("status_hint", statusHint))
	defer span.End()

	var result VerificationResult
	switch {
	case strings.TrimSpace(chargeID) == "":
		result = VerificationResult{
			State:   VerificationError,
			Kind:    KindMissingChargeID,
			Message: MsgMissingChargeID,
		}
	case gateway.Classify(statusHint) == gateway.OutcomeCaptured:
		result = v.confirmCaptured(ctx, chargeID, workshopID)
	default:
		result = v.poll(ctx, chargeID, workshopID)
	}

	span.SetAttributes(attribute.String("state", string(result.State)), attribute.Int("attempts", result.Attempts))
	util.PaymentVerificationsTotal.WithLabelValues(string(result.State)).Inc()
	util.PaymentVerificationAttempts.Observe(float64(result.Attempts))

	entry := withWorkshop(withPaymentID(&models.PaymentLogEntry{
		Action: models.PaymentActionVerifyResult,
		Status: string(result.State),
	}, chargeID), workshopID)
	v.paymentLog.Log(ctx, entry)

	v.logger.Info("Payment verification finished",
		zap.String("charge_id", chargeID),
		zap.String("state", string(result.State)),
		zap.Int("attempts", result.Attempts),
		zap.String("charge_status", result.ChargeStatus))

	return result
}

// confirmCaptured trusts a captured hint but fetches once to persist the
// outcome. Only a fetch that confirms capture marks the registration paid.
func (v *PaymentVerifier) confirmCaptured(ctx context.Context, chargeID string, workshopID int64) VerificationResult {
	result := VerificationResult{
		State:        VerificationSuccess,
		Attempts:     1,
		ChargeStatus: gateway.StatusCaptured,
		Message:      MsgPaymentConfirmed,
	}

	charge, err := v.fetch(ctx, chargeID, 1, workshopID)
	switch {
	case err != nil:
		v.logger.Warn("Confirmatory fetch failed for captured charge",
			zap.String("charge_id", chargeID),
			zap.Error(err))
	case charge.Outcome() == gateway.OutcomeCaptured:
		v.markPaid(ctx, charge)
	default:
		v.logger.Warn("Captured hint not confirmed by gateway",
			zap.String("charge_id", chargeID),
			zap.String("gateway_status", charge.Status))
	}

	v.recalculate(ctx, workshopID)
	return result
}

func (v *PaymentVerifier) poll(ctx context.Context, chargeID string, workshopID int64) VerificationResult {
	result := VerificationResult{State: VerificationError, Message: MsgVerificationErrored}

	for attempt := 1; attempt <= v.policy.attempts(); attempt++ {
		if attempt > 1 {
			if err := v.policy.wait(ctx); err != nil {
				v.logger.Warn("Payment verification interrupted",
					zap.String("charge_id", chargeID),
					zap.Error(err))
				return result
			}
		}

		result.Attempts = attempt
		charge, err := v.fetch(ctx, chargeID, attempt, workshopID)
		if err != nil {
			if errors.Is(err, gateway.ErrMissingSecretKey) || errors.Is(err, gateway.ErrInvalidSecretKey) {
				return result
			}
			continue
		}
		result.ChargeStatus = charge.Status

		switch charge.Outcome() {
		case gateway.OutcomeCaptured:
			v.markPaid(ctx, charge)
			v.recalculate(ctx, workshopID)
			result.State = VerificationSuccess
			result.Message = MsgPaymentConfirmed
			return result
		case gateway.OutcomeFailed:
			if _, err := v.reconciler.MarkFailed(ctx, charge, SourceVerifier); err != nil {
				v.logger.Error("Failed to mark registration failed",
					zap.String("charge_id", chargeID),
					zap.Error(err))
			}
			result.State = VerificationFailed
			result.Message = MsgVerificationFailed
			return result
		}
	}

	return result
}

func (v *PaymentVerifier) fetch(ctx context.Context, chargeID string, attempt int, workshopID int64) (*gateway.Charge, error) {
	charge, err := v.gateway.GetCharge(ctx, chargeID)

	status := ""
	if charge != nil {
		status = charge.Status
	}
	entry := withWorkshop(withPaymentID(withError(
		paymentLogEntry(models.PaymentActionVerifyAttempt, status, nil, charge), err), chargeID), workshopID)
	v.paymentLog.Log(ctx, entry)

	if err != nil {
		v.logger.Warn("Charge fetch failed",
			zap.String("charge_id", chargeID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return nil, err
	}
	return charge, nil
}

func (v *PaymentVerifier) markPaid(ctx context.Context, charge *gateway.Charge) {
	if _, err := v.reconciler.MarkPaid(ctx, charge, SourceVerifier); err != nil {
		v.logger.Error("Failed to mark registration paid",
			zap.String("charge_id", charge.ID),
			zap.Error(err))
	}
}

func (v *PaymentVerifier) recalculate(ctx context.Context, workshopID int64) {
	if workshopID > 0 && v.seats != nil {
		v.seats.RecalculateBestEffort(ctx, workshopID)
	}
}
