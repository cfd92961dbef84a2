package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"workshop-service/internal/gateway"
	"workshop-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// verifierHarness seeds a workshop with one processing registration on chg_1
func verifierHarness() (*harness, *models.Registration) {
	h := newHarness()
	h.store.addWorkshop(models.Workshop{ID: 1, Price: 25, TotalSeats: 10, AvailableSeats: 10})
	chargeID := "chg_1"
	reg := h.store.addRegistration(models.Registration{
		WorkshopID:    1,
		UserID:        "user-1",
		Status:        models.RegistrationStatusPending,
		PaymentStatus: models.PaymentStatusProcessing,
		PaymentID:     &chargeID,
		Amount:        25,
	})
	return h, reg
}

func TestVerifyPayment_MissingChargeID(t *testing.T) {
	h, _ := verifierHarness()

	result := h.verifier.VerifyPayment(context.Background(), "", gateway.StatusCaptured, 1)
	assert.Equal(t, VerificationError, result.State)
	assert.Equal(t, KindMissingChargeID, result.Kind)
	assert.Equal(t, 0, result.Attempts)
	assert.Equal(t, 0, h.gw.calls())
}

func TestVerifyPayment_CapturedHint(t *testing.T) {
	h, reg := verifierHarness()
	h.gw.fetches = []fetchResult{{charge: charge("chg_1", gateway.StatusCaptured, reg.ID)}}

	result := h.verifier.VerifyPayment(context.Background(), "chg_1", "CAPTURED", 1)
	assert.Equal(t, VerificationSuccess, result.State)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, h.gw.calls())

	stored := h.store.registration(reg.ID)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.RegistrationStatusConfirmed, stored.Status)
	assert.Equal(t, 9, h.store.workshop(1).AvailableSeats)
	assert.Contains(t, h.pub.published(), models.EventTypePaymentCaptured)
}

func TestVerifyPayment_CapturedHintNotConfirmed(t *testing.T) {
	h, reg := verifierHarness()
	h.gw.fetches = []fetchResult{{charge: charge("chg_1", gateway.StatusInProgress, reg.ID)}}

	result := h.verifier.VerifyPayment(context.Background(), "chg_1", "CAPTURED", 1)
	assert.Equal(t, VerificationSuccess, result.State)
	assert.Equal(t, models.PaymentStatusProcessing, h.store.registration(reg.ID).PaymentStatus)
	assert.Equal(t, 10, h.store.workshop(1).AvailableSeats)
}

func TestVerifyPayment_Polling(t *testing.T) {
	tests := []struct {
		name         string
		fetches      []fetchResult
		wantState    VerificationState
		wantAttempts int
		wantPayment  string
	}{
		{
			name:         "captured on first fetch",
			fetches:      []fetchResult{{charge: charge("chg_1", gateway.StatusCaptured, 1)}},
			wantState:    VerificationSuccess,
			wantAttempts: 1,
			wantPayment:  models.PaymentStatusPaid,
		},
		{
			name: "pending then captured",
			fetches: []fetchResult{
				{charge: charge("chg_1", gateway.StatusInitiated, 1)},
				{charge: charge("chg_1", gateway.StatusCaptured, 1)},
			},
			wantState:    VerificationSuccess,
			wantAttempts: 2,
			wantPayment:  models.PaymentStatusPaid,
		},
		{
			name:         "declined is a failure",
			fetches:      []fetchResult{{charge: charge("chg_1", gateway.StatusDeclined, 1)}},
			wantState:    VerificationFailed,
			wantAttempts: 1,
			wantPayment:  models.PaymentStatusFailed,
		},
		{
			name:         "still pending after every attempt",
			fetches:      []fetchResult{{charge: charge("chg_1", gateway.StatusInProgress, 1)}},
			wantState:    VerificationError,
			wantAttempts: 2,
			wantPayment:  models.PaymentStatusProcessing,
		},
		{
			name: "fetch error then captured",
			fetches: []fetchResult{
				{err: errors.New("timeout")},
				{charge: charge("chg_1", gateway.StatusCaptured, 1)},
			},
			wantState:    VerificationSuccess,
			wantAttempts: 2,
			wantPayment:  models.PaymentStatusPaid,
		},
		{
			name:         "fetch error on last attempt",
			fetches:      []fetchResult{{err: errors.New("timeout")}},
			wantState:    VerificationError,
			wantAttempts: 2,
			wantPayment:  models.PaymentStatusProcessing,
		},
		{
			name:         "missing secret key stops polling",
			fetches:      []fetchResult{{err: gateway.ErrMissingSecretKey}},
			wantState:    VerificationError,
			wantAttempts: 1,
			wantPayment:  models.PaymentStatusProcessing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, reg := verifierHarness()
			h.gw.fetches = tt.fetches

			result := h.verifier.VerifyPayment(context.Background(), "chg_1", "", 1)
			assert.Equal(t, tt.wantState, result.State)
			assert.Equal(t, tt.wantAttempts, result.Attempts)
			assert.LessOrEqual(t, h.gw.calls(), 2)
			assert.Equal(t, tt.wantPayment, h.store.registration(reg.ID).PaymentStatus)
		})
	}
}

func TestVerifyPayment_LogsEveryAttempt(t *testing.T) {
	h, reg := verifierHarness()
	h.gw.fetches = []fetchResult{
		{charge: charge("chg_1", gateway.StatusInitiated, reg.ID)},
		{charge: charge("chg_1", gateway.StatusCaptured, reg.ID)},
	}

	h.verifier.VerifyPayment(context.Background(), "chg_1", "", 1)
	assert.Equal(t, []string{
		models.PaymentActionVerifyAttempt,
		models.PaymentActionVerifyAttempt,
		models.PaymentActionStatusTransition,
		models.PaymentActionVerifyResult,
	}, h.store.logActions())
}

func TestVerifyPayment_ContextCancelledDuringWait(t *testing.T) {
	h, reg := verifierHarness()
	h.verifier.policy = RetryPolicy{MaxAttempts: 3, Delay: time.Minute}
	h.gw.fetches = []fetchResult{{charge: charge("chg_1", gateway.StatusInitiated, reg.ID)}}

	ctx, cancel := context.WithCancel(context.Background())
	h.gw.onGetCall = func(int) { cancel() }

	done := make(chan VerificationResult, 1)
	go func() { done <- h.verifier.VerifyPayment(ctx, "chg_1", "", 1) }()

	select {
	case result := <-done:
		assert.Equal(t, VerificationError, result.State)
		assert.Equal(t, 1, result.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("verification did not honour cancellation")
	}
}

func TestVerifyPayment_ExampleScenario(t *testing.T) {
	h := pricedHarness()

	result, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, "user-a", false))
	require.NoError(t, err)
	assert.Equal(t, 10, h.store.workshop(1).AvailableSeats)

	h.gw.fetches = []fetchResult{{charge: charge(result.ChargeID, gateway.StatusCaptured, result.RegistrationID)}}
	verification := h.verifier.VerifyPayment(context.Background(), result.ChargeID, "CAPTURED", 1)

	assert.Equal(t, VerificationSuccess, verification.State)
	assert.Equal(t, 1, verification.Attempts)
	assert.Equal(t, 9, h.store.workshop(1).AvailableSeats)
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 2, p.MaxAttempts)
	assert.Equal(t, 1500*time.Millisecond, p.Delay)
	assert.Equal(t, 1, RetryPolicy{}.attempts())
}
