package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"workshop-service/internal/gateway"
	"workshop-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registrationRequest(workshopID int64, user string, retry bool) *InitiateRegistrationRequest {
	return &InitiateRegistrationRequest{
		WorkshopID:   workshopID,
		RegistrantID: user,
		Contact: ContactDetails{
			FullName: "Layla Al Hassan",
			Email:    "layla@example.com",
			Phone:    "+965 5000 1234",
		},
		IsRetry: retry,
	}
}

func pricedHarness() *harness {
	h := newHarness()
	h.store.addWorkshop(models.Workshop{ID: 1, TitleAr: "ورشة", TitleEn: "Pottery", Price: 25, TotalSeats: 10, AvailableSeats: 10})
	h.gw.createCharge = &gateway.Charge{
		ID:          "chg_1",
		Status:      gateway.StatusInitiated,
		Transaction: gateway.Transaction{URL: "https://checkout.example.com/chg_1"},
		Raw:         []byte(`{"id":"chg_1"}`),
	}
	return h
}

func TestInitiateRegistration_PricedWorkshop(t *testing.T) {
	h := pricedHarness()

	result, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, "user-1", false))
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.example.com/chg_1", result.RedirectURL)
	assert.Equal(t, "chg_1", result.ChargeID)
	assert.Equal(t, models.RegistrationStatusPending, result.Status)
	assert.Equal(t, models.PaymentStatusProcessing, result.PaymentStatus)

	reg := h.store.registration(result.RegistrationID)
	require.NotNil(t, reg.PaymentID)
	assert.Equal(t, "chg_1", *reg.PaymentID)
	assert.Equal(t, 25.0, reg.Amount)

	require.Len(t, h.gw.createReqs, 1)
	req := h.gw.createReqs[0]
	assert.Equal(t, 25.0, req.Amount)
	assert.Equal(t, "KWD", req.Currency)
	assert.Equal(t, "src_all", req.Source.ID)
	assert.Equal(t, "Layla", req.Customer.FirstName)
	assert.Equal(t, "Al Hassan", req.Customer.LastName)
	require.NotNil(t, req.Customer.Phone)
	assert.Equal(t, "50001234", req.Customer.Phone.Number)
	assert.Equal(t, "1", req.Metadata["workshop_id"])
	assert.Equal(t, "user-1", req.Metadata["registrant_id"])
	assert.True(t, strings.HasPrefix(req.Reference.Transaction, "ws1-uuser-1-first-"))

	redirect, err := url.Parse(req.Redirect.URL)
	require.NoError(t, err)
	assert.Equal(t, "1", redirect.Query().Get("workshop_id"))

	require.NotNil(t, req.Post, "charge must carry the webhook endpoint")
	assert.Equal(t, "https://api.workshops.example.com/api/v1/payments/webhook", req.Post.URL)

	assert.Equal(t, []string{models.PaymentActionChargeCreated}, h.store.logActions())
	assert.Equal(t, []string{models.EventTypeRegistrationInitiated}, h.pub.published())
	assert.Empty(t, h.locker.held, "submission lock must be released")
}

func TestInitiateRegistration_Unauthenticated(t *testing.T) {
	h := pricedHarness()

	_, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, " ", false))
	require.Error(t, err)
	assert.Equal(t, KindUnauthenticated, KindOf(err))
	assert.Equal(t, 0, h.store.registrationCount())
}

func TestInitiateRegistration_WorkshopNotFound(t *testing.T) {
	h := pricedHarness()

	_, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(99, "user-1", false))
	assert.Equal(t, KindWorkshopNotFound, KindOf(err))
}

func TestInitiateRegistration_ClosedWorkshop(t *testing.T) {
	for _, retry := range []bool{false, true} {
		h := newHarness()
		h.store.addWorkshop(models.Workshop{ID: 1, Price: 25, TotalSeats: 10, AvailableSeats: 10, RegistrationClosed: true})

		_, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, "user-1", retry))
		require.Error(t, err)
		assert.Equal(t, KindRegistrationClosed, KindOf(err))
		assert.Equal(t, 0, h.store.registrationCount())
		assert.Empty(t, h.gw.createReqs)
	}
}

var processingRow = models.Registration{WorkshopID: 1, UserID: "user-1",
	Status: models.RegistrationStatusPending, PaymentStatus: models.PaymentStatusProcessing}

var paidRow = models.Registration{WorkshopID: 1, UserID: "user-1",
	Status: models.RegistrationStatusConfirmed, PaymentStatus: models.PaymentStatusPaid}

var failedRow = models.Registration{WorkshopID: 1, UserID: "user-1",
	Status: models.RegistrationStatusPending, PaymentStatus: models.PaymentStatusFailed}

func TestInitiateRegistration_DuplicateMessages(t *testing.T) {
	tests := []struct {
		name     string
		retry    bool
		existing models.Registration
		wantMsg  string
	}{
		{"fresh attempt is told it is already registered", false, processingRow, MsgAlreadyRegistered},
		{"retry is told the previous attempt is processing", true, processingRow, MsgAttemptInProgress},
		{"retry over a paid row is told it is already registered", true, paidRow, MsgAlreadyRegistered},
		{"retry over a failed row is told to start again", true, failedRow, MsgAttemptFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := pricedHarness()
			h.store.addRegistration(tt.existing)

			_, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, "user-1", tt.retry))
			require.Error(t, err)

			var regErr *RegistrationError
			require.True(t, errors.As(err, &regErr))
			assert.Equal(t, KindDuplicateRegistration, regErr.Kind)
			assert.Equal(t, tt.wantMsg, regErr.Message)
			assert.Empty(t, h.gw.createReqs)
		})
	}
}

func TestInitiateRegistration_FreshAttemptReplacesFailedRow(t *testing.T) {
	h := pricedHarness()
	old := h.store.addRegistration(models.Registration{WorkshopID: 1, UserID: "user-1",
		Status: models.RegistrationStatusPending, PaymentStatus: models.PaymentStatusFailed})

	result, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, "user-1", false))
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, result.RegistrationID)
	assert.Equal(t, 1, h.store.registrationCount())
}

func TestInitiateRegistration_SubmissionLock(t *testing.T) {
	t.Run("held lock is a duplicate submission", func(t *testing.T) {
		h := pricedHarness()
		h.locker.held["registration:1:user-1"] = "other"

		_, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, "user-1", false))
		assert.Equal(t, KindDuplicateRegistration, KindOf(err))
		assert.Equal(t, 0, h.store.registrationCount())
	})

	t.Run("redis failure does not block registration", func(t *testing.T) {
		h := pricedHarness()
		h.locker.err = errors.New("redis unavailable")

		_, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, "user-1", false))
		require.NoError(t, err)
	})
}

func TestInitiateRegistration_GatewayFailures(t *testing.T) {
	tests := []struct {
		name      string
		charge    *gateway.Charge
		err       error
		wantMsgIn string
	}{
		{
			name:      "missing secret key",
			err:       gateway.ErrMissingSecretKey,
			wantMsgIn: "not configured",
		},
		{
			name:      "gateway rejection carries its description",
			err:       &gateway.APIError{StatusCode: 400, Code: "1117", Description: "Invalid customer phone"},
			wantMsgIn: "Invalid customer phone",
		},
		{
			name:      "no redirect url",
			charge:    &gateway.Charge{ID: "chg_2", Status: gateway.StatusInitiated},
			wantMsgIn: "payment page",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := pricedHarness()
			h.gw.createCharge = tt.charge
			h.gw.createErr = tt.err

			_, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, "user-1", false))
			require.Error(t, err)

			var regErr *RegistrationError
			require.True(t, errors.As(err, &regErr))
			assert.Equal(t, KindPaymentInitiationFailed, regErr.Kind)
			assert.Contains(t, regErr.Message, tt.wantMsgIn)

			require.Equal(t, 1, h.store.registrationCount())
			for _, reg := range h.store.registrations {
				assert.Equal(t, models.PaymentStatusFailed, reg.PaymentStatus)
				assert.NotEqual(t, models.RegistrationStatusConfirmed, reg.Status)
			}
			assert.Equal(t, []string{models.PaymentActionChargeFailed}, h.store.logActions())
		})
	}
}

func TestInitiateRegistration_RetryAfterInitiationFailure(t *testing.T) {
	h := pricedHarness()
	h.gw.createErr = errors.New("connection refused")
	_, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, "user-1", false))
	require.Error(t, err)

	h.gw.createErr = nil
	result, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, "user-1", false))
	require.NoError(t, err)
	assert.NotEmpty(t, result.RedirectURL)
}

func TestInitiateRegistration_FreeWorkshop(t *testing.T) {
	h := newHarness()
	h.store.addWorkshop(models.Workshop{ID: 3, Price: 0, TotalSeats: 5, AvailableSeats: 5})

	result, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(3, "user-1", false))
	require.NoError(t, err)

	assert.Equal(t, models.RegistrationStatusConfirmed, result.Status)
	assert.Equal(t, models.PaymentStatusPaid, result.PaymentStatus)
	assert.Empty(t, result.RedirectURL)
	assert.Empty(t, h.gw.createReqs)
	assert.Equal(t, 4, h.store.workshop(3).AvailableSeats)
	assert.Equal(t, []string{models.EventTypeRegistrationInitiated, models.EventTypeRegistrationConfirmed}, h.pub.published())
}

func TestInitiateRegistration_StoreFailure(t *testing.T) {
	h := pricedHarness()
	h.store.createErr = errors.New("connection reset by peer")

	_, err := h.registration.InitiateRegistration(context.Background(), registrationRequest(1, "user-1", false))
	assert.Equal(t, KindRegistrationFailed, KindOf(err))
	assert.Equal(t, 1, h.store.updates, "seats are recalculated after a failed insert")
}

func TestPhoneNumber(t *testing.T) {
	assert.Equal(t, "50001234", phoneNumber("+965 5000 1234", "965"))
	assert.Equal(t, "50001234", phoneNumber("00965-5000-1234", "965"))
	assert.Equal(t, "50001234", phoneNumber("5000 1234", "965"))
	assert.Equal(t, "", phoneNumber("n/a", "965"))
}

func TestCallbackURL(t *testing.T) {
	assert.Equal(t, "https://x.example.com/cb?workshop_id=7", callbackURL("https://x.example.com/cb", 7))
	assert.Equal(t, "https://x.example.com/cb?lang=ar&workshop_id=7", callbackURL("https://x.example.com/cb?lang=ar", 7))
}
