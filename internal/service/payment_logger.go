package service

import (
	"context"

	"workshop-service/internal/gateway"
	"workshop-service/internal/models"
	"workshop-service/internal/util"

	"go.uber.org/zap"
)

// PaymentLogger writes the payment audit trail. Write failures never
// propagate to the payment flow.
type PaymentLogger struct {
	store  PaymentLogStore
	logger *zap.Logger
}

func NewPaymentLogger(store PaymentLogStore) *PaymentLogger {
	return &PaymentLogger{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Log appends entry to the audit trail
func (pl *PaymentLogger) Log(ctx context.Context, entry *models.PaymentLogEntry) {
	if pl == nil || pl.store == nil {
		return
	}
	if err := pl.store.InsertPaymentLog(ctx, entry); err != nil {
		pl.logger.Error("Failed to write payment log",
			zap.String("action", entry.Action),
			zap.String("status", entry.Status),
			zap.Error(err))
	}
}

// paymentLogEntry builds an entry, filling what is known from reg and charge.
func paymentLogEntry(action, status string, reg *models.Registration, charge *gateway.Charge) *models.PaymentLogEntry {
	entry := &models.PaymentLogEntry{Action: action, Status: status}

	if reg != nil {
		entry.UserID = &reg.UserID
		entry.WorkshopID = &reg.WorkshopID
		entry.RegistrationID = &reg.ID
		amount := reg.Amount
		entry.Amount = &amount
		if reg.PaymentID != nil {
			id := *reg.PaymentID
			entry.PaymentID = &id
		}
	}

	if charge != nil {
		if charge.ID != "" {
			id := charge.ID
			entry.PaymentID = &id
		}
		if len(charge.Raw) > 0 {
			entry.GatewayResponse = charge.Raw
		}
	}
	return entry
}

func withError(entry *models.PaymentLogEntry, err error) *models.PaymentLogEntry {
	if err != nil {
		msg := err.Error()
		entry.ErrorMessage = &msg
	}
	return entry
}

func withPaymentID(entry *models.PaymentLogEntry, chargeID string) *models.PaymentLogEntry {
	if chargeID != "" && entry.PaymentID == nil {
		entry.PaymentID = &chargeID
	}
	return entry
}

func withWorkshop(entry *models.PaymentLogEntry, workshopID int64) *models.PaymentLogEntry {
	if workshopID > 0 && entry.WorkshopID == nil {
		entry.WorkshopID = &workshopID
	}
	return entry
}
