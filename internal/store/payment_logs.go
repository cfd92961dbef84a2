package store

import (
	"context"

	"workshop-service/internal/models"
)

// InsertPaymentLog appends an audit entry. Entries are never updated.
func (s *Store) InsertPaymentLog(ctx context.Context, entry *models.PaymentLogEntry) error {
	query := `
		INSERT INTO payment_logs
			(action, status, payment_id, amount, user_id, workshop_id, registration_id, gateway_response, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	var response interface{}
	if len(entry.GatewayResponse) > 0 {
		response = string(entry.GatewayResponse)
	}

	return s.db.QueryRowxContext(ctx, query,
		entry.Action, entry.Status, entry.PaymentID, entry.Amount, entry.UserID,
		entry.WorkshopID, entry.RegistrationID, response, entry.ErrorMessage,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// ListPaymentLogsByPaymentID returns the audit trail of a charge, oldest first
func (s *Store) ListPaymentLogsByPaymentID(ctx context.Context, paymentID string) ([]models.PaymentLogEntry, error) {
	var entries []models.PaymentLogEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, action, status, payment_id, amount, user_id, workshop_id, registration_id,
		       COALESCE(gateway_response, 'null'::jsonb) AS gateway_response, error_message, created_at
		FROM payment_logs
		WHERE payment_id = $1
		ORDER BY id`, paymentID)
	return entries, err
}

// IsEventProcessed checks if a gateway event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_gateway_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks a gateway event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_gateway_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
