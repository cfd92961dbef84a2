package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"workshop-service/internal/models"

	"github.com/lib/pq"
)

const registrationColumns = `id, workshop_id, user_id, full_name, email, phone, status,
	payment_status, payment_id, amount, created_at, updated_at`

// CreateRegistration inserts a registration row. A second row for the same
// (workshop, user) pair fails with ErrDuplicate.
func (s *Store) CreateRegistration(ctx context.Context, reg *models.Registration) error {
	query := `
		INSERT INTO workshop_registrations
			(workshop_id, user_id, full_name, email, phone, status, payment_status, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		reg.WorkshopID, reg.UserID, reg.FullName, reg.Email, reg.Phone,
		reg.Status, reg.PaymentStatus, reg.Amount,
	).Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return translateError(err)
	}
	return nil
}

// GetRegistrationByID retrieves a registration by ID
func (s *Store) GetRegistrationByID(ctx context.Context, id int64) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.GetContext(ctx, &reg,
		"SELECT "+registrationColumns+" FROM workshop_registrations WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("registration %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// GetRegistrationByPaymentID retrieves the registration correlated with a gateway charge
// GetRegistrationByWorkshopAndUser retrieves the registrant's row for a workshop
func (s *Store) GetRegistrationByWorkshopAndUser(ctx context.Context, workshopID int64, userID string) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.GetContext(ctx, &reg,
		"SELECT "+registrationColumns+" FROM workshop_registrations WHERE workshop_id = $1 AND user_id = $2",
		workshopID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("registration of %s for workshop %d: %w", userID, workshopID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *Store) GetRegistrationByPaymentID(ctx context.Context, paymentID string) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.GetContext(ctx, &reg,
		"SELECT "+registrationColumns+" FROM workshop_registrations WHERE payment_id = $1 ORDER BY id DESC LIMIT 1",
		paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("registration for charge %s: %w", paymentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// SetRegistrationPaymentID records the gateway charge id on a registration
func (s *Store) SetRegistrationPaymentID(ctx context.Context, registrationID int64, paymentID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE workshop_registrations SET payment_id = $1, updated_at = NOW() WHERE id = $2",
		paymentID, registrationID)
	return err
}

// TransitionPaymentStatus moves a registration to paymentStatus only when its
// current payment status is an allowed source for that target. status, when
// non-empty, replaces the registration status in the same statement.
// Returns false when the guard rejected the transition.
func (s *Store) TransitionPaymentStatus(ctx context.Context, registrationID int64, paymentStatus, status string) (bool, error) {
	from := models.AllowedPaymentSources(paymentStatus)
	if len(from) == 0 {
		return false, fmt.Errorf("no transition allowed into payment status %q", paymentStatus)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workshop_registrations
		SET payment_status = $1,
		    status = COALESCE(NULLIF($2, ''), status),
		    updated_at = NOW()
		WHERE id = $3 AND payment_status = ANY($4) AND status <> $5`,
		paymentStatus, status, registrationID, pq.Array(from), models.RegistrationStatusCancelled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountPaidRegistrations counts the registrations of a workshop that hold a seat
func (s *Store) CountPaidRegistrations(ctx context.Context, workshopID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM workshop_registrations WHERE workshop_id = $1 AND payment_status = $2",
		workshopID, models.PaymentStatusPaid)
	return count, err
}

// DeleteStaleRegistrations removes rows of a workshop stuck in a non-paid
// payment status. An empty userID widens the scope to every registrant. A
// non-zero processingBefore spares processing rows updated at or after it.
func (s *Store) DeleteStaleRegistrations(ctx context.Context, workshopID int64, userID string, processingBefore time.Time) (int64, error) {
	query := `
		DELETE FROM workshop_registrations
		WHERE workshop_id = $1
		  AND payment_status = ANY($2)
		  AND NOT (status = 'confirmed' AND payment_status = 'paid')`
	args := []interface{}{workshopID, pq.Array(models.StalePaymentStatuses)}

	if userID != "" {
		args = append(args, userID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if !processingBefore.IsZero() {
		args = append(args, processingBefore)
		query += fmt.Sprintf(" AND (payment_status <> 'processing' OR updated_at < $%d)", len(args))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
