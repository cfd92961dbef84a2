package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"workshop-service/internal/models"
)

const workshopColumns = `id, title_ar, title_en, price, total_seats, available_seats,
	registration_closed, created_at, updated_at`

// GetWorkshopByID retrieves a workshop by ID
func (s *Store) GetWorkshopByID(ctx context.Context, id int64) (*models.Workshop, error) {
	var w models.Workshop
	err := s.db.GetContext(ctx, &w, "SELECT "+workshopColumns+" FROM workshops WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workshop %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkshops retrieves all workshops
func (s *Store) ListWorkshops(ctx context.Context) ([]models.Workshop, error) {
	var workshops []models.Workshop
	err := s.db.SelectContext(ctx, &workshops, "SELECT "+workshopColumns+" FROM workshops ORDER BY id")
	return workshops, err
}

// GetWorkshopSchedules retrieves the sessions of a workshop ordered by start
func (s *Store) GetWorkshopSchedules(ctx context.Context, workshopID int64) ([]models.WorkshopSchedule, error) {
	var schedules []models.WorkshopSchedule
	err := s.db.SelectContext(ctx, &schedules, `
		SELECT id, workshop_id, session_date, start_time::text AS start_time, end_time::text AS end_time
		FROM workshop_schedules
		WHERE workshop_id = $1
		ORDER BY session_date, start_time`, workshopID)
	return schedules, err
}

// UpdateAvailableSeats overwrites the derived seat count. Last writer wins.
func (s *Store) UpdateAvailableSeats(ctx context.Context, workshopID int64, seats int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE workshops SET available_seats = $1, updated_at = NOW() WHERE id = $2",
		seats, workshopID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("workshop %d: %w", workshopID, ErrNotFound)
	}
	return nil
}

// CloseWorkshopsStartingBefore closes registration, in one statement, for every open
// workshop whose earliest session starts at or before cutoff. Session dates and
// times are read in the workshop timezone. Returns the closed IDs.
func (s *Store) CloseWorkshopsStartingBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	query := `
		UPDATE workshops w
		SET registration_closed = TRUE, updated_at = NOW()
		WHERE w.registration_closed = FALSE
		  AND (
			SELECT MIN((ws.session_date + ws.start_time) AT TIME ZONE $2)
			FROM workshop_schedules ws
			WHERE ws.workshop_id = w.id
		  ) <= $1
		RETURNING w.id`

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, cutoff, s.workshopTZ); err != nil {
		return nil, fmt.Errorf("failed to close upcoming workshops: %w", err)
	}
	return ids, nil
}
