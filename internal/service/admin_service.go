package service

import (
	"context"
	"errors"

	"workshop-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AdminService exposes the repair operations
type AdminService struct {
	cleanup *RegistrationCleanup
	seats   *SeatAccountant
	logger  *zap.Logger
}

func NewAdminService(cleanup *RegistrationCleanup, seats *SeatAccountant) *AdminService {
	return &AdminService{
		cleanup: cleanup,
		seats:   seats,
		logger:  util.GetLogger(),
	}
}

// RepairReport summarises a repair run
type RepairReport struct {
	WorkshopID     int64 `json:"workshop_id"`
	Removed        int64 `json:"removed"`
	AvailableSeats int   `json:"available_seats"`
}

// CleanupFailed removes stale rows of every registrant of a workshop
func (a *AdminService) CleanupFailed(ctx context.Context, workshopID int64) (int64, error) {
	return a.cleanup.CleanupFailed(ctx, workshopID, "")
}

// RecalculateSeats recomputes the available seats of a workshop
func (a *AdminService) RecalculateSeats(ctx context.Context, workshopID int64) (int, error) {
	return a.seats.Recalculate(ctx, workshopID)
}

// RepairAll runs cleanup then recalculation. Recalculation runs even if
// cleanup failed; both errors are reported.
func (a *AdminService) RepairAll(ctx context.Context, workshopID int64) (*RepairReport, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.RepairAll", attribute.Int64("workshop.id", workshopID))
	defer span.End()

	report := &RepairReport{WorkshopID: workshopID}

	removed, cleanupErr := a.CleanupFailed(ctx, workshopID)
	report.Removed = removed

	available, recalcErr := a.RecalculateSeats(ctx, workshopID)
	report.AvailableSeats = available

	if err := errors.Join(cleanupErr, recalcErr); err != nil {
		util.RecordError(span, err)
		a.logger.Error("Workshop repair incomplete",
			zap.Int64("workshop_id", workshopID),
			zap.Error(err))
		return report, err
	}

	a.logger.Info("Workshop repaired",
		zap.Int64("workshop_id", workshopID),
		zap.Int64("removed", removed),
		zap.Int("available_seats", available))
	return report, nil
}
