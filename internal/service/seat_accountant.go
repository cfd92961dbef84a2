package service

import (
	"context"
	"errors"
	"fmt"

	"workshop-service/internal/redisclient"
	"workshop-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SeatAccountant derives available seats from the paid registration count
type SeatAccountant struct {
	workshops     WorkshopStore
	registrations RegistrationStore
	cache         SeatCache
	logger        *zap.Logger
}

// NewSeatAccountant creates a seat accountant. cache may be nil.
func NewSeatAccountant(workshops WorkshopStore, registrations RegistrationStore, cache SeatCache) *SeatAccountant {
	return &SeatAccountant{
		workshops:     workshops,
		registrations: registrations,
		cache:         cache,
		logger:        util.GetLogger(),
	}
}

// availableSeats clamps total - paid into [0, total]
func availableSeats(total, paid int) int {
	available := total - paid
	if available < 0 {
		return 0
	}
	if available > total {
		return total
	}
	return available
}

// Recalculate recomputes and persists the available seats of a workshop
func (sa *SeatAccountant) Recalculate(ctx context.Context, workshopID int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "SeatAccountant.Recalculate", attribute.Int64("workshop.id", workshopID))
	defer span.End()

	workshop, err := sa.workshops.GetWorkshopByID(ctx, workshopID)
	if err != nil {
		util.SeatRecalculationsTotal.WithLabelValues("failed").Inc()
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to load workshop: %w", err)
	}

	paid, err := sa.registrations.CountPaidRegistrations(ctx, workshopID)
	if err != nil {
		util.SeatRecalculationsTotal.WithLabelValues("failed").Inc()
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to count paid registrations: %w", err)
	}

	available := availableSeats(workshop.TotalSeats, paid)
	if err := sa.workshops.UpdateAvailableSeats(ctx, workshopID, available); err != nil {
		util.SeatRecalculationsTotal.WithLabelValues("failed").Inc()
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to update available seats: %w", err)
	}
	util.SeatRecalculationsTotal.WithLabelValues("success").Inc()

	sa.cacheSeats(ctx, workshopID, redisclient.SeatSnapshot{
		Available: available,
		Total:     workshop.TotalSeats,
		Closed:    workshop.RegistrationClosed,
	})

	sa.logger.Info("Seats recalculated",
		zap.Int64("workshop_id", workshopID),
		zap.Int("total", workshop.TotalSeats),
		zap.Int("paid", paid),
		zap.Int("available", available))

	return available, nil
}

// RecalculateBestEffort recalculates and only logs a failure
func (sa *SeatAccountant) RecalculateBestEffort(ctx context.Context, workshopID int64) {
	if _, err := sa.Recalculate(ctx, workshopID); err != nil {
		sa.logger.Warn("Seat recalculation failed",
			zap.Int64("workshop_id", workshopID),
			zap.Error(err))
	}
}

// Availability returns the seat snapshot of a workshop, from cache when possible
func (sa *SeatAccountant) Availability(ctx context.Context, workshopID int64) (*redisclient.SeatSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "SeatAccountant.Availability", attribute.Int64("workshop.id", workshopID))
	defer span.End()

	if sa.cache != nil {
		snap, err := sa.cache.GetSeats(ctx, workshopID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, redisclient.ErrCacheMiss) {
			sa.logger.Warn("Seat cache read failed, falling back to DB",
				zap.Int64("workshop_id", workshopID),
				zap.Error(err))
		}
	}

	workshop, err := sa.workshops.GetWorkshopByID(ctx, workshopID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	snap := redisclient.SeatSnapshot{
		Available: workshop.AvailableSeats,
		Total:     workshop.TotalSeats,
		Closed:    workshop.RegistrationClosed,
	}
	sa.cacheSeats(ctx, workshopID, snap)
	return &snap, nil
}

// SyncSeatsToCache loads every workshop's seat snapshot into the cache
func (sa *SeatAccountant) SyncSeatsToCache(ctx context.Context) error {
	if sa.cache == nil {
		return nil
	}

	workshops, err := sa.workshops.ListWorkshops(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workshops: %w", err)
	}

	for _, w := range workshops {
		snap := redisclient.SeatSnapshot{
			Available: w.AvailableSeats,
			Total:     w.TotalSeats,
			Closed:    w.RegistrationClosed,
		}
		if err := sa.cache.SetSeats(ctx, w.ID, snap); err != nil {
			return fmt.Errorf("failed to cache seats for workshop %d: %w", w.ID, err)
		}
	}

	sa.logger.Info("Seat snapshots synced to Redis", zap.Int("workshops", len(workshops)))
	return nil
}

// InvalidateCache drops the cached snapshot of a workshop
func (sa *SeatAccountant) InvalidateCache(ctx context.Context, workshopID int64) {
	if sa.cache == nil {
		return
	}
	if err := sa.cache.InvalidateSeats(ctx, workshopID); err != nil {
		sa.logger.Warn("Failed to invalidate seat cache",
			zap.Int64("workshop_id", workshopID),
			zap.Error(err))
	}
}

func (sa *SeatAccountant) cacheSeats(ctx context.Context, workshopID int64, snap redisclient.SeatSnapshot) {
	if sa.cache == nil {
		return
	}
	if err := sa.cache.SetSeats(ctx, workshopID, snap); err != nil {
		sa.logger.Warn("Failed to cache seats",
			zap.Int64("workshop_id", workshopID),
			zap.Error(err))
	}
}
