package service

import (
	"context"
	"fmt"
	"time"

	"workshop-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultProcessingGrace is how long a processing registration is treated as
// an in-flight attempt rather than an abandoned one.
const DefaultProcessingGrace = 30 * time.Minute

// RegistrationCleanup removes registration rows stuck in a non-paid state
type RegistrationCleanup struct {
	registrations   RegistrationStore
	processingGrace time.Duration
	now             func() time.Time
	logger          *zap.Logger
}

func NewRegistrationCleanup(registrations RegistrationStore, processingGrace time.Duration) *RegistrationCleanup {
	if processingGrace <= 0 {
		processingGrace = DefaultProcessingGrace
	}
	return &RegistrationCleanup{
		registrations:   registrations,
		processingGrace: processingGrace,
		now:             time.Now,
		logger:          util.GetLogger(),
	}
}

// CleanupFailed deletes processing, failed and unpaid rows of a workshop.
// A non-empty registrantID restricts the deletion to that registrant.
// Confirmed paid rows are never touched.
func (c *RegistrationCleanup) CleanupFailed(ctx context.Context, workshopID int64, registrantID string) (int64, error) {
	return c.cleanup(ctx, "RegistrationCleanup.CleanupFailed", workshopID, registrantID, time.Time{})
}

// CleanupAbandoned is CleanupFailed for a fresh attempt: processing rows
// younger than the grace period are kept so an in-flight charge still
// surfaces as a duplicate.
func (c *RegistrationCleanup) CleanupAbandoned(ctx context.Context, workshopID int64, registrantID string) (int64, error) {
	return c.cleanup(ctx, "RegistrationCleanup.CleanupAbandoned", workshopID, registrantID, c.now().Add(-c.processingGrace))
}

func (c *RegistrationCleanup) cleanup(ctx context.Context, spanName string, workshopID int64, registrantID string, processingBefore time.Time) (int64, error) {
	ctx, span := util.StartSpan(ctx, spanName,
		attribute.Int64("workshop.id", workshopID),
		attribute.Bool("scoped", registrantID != ""))
	defer span.End()

	removed, err := c.registrations.DeleteStaleRegistrations(ctx, workshopID, registrantID, processingBefore)
	if err != nil {
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to delete stale registrations: %w", err)
	}

	if removed > 0 {
		util.StaleRegistrationsRemovedTotal.Add(float64(removed))
		c.logger.Info("Stale registrations removed",
			zap.Int64("workshop_id", workshopID),
			zap.String("registrant_id", registrantID),
			zap.Int64("removed", removed))
	}
	return removed, nil
}
