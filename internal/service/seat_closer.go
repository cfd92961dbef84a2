package service

import (
	"context"
	"fmt"
	"time"

	"workshop-service/internal/models"
	"workshop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCloseWindow is how far ahead of its first session a workshop stops
// accepting registrations.
const DefaultCloseWindow = 24 * time.Hour

// SeatCloser closes registration for workshops about to start
type SeatCloser struct {
	workshops WorkshopStore
	seats     *SeatAccountant
	publisher EventPublisher
	window    time.Duration
	logger    *zap.Logger
}

func NewSeatCloser(workshops WorkshopStore, seats *SeatAccountant, publisher EventPublisher, window time.Duration) *SeatCloser {
	if window <= 0 {
		window = DefaultCloseWindow
	}
	return &SeatCloser{
		workshops: workshops,
		seats:     seats,
		publisher: publisher,
		window:    window,
		logger:    util.GetLogger(),
	}
}

// CloseUpcoming closes every open workshop whose earliest session starts at
// or before now + window. Running it twice is harmless.
func (sc *SeatCloser) CloseUpcoming(ctx context.Context, now time.Time) ([]int64, error) {
	ctx, span := util.StartSpan(ctx, "SeatCloser.CloseUpcoming")
	defer span.End()

	cutoff := now.Add(sc.window)
	ids, err := sc.workshops.CloseWorkshopsStartingBefore(ctx, cutoff)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to close upcoming workshops: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	util.WorkshopsClosedTotal.Add(float64(len(ids)))
	sc.logger.Info("Registration closed for upcoming workshops",
		zap.Int64s("workshop_ids", ids),
		zap.Time("cutoff", cutoff))

	if sc.seats != nil {
		for _, id := range ids {
			sc.seats.InvalidateCache(ctx, id)
		}
	}

	if sc.publisher != nil {
		event := &models.WorkshopsClosedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeWorkshopsClosed,
				Timestamp: time.Now(),
			},
			WorkshopIDs: ids,
			Cutoff:      cutoff,
		}
		if err := sc.publisher.PublishWorkshopsClosed(ctx, event); err != nil {
			sc.logger.Error("Failed to publish WorkshopsClosed event", zap.Error(err))
		}
	}

	return ids, nil
}
