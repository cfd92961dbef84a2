package worker

import (
	"context"
	"time"

	"workshop-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// UpcomingCloser closes registration for workshops about to start
type UpcomingCloser interface {
	CloseUpcoming(ctx context.Context, now time.Time) ([]int64, error)
}

// SeatCloserJob runs the seat-closer on a cron schedule. A run still in
// progress causes the next tick to be skipped.
type SeatCloserJob struct {
	cron    *cron.Cron
	closer  UpcomingCloser
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewSeatCloserJob schedules closer with a standard cron spec or descriptor such as "@hourly".
func NewSeatCloserJob(closer UpcomingCloser, schedule string) (*SeatCloserJob, error) {
	logger := util.GetLogger()
	cronLogger := zapCronLogger{logger.Sugar()}

	j := &SeatCloserJob{
		cron:    cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger))),
		closer:  closer,
		timeout: 2 * time.Minute,
		now:     time.Now,
		logger:  logger,
	}

	if _, err := j.cron.AddFunc(schedule, j.Run); err != nil {
		return nil, err
	}
	return j, nil
}

// Run closes upcoming workshops once
func (j *SeatCloserJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	ids, err := j.closer.CloseUpcoming(ctx, j.now())
	if err != nil {
		j.logger.Error("Seat closer run failed", zap.Error(err))
		return
	}
	j.logger.Info("Seat closer run finished", zap.Int("closed", len(ids)))
}

// Start starts the scheduler in its own goroutine
func (j *SeatCloserJob) Start() {
	j.logger.Info("Starting seat closer", zap.Int("entries", len(j.cron.Entries())))
	j.cron.Start()
}

// Stop stops the scheduler and returns a context done when the running job finishes
func (j *SeatCloserJob) Stop() context.Context {
	j.logger.Info("Stopping seat closer")
	return j.cron.Stop()
}

// zapCronLogger adapts zap to cron.Logger
type zapCronLogger struct {
	s *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
