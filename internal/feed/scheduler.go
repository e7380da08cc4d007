package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "parkcal/internal/log"
)

// Scheduler runs a Refresher on a cron schedule. A run that is still going
// when the next one is due causes that tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	timeout time.Duration
}

// NewScheduler schedules r with a standard 5-field spec or a descriptor
// such as "@every 5m". Each run is bounded by timeout (0 means none).
func NewScheduler(spec string, timeout time.Duration, r *Refresher) (*Scheduler, error) {
	logger := cronLogger{}
	c := cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	s := &Scheduler{cron: c, timeout: timeout}
	id, err := c.AddFunc(spec, func() { s.run(r) })
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) run(r *Refresher) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := r.Refresh(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		appLog.Error("scheduled refresh failed", err)
	}
}

// Start begins running in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("refresh scheduler started", "next", s.Next().Format(time.RFC3339))
}

// Stop prevents further runs and waits for a running one to finish or
// for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Next is when the refresh runs next. Zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
