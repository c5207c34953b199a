package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/vkcommunities/api"
)

// retryDelay is the pause before a step that failed with api.ErrTryAgain is repeated
const retryDelay = time.Second

// ErrNoCommunities is returned when the storage holds no community at all
var ErrNoCommunities = errors.New("no communities in the database")

type sleepFunc func(ctx context.Context, d time.Duration) error

// run repeats step until ctx is done or step fails with an error other
// than api.ErrTryAgain. Status is updated after every step.
func run(ctx context.Context, loop string, status *statusTracker, log *logrus.Logger, now func() time.Time, sleep sleepFunc, step func(context.Context) error) error {
	entry := log.WithField("loop", loop)
	entry.Info("Loop started")
	status.setRunning(true)
	defer status.setRunning(false)

	for {
		if err := ctx.Err(); err != nil {
			entry.Info("Loop stopped")
			return err
		}

		err := step(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			entry.Info("Loop stopped")
			return err
		case errors.Is(err, api.ErrTryAgain):
			status.setError(err, now())
			entry.WithError(err).Warn("Step failed, trying again")
			if err := sleep(ctx, retryDelay); err != nil {
				entry.Info("Loop stopped")
				return err
			}
		default:
			status.setError(err, now())
			entry.WithError(err).Error("Loop terminated")
			return err
		}
	}
}

// Status is a snapshot of a loop for the status endpoint
type Status struct {
	Loop        string     `json:"loop"`
	Running     bool       `json:"running"`
	QueueSize   int        `json:"queue_size"`
	Processed   int        `json:"processed"`
	PeriodStart time.Time  `json:"period_start"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// statusTracker guards a Status read by the HTTP server while the loop writes it
type statusTracker struct {
	mutex  sync.RWMutex
	status Status
}

func newStatusTracker(loop string) *statusTracker {
	return &statusTracker{status: Status{Loop: loop}}
}

func (s *statusTracker) get() Status {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.status
}

func (s *statusTracker) setRunning(running bool) {
	s.mutex.Lock()
	s.status.Running = running
	s.mutex.Unlock()
}

func (s *statusTracker) setError(err error, at time.Time) {
	s.mutex.Lock()
	s.status.LastError = err.Error()
	s.status.LastErrorAt = &at
	s.mutex.Unlock()
}

func (s *statusTracker) setQueue(size int) {
	s.mutex.Lock()
	s.status.QueueSize = size
	s.mutex.Unlock()
}

func (s *statusTracker) startPeriod(start time.Time) {
	s.mutex.Lock()
	s.status.PeriodStart = start
	s.status.Processed = 0
	s.mutex.Unlock()
}

func (s *statusTracker) addProcessed(n, queueSize int) {
	s.mutex.Lock()
	s.status.Processed += n
	s.status.QueueSize = queueSize
	s.mutex.Unlock()
}
