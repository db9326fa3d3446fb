// Package scheduler drives the periodic ingestion job.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mailroom/internal/ingest"
)

// misfireGrace is how late a tick may fire before it is considered
// missed. Missed ticks coalesce into the next run.
const misfireGrace = 60 * time.Second

// Job is the work one tick triggers.
type Job func(ctx context.Context) error

// Status is the snapshot the HTTP surface exposes.
type Status struct {
	JobID           string     `json:"job_id"`
	JobName         string     `json:"job_name"`
	Trigger         string     `json:"trigger"`
	NextRunTime     *time.Time `json:"next_run_time"`
	Running         bool       `json:"running"`
	MaxInstances    int        `json:"max_instances"`
	MisfireGraceSec int        `json:"misfire_grace_time"`
}

// Scheduler runs one job at a fixed interval with at most one instance
// in flight. A tick arriving while the job runs is dropped, not queued.
type Scheduler struct {
	interval time.Duration
	job      Job
	log      *logrus.Entry

	mu      sync.Mutex
	next    time.Time
	running bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New returns a scheduler for the given job.
func New(interval time.Duration, job Job, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		interval: interval,
		job:      job,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. The first run happens after one full
// interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.next = time.Now().Add(s.interval)
	s.mu.Unlock()

	go s.loop(ctx)
	s.log.WithField("interval", s.interval).Info("scheduler started")
}

// Stop ends the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// Status returns the current snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.next
	return Status{
		JobID:           "sync_emails",
		JobName:         "Periodic mailbox sync",
		Trigger:         "interval[" + s.interval.String() + "]",
		NextRunTime:     &next,
		Running:         s.running,
		MaxInstances:    1,
		MisfireGraceSec: int(misfireGrace / time.Second),
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			s.mu.Lock()
			s.next = time.Now().Add(s.interval)
			s.mu.Unlock()

			if time.Since(tick) > misfireGrace {
				s.log.WithField("late", time.Since(tick)).Warn("tick missed misfire grace, coalescing")
				continue
			}
			s.runOnce(ctx)
		}
	}
}

// runOnce executes the job. A busy job (another run in flight) is not an
// error worth surfacing here.
func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := s.job(ctx); err != nil {
		if errors.Is(err, ingest.ErrSyncInProgress) {
			s.log.Debug("tick skipped, sync already running")
			return
		}
		s.log.WithError(err).Error("scheduled sync failed")
	}
}
