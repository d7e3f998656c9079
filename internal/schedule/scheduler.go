// Package schedule runs roadcall's background jobs on cron expressions: the
// idle-session sweep and the daily operator digest.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one scheduled task. Run errors are logged; the job keeps its
// schedule either way.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

type entry struct {
	job   Job
	sched cron.Schedule
}

// Opts holds the parameters for New.
type Opts struct {
	Jobs []Job
	// Location is the zone cron expressions are evaluated in. Defaults to UTC.
	Location *time.Location
	Logger   zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Scheduler fires jobs on their cron schedules, one timer goroutine per job.
// A job never overlaps with itself.
type Scheduler struct {
	entries []entry
	loc     *time.Location
	log     zerolog.Logger
	now     func() time.Time
}

// New parses every job's spec. Jobs with an empty spec are disabled.
func New(opts Opts) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scheduler{loc: opts.Location, log: opts.Logger, now: opts.Now}
	for _, j := range opts.Jobs {
		if j.Spec == "" {
			continue
		}
		if j.Run == nil {
			return nil, fmt.Errorf("schedule: job %q has no run function", j.Name)
		}
		sched, err := cronParser.Parse(j.Spec)
		if err != nil {
			return nil, fmt.Errorf("schedule: job %q: %w", j.Name, err)
		}
		s.entries = append(s.entries, entry{job: j, sched: sched})
	}
	return s, nil
}

// Jobs returns the names of the enabled jobs.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		names = append(names, e.job.Name)
	}
	return names
}

// Next returns when the named job fires next after now.
func (s *Scheduler) Next(name string, now time.Time) (time.Time, bool) {
	for _, e := range s.entries {
		if e.job.Name == name {
			return e.sched.Next(now.In(s.loc)), true
		}
	}
	return time.Time{}, false
}

// Run blocks until ctx is cancelled and every job loop has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, e := range s.entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	s.log.Info().Strs("jobs", s.Jobs()).Msg("scheduler started")
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	for {
		d := nextDelay(e.sched, s.now().In(s.loc))
		if d <= 0 {
			s.log.Warn().Str("job", e.job.Name).Msg("schedule never fires again")
			<-ctx.Done()
			return
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx, e.job)
		}
	}
}

// RunNow runs the named job once, synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, e := range s.entries {
		if e.job.Name == name {
			return s.fire(ctx, e.job)
		}
	}
	return fmt.Errorf("schedule: unknown job %q", name)
}

func (s *Scheduler) fire(ctx context.Context, j Job) (err error) {
	start := time.Now()
	log := s.log.With().Str("job", j.Name).Logger()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule: job %q panicked: %v", j.Name, r)
		}
		if err != nil {
			log.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
			return
		}
		log.Debug().Dur("took", time.Since(start)).Msg("job done")
	}()
	return j.Run(ctx)
}
