package game

import (
	"context"
	"errors"
	"log"
	"time"
)

// CheckWorker drains the check-game job list and re-evaluates each game for
// termination. Live games are rescheduled with a delay proportional to the
// smaller remaining clock, never below one second, so fast timeouts are not
// missed.
type CheckWorker struct {
	service   *Service
	jobs      JobQueue
	idleSleep time.Duration

	now func() time.Time

	// nextCheck defers re-checks per game without making the job payload
	// unstable. Lost on restart, which only means an earlier re-check.
	nextCheck map[string]time.Time
}

func NewCheckWorker(service *Service, jobs JobQueue, idleSleepSeconds int) *CheckWorker {
	return &CheckWorker{
		service:   service,
		jobs:      jobs,
		idleSleep: time.Duration(idleSleepSeconds) * time.Second,
		now:       time.Now,
		nextCheck: make(map[string]time.Time),
	}
}

// Run loops until ctx is cancelled, finishing the iteration in flight.
func (w *CheckWorker) Run(ctx context.Context) {
	log.Printf("[WORKER] Check-game worker started (idle sleep %v)", w.idleSleep)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[WORKER] Check-game worker stopped")
			return
		default:
		}

		job, err := w.jobs.Pop(ctx)
		if err != nil {
			log.Printf("[WORKER] failed to pop job: %v", err)
			w.sleep(ctx, time.Second)
			continue
		}

		if job == nil {
			w.sleep(ctx, w.idleSleep)
			continue
		}

		w.process(ctx, *job)
	}
}

func (w *CheckWorker) process(ctx context.Context, job CheckGameJob) {
	now := w.now()

	if due, ok := w.nextCheck[job.GameID]; ok && now.Before(due) {
		// Not due yet: push to the back of the queue and yield briefly so a
		// single deferred job does not spin the loop.
		if err := w.jobs.Enqueue(ctx, job); err != nil {
			log.Printf("[WORKER] failed to defer job for %s: %v", job.GameID, err)
		}
		wait := due.Sub(now)
		if wait > time.Second {
			wait = time.Second
		}
		if wait < 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		w.sleep(ctx, wait)
		return
	}

	res, g, err := w.service.evaluate(ctx, job.GameID)
	switch {
	case errors.Is(err, ErrNotFound):
		// Game already finalized elsewhere; drop the job.
		delete(w.nextCheck, job.GameID)
	case err != nil:
		log.Printf("[WORKER] check of game %s failed: %v", job.GameID, err)
		w.sleep(ctx, time.Second)
		if err := w.jobs.Requeue(ctx, job); err != nil {
			log.Printf("[WORKER] failed to requeue job for %s: %v", job.GameID, err)
		}
	case res != nil:
		delete(w.nextCheck, job.GameID)
	default:
		// Still live: schedule the next check based on the tighter clock.
		delay := w.recheckDelay(g.Clocks.W, g.Clocks.B)
		w.nextCheck[job.GameID] = w.now().Add(delay)
		if err := w.jobs.Enqueue(ctx, job); err != nil {
			log.Printf("[WORKER] failed to reschedule job for %s: %v", job.GameID, err)
		}
	}
}

func (w *CheckWorker) recheckDelay(wClockMs, bClockMs uint64) time.Duration {
	remaining := wClockMs
	if bClockMs < remaining {
		remaining = bClockMs
	}

	delay := time.Duration(remaining) * time.Millisecond / 2
	if delay < time.Second {
		delay = time.Second
	}
	return delay
}

func (w *CheckWorker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
