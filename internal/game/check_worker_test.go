package game

import (
	"context"
	"testing"
	"time"

	"github.com/bunnychess/backend/internal/chess"
	"github.com/bunnychess/backend/internal/events"
)

func newTestWorker(svc *Service, jobs *fakeJobQueue) *CheckWorker {
	w := NewCheckWorker(svc, jobs, 1)
	w.now = func() time.Time { return time.UnixMilli(0) }
	return w
}

func TestRecheckDelay(t *testing.T) {
	w := newTestWorker(nil, &fakeJobQueue{})

	tests := []struct {
		wClockMs uint64
		bClockMs uint64
		want     time.Duration
	}{
		{60_000, 120_000, 30 * time.Second},
		{120_000, 60_000, 30 * time.Second},
		{600_000, 600_000, 5 * time.Minute},
		{1500, 5000, time.Second},
		{0, 5000, time.Second},
	}

	for _, tt := range tests {
		if got := w.recheckDelay(tt.wClockMs, tt.bClockMs); got != tt.want {
			t.Errorf("recheckDelay(%d, %d) = %v, want %v", tt.wClockMs, tt.bClockMs, got, tt.want)
		}
	}
}

func TestWorkerDropsJobForMissingGame(t *testing.T) {
	svc, _, jobs, _ := newTestService()
	w := newTestWorker(svc, jobs)
	w.nextCheck["gone"] = time.UnixMilli(-1)

	w.process(context.Background(), NewCheckGameJob("gone"))

	if len(jobs.jobs) != 0 {
		t.Errorf("job for a missing game should be dropped, got %+v", jobs.jobs)
	}
	if _, ok := w.nextCheck["gone"]; ok {
		t.Error("nextCheck entry should be cleared for missing games")
	}
}

func TestWorkerReschedulesLiveGame(t *testing.T) {
	svc, _, jobs, _ := newTestService()
	ctx := context.Background()

	g, err := svc.CreateGame(ctx, "acc-a", "acc-b", chess.Blitz5_0, "")
	if err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	jobs.jobs = nil

	w := newTestWorker(svc, jobs)
	w.process(ctx, NewCheckGameJob(g.ID))

	if len(jobs.jobs) != 1 || jobs.jobs[0].GameID != g.ID {
		t.Fatalf("live game should be rescheduled, got %+v", jobs.jobs)
	}

	due, ok := w.nextCheck[g.ID]
	if !ok {
		t.Fatal("no next check recorded for live game")
	}
	if delay := due.Sub(w.now()); delay < time.Second {
		t.Errorf("re-check delay below the one second floor: %v", delay)
	}
}

func TestWorkerDefersJobNotYetDue(t *testing.T) {
	svc, repo, jobs, pub := newTestService()
	ctx := context.Background()

	g, err := svc.CreateGame(ctx, "acc-a", "acc-b", chess.Blitz5_0, "")
	if err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	jobs.jobs = nil
	publishedBefore := len(pub.published)

	w := newTestWorker(svc, jobs)
	w.nextCheck[g.ID] = w.now().Add(150 * time.Millisecond)

	w.process(ctx, NewCheckGameJob(g.ID))

	if len(jobs.jobs) != 1 || jobs.jobs[0].GameID != g.ID {
		t.Fatalf("deferred job should go back to the queue, got %+v", jobs.jobs)
	}
	if len(pub.published) != publishedBefore {
		t.Error("deferred job must not be evaluated")
	}
	if _, ok := repo.games[g.ID]; !ok {
		t.Error("deferred game must stay stored")
	}
}

func TestWorkerFinalizesTimedOutGame(t *testing.T) {
	svc, repo, jobs, pub := newTestService()
	ctx := context.Background()

	g, err := svc.CreateGame(ctx, "acc-a", "acc-b", chess.Bullet1_0, "")
	if err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	jobs.jobs = nil
	svc.now = func() time.Time { return time.UnixMilli(61_000) }

	w := newTestWorker(svc, jobs)
	w.process(ctx, NewCheckGameJob(g.ID))

	if pub.last(events.SubjectGameOver) == nil {
		t.Error("game-over not emitted for timed out game")
	}
	if len(jobs.jobs) != 0 {
		t.Errorf("finished game should not be rescheduled, got %+v", jobs.jobs)
	}
	if _, ok := repo.games[g.ID]; ok {
		t.Error("timed out game should be deleted")
	}
	if _, ok := w.nextCheck[g.ID]; ok {
		t.Error("nextCheck entry should be cleared once the game is over")
	}
}
