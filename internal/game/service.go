package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/bunnychess/backend/internal/chess"
	"github.com/bunnychess/backend/internal/events"
)

// moveRetries bounds reload-and-retry on a lost seq CAS before surfacing
// ErrConcurrentMove.
const moveRetries = 3

// Service orchestrates game lifecycle: creation, moves, resignation and
// termination checks. All state transitions serialize through the repository's
// seq CAS.
type Service struct {
	repo Repository
	jobs JobQueue
	pub  events.Publisher

	now func() time.Time
}

func NewService(repo Repository, jobs JobQueue, pub events.Publisher) *Service {
	return &Service{
		repo: repo,
		jobs: jobs,
		pub:  pub,
		now:  time.Now,
	}
}

func (s *Service) nowMs() int64 {
	return s.now().UnixMilli()
}

// CreateGame builds a fresh game with randomly assigned colors, persists it,
// emits GameStart and schedules the first termination check.
func (s *Service) CreateGame(ctx context.Context, accountID0, accountID1 string, gameType chess.GameType, metadata string) (*chess.Game, error) {
	ids := []string{accountID0, accountID1}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	g := chess.NewGame(gameType, chess.AccountIDs{W: ids[0], B: ids[1]}, metadata, s.nowMs())

	if err := s.repo.StoreGame(ctx, g); err != nil {
		return nil, err
	}

	if err := s.pub.Publish(ctx, events.SubjectGameStart, events.GameStartEvent{
		AccountID0: g.AccountIDs.W,
		AccountID1: g.AccountIDs.B,
		GameID:     g.ID,
	}); err != nil {
		log.Printf("[GAME] failed to emit game-start for %s: %v", g.ID, err)
	}

	if err := s.jobs.Enqueue(ctx, NewCheckGameJob(g.ID)); err != nil {
		log.Printf("[GAME] failed to schedule check job for %s: %v", g.ID, err)
	}

	log.Printf("[GAME] Game %s (%s) created, w: %s, b: %s", g.ID, gameType, g.AccountIDs.W, g.AccountIDs.B)
	return g, nil
}

// GetGame loads a game or fails with ErrNotFound.
func (s *Service) GetGame(ctx context.Context, gameID string) (*chess.Game, error) {
	g, err := s.repo.FindGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, gameID)
	}
	return g, nil
}

// MakeMove applies a SAN move for accountID under the seq CAS, retrying with a
// reload when a concurrent transition wins the race. A reload that shows the
// stored state already at or past the seq this move tried to commit means the
// race is lost for good: the position advanced underneath the caller, so
// re-running the rules step would misreport the conflict as a rule violation.
func (s *Service) MakeMove(ctx context.Context, gameID, accountID, san string) (*chess.Game, error) {
	var lastErr error
	var attemptedSeq uint64

	for attempt := 0; attempt < moveRetries; attempt++ {
		g, err := s.GetGame(ctx, gameID)
		if err != nil {
			return nil, err
		}

		if attempt > 0 && g.Seq() >= attemptedSeq {
			return nil, ErrConcurrentMove
		}

		g.UpdateClock(s.nowMs())

		mover := g.TurnColor()
		move, err := g.MakeMove(accountID, san)
		if err != nil {
			return nil, err
		}
		g.ApplyIncrement(mover)
		attemptedSeq = g.Seq()

		if err := s.repo.UpdateGame(ctx, g); err != nil {
			if errors.Is(err, ErrConcurrentMove) {
				lastErr = err
				continue
			}
			return nil, err
		}

		if err := s.pub.Publish(ctx, events.SubjectGameStateUpdate, events.GameStateUpdateEvent{
			AccountID: accountID,
			GameID:    gameID,
			Move:      move,
			Seq:       g.Seq(),
			Clocks:    events.ClocksPayload{W: g.Clocks.W, B: g.Clocks.B},
		}); err != nil {
			log.Printf("[GAME] failed to emit state update for %s seq=%d: %v", gameID, g.Seq(), err)
		}

		if _, err := s.finalizeIfOver(ctx, g); err != nil {
			log.Printf("[GAME] post-move termination check for %s failed: %v", gameID, err)
		}

		return g, nil
	}

	return nil, lastErr
}

// Resign marks the caller's color as resigned and commits it as a state
// transition with a bumped seq. Unlike a move, a resignation stays valid
// against whatever state a racing transition committed, so a lost CAS simply
// reloads and re-applies it.
func (s *Service) Resign(ctx context.Context, gameID, accountID string) (*chess.GameResult, error) {
	var lastErr error

	for attempt := 0; attempt < moveRetries; attempt++ {
		g, err := s.GetGame(ctx, gameID)
		if err != nil {
			return nil, err
		}

		if err := g.Resign(accountID); err != nil {
			return nil, err
		}

		if err := s.repo.UpdateGame(ctx, g); err != nil {
			if errors.Is(err, ErrConcurrentMove) {
				lastErr = err
				continue
			}
			return nil, err
		}

		return s.finalizeIfOver(ctx, g)
	}

	return nil, lastErr
}

// CheckGameResult re-evaluates a game for termination, accounting for wall
// time elapsed since the last committed move. Returns nil when the game is
// still live.
func (s *Service) CheckGameResult(ctx context.Context, gameID string) (*chess.GameResult, error) {
	res, _, err := s.evaluate(ctx, gameID)
	return res, err
}

func (s *Service) evaluate(ctx context.Context, gameID string) (*chess.GameResult, *chess.Game, error) {
	g, err := s.GetGame(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}

	g.UpdateClock(s.nowMs())

	res, err := s.finalizeIfOver(ctx, g)
	return res, g, err
}

// finalizeIfOver classifies the game; when terminal it emits GameOver, removes
// the pending check job and deletes the game key. The game key is deleted only
// after the event is durably published so a failed publish is retried by the
// next check.
func (s *Service) finalizeIfOver(ctx context.Context, g *chess.Game) (*chess.GameResult, error) {
	res := g.CheckResult()
	if res == nil {
		return nil, nil
	}

	if err := s.pub.Publish(ctx, events.SubjectGameOver, events.GameOverEvent{
		AccountID0:      g.AccountIDs.W,
		AccountID1:      g.AccountIDs.B,
		Outcome:         string(res.Outcome),
		GameOverReason:  string(res.Reason),
		WinnerAccountID: res.WinnerAccountID,
		GameID:          g.ID,
		GameType:        g.GameType.String(),
		Metadata:        g.Metadata,
	}); err != nil {
		return nil, fmt.Errorf("emit game-over for %s: %w", g.ID, err)
	}

	if err := s.jobs.Remove(ctx, NewCheckGameJob(g.ID)); err != nil {
		log.Printf("[GAME] failed to remove check job for %s: %v", g.ID, err)
	}

	if err := s.repo.DeleteGame(ctx, g.ID); err != nil {
		log.Printf("[GAME] failed to delete finished game %s: %v", g.ID, err)
	}

	log.Printf("[GAME] Game %s over: %s (%s)", g.ID, res.Outcome, res.Reason)
	return res, nil
}
