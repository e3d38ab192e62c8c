package matchmaking

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/bunnychess/backend/internal/chess"
	"github.com/bunnychess/backend/internal/events"
	"github.com/bunnychess/backend/internal/ranking"
)

// GameCreator starts a game once both players accepted a pending game.
// Satisfied by the game service.
type GameCreator interface {
	CreateGame(ctx context.Context, accountID0, accountID1 string, gameType chess.GameType, metadata string) (*chess.Game, error)
}

// GameMetadata travels with a game from pairing to the game-over event, so the
// ranking listener knows whether to apply MMR deltas.
type GameMetadata struct {
	Ranked bool `json:"ranked"`
}

func encodeGameMetadata(ranked bool) string {
	data, _ := json.Marshal(GameMetadata{Ranked: ranked})
	return string(data)
}

// Service admits, pairs and removes players, issues pending-game offers and
// confirms or times them out.
type Service struct {
	queues   QueueStore
	status   StatusStore
	pending  PendingStore
	rankings ranking.Store
	games    GameCreator
	pub      events.Publisher

	pendingTTLSeconds int
	now               func() time.Time
}

func NewService(
	queues QueueStore,
	status StatusStore,
	pending PendingStore,
	rankings ranking.Store,
	games GameCreator,
	pub events.Publisher,
	pendingTTLSeconds int,
) *Service {
	return &Service{
		queues:            queues,
		status:            status,
		pending:           pending,
		rankings:          rankings,
		games:             games,
		pub:               pub,
		pendingTTLSeconds: pendingTTLSeconds,
		now:               time.Now,
	}
}

// AddToQueue admits an account into the (game_type, ranked) queue scored by
// its current MMR, creating the ranking row on first observation.
func (s *Service) AddToQueue(ctx context.Context, accountID string, gameType chess.GameType, ranked bool) error {
	r, err := s.rankings.GetOrCreateRanking(ctx, accountID)
	if err != nil {
		return err
	}
	return s.queues.AddPlayerToQueue(ctx, accountID, r.Mmr(ranked), gameType, ranked)
}

// RemoveFromQueue is a no-op unless the account is currently searching.
func (s *Service) RemoveFromQueue(ctx context.Context, accountID string) error {
	status, err := s.status.GetPlayerStatus(ctx, accountID)
	if err != nil {
		return err
	}
	if status.Status != StatusSearching || status.GameType == "" || status.Ranked == nil {
		return nil
	}

	_, err = s.queues.RemovePlayerFromQueue(ctx, accountID, status.GameType, *status.Ranked)
	return err
}

// AcceptPendingGame records the acceptance; the single call that completes the
// pair starts the game and transitions both accounts to playing. Duplicate
// accepts after that are acknowledged without starting another game.
func (s *Service) AcceptPendingGame(ctx context.Context, accountID, pendingGameID string) error {
	outcome, err := s.pending.AcceptPendingGame(ctx, pendingGameID, accountID)
	if err != nil {
		return err
	}
	if !outcome.Ready {
		return nil
	}

	pg := outcome.Pending
	g, err := s.games.CreateGame(ctx, pg.AccountID0, pg.AccountID1, pg.GameType, encodeGameMetadata(pg.Ranked))
	if err != nil {
		return err
	}

	if err := s.pending.CompletePendingGame(ctx, pg, g.ID); err != nil {
		return err
	}

	log.Printf("[MATCHMAKER] Pending game %s confirmed, game %s started (%s vs %s)",
		pg.ID, g.ID, pg.AccountID0, pg.AccountID1)
	return nil
}

// GetAccountStatus reads the account's matchmaking lifecycle state.
func (s *Service) GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error) {
	return s.status.GetPlayerStatus(ctx, accountID)
}

// GetQueueSizes reports the cardinality of every queue in one pipeline.
func (s *Service) GetQueueSizes(ctx context.Context) (map[chess.GameType]QueueSizes, error) {
	return s.queues.GetQueueSizes(ctx)
}

// Run drives matchmaking: every tick it pairs compatible players in each queue
// and sweeps expired pending games. Returns when ctx is cancelled.
func (s *Service) Run(ctx context.Context, tickSeconds int) {
	interval := time.Duration(tickSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[MATCHMAKER] Matchmaker started (tick every %v)", interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[MATCHMAKER] Matchmaker stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one matchmaking pass over all 12 queues plus the pending-game
// watchdog.
func (s *Service) Tick(ctx context.Context) {
	for _, gameType := range chess.AllGameTypes {
		for _, ranked := range []bool{false, true} {
			s.matchQueue(ctx, gameType, ranked)
		}
	}
	s.sweepExpiredPendingGames(ctx)
}

func (s *Service) matchQueue(ctx context.Context, gameType chess.GameType, ranked bool) {
	matched, err := s.queues.MatchPlayers(ctx, gameType, ranked)
	if err != nil {
		log.Printf("[MATCHMAKER] match pass on %s/%s failed: %v", gameType, variant(ranked), err)
		return
	}

	for i := 0; i+1 < len(matched); i += 2 {
		if err := s.createPendingGame(ctx, matched[i], matched[i+1], gameType, ranked); err != nil {
			log.Printf("[MATCHMAKER] failed to create pending game for %s vs %s: %v", matched[i], matched[i+1], err)
		}
	}
}

func (s *Service) createPendingGame(ctx context.Context, accountID0, accountID1 string, gameType chess.GameType, ranked bool) error {
	r0, err := s.rankings.GetOrCreateRanking(ctx, accountID0)
	if err != nil {
		return err
	}
	r1, err := s.rankings.GetOrCreateRanking(ctx, accountID1)
	if err != nil {
		return err
	}

	pg := PendingGame{
		ID:          uuid.NewString(),
		AccountID0:  accountID0,
		AccountID1:  accountID1,
		GameType:    gameType,
		Ranked:      ranked,
		Mmr0:        r0.Mmr(ranked),
		Mmr1:        r1.Mmr(ranked),
		CreatedAtMs: s.now().UnixMilli(),
	}

	if err := s.pending.CreatePendingGame(ctx, pg, s.pendingTTLSeconds); err != nil {
		return err
	}

	if err := s.pub.Publish(ctx, events.SubjectPendingGameReady, events.PendingGameReadyEvent{
		AccountID0:    accountID0,
		AccountID1:    accountID1,
		PendingGameID: pg.ID,
	}); err != nil {
		log.Printf("[MATCHMAKER] failed to emit pending-game-ready for %s: %v", pg.ID, err)
	}

	log.Printf("[MATCHMAKER] Paired %s (mmr=%d) vs %s (mmr=%d) on %s/%s, pending game %s",
		accountID0, pg.Mmr0, accountID1, pg.Mmr1, gameType, variant(ranked), pg.ID)
	return nil
}

func (s *Service) sweepExpiredPendingGames(ctx context.Context) {
	nowMs := s.now().UnixMilli()

	expired, err := s.pending.ExpiredPendingGames(ctx, nowMs)
	if err != nil {
		log.Printf("[MATCHMAKER] pending sweep failed: %v", err)
		return
	}

	for _, pg := range expired {
		swept, err := s.pending.TimeoutPendingGame(ctx, pg, nowMs)
		if err != nil {
			log.Printf("[MATCHMAKER] failed to time out pending game %s: %v", pg.ID, err)
			continue
		}
		if !swept {
			continue
		}

		if err := s.pub.Publish(ctx, events.SubjectPendingGameTimeout, events.PendingGameTimeoutEvent{
			AccountID0:    pg.AccountID0,
			AccountID1:    pg.AccountID1,
			PendingGameID: pg.ID,
		}); err != nil {
			log.Printf("[MATCHMAKER] failed to emit pending-game-timeout for %s: %v", pg.ID, err)
		}

		log.Printf("[MATCHMAKER] Pending game %s timed out (%s vs %s)", pg.ID, pg.AccountID0, pg.AccountID1)
	}
}
