package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/bunnychess/backend/internal/events"
	"github.com/bunnychess/backend/internal/ranking"
)

// EloMarkers dedupes MMR delta application across redeliveries of the same
// game-over event. A claim is per (game, account) so a partial failure leaves
// the missed account claimable on the next delivery.
type EloMarkers interface {
	Claim(ctx context.Context, gameID, accountID string) (bool, error)
	Release(ctx context.Context, gameID, accountID string) error
}

type RedisEloMarkers struct {
	rdb *redis.Client
}

func NewRedisEloMarkers(rdb *redis.Client) *RedisEloMarkers {
	return &RedisEloMarkers{rdb: rdb}
}

func eloMarkerKey(gameID, accountID string) string {
	return "matchmaking:elo-applied:" + gameID + ":" + accountID
}

func (m *RedisEloMarkers) Claim(ctx context.Context, gameID, accountID string) (bool, error) {
	fresh, err := m.rdb.SetNX(ctx, eloMarkerKey(gameID, accountID), 1, 24*time.Hour).Result()
	if err != nil {
		return false, fmt.Errorf("claim elo marker for %s in game %s: %w", accountID, gameID, err)
	}
	return fresh, nil
}

func (m *RedisEloMarkers) Release(ctx context.Context, gameID, accountID string) error {
	if err := m.rdb.Del(ctx, eloMarkerKey(gameID, accountID)).Err(); err != nil {
		return fmt.Errorf("release elo marker for %s in game %s: %w", accountID, gameID, err)
	}
	return nil
}

// GameOverListener consumes chess.game.game-over through a durable consumer,
// releases both players' matchmaking status and applies MMR deltas for ranked
// games.
type GameOverListener struct {
	status   StatusStore
	rankings ranking.Store
	pub      events.Publisher
	markers  EloMarkers
}

func NewGameOverListener(status StatusStore, rankings ranking.Store, pub events.Publisher, markers EloMarkers) *GameOverListener {
	return &GameOverListener{status: status, rankings: rankings, pub: pub, markers: markers}
}

// Start creates the durable consumer and processes messages until ctx is
// cancelled. Messages that fail are NAKed for redelivery.
func (l *GameOverListener) Start(ctx context.Context, js jetstream.JetStream) error {
	stream, err := js.Stream(ctx, "CHESS_GAME")
	if err != nil {
		return fmt.Errorf("lookup CHESS_GAME stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "matchmaking-game-over",
		FilterSubject: events.SubjectGameOver,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("create game-over consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := l.handle(ctx, msg.Data()); err != nil {
			log.Printf("[MATCHMAKER] game-over handling failed: %v", err)
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("start game-over consumer: %w", err)
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Stop()
	}()

	log.Printf("[MATCHMAKER] game-over listener started")
	return nil
}

func (l *GameOverListener) handle(ctx context.Context, data []byte) error {
	var event events.GameOverEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("decode game-over event: %w", err)
	}

	if err := l.status.ClearAfterGame(ctx, event.AccountID0, event.GameID); err != nil {
		return err
	}
	if err := l.status.ClearAfterGame(ctx, event.AccountID1, event.GameID); err != nil {
		return err
	}

	var meta GameMetadata
	if err := json.Unmarshal([]byte(event.Metadata), &meta); err != nil || !meta.Ranked {
		return nil
	}

	return l.applyDeltas(ctx, event)
}

func (l *GameOverListener) applyDeltas(ctx context.Context, event events.GameOverEvent) error {
	r0, err := l.rankings.GetOrCreateRanking(ctx, event.AccountID0)
	if err != nil {
		return err
	}
	r1, err := l.rankings.GetOrCreateRanking(ctx, event.AccountID1)
	if err != nil {
		return err
	}

	score0 := ranking.ScoreDraw
	switch event.WinnerAccountID {
	case event.AccountID0:
		score0 = ranking.ScoreWin
	case event.AccountID1:
		score0 = ranking.ScoreLoss
	}

	delta0 := ranking.MmrDelta(int(r0.RankedMmr), int(r1.RankedMmr), score0)
	delta1 := ranking.MmrDelta(int(r1.RankedMmr), int(r0.RankedMmr), 1-score0)

	if err := l.applyOne(ctx, event.GameID, event.AccountID0, delta0); err != nil {
		return err
	}
	return l.applyOne(ctx, event.GameID, event.AccountID1, delta1)
}

// applyOne applies a single account's delta at most once per game. Delivery is
// at-least-once; the per-account marker is released when the write fails so a
// redelivery retries exactly the accounts that were missed.
func (l *GameOverListener) applyOne(ctx context.Context, gameID, accountID string, delta int) error {
	fresh, err := l.markers.Claim(ctx, gameID, accountID)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	newMmr, err := l.rankings.ApplyMmrDelta(ctx, accountID, delta, true)
	if err != nil {
		if relErr := l.markers.Release(ctx, gameID, accountID); relErr != nil {
			log.Printf("[MATCHMAKER] %v", relErr)
		}
		return err
	}

	if err := l.pub.Publish(ctx, events.SubjectEloChange, events.EloChangeEvent{
		AccountID: accountID,
		NewElo:    int32(newMmr),
		EloChange: int32(delta),
		Ranked:    true,
	}); err != nil {
		log.Printf("[MATCHMAKER] failed to emit elo-change for %s: %v", accountID, err)
	}

	log.Printf("[MATCHMAKER] Applied MMR delta %+d to %s (new=%d)", delta, accountID, newMmr)
	return nil
}
