package ranking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// StartingMmr is assigned to both MMR dimensions when an account is first
// observed.
const StartingMmr = 1000

// MinMmr is the floor a delta can never push a rating below.
const MinMmr = 100

// Ranking is one row per account.
type Ranking struct {
	ID        string    `db:"id"`
	AccountID string    `db:"account_id"`
	RankedMmr uint16    `db:"ranked_mmr"`
	NormalMmr uint16    `db:"normal_mmr"`
	CreatedAt time.Time `db:"created_at"`
}

// Mmr picks the dimension for the given queue variant.
func (r *Ranking) Mmr(ranked bool) uint16 {
	if ranked {
		return r.RankedMmr
	}
	return r.NormalMmr
}

// Store provides per-account MMR state.
type Store interface {
	GetOrCreateRanking(ctx context.Context, accountID string) (*Ranking, error)
	ApplyMmrDelta(ctx context.Context, accountID string, delta int, ranked bool) (int, error)
}

// PostgresStore keeps rankings in the rankings table; account_id carries a
// unique constraint so concurrent first reads serialize on insert.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetOrCreateRanking(ctx context.Context, accountID string) (*Ranking, error) {
	ranking, err := s.findRanking(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if ranking != nil {
		return ranking, nil
	}

	fresh := &Ranking{
		ID:        uuid.NewString(),
		AccountID: accountID,
		RankedMmr: StartingMmr,
		NormalMmr: StartingMmr,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rankings (id, account_id, ranked_mmr, normal_mmr, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, fresh.ID, fresh.AccountID, fresh.RankedMmr, fresh.NormalMmr, fresh.CreatedAt)
	if err != nil {
		// Lost the race with a concurrent first read: fetch the winner's row.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return s.GetOrCreateRanking(ctx, accountID)
		}
		return nil, fmt.Errorf("insert ranking for %s: %w", accountID, err)
	}

	return fresh, nil
}

func (s *PostgresStore) findRanking(ctx context.Context, accountID string) (*Ranking, error) {
	var ranking Ranking
	err := s.db.GetContext(ctx, &ranking, `
		SELECT id, account_id, ranked_mmr, normal_mmr, created_at
		FROM rankings
		WHERE account_id = $1
	`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ranking for %s: %w", accountID, err)
	}
	return &ranking, nil
}

func (s *PostgresStore) ApplyMmrDelta(ctx context.Context, accountID string, delta int, ranked bool) (int, error) {
	column := "normal_mmr"
	if ranked {
		column = "ranked_mmr"
	}

	var newMmr int
	query := fmt.Sprintf(`
		UPDATE rankings
		SET %s = GREATEST($1, %s + $2)
		WHERE account_id = $3
		RETURNING %s
	`, column, column, column)
	err := s.db.QueryRowContext(ctx, query, MinMmr, delta, accountID).Scan(&newMmr)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no ranking row for %s", accountID)
	}
	if err != nil {
		return 0, fmt.Errorf("apply mmr delta for %s: %w", accountID, err)
	}
	return newMmr, nil
}
