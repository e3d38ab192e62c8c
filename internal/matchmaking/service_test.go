package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bunnychess/backend/internal/chess"
	"github.com/bunnychess/backend/internal/events"
	"github.com/bunnychess/backend/internal/ranking"
)

type queueAdd struct {
	accountID string
	mmr       uint16
	gameType  chess.GameType
	ranked    bool
}

type fakeQueues struct {
	added   []queueAdd
	removed []queueAdd
	matches map[string][]string
}

func newFakeQueues() *fakeQueues {
	return &fakeQueues{matches: make(map[string][]string)}
}

func (q *fakeQueues) AddPlayerToQueue(ctx context.Context, accountID string, mmr uint16, gameType chess.GameType, ranked bool) error {
	q.added = append(q.added, queueAdd{accountID: accountID, mmr: mmr, gameType: gameType, ranked: ranked})
	return nil
}

func (q *fakeQueues) RemovePlayerFromQueue(ctx context.Context, accountID string, gameType chess.GameType, ranked bool) (bool, error) {
	q.removed = append(q.removed, queueAdd{accountID: accountID, gameType: gameType, ranked: ranked})
	return true, nil
}

func (q *fakeQueues) MatchPlayers(ctx context.Context, gameType chess.GameType, ranked bool) ([]string, error) {
	return q.matches[QueueKey(gameType, ranked)], nil
}

func (q *fakeQueues) GetQueueSizes(ctx context.Context) (map[chess.GameType]QueueSizes, error) {
	return map[chess.GameType]QueueSizes{chess.Blitz5_0: {Normal: 2}}, nil
}

type fakeStatus struct {
	statuses map[string]AccountStatus
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{statuses: make(map[string]AccountStatus)}
}

func (s *fakeStatus) GetPlayerStatus(ctx context.Context, accountID string) (AccountStatus, error) {
	if st, ok := s.statuses[accountID]; ok {
		return st, nil
	}
	return AccountStatus{Status: StatusUndefined}, nil
}

func (s *fakeStatus) ClearAfterGame(ctx context.Context, accountID, gameID string) error {
	if st, ok := s.statuses[accountID]; ok && st.GameID == gameID {
		delete(s.statuses, accountID)
	}
	return nil
}

// fakePending mirrors the store's script semantics: the completed flag turns
// exactly one accept into the game-starting one, and timeouts are gated on
// deadline-index membership rather than on the hash still being around.
type fakePending struct {
	store     map[string]PendingGame
	accepted  map[string]map[string]bool
	ready     map[string]bool
	deadlines map[string]bool
	completed map[string]string
	expired   []PendingGame
}

func newFakePending() *fakePending {
	return &fakePending{
		store:     make(map[string]PendingGame),
		accepted:  make(map[string]map[string]bool),
		ready:     make(map[string]bool),
		deadlines: make(map[string]bool),
		completed: make(map[string]string),
	}
}

func (p *fakePending) CreatePendingGame(ctx context.Context, pg PendingGame, ttlSeconds int) error {
	p.store[pg.ID] = pg
	p.accepted[pg.ID] = make(map[string]bool)
	p.deadlines[pg.ID] = true
	return nil
}

func (p *fakePending) AcceptPendingGame(ctx context.Context, pendingGameID, accountID string) (*AcceptOutcome, error) {
	pg, ok := p.store[pendingGameID]
	if !ok {
		return nil, ErrPendingGameNotFound
	}
	if accountID != pg.AccountID0 && accountID != pg.AccountID1 {
		return nil, ErrNotParticipant
	}
	p.accepted[pendingGameID][accountID] = true

	ready := false
	if len(p.accepted[pendingGameID]) == 2 && !p.ready[pendingGameID] {
		p.ready[pendingGameID] = true
		ready = true
	}
	return &AcceptOutcome{AcceptedCount: len(p.accepted[pendingGameID]), Ready: ready, Pending: pg}, nil
}

func (p *fakePending) CompletePendingGame(ctx context.Context, pg PendingGame, gameID string) error {
	delete(p.store, pg.ID)
	delete(p.deadlines, pg.ID)
	p.completed[pg.ID] = gameID
	return nil
}

func (p *fakePending) ExpiredPendingGames(ctx context.Context, nowMs int64) ([]PendingGame, error) {
	return p.expired, nil
}

func (p *fakePending) TimeoutPendingGame(ctx context.Context, pg PendingGame, nowMs int64) (bool, error) {
	if !p.deadlines[pg.ID] {
		return false, nil
	}
	delete(p.deadlines, pg.ID)
	if p.ready[pg.ID] {
		return false, nil
	}
	delete(p.store, pg.ID)
	return true, nil
}

type fakeRankings struct {
	rankings map[string]*ranking.Ranking

	// applyErr makes ApplyMmrDelta fail for selected accounts.
	applyErr func(accountID string) error
}

func newFakeRankings() *fakeRankings {
	return &fakeRankings{rankings: make(map[string]*ranking.Ranking)}
}

func (r *fakeRankings) GetOrCreateRanking(ctx context.Context, accountID string) (*ranking.Ranking, error) {
	if existing, ok := r.rankings[accountID]; ok {
		return existing, nil
	}
	fresh := &ranking.Ranking{
		AccountID: accountID,
		RankedMmr: ranking.StartingMmr,
		NormalMmr: ranking.StartingMmr,
	}
	r.rankings[accountID] = fresh
	return fresh, nil
}

func (r *fakeRankings) ApplyMmrDelta(ctx context.Context, accountID string, delta int, ranked bool) (int, error) {
	if r.applyErr != nil {
		if err := r.applyErr(accountID); err != nil {
			return 0, err
		}
	}
	row, ok := r.rankings[accountID]
	if !ok {
		return 0, fmt.Errorf("no ranking row for %s", accountID)
	}
	current := int(row.NormalMmr)
	if ranked {
		current = int(row.RankedMmr)
	}
	next := current + delta
	if next < ranking.MinMmr {
		next = ranking.MinMmr
	}
	if ranked {
		row.RankedMmr = uint16(next)
	} else {
		row.NormalMmr = uint16(next)
	}
	return next, nil
}

type createdGame struct {
	accountID0 string
	accountID1 string
	gameType   chess.GameType
	metadata   string
}

type fakeGames struct {
	created []createdGame
	games   []*chess.Game

	// onCreate runs once before the game is recorded, to inject calls into
	// the window between the second acceptance and the pending teardown.
	onCreate func()
}

func (f *fakeGames) CreateGame(ctx context.Context, accountID0, accountID1 string, gameType chess.GameType, metadata string) (*chess.Game, error) {
	if f.onCreate != nil {
		hook := f.onCreate
		f.onCreate = nil
		hook()
	}
	f.created = append(f.created, createdGame{accountID0: accountID0, accountID1: accountID1, gameType: gameType, metadata: metadata})
	g := chess.NewGame(gameType, chess.AccountIDs{W: accountID0, B: accountID1}, metadata, 0)
	f.games = append(f.games, g)
	return g, nil
}

type publishedEvent struct {
	subject string
	payload interface{}
}

type fakePublisher struct {
	published []publishedEvent
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	p.published = append(p.published, publishedEvent{subject: subject, payload: payload})
	return nil
}

func (p *fakePublisher) last(subject string) *publishedEvent {
	for i := len(p.published) - 1; i >= 0; i-- {
		if p.published[i].subject == subject {
			return &p.published[i]
		}
	}
	return nil
}

type testDeps struct {
	queues   *fakeQueues
	status   *fakeStatus
	pending  *fakePending
	rankings *fakeRankings
	games    *fakeGames
	pub      *fakePublisher
}

func newTestMatchmaking() (*Service, *testDeps) {
	deps := &testDeps{
		queues:   newFakeQueues(),
		status:   newFakeStatus(),
		pending:  newFakePending(),
		rankings: newFakeRankings(),
		games:    &fakeGames{},
		pub:      &fakePublisher{},
	}
	svc := NewService(deps.queues, deps.status, deps.pending, deps.rankings, deps.games, deps.pub, 10)
	svc.now = func() time.Time { return time.UnixMilli(0) }
	return svc, deps
}

func TestAddToQueueUsesVariantMmr(t *testing.T) {
	svc, deps := newTestMatchmaking()
	ctx := context.Background()

	deps.rankings.rankings["acc-a"] = &ranking.Ranking{AccountID: "acc-a", RankedMmr: 1200, NormalMmr: 1100}

	if err := svc.AddToQueue(ctx, "acc-a", chess.Blitz5_0, true); err != nil {
		t.Fatalf("add to ranked queue failed: %v", err)
	}
	if err := svc.AddToQueue(ctx, "acc-a", chess.Blitz5_0, false); err != nil {
		t.Fatalf("add to normal queue failed: %v", err)
	}

	if len(deps.queues.added) != 2 {
		t.Fatalf("expected 2 queue adds, got %d", len(deps.queues.added))
	}
	if got := deps.queues.added[0]; got.mmr != 1200 || !got.ranked {
		t.Errorf("ranked add should use ranked mmr 1200, got %+v", got)
	}
	if got := deps.queues.added[1]; got.mmr != 1100 || got.ranked {
		t.Errorf("normal add should use normal mmr 1100, got %+v", got)
	}
}

func TestAddToQueueCreatesRankingOnFirstSight(t *testing.T) {
	svc, deps := newTestMatchmaking()

	if err := svc.AddToQueue(context.Background(), "acc-new", chess.Bullet1_0, false); err != nil {
		t.Fatalf("add to queue failed: %v", err)
	}

	row, ok := deps.rankings.rankings["acc-new"]
	if !ok {
		t.Fatal("ranking row not created")
	}
	if row.NormalMmr != ranking.StartingMmr {
		t.Errorf("expected starting mmr %d, got %d", ranking.StartingMmr, row.NormalMmr)
	}
	if deps.queues.added[0].mmr != ranking.StartingMmr {
		t.Errorf("queue add should carry starting mmr, got %d", deps.queues.added[0].mmr)
	}
}

func TestRemoveFromQueueOnlyWhenSearching(t *testing.T) {
	svc, deps := newTestMatchmaking()
	ctx := context.Background()

	// Undefined account: nothing to remove.
	if err := svc.RemoveFromQueue(ctx, "acc-idle"); err != nil {
		t.Fatalf("remove for idle account failed: %v", err)
	}
	if len(deps.queues.removed) != 0 {
		t.Errorf("no removal expected for idle account, got %+v", deps.queues.removed)
	}

	ranked := true
	deps.status.statuses["acc-a"] = AccountStatus{Status: StatusSearching, GameType: chess.Blitz3_2, Ranked: &ranked}

	if err := svc.RemoveFromQueue(ctx, "acc-a"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(deps.queues.removed) != 1 {
		t.Fatalf("expected one removal, got %+v", deps.queues.removed)
	}
	if got := deps.queues.removed[0]; got.gameType != chess.Blitz3_2 || !got.ranked {
		t.Errorf("removal targeted wrong queue: %+v", got)
	}

	// Pending accounts are locked in.
	deps.status.statuses["acc-b"] = AccountStatus{Status: StatusPending, GameType: chess.Blitz3_2, Ranked: &ranked}
	if err := svc.RemoveFromQueue(ctx, "acc-b"); err != nil {
		t.Fatalf("remove for pending account failed: %v", err)
	}
	if len(deps.queues.removed) != 1 {
		t.Errorf("pending account must not be removed from a queue, got %+v", deps.queues.removed)
	}
}

func TestAcceptPendingGameStartsGameWhenBothAccept(t *testing.T) {
	svc, deps := newTestMatchmaking()
	ctx := context.Background()

	pg := PendingGame{
		ID:         "pending-1",
		AccountID0: "acc-a",
		AccountID1: "acc-b",
		GameType:   chess.Blitz5_3,
		Ranked:     true,
	}
	if err := deps.pending.CreatePendingGame(ctx, pg, 10); err != nil {
		t.Fatal(err)
	}

	if err := svc.AcceptPendingGame(ctx, "acc-a", "pending-1"); err != nil {
		t.Fatalf("first accept failed: %v", err)
	}
	if len(deps.games.created) != 0 {
		t.Fatal("game must not start after a single accept")
	}

	if err := svc.AcceptPendingGame(ctx, "acc-b", "pending-1"); err != nil {
		t.Fatalf("second accept failed: %v", err)
	}

	if len(deps.games.created) != 1 {
		t.Fatalf("expected one game, got %d", len(deps.games.created))
	}
	created := deps.games.created[0]
	if created.accountID0 != "acc-a" || created.accountID1 != "acc-b" || created.gameType != chess.Blitz5_3 {
		t.Errorf("game created with wrong parameters: %+v", created)
	}
	if created.metadata != `{"ranked":true}` {
		t.Errorf("ranked flag lost in metadata: %q", created.metadata)
	}

	gameID, ok := deps.pending.completed["pending-1"]
	if !ok || gameID != deps.games.games[0].ID {
		t.Errorf("pending game not completed with the new game id: %q", gameID)
	}
}

// A duplicated accept RPC that lands between the second acceptance and the
// pending teardown must not start a second game.
func TestAcceptPendingGameDuplicateAcceptStartsOneGame(t *testing.T) {
	svc, deps := newTestMatchmaking()
	ctx := context.Background()

	pg := PendingGame{ID: "pending-1", AccountID0: "acc-a", AccountID1: "acc-b", GameType: chess.Blitz5_0}
	if err := deps.pending.CreatePendingGame(ctx, pg, 10); err != nil {
		t.Fatal(err)
	}

	var dupErr error
	deps.games.onCreate = func() {
		dupErr = svc.AcceptPendingGame(ctx, "acc-b", "pending-1")
	}

	if err := svc.AcceptPendingGame(ctx, "acc-a", "pending-1"); err != nil {
		t.Fatalf("first accept failed: %v", err)
	}
	if err := svc.AcceptPendingGame(ctx, "acc-b", "pending-1"); err != nil {
		t.Fatalf("second accept failed: %v", err)
	}
	if dupErr != nil {
		t.Fatalf("duplicate accept should be acknowledged, got %v", dupErr)
	}

	if len(deps.games.created) != 1 {
		t.Fatalf("expected exactly one game, got %d", len(deps.games.created))
	}
	if gameID := deps.pending.completed["pending-1"]; gameID != deps.games.games[0].ID {
		t.Errorf("pending game completed with wrong game id: %q", gameID)
	}
}

func TestAcceptPendingGameErrors(t *testing.T) {
	svc, deps := newTestMatchmaking()
	ctx := context.Background()

	if err := svc.AcceptPendingGame(ctx, "acc-a", "missing"); !errors.Is(err, ErrPendingGameNotFound) {
		t.Errorf("expected ErrPendingGameNotFound, got %v", err)
	}

	pg := PendingGame{ID: "pending-1", AccountID0: "acc-a", AccountID1: "acc-b", GameType: chess.Blitz5_0}
	if err := deps.pending.CreatePendingGame(ctx, pg, 10); err != nil {
		t.Fatal(err)
	}
	if err := svc.AcceptPendingGame(ctx, "acc-stranger", "pending-1"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
}

func TestTickCreatesPendingGamesFromMatches(t *testing.T) {
	svc, deps := newTestMatchmaking()

	deps.queues.matches[QueueKey(chess.Rapid10_0, false)] = []string{"acc-a", "acc-b", "acc-c", "acc-d"}
	deps.rankings.rankings["acc-a"] = &ranking.Ranking{AccountID: "acc-a", RankedMmr: 1000, NormalMmr: 1010}
	deps.rankings.rankings["acc-b"] = &ranking.Ranking{AccountID: "acc-b", RankedMmr: 1000, NormalMmr: 1030}

	svc.Tick(context.Background())

	if len(deps.pending.store) != 2 {
		t.Fatalf("expected 2 pending games, got %d", len(deps.pending.store))
	}

	ready := deps.pub.last(events.SubjectPendingGameReady)
	if ready == nil {
		t.Fatal("pending-game-ready not emitted")
	}

	var first *PendingGame
	for _, pg := range deps.pending.store {
		if pg.AccountID0 == "acc-a" {
			pgCopy := pg
			first = &pgCopy
		}
	}
	if first == nil {
		t.Fatal("pairing for acc-a not found")
	}
	if first.AccountID1 != "acc-b" || first.GameType != chess.Rapid10_0 || first.Ranked {
		t.Errorf("wrong pairing: %+v", first)
	}
	if first.Mmr0 != 1010 || first.Mmr1 != 1030 {
		t.Errorf("pending game should capture normal mmrs at match time, got %d/%d", first.Mmr0, first.Mmr1)
	}
}

func TestSweepEmitsTimeoutEvents(t *testing.T) {
	svc, deps := newTestMatchmaking()
	ctx := context.Background()

	pg := PendingGame{ID: "pending-1", AccountID0: "acc-a", AccountID1: "acc-b", GameType: chess.Blitz5_0}
	if err := deps.pending.CreatePendingGame(ctx, pg, 10); err != nil {
		t.Fatal(err)
	}
	deps.pending.expired = []PendingGame{pg}

	svc.Tick(ctx)

	timeout := deps.pub.last(events.SubjectPendingGameTimeout)
	if timeout == nil {
		t.Fatal("pending-game-timeout not emitted")
	}
	ev := timeout.payload.(events.PendingGameTimeoutEvent)
	if ev.PendingGameID != "pending-1" || ev.AccountID0 != "acc-a" || ev.AccountID1 != "acc-b" {
		t.Errorf("unexpected timeout payload: %+v", ev)
	}
	if _, ok := deps.pending.store["pending-1"]; ok {
		t.Error("expired pending game should be torn down")
	}
}

// The deadline index alone carries enough to tear a pending game down, so a
// sweep that runs after the pending hash itself expired still emits the
// timeout and releases the accounts.
func TestSweepRecoversFromExpiredPendingHash(t *testing.T) {
	svc, deps := newTestMatchmaking()
	ctx := context.Background()

	pg := PendingGame{ID: "pending-1", AccountID0: "acc-a", AccountID1: "acc-b", GameType: chess.Blitz5_0}
	deps.pending.deadlines["pending-1"] = true
	deps.pending.expired = []PendingGame{pg}

	svc.Tick(ctx)

	timeout := deps.pub.last(events.SubjectPendingGameTimeout)
	if timeout == nil {
		t.Fatal("pending-game-timeout not emitted for an expired hash")
	}
	ev := timeout.payload.(events.PendingGameTimeoutEvent)
	if ev.PendingGameID != "pending-1" || ev.AccountID0 != "acc-a" || ev.AccountID1 != "acc-b" {
		t.Errorf("unexpected timeout payload: %+v", ev)
	}
	if deps.pending.deadlines["pending-1"] {
		t.Error("deadline entry should be consumed by the sweep")
	}

	// A second sweep over the same entry stays quiet.
	before := len(deps.pub.published)
	svc.Tick(ctx)
	if len(deps.pub.published) != before {
		t.Error("repeated sweep must not emit another timeout")
	}
}

// A pending game whose pair completed between the deadline passing and the
// sweep must not be timed out.
func TestSweepSkipsCompletedPendingGame(t *testing.T) {
	svc, deps := newTestMatchmaking()
	ctx := context.Background()

	pg := PendingGame{ID: "pending-1", AccountID0: "acc-a", AccountID1: "acc-b", GameType: chess.Blitz5_0}
	if err := deps.pending.CreatePendingGame(ctx, pg, 10); err != nil {
		t.Fatal(err)
	}
	if err := svc.AcceptPendingGame(ctx, "acc-a", "pending-1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.AcceptPendingGame(ctx, "acc-b", "pending-1"); err != nil {
		t.Fatal(err)
	}
	deps.pending.expired = []PendingGame{pg}

	svc.Tick(ctx)

	if deps.pub.last(events.SubjectPendingGameTimeout) != nil {
		t.Error("completed pending game must not time out")
	}
}

func TestWindowParameters(t *testing.T) {
	rankedW := WindowFor(true)
	if rankedW.BaseMmrRange != 50 || rankedW.MmrRangeIncreasePerSecond != 5 || rankedW.MaxMmrDelta != 400 {
		t.Errorf("unexpected ranked window: %+v", rankedW)
	}

	normalW := WindowFor(false)
	if normalW.BaseMmrRange != 100 || normalW.MmrRangeIncreasePerSecond != 10 || normalW.MaxMmrDelta != 600 {
		t.Errorf("unexpected normal window: %+v", normalW)
	}
}
