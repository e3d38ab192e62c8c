package matchmaking

import (
	"testing"

	"github.com/bunnychess/backend/internal/chess"
)

func TestDecodeAccountStatus(t *testing.T) {
	status, err := decodeAccountStatus(nil)
	if err != nil {
		t.Fatalf("empty hash should decode: %v", err)
	}
	if status.Status != StatusUndefined {
		t.Errorf("missing hash means undefined, got %v", status.Status)
	}

	status, err = decodeAccountStatus(map[string]string{
		"status":    "playing",
		"game_type": "Blitz5_3",
		"ranked":    "true",
		"game_id":   "game-1",
	})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if status.Status != StatusPlaying || status.GameType != chess.Blitz5_3 || status.GameID != "game-1" {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.Ranked == nil || !*status.Ranked {
		t.Errorf("ranked flag lost: %v", status.Ranked)
	}

	if _, err := decodeAccountStatus(map[string]string{"status": "flying"}); err == nil {
		t.Error("expected error for corrupt status")
	}
	if _, err := decodeAccountStatus(map[string]string{"status": "searching", "ranked": "maybe"}); err == nil {
		t.Error("expected error for corrupt ranked flag")
	}
}
