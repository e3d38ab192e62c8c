package nats

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Connect establishes a connection to NATS and returns a JetStream handle
func Connect(url, user, password string) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if user != "" {
		opts = append(opts, nats.UserInfo(user, password))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	return nc, js, nil
}

// EnsureStreams provisions the streams the backend publishes to. Safe to call on
// every startup.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:     "CHESS_GAME",
			Subjects: []string{"chess.game.>"},
			Storage:  jetstream.FileStorage,
			MaxAge:   24 * time.Hour,
		},
		{
			Name:     "CHESS_MATCHMAKING",
			Subjects: []string{"chess.matchmaking.>"},
			Storage:  jetstream.FileStorage,
			MaxAge:   24 * time.Hour,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}
