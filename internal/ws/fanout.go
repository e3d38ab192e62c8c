package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go/jetstream"
)

// Fanout bridges JetStream events to connected WebSocket clients. Each event
// payload names its recipients in account_id / account_id_0 / account_id_1
// fields; the fanout pushes the event to whichever of those are connected to
// this instance.
type Fanout struct {
	hub *Hub
}

func NewFanout(hub *Hub) *Fanout {
	return &Fanout{hub: hub}
}

// recipients is the subset of payload fields that address accounts.
type recipients struct {
	AccountID  string `json:"account_id"`
	AccountID0 string `json:"account_id_0"`
	AccountID1 string `json:"account_id_1"`
}

// Start creates one durable consumer per stream and pushes events to clients
// until ctx is cancelled. Fanout is best-effort: messages are always acked,
// disconnected clients catch up over HTTP.
func (f *Fanout) Start(ctx context.Context, js jetstream.JetStream) error {
	consumers := []struct {
		stream  string
		durable string
	}{
		{stream: "CHESS_GAME", durable: "gateway-game"},
		{stream: "CHESS_MATCHMAKING", durable: "gateway-matchmaking"},
	}

	for _, c := range consumers {
		if err := f.consume(ctx, js, c.stream, c.durable); err != nil {
			return err
		}
	}

	log.Printf("[WS] event fanout started")
	return nil
}

func (f *Fanout) consume(ctx context.Context, js jetstream.JetStream, streamName, durable string) error {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("lookup %s stream: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   durable,
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("create %s consumer: %w", durable, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		f.dispatch(msg.Subject(), msg.Data())
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("start %s consumer: %w", durable, err)
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Stop()
	}()

	return nil
}

func (f *Fanout) dispatch(subject string, data []byte) {
	var to recipients
	if err := json.Unmarshal(data, &to); err != nil {
		log.Printf("[WS] undecodable event on %s: %v", subject, err)
		return
	}

	envelope := Envelope{Type: subject, Data: json.RawMessage(data)}

	seen := make(map[string]bool, 2)
	for _, accountID := range []string{to.AccountID, to.AccountID0, to.AccountID1} {
		if accountID == "" || seen[accountID] {
			continue
		}
		seen[accountID] = true
		f.hub.SendToAccount(accountID, envelope)
	}
}
